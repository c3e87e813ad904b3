package clock

import (
	"context"
	"errors"
	"fmt"
	"time"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/session"
	"toolbox/internal/toolerr"
	"toolbox/pkg/tgui"
)

// stopwatch lives in the chat's clock session while it has been started and
// not reset. The session is pinned, so the idle reaper leaves it alone.
type stopwatch struct {
	since   time.Time
	frozen  time.Duration
	running bool
}

func (w *stopwatch) elapsed(now time.Time) time.Duration {
	if !w.running {
		return w.frozen
	}
	return w.frozen + now.Sub(w.since)
}

func (w *stopwatch) start(now time.Time) {
	if !w.running {
		w.since = now
		w.running = true
	}
}

func (w *stopwatch) stop(now time.Time) {
	if w.running {
		w.frozen = w.elapsed(now)
		w.running = false
	}
}

// Stopwatch button keys.
const (
	swStart = "start"
	swStop  = "stop"
	swReset = "reset"
)

func (p *Plugin) handleStopwatch(ctx context.Context, req *core.Request) error {
	return p.ui.Show(ctx, req, pluginkit.UIState{View: viewStopwatch})
}

func (p *Plugin) viewStopwatch(ctx context.Context, req *core.Request, st pluginkit.UIState) (tgui.Message, error) {
	sm := p.Deps.Sessions
	if sm == nil {
		return tgui.Message{}, toolerr.New(toolerr.Internal, "sessions are not available")
	}
	key := p.SessionKey(req.Chat.ChatID)
	now := p.now()

	switch st.Key {
	case swStart:
		err := sm.With(key, func(s *session.Session) error {
			s.Data.(*stopwatch).start(now)
			return nil
		})
		if errors.Is(err, session.ErrNoSession) {
			w := &stopwatch{}
			w.start(now)
			err = sm.Acquire(key, nil, w)
			if err == nil {
				// A stopwatch runs until reset, however long nobody looks.
				err = sm.Pin(key)
			}
		}
		if err != nil && !errors.Is(err, session.ErrBusy) {
			return tgui.Message{}, err
		}
	case swStop:
		_ = sm.With(key, func(s *session.Session) error {
			s.Data.(*stopwatch).stop(now)
			return nil
		})
	case swReset:
		sm.Release(key, session.ReasonDone)
	}

	var (
		elapsed time.Duration
		state   = "idle"
		running bool
		active  bool
	)
	_ = sm.With(key, func(s *session.Session) error {
		w := s.Data.(*stopwatch)
		elapsed, running, active = w.elapsed(now), w.running, true
		return nil
	})
	switch {
	case running:
		state = "running"
	case active:
		state = "stopped"
	}

	kb := tgui.NewInline()
	switch {
	case running:
		kb.Row(
			p.ui.Button("⏸ Stop", pluginkit.UIState{View: viewStopwatch, Key: swStop}),
			p.ui.Button("🔄 Refresh", pluginkit.UIState{View: viewStopwatch}),
		)
	case active:
		kb.Row(
			p.ui.Button("▶ Resume", pluginkit.UIState{View: viewStopwatch, Key: swStart}),
			p.ui.Button("⏹ Reset", pluginkit.UIState{View: viewStopwatch, Key: swReset}),
		)
	default:
		kb.Row(p.ui.Button("▶ Start", pluginkit.UIState{View: viewStopwatch, Key: swStart}))
	}

	return tgui.New().
		Title("⏱", "Stopwatch").
		RawLine(tgui.B(formatElapsed(elapsed)).String() + " s").
		KV("State", state).
		Inline(kb).
		Build(), nil
}

// formatElapsed renders seconds with three decimals, e.g. "12.345".
func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
