package clock

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/session"
	"toolbox/internal/storage"
	"toolbox/internal/toolerr"
	kit "toolbox/internal/transport"
	"toolbox/internal/transport/transporttest"
	"toolbox/pkg/tgui"
	logx "toolbox/pkg/logx"
)

type harness struct {
	p   *Plugin
	ad  *transporttest.Adapter
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		ad:  transporttest.New(),
		now: time.Date(2026, 3, 4, 5, 6, 7, 89_000_000, time.UTC),
	}
	h.p = New()
	h.p.now = func() time.Time { return h.now }
	deps := core.Deps{
		Adapter:  h.ad,
		Store:    storage.NewStore(storage.NewMemory(), 0, logx.Nop()),
		Sessions: session.NewManager(session.Options{Now: func() time.Time { return h.now }}),
	}
	if err := h.p.Init(context.Background(), deps); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := h.p.OnConfigChange(context.Background(), json.RawMessage(`{"timezone":"UTC"}`)); err != nil {
		t.Fatalf("OnConfigChange: %v", err)
	}
	return h
}

func (h *harness) run(t *testing.T, route, text string) error {
	t.Helper()
	for _, c := range h.p.Commands() {
		if c.Route == route {
			req := core.MessageRequest(h.ad, &kit.Message{ChatID: 1, Text: text}, len(strings.Fields(route)))
			return c.Handle(context.Background(), req)
		}
	}
	t.Fatalf("no command %q", route)
	return nil
}

func (h *harness) press(t *testing.T, st pluginkit.UIState) string {
	t.Helper()
	payload, err := tgui.PackJSON(st)
	if err != nil {
		t.Fatalf("PackJSON: %v", err)
	}
	cb := &kit.Callback{ID: "cb", ChatID: 1, MessageID: 1, Data: "clock:ui:" + payload}
	if err := h.p.Callbacks()[0].Handle(context.Background(), core.CallbackRequest(h.ad, cb), payload); err != nil {
		t.Fatalf("press %+v: %v", st, err)
	}
	return h.ad.LastText()
}

func TestClockShowsMilliseconds(t *testing.T) {
	h := newHarness(t)
	if err := h.run(t, "clock", "/clock"); err != nil {
		t.Fatalf("clock: %v", err)
	}
	got := h.ad.LastText()
	if !strings.Contains(got, "<b>05:06:07</b><code>.089</code>") {
		t.Fatalf("text=%q", got)
	}

	h.now = h.now.Add(1500 * time.Millisecond)
	if got := h.press(t, pluginkit.UIState{View: viewClock}); !strings.Contains(got, "05:06:08</b><code>.589") {
		t.Fatalf("refresh text=%q", got)
	}
}

func TestStopwatchLifecycle(t *testing.T) {
	h := newHarness(t)
	key := h.p.SessionKey(1)

	if err := h.run(t, "stopwatch", "/stopwatch"); err != nil {
		t.Fatalf("stopwatch: %v", err)
	}
	if got := h.ad.LastText(); !strings.Contains(got, "<b>0.000</b>") || !strings.Contains(got, "idle") {
		t.Fatalf("initial=%q", got)
	}

	h.press(t, pluginkit.UIState{View: viewStopwatch, Key: swStart})
	if !h.p.Deps.Sessions.Active(key) {
		t.Fatalf("start did not open a session")
	}

	h.now = h.now.Add(2345 * time.Millisecond)
	got := h.press(t, pluginkit.UIState{View: viewStopwatch, Key: swStop})
	if !strings.Contains(got, "<b>2.345</b>") || !strings.Contains(got, "stopped") {
		t.Fatalf("stop=%q", got)
	}

	// Stopped time does not advance.
	h.now = h.now.Add(time.Hour)
	if got := h.press(t, pluginkit.UIState{View: viewStopwatch}); !strings.Contains(got, "<b>2.345</b>") {
		t.Fatalf("frozen=%q", got)
	}

	// Resume continues from the frozen value.
	h.press(t, pluginkit.UIState{View: viewStopwatch, Key: swStart})
	h.now = h.now.Add(time.Second)
	if got := h.press(t, pluginkit.UIState{View: viewStopwatch}); !strings.Contains(got, "<b>3.345</b>") || !strings.Contains(got, "running") {
		t.Fatalf("resumed=%q", got)
	}

	got = h.press(t, pluginkit.UIState{View: viewStopwatch, Key: swReset})
	if !strings.Contains(got, "<b>0.000</b>") || h.p.Deps.Sessions.Active(key) {
		t.Fatalf("reset=%q active=%v", got, h.p.Deps.Sessions.Active(key))
	}
}

func TestStopwatchSurvivesIdleSweep(t *testing.T) {
	h := newHarness(t)
	h.press(t, pluginkit.UIState{View: viewStopwatch, Key: swStart})

	h.now = h.now.Add(15 * time.Minute)
	if n := h.p.Deps.Sessions.Sweep(); n != 0 {
		t.Fatalf("sweep released %d sessions", n)
	}
	got := h.press(t, pluginkit.UIState{View: viewStopwatch})
	if !strings.Contains(got, "<b>900.000</b>") || !strings.Contains(got, "running") {
		t.Fatalf("after sweep=%q", got)
	}
}

func TestMemo(t *testing.T) {
	h := newHarness(t)

	if err := h.run(t, "memo", "/memo"); err != nil {
		t.Fatalf("memo: %v", err)
	}
	if got := h.ad.LastText(); !strings.Contains(got, "empty") {
		t.Fatalf("empty memo=%q", got)
	}

	if err := h.run(t, "memo set", "/memo set buy  milk <now>"); err != nil {
		t.Fatalf("memo set: %v", err)
	}
	if got := h.ad.LastText(); !strings.Contains(got, "buy  milk &lt;now&gt;") {
		t.Fatalf("saved memo=%q", got)
	}
	raw, ok, err := h.p.Chat(1).Get(context.Background(), memoKey)
	if err != nil || !ok || string(raw) != "buy  milk <now>" {
		t.Fatalf("stored=%q ok=%v err=%v", raw, ok, err)
	}

	if err := h.run(t, "memo set", "/memo set  "); !toolerr.Is(err, toolerr.ValidationFailure) {
		t.Fatalf("empty set: %v", err)
	}

	if got := h.press(t, pluginkit.UIState{View: viewMemo, Key: memoClear}); !strings.Contains(got, "Delete the memo?") {
		t.Fatalf("confirm=%q", got)
	}
	if _, ok, _ := h.p.Chat(1).Get(context.Background(), memoKey); !ok {
		t.Fatalf("memo deleted before confirmation")
	}
	if got := h.press(t, pluginkit.UIState{View: viewMemo, Key: memoClearYes}); !strings.Contains(got, "Memo cleared.") {
		t.Fatalf("cleared=%q", got)
	}
	if _, ok, _ := h.p.Chat(1).Get(context.Background(), memoKey); ok {
		t.Fatalf("memo still stored")
	}
}

func TestMemoClearCommandAsksFirst(t *testing.T) {
	h := newHarness(t)
	if err := h.run(t, "memo clear", "/memo clear"); err != nil {
		t.Fatalf("clear empty: %v", err)
	}
	if got := h.ad.LastText(); !strings.Contains(got, "empty") {
		t.Fatalf("empty clear=%q", got)
	}

	if err := h.run(t, "memo set", "/memo set keep me"); err != nil {
		t.Fatalf("memo set: %v", err)
	}
	if err := h.run(t, "memo clear", "/memo clear"); err != nil {
		t.Fatalf("memo clear: %v", err)
	}
	if got := h.ad.LastText(); !strings.Contains(got, "Delete the memo?") {
		t.Fatalf("confirm=%q", got)
	}
	if _, ok, _ := h.p.Chat(1).Get(context.Background(), memoKey); !ok {
		t.Fatalf("memo deleted without confirmation")
	}
	if got := h.press(t, pluginkit.UIState{View: viewMemo, Key: memoClearYes}); !strings.Contains(got, "Memo cleared.") {
		t.Fatalf("cleared=%q", got)
	}
}

func TestValidateConfig(t *testing.T) {
	p := New()
	if err := p.ValidateConfig(context.Background(), json.RawMessage(`{"timezone":"Mars/Olympus"}`)); err == nil {
		t.Fatalf("expected timezone error")
	}
	if err := p.ValidateConfig(context.Background(), json.RawMessage(`{"timezone":"UTC","timeouts":{"command":"5s"}}`)); err != nil {
		t.Fatalf("valid timezone: %v", err)
	}
}
