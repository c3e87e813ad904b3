// Package session tracks the short-lived, per-chat tool state that sits
// between discrete updates: a capture in progress, a half-filled encrypt
// form, a running stopwatch.
//
// A session moves idle -> active on Acquire and back to idle on Release.
// Release always closes the held resource exactly once, whether it comes
// from the tool, from plugin shutdown or from the idle reaper.
package session

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"toolbox/internal/eventbus"
	logx "toolbox/pkg/logx"
)

var (
	// ErrBusy is returned by Acquire when the key already has an active session.
	ErrBusy = errors.New("session already active")
	// ErrNoSession is returned when an operation needs an active session.
	ErrNoSession = errors.New("no active session")
)

// Key identifies one session slot: one tool in one chat.
type Key struct {
	ChatID int64
	Tool   string
}

func (k Key) String() string { return fmt.Sprintf("%s@%d", k.Tool, k.ChatID) }

// Release reasons.
const (
	ReasonDone     = "done"
	ReasonCanceled = "canceled"
	ReasonIdle     = "idle_timeout"
	ReasonShutdown = "shutdown"
	ReasonReplaced = "replaced"
)

// Session is one active slot. Data is owned by the tool and only touched
// through Manager.With.
type Session struct {
	Key       Key
	StartedAt time.Time
	Data      any

	touched time.Time
	pinned  bool
	res     io.Closer
}

// Info is a read-only snapshot of a session.
type Info struct {
	Key       Key
	StartedAt time.Time
	IdleFor   time.Duration
}

type Options struct {
	IdleTimeout time.Duration
	Now         func() time.Time
	Bus         eventbus.Bus
	Log         logx.Logger
}

type Manager struct {
	mu       sync.Mutex
	sessions map[Key]*Session

	idle time.Duration
	now  func() time.Time
	bus  eventbus.Bus
	log  logx.Logger
}

func NewManager(opt Options) *Manager {
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = 10 * time.Minute
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	return &Manager{
		sessions: map[Key]*Session{},
		idle:     opt.IdleTimeout,
		now:      opt.Now,
		bus:      opt.Bus,
		log:      opt.Log.With(logx.String("comp", "session")),
	}
}

// SetIdleTimeout changes the reaper threshold (config reload).
func (m *Manager) SetIdleTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.idle = d
	m.mu.Unlock()
}

// Acquire activates key with res as the held resource (may be nil).
func (m *Manager) Acquire(key Key, res io.Closer, data any) error {
	now := m.now()
	m.mu.Lock()
	if _, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		return ErrBusy
	}
	m.sessions[key] = &Session{Key: key, StartedAt: now, Data: data, touched: now, res: res}
	m.mu.Unlock()

	m.log.Debug("session acquired", logx.String("key", key.String()))
	m.publish(eventbus.SessionAcquired, key, "")
	return nil
}

// Pin exempts the session at key from the idle reaper. It still ends on
// Release, ReleaseTool and ReleaseAll.
func (m *Manager) Pin(key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return ErrNoSession
	}
	s.pinned = true
	return nil
}

// Replace releases any active session for key and acquires a fresh one.
func (m *Manager) Replace(key Key, res io.Closer, data any) error {
	m.Release(key, ReasonReplaced)
	return m.Acquire(key, res, data)
}

// Active reports whether key has an active session.
func (m *Manager) Active(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[key]
	return ok
}

// With runs fn with the active session for key and marks it as touched.
// fn runs under the manager lock and must not call back into the Manager.
func (m *Manager) With(key Key, fn func(s *Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return ErrNoSession
	}
	s.touched = m.now()
	return fn(s)
}

// Release returns key to idle and closes its resource. Releasing an idle key
// is a no-op. It reports whether a session was released.
func (m *Manager) Release(key Key, reason string) bool {
	m.mu.Lock()
	s, ok := m.sessions[key]
	if ok {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.closeResource(s, reason)
	return true
}

func (m *Manager) closeResource(s *Session, reason string) {
	if s.res != nil {
		if err := s.res.Close(); err != nil {
			m.log.Warn("session resource close failed", logx.String("key", s.Key.String()), logx.Err(err))
		}
	}
	m.log.Debug("session released", logx.String("key", s.Key.String()), logx.String("reason", reason))
	m.publish(eventbus.SessionReleased, s.Key, reason)
}

// Sweep releases unpinned sessions idle for longer than the idle timeout.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	var stale []*Session
	for k, s := range m.sessions {
		if !s.pinned && now.Sub(s.touched) > m.idle {
			stale = append(stale, s)
			delete(m.sessions, k)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		m.closeResource(s, ReasonIdle)
	}
	if len(stale) > 0 {
		m.log.Info("idle sessions released", logx.Int("count", len(stale)))
	}
	return len(stale)
}

// ReleaseTool releases every session of one tool (plugin stop).
func (m *Manager) ReleaseTool(tool, reason string) int {
	return m.releaseWhere(func(k Key) bool { return k.Tool == tool }, reason)
}

// ReleaseAll releases every session (shutdown).
func (m *Manager) ReleaseAll(reason string) int {
	return m.releaseWhere(func(Key) bool { return true }, reason)
}

func (m *Manager) releaseWhere(match func(Key) bool, reason string) int {
	m.mu.Lock()
	var out []*Session
	for k, s := range m.sessions {
		if match(k) {
			out = append(out, s)
			delete(m.sessions, k)
		}
	}
	m.mu.Unlock()
	for _, s := range out {
		m.closeResource(s, reason)
	}
	return len(out)
}

// Snapshot lists active sessions ordered by start time.
func (m *Manager) Snapshot() []Info {
	now := m.now()
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{Key: s.Key, StartedAt: s.StartedAt, IdleFor: now.Sub(s.touched)})
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) publish(typ string, key Key, reason string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.SessionData{ChatID: key.ChatID, Tool: key.Tool, Reason: reason}})
}

// CloserFunc adapts a func to io.Closer.
type CloserFunc func() error

func (f CloserFunc) Close() error {
	if f == nil {
		return nil
	}
	return f()
}

// Load returns the session data for key as T.
func Load[T any](m *Manager, key Key) (T, bool) {
	var out T
	ok := false
	_ = m.With(key, func(s *Session) error {
		out, ok = s.Data.(T)
		return nil
	})
	return out, ok
}
