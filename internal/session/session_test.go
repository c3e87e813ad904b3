package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"toolbox/internal/eventbus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func counter(n *atomic.Int32) CloserFunc {
	return func() error {
		n.Add(1)
		return nil
	}
}

func TestAcquireReleaseLifecycle(t *testing.T) {
	m := NewManager(Options{})
	key := Key{ChatID: 1, Tool: "recorder"}
	var closed atomic.Int32

	if err := m.Acquire(key, counter(&closed), "blob"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if !m.Active(key) {
		t.Fatalf("expected active")
	}
	if err := m.Acquire(key, nil, nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Acquire: want ErrBusy, got %v", err)
	}

	if got, ok := Load[string](m, key); !ok || got != "blob" {
		t.Fatalf("Load=%q ok=%v", got, ok)
	}

	if !m.Release(key, ReasonDone) {
		t.Fatalf("Release reported nothing released")
	}
	if m.Release(key, ReasonDone) {
		t.Fatalf("second Release should be a no-op")
	}
	if closed.Load() != 1 {
		t.Fatalf("resource closed %d times", closed.Load())
	}
	if err := m.With(key, func(*Session) error { return nil }); !errors.Is(err, ErrNoSession) {
		t.Fatalf("With on idle key: %v", err)
	}
}

func TestSweepReleasesOnlyIdleSessions(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := NewManager(Options{IdleTimeout: time.Minute, Now: clk.now})
	var closed atomic.Int32

	stale := Key{ChatID: 1, Tool: "pgp"}
	fresh := Key{ChatID: 2, Tool: "pgp"}
	_ = m.Acquire(stale, counter(&closed), nil)
	_ = m.Acquire(fresh, counter(&closed), nil)

	clk.advance(50 * time.Second)
	_ = m.With(fresh, func(*Session) error { return nil })
	clk.advance(30 * time.Second)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep released %d", n)
	}
	if m.Active(stale) || !m.Active(fresh) {
		t.Fatalf("wrong session swept")
	}
	if closed.Load() != 1 {
		t.Fatalf("closed=%d", closed.Load())
	}
}

func TestSweepSkipsPinnedSessions(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	m := NewManager(Options{IdleTimeout: time.Minute, Now: clk.now})
	key := Key{ChatID: 1, Tool: "clock"}

	if err := m.Pin(key); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Pin without session: %v", err)
	}
	_ = m.Acquire(key, nil, nil)
	if err := m.Pin(key); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	clk.advance(time.Hour)
	if n := m.Sweep(); n != 0 || !m.Active(key) {
		t.Fatalf("pinned session swept (n=%d)", n)
	}
	if !m.Release(key, ReasonDone) {
		t.Fatalf("pinned session must still release")
	}
}

func TestReleaseToolAndAll(t *testing.T) {
	m := NewManager(Options{})
	var closed atomic.Int32
	_ = m.Acquire(Key{1, "clock"}, counter(&closed), nil)
	_ = m.Acquire(Key{2, "clock"}, counter(&closed), nil)
	_ = m.Acquire(Key{1, "qr"}, counter(&closed), nil)

	if n := m.ReleaseTool("clock", ReasonShutdown); n != 2 {
		t.Fatalf("ReleaseTool=%d", n)
	}
	if n := m.ReleaseAll(ReasonShutdown); n != 1 {
		t.Fatalf("ReleaseAll=%d", n)
	}
	if closed.Load() != 3 || len(m.Snapshot()) != 0 {
		t.Fatalf("closed=%d snapshot=%v", closed.Load(), m.Snapshot())
	}
}

func TestReplaceClosesPrevious(t *testing.T) {
	m := NewManager(Options{})
	key := Key{ChatID: 9, Tool: "pgp"}
	var closed atomic.Int32
	_ = m.Acquire(key, counter(&closed), 1)
	if err := m.Replace(key, nil, 2); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if v, _ := Load[int](m, key); v != 2 || closed.Load() != 1 {
		t.Fatalf("v=%d closed=%d", v, closed.Load())
	}
}

func TestEventsPublished(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	m := NewManager(Options{Bus: bus})
	key := Key{ChatID: 3, Tool: "recorder"}
	_ = m.Acquire(key, nil, nil)
	m.Release(key, ReasonCanceled)

	first, second := <-ch, <-ch
	if first.Type != eventbus.SessionAcquired || second.Type != eventbus.SessionReleased {
		t.Fatalf("events: %s, %s", first.Type, second.Type)
	}
	data, ok := second.Data.(eventbus.SessionData)
	if !ok || data.Reason != ReasonCanceled || data.ChatID != 3 {
		t.Fatalf("release data: %#v", second.Data)
	}
}
