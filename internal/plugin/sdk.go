package plugin

import (
	"context"
	"errors"

	"toolbox/internal/eventbus"
	rtsup "toolbox/internal/runtime/supervisor"
	"toolbox/internal/session"
	"toolbox/internal/storage"
	logx "toolbox/pkg/logx"
)

// PluginBase is embedded by every tool. Typical usage:
//
//	type Plugin struct{ plugin.PluginBase }
//	func (p *Plugin) Init(ctx context.Context, deps plugin.Deps) error { p.InitBase(deps, p.Name()); return nil }
//	func (p *Plugin) Start(ctx context.Context) error { p.StartBase(ctx); return nil }
//	func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }
type PluginBase struct {
	Log    logx.Logger
	Deps   Deps
	Runner *rtsup.Supervisor

	pluginName string
	ctx        context.Context
}

// Supervisor returns the per-plugin supervisor, if StartBase has been called.
func (b *PluginBase) Supervisor() *rtsup.Supervisor { return b.Runner }

// Health is a lightweight default that never blocks.
func (b *PluginBase) Health(ctx context.Context) (string, error) {
	if b == nil {
		return "nil", errors.New("plugin base is nil")
	}
	if b.ctx == nil {
		return "not_started", nil
	}
	select {
	case <-b.ctx.Done():
		return "stopped", b.ctx.Err()
	default:
	}
	return "ok", nil
}

// InitBase wires deps + logger.
func (b *PluginBase) InitBase(deps Deps, pluginName string) {
	b.Deps = deps
	b.pluginName = pluginName
	base := deps.Logger
	if base.IsZero() {
		base = logx.Nop()
	}
	b.Log = base.With(logx.String("plugin", pluginName))
}

// StartBase creates a per-plugin supervisor tied to ctx.
func (b *PluginBase) StartBase(ctx context.Context) {
	b.ctx = ctx
	b.Runner = rtsup.New(ctx, rtsup.WithLogger(b.Log), rtsup.WithCancelOnError(false))
}

// StopBase releases the plugin's sessions and cancels the runner, waiting
// at most until ctx ends.
func (b *PluginBase) StopBase(ctx context.Context) error {
	if sm := b.Deps.Sessions; sm != nil {
		if n := sm.ReleaseTool(b.pluginName, session.ReasonShutdown); n > 0 {
			b.Log.Info("sessions released on stop", logx.Int("count", n))
		}
	}
	if b.Runner == nil {
		return nil
	}
	b.Runner.Cancel()
	err := b.Runner.Wait(ctx)
	b.Runner = nil
	return err
}

// Context returns the plugin runtime context (canceled on stop/disable).
func (b *PluginBase) Context() context.Context {
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

func (b *PluginBase) PluginName() string { return b.pluginName }

// Chat returns the durable store of one chat.
func (b *PluginBase) Chat(chatID int64) *storage.Scope {
	return b.Deps.Store.Chat(chatID)
}

// SessionKey identifies this tool's session slot in a chat.
func (b *PluginBase) SessionKey(chatID int64) session.Key {
	return session.Key{ChatID: chatID, Tool: b.pluginName}
}

// PublishEvent publishes to the in-process event bus. It never blocks.
func (b *PluginBase) PublishEvent(typ string, data any) {
	if b == nil || b.Deps.Bus == nil {
		return
	}
	b.Deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// StoreChanged publishes a store mutation event for one chat.
func (b *PluginBase) StoreChanged(typ string, chatID int64, store, id string) {
	b.PublishEvent(typ, eventbus.StoreData{ChatID: chatID, Tool: b.pluginName, Store: store, ID: id})
}
