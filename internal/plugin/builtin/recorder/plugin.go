// Package recorder captures voice notes and audio files into a chat-scoped
// list of named recordings that can be played back, copied and deleted.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/storage"
	kit "toolbox/internal/transport"
)

// DefaultMaxBytes bounds one capture. The stored data URI grows by a third,
// so a capture must stay well under the per-chat quota.
const DefaultMaxBytes = 2 << 20

// storeKey is the list every recording of a chat is kept in.
const storeKey = "audioRecordings"

type Config struct {
	MaxBytes int64              `json:"max_bytes,omitempty"`
	Timeouts pluginkit.Timeouts `json:"timeouts"`
}

type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config

	now  func() time.Time
	view *pluginkit.RecordView[Recording]
}

func New() *Plugin {
	p := &Plugin{now: time.Now}
	p.view = pluginkit.NewRecordView(pluginkit.RecordViewConfig[Recording]{
		Plugin: p.Name(),
		Emoji:  "🎙",
		Title:  "Recordings",
		Empty:  "No recordings saved. Use /rec start, then send a voice message.",
		Open:   func(chatID int64) storage.Collection[Recording] { return p.recordings(chatID) },
		Label:  func(r storage.Record[Recording]) string { return r.Payload.Name },
		Copy:   copyText,
		Extra: []pluginkit.RecordAction[Recording]{
			{Key: "play", Label: "▶", Do: p.play},
		},
		Location: p.location,
		OnChange: func(typ string, chatID int64, id string) { p.StoreChanged(typ, chatID, storeKey, id) },
	})
	return p
}

func (p *Plugin) Name() string { return "recorder" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func decodeConfig(raw json.RawMessage) (Config, error) {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return c, err
	}
	if c.MaxBytes < 0 {
		return c, fmt.Errorf("recorder.max_bytes must not be negative")
	}
	return c, c.Timeouts.Validate("recorder.timeouts")
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, err := decodeConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, err := decodeConfig(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *Plugin) config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c := p.cfg
	if c.MaxBytes == 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	return c
}

func (p *Plugin) location() *time.Location {
	if s := p.Deps.Scheduler; s != nil {
		return s.Location()
	}
	return time.Local
}

func (p *Plugin) recordings(chatID int64) *storage.List[Recording] {
	return storage.NewList[Recording](p.Chat(chatID), storeKey, storage.ListOptions{Now: p.now})
}

func (p *Plugin) Commands() []core.Command {
	to := p.config().Timeouts.CommandOr(0)
	return []core.Command{
		{Route: "rec start", Description: "start capturing the next voice message", Usage: "/rec start [name]", Timeout: to, Handle: p.handleStart},
		{Route: "rec stop", Description: "discard the capture", Usage: "/rec stop", Timeout: to, Handle: p.handleStop},
		{Route: "rec save", Description: "save the captured audio", Usage: "/rec save [filename]", Timeout: to, Handle: p.handleSave},
		{Route: "rec list", Aliases: []string{"recordings"}, Description: "list saved recordings", Usage: "/rec list", Timeout: to, Handle: p.view.Show},
	}
}

func (p *Plugin) Callbacks() []core.CallbackRoute {
	return []core.CallbackRoute{p.view.Route()}
}

func (p *Plugin) Inputs() []core.InputRoute {
	return []core.InputRoute{{
		Plugin:   p.Name(),
		Name:     "capture",
		Priority: 20,
		Timeout:  p.config().Timeouts.OperationOr(time.Minute),
		Match: func(msg *kit.Message) bool {
			return msg.Attachment.IsAudio() && p.capturing(msg.ChatID)
		},
		Handle: p.handleAudio,
	}}
}
