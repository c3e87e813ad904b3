// Package qr decodes QR codes from photos and keeps a per-chat history of
// what was read.
package qr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/storage"
	kit "toolbox/internal/transport"
)

const (
	DefaultMaxBytes = 10 << 20
	historyKey      = "qr_history"
	historyCap      = 50
)

var urlPattern = regexp.MustCompile(`^https?://`)

// IsURL reports whether decoded text is shown and opened as a link.
func IsURL(s string) bool { return urlPattern.MatchString(s) }

const maxLinkLen = 2048

// linkTarget returns s when Telegram will accept it behind a URL button,
// or "" when the text only looks like a link.
func linkTarget(s string) string {
	if !IsURL(s) || len(s) > maxLinkLen || strings.ContainsAny(s, " \t\r\n") {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return s
}

// Scan is one history entry. Time is unix milliseconds.
type Scan struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
	Time      int64  `json:"time"`
}

type Config struct {
	MaxBytes int64              `json:"max_bytes,omitempty"`
	Timeouts pluginkit.Timeouts `json:"timeouts"`
}

type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config

	now  func() time.Time
	view *pluginkit.RecordView[Scan]
}

func New() *Plugin {
	p := &Plugin{now: time.Now}
	p.view = pluginkit.NewRecordView(pluginkit.RecordViewConfig[Scan]{
		Plugin:   p.Name(),
		Emoji:    "📷",
		Title:    "QR history",
		Empty:    "No codes read yet. Send a photo of a QR code.",
		Open:     func(chatID int64) storage.Collection[Scan] { return p.history(chatID) },
		Label:    func(r storage.Record[Scan]) string { return r.Payload.Text },
		Use:      p.reload,
		Copy:     func(r storage.Record[Scan]) string { return r.Payload.Text },
		Location: p.location,
		Extra: []pluginkit.RecordAction[Scan]{{
			Key:   "open",
			Label: "🔗",
			URL:   func(r storage.Record[Scan]) string { return linkTarget(r.Payload.Text) },
		}},
		OnChange: func(typ string, chatID int64, id string) { p.StoreChanged(typ, chatID, historyKey, id) },
	})
	return p
}

func (p *Plugin) Name() string { return "qr" }

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
		return c, fmt.Errorf("qr.max_bytes must not be negative")
	}
	return c, c.Timeouts.Validate("qr.timeouts")
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

func (p *Plugin) history(chatID int64) *storage.List[Scan] {
	return storage.NewList[Scan](p.Chat(chatID), historyKey, storage.ListOptions{
		Order: storage.Prepended,
		Cap:   historyCap,
		Now:   p.now,
	})
}

func (p *Plugin) Commands() []core.Command {
	to := p.config().Timeouts.CommandOr(0)
	return []core.Command{
		{Route: "qr scan", Description: "read a QR code from the next photo", Usage: "/qr scan", Timeout: to, Handle: p.handleScan},
		{Route: "qr history", Description: "codes read in this chat", Usage: "/qr history", Timeout: to, Handle: p.view.Show},
	}
}

func (p *Plugin) Callbacks() []core.CallbackRoute {
	return []core.CallbackRoute{p.view.Route()}
}

func (p *Plugin) Inputs() []core.InputRoute {
	return []core.InputRoute{{
		Plugin:   p.Name(),
		Name:     "image",
		Priority: 10,
		Timeout:  p.config().Timeouts.OperationOr(30 * time.Second),
		Match:    p.wantsImage,
		Handle:   p.handleImage,
	}}
}

// wantsImage takes every image in private chats. Groups need /qr scan first.
func (p *Plugin) wantsImage(msg *kit.Message) bool {
	if !msg.Attachment.IsImage() {
		return false
	}
	if !msg.IsGroup {
		return true
	}
	sm := p.Deps.Sessions
	return sm != nil && sm.Active(p.SessionKey(msg.ChatID))
}
