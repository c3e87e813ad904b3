// Package pgp generates OpenPGP key pairs, keeps saved pairs per chat and
// encrypts or decrypts armored messages.
package pgp

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
	"toolbox/internal/storage"
	kit "toolbox/internal/transport"
)

const (
	// keyPrefix namespaces one stored key pair per entry.
	keyPrefix = "pgp_key_"

	DefaultGenTimeout  = 2 * time.Minute
	DefaultMaxDocBytes = 256 << 10
)

type Config struct {
	// DefaultType is used when /pgp gen has no --type.
	DefaultType string             `json:"default_type,omitempty"`
	Timeouts    pluginkit.Timeouts `json:"timeouts"`
}

type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config

	now  func() time.Time
	view *pluginkit.RecordView[KeyPair]
}

func New() *Plugin {
	p := &Plugin{now: time.Now}
	p.view = pluginkit.NewRecordView(pluginkit.RecordViewConfig[KeyPair]{
		Plugin:   p.Name(),
		Emoji:    "🔐",
		Title:    "Stored keys",
		Empty:    "No keys stored. /pgp gen creates a pair, /pgp save keeps it.",
		Open:     func(chatID int64) storage.Collection[KeyPair] { return p.keys(chatID) },
		Label:    keyLabel,
		Use:      p.loadKey,
		UseLabel: "Load for decryption",
		Copy:     func(r storage.Record[KeyPair]) string { return r.Payload.PublicKey },
		Location: p.location,
		OnChange: func(typ string, chatID int64, id string) { p.StoreChanged(typ, chatID, keyPrefix, id) },
	})
	return p
}

func (p *Plugin) Name() string { return "pgp" }

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
	switch c.DefaultType {
	case "", KeyECC, KeyRSA2048, KeyRSA4096:
	default:
		return c, fmt.Errorf("pgp.default_type %q must be ecc, rsa2048 or rsa4096", c.DefaultType)
	}
	return c, c.Timeouts.Validate("pgp.timeouts")
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
	if c.DefaultType == "" {
		c.DefaultType = KeyECC
	}
	return c
}

func (p *Plugin) location() *time.Location {
	if s := p.Deps.Scheduler; s != nil {
		return s.Location()
	}
	return time.Local
}

func (p *Plugin) keys(chatID int64) *storage.Family[KeyPair] {
	return storage.NewFamily[KeyPair](p.Chat(chatID), keyPrefix, p.now)
}

func keyLabel(r storage.Record[KeyPair]) string {
	k := r.Payload
	if k.Email == "" {
		return k.Name
	}
	return k.Name + " <" + k.Email + ">"
}

func (p *Plugin) Commands() []core.Command {
	to := p.config().Timeouts.CommandOr(0)
	return []core.Command{
		{Route: "pgp gen", Description: "generate a key pair", Usage: "/pgp gen [--name N] [--email E] [--type ecc|rsa4096|rsa2048] [--pass P]", Timeout: to, Handle: p.handleGen},
		{Route: "pgp save", Description: "store the current key pair", Usage: "/pgp save", Timeout: to, Handle: p.handleSave},
		{Route: "pgp keys", Description: "list stored key pairs", Usage: "/pgp keys", Timeout: to, Handle: p.view.Show},
		{Route: "pgp encrypt", Description: "encrypt a message to a public key", Usage: "/pgp encrypt [--mine]", Timeout: to, Handle: p.handleEncrypt},
		{Route: "pgp decrypt", Description: "decrypt a message with a secret key", Usage: "/pgp decrypt [--pass P]", Timeout: to, Handle: p.handleDecrypt},
		{Route: "pgp cancel", Description: "abandon the running encrypt or decrypt", Usage: "/pgp cancel", Timeout: to, Handle: p.handleCancel},
	}
}

func (p *Plugin) Callbacks() []core.CallbackRoute {
	return []core.CallbackRoute{
		p.view.Route(),
		{
			Action:      "save",
			Description: "store the current key pair",
			Timeout:     p.config().Timeouts.CommandOr(0),
			Handle:      func(ctx context.Context, req *core.Request, _ string) error { return p.handleSave(ctx, req) },
		},
	}
}

func (p *Plugin) Inputs() []core.InputRoute {
	return []core.InputRoute{{
		Plugin:   p.Name(),
		Name:     "form",
		Priority: 30,
		Timeout:  p.config().Timeouts.OperationOr(time.Minute),
		Match: func(msg *kit.Message) bool {
			return acceptsInput(msg) && p.formStep(msg.ChatID) != stepNone
		},
		Handle: p.handleInput,
	}}
}

// acceptsInput matches plain text and small text documents such as .asc files.
func acceptsInput(msg *kit.Message) bool {
	if a := msg.Attachment; a != nil {
		return isTextDocument(a)
	}
	t := strings.TrimSpace(msg.Text)
	return t != "" && !strings.HasPrefix(t, "/")
}

func isTextDocument(a *kit.Attachment) bool {
	if a.Kind != kit.AttachDocument || a.Size > DefaultMaxDocBytes {
		return false
	}
	if strings.HasPrefix(a.MIME, "text/") || strings.HasPrefix(a.MIME, "application/pgp") {
		return true
	}
	switch strings.ToLower(path.Ext(a.FileName)) {
	case ".asc", ".txt", ".pgp", ".gpg", ".key":
		return true
	}
	return false
}
