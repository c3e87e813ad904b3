// Package viewsource fetches the raw HTML of a page and returns it as a
// document, together with its view-source: address.
package viewsource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
)

const (
	DefaultMaxBytes     = 2 << 20
	DefaultFetchTimeout = 20 * time.Second
	defaultUserAgent    = "Mozilla/5.0 (compatible; toolbox-viewsource/1.0)"
)

type Config struct {
	MaxBytes  int64  `json:"max_bytes,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	// AllowPrivateNetworks lets /source reach loopback, private and
	// link-local addresses. Off by default.
	AllowPrivateNetworks bool               `json:"allow_private_networks,omitempty"`
	Timeouts             pluginkit.Timeouts `json:"timeouts"`
}

type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config

	client *http.Client
}

func New() *Plugin {
	p := &Plugin{}
	p.client = newClient(func() bool { return p.config().AllowPrivateNetworks })
	return p
}

func (p *Plugin) Name() string { return "viewsource" }

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
		return c, fmt.Errorf("viewsource.max_bytes must not be negative")
	}
	return c, c.Timeouts.Validate("viewsource.timeouts")
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
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

func (p *Plugin) Commands() []core.Command {
	return []core.Command{{
		Route:       "source",
		Aliases:     []string{"src"},
		Description: "open the raw HTML source of a page",
		Usage:       "/source <http(s) url>",
		Timeout:     p.config().Timeouts.CommandOr(0),
		Handle:      p.handleSource,
	}}
}
