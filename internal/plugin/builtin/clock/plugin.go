// Package clock shows a millisecond clock, runs a per-chat stopwatch and
// keeps a single memo per chat.
package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	core "toolbox/internal/plugin"
	pluginkit "toolbox/internal/plugin/kit"
)

type Config struct {
	// Timezone overrides the scheduler timezone for the clock display.
	Timezone string             `json:"timezone,omitempty"`
	Timeouts pluginkit.Timeouts `json:"timeouts"`
}

type Plugin struct {
	core.PluginBase

	mu  sync.RWMutex
	cfg Config
	loc *time.Location

	now func() time.Time
	ui  *pluginkit.UIHub
}

func New() *Plugin {
	p := &Plugin{now: time.Now}
	p.ui = pluginkit.NewUIHub(p.Name()).
		On(viewClock, p.viewClock).
		On(viewStopwatch, p.viewStopwatch).
		On(viewMemo, p.viewMemo)
	return p
}

func (p *Plugin) Name() string { return "clock" }

func (p *Plugin) Init(ctx context.Context, deps core.Deps) error {
	p.InitBase(deps, p.Name())
	return nil
}

func (p *Plugin) Start(ctx context.Context) error {
	p.StartBase(ctx)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error { return p.StopBase(ctx) }

func decodeConfig(raw json.RawMessage) (Config, *time.Location, error) {
	c, err := core.DecodePluginConfig[Config](raw)
	if err != nil {
		return c, nil, err
	}
	var loc *time.Location
	if c.Timezone != "" {
		if loc, err = time.LoadLocation(c.Timezone); err != nil {
			return c, nil, fmt.Errorf("clock.timezone: %w", err)
		}
	}
	return c, loc, c.Timeouts.Validate("clock.timeouts")
}

func (p *Plugin) ValidateConfig(ctx context.Context, raw json.RawMessage) error {
	_, _, err := decodeConfig(raw)
	return err
}

func (p *Plugin) OnConfigChange(ctx context.Context, raw json.RawMessage) error {
	c, loc, err := decodeConfig(raw)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.cfg, p.loc = c, loc
	p.mu.Unlock()
	p.ui.WithTimeout(c.Timeouts.CommandOr(0))
	return nil
}

// location is the plugin timezone, then the scheduler's, then Local.
func (p *Plugin) location() *time.Location {
	p.mu.RLock()
	loc := p.loc
	p.mu.RUnlock()
	if loc != nil {
		return loc
	}
	if s := p.Deps.Scheduler; s != nil {
		return s.Location()
	}
	return time.Local
}

func (p *Plugin) Commands() []core.Command {
	p.mu.RLock()
	to := p.cfg.Timeouts.CommandOr(0)
	p.mu.RUnlock()
	return []core.Command{
		{Route: "clock", Description: "current time with milliseconds", Usage: "/clock", Timeout: to, Handle: p.handleClock},
		{Route: "stopwatch", Aliases: []string{"sw"}, Description: "start, stop and reset a stopwatch", Usage: "/stopwatch", Timeout: to, Handle: p.handleStopwatch},
		{Route: "memo", Description: "show the memo", Usage: "/memo", Timeout: to, Handle: p.handleMemo},
		{Route: "memo set", Description: "replace the memo", Usage: "/memo set <text>", Timeout: to, Handle: p.handleMemoSet},
		{Route: "memo clear", Description: "delete the memo", Usage: "/memo clear", Timeout: to, Handle: p.handleMemoClear},
	}
}

func (p *Plugin) Callbacks() []core.CallbackRoute {
	return []core.CallbackRoute{p.ui.Route()}
}
