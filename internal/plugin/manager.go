package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"toolbox/internal/config"
	"toolbox/internal/eventbus"
	logx "toolbox/pkg/logx"
)

// Status is a point-in-time view of one plugin.
type Status struct {
	Name      string `json:"name"`
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	HasConfig bool   `json:"has_config"`

	Quarantined     bool      `json:"quarantined"`
	QuarantineErr   string    `json:"quarantine_err,omitempty"`
	QuarantineSince time.Time `json:"quarantine_since,omitempty"`

	Health    string `json:"health,omitempty"`
	HealthErr string `json:"health_err,omitempty"`
}

type PluginManager struct {
	mu sync.Mutex

	log  logx.Logger
	cfgm *config.ConfigManager
	deps Deps
	reg  map[string]Plugin
	run  map[string]bool
	// inited plugins are not re-initialized on every enable/disable cycle.
	inited map[string]bool
	// last config blob hash per running plugin
	lastRawHash map[string]uint64

	// baseCtx outlives the call-scoped contexts passed to StartAll and
	// OnConfigUpdate; BindContext cancels it when the app context ends.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	bound      bool

	pctx    map[string]context.Context
	pcancel map[string]context.CancelFunc

	// quarantine keeps plugins with a broken config disabled until the
	// config changes.
	quarantine map[string]quarantineState

	cmdm *CommandManager
}

type quarantineState struct {
	rawHash uint64
	err     string
	since   time.Time
	count   int
}

const callTimeout = 10 * time.Second

func NewPluginManager(log logx.Logger, cfgm *config.ConfigManager, deps Deps, cmdm *CommandManager) *PluginManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &PluginManager{
		log:         log,
		cfgm:        cfgm,
		deps:        deps,
		reg:         map[string]Plugin{},
		run:         map[string]bool{},
		inited:      map[string]bool{},
		lastRawHash: map[string]uint64{},
		baseCtx:     baseCtx,
		baseCancel:  baseCancel,
		pctx:        map[string]context.Context{},
		pcancel:     map[string]context.CancelFunc{},
		quarantine:  map[string]quarantineState{},
		cmdm:        cmdm,
	}
}

func (pm *PluginManager) emit(typ, name, reason string) {
	if pm.deps.Bus == nil {
		return
	}
	pm.deps.Bus.Publish(eventbus.Event{Type: typ, Data: eventbus.PluginData{Plugin: name, Reason: reason}})
}

// BindContext ties the manager's base context to appCtx. First bind wins.
func (pm *PluginManager) BindContext(appCtx context.Context) {
	pm.mu.Lock()
	if pm.bound || appCtx == nil {
		pm.mu.Unlock()
		return
	}
	pm.bound = true
	baseCancel := pm.baseCancel
	pm.mu.Unlock()

	context.AfterFunc(appCtx, baseCancel)
}

func (pm *PluginManager) Register(p ...Plugin) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, pl := range p {
		pm.reg[pl.Name()] = pl
	}
	pm.refreshRegistryLocked(pm.cfgm.Get())
}

func (pm *PluginManager) StartAll(ctx context.Context) error {
	pm.BindContext(ctx)
	return pm.reconcile(pm.cfgm.Get())
}

func (pm *PluginManager) StopAll(ctx context.Context, reason StopReason) {
	pm.mu.Lock()
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	pm.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		pm.stopOne(ctx, name, reason)
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(pm.cfgm.Get())
	pm.mu.Unlock()
}

func (pm *PluginManager) OnConfigUpdate(ctx context.Context, cfg *config.Config) {
	pm.BindContext(ctx)
	pm.mu.Lock()
	pm.deps.Owners = append([]int64(nil), cfg.Telegram.OwnerUserIDs...)
	pm.mu.Unlock()
	_ = pm.reconcile(cfg)
}

func (pm *PluginManager) stopOne(stopCtx context.Context, name string, reason StopReason) {
	pm.mu.Lock()
	p := pm.reg[name]
	running := pm.run[name]
	cancel := pm.pcancel[name]
	pm.mu.Unlock()

	if !running || p == nil {
		return
	}

	start := time.Now()
	pm.log.Debug("stopping plugin", logx.String("plugin", name), logx.String("reason", string(reason)))

	// Stop gets the caller's deadline; a plugin that ignores it does not
	// hold up shutdown.
	done := make(chan struct{})
	go func() {
		_ = pm.safeCall("plugin.stop."+name, func() error { return p.Stop(stopCtx) })
		close(done)
	}()
	select {
	case <-done:
	case <-stopCtx.Done():
		pm.log.Warn("plugin stop timeout (continuing)", logx.String("plugin", name), logx.Err(stopCtx.Err()))
	}
	if cancel != nil {
		cancel()
	}

	pm.mu.Lock()
	pm.run[name] = false
	delete(pm.pctx, name)
	delete(pm.pcancel, name)
	delete(pm.lastRawHash, name)
	pm.mu.Unlock()

	took := time.Since(start)
	pm.emit(eventbus.PluginStopped, name, string(reason))
	if took >= 500*time.Millisecond {
		pm.log.Info("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
	} else {
		pm.log.Debug("plugin stopped", logx.String("plugin", name), logx.String("reason", string(reason)), logx.Duration("took", took))
	}
}

func (pm *PluginManager) reconcile(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("reconcile: nil config")
	}
	type op struct {
		name    string
		p       Plugin
		raw     config.PluginConfigRaw
		rawHash uint64
		enabled bool
		run     bool
	}
	pm.mu.Lock()
	ops := make([]op, 0, len(pm.reg))
	for name, p := range pm.reg {
		raw, ok := cfg.Plugins[name]
		ops = append(ops, op{
			name: name, p: p, raw: raw,
			rawHash: config.CanonicalHash(raw.Config),
			enabled: ok && raw.Enabled,
			run:     pm.run[name],
		})
	}
	pm.mu.Unlock()
	sort.Slice(ops, func(i, j int) bool { return ops[i].name < ops[j].name })

	for _, o := range ops {
		switch {
		case o.enabled && !o.run:
			pm.enable(o.name, o.p, o.raw, o.rawHash)

		case !o.enabled && o.run:
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginDisable)
			cancel()

		case o.enabled && o.run:
			cp, ok := o.p.(ConfigurablePlugin)
			if !ok {
				break
			}
			pm.mu.Lock()
			oldHash := pm.lastRawHash[o.name]
			pctx := pm.pctx[o.name]
			pm.mu.Unlock()
			if o.rawHash == oldHash {
				break
			}
			if err := pm.validate(pctx, o.p, o.raw.Config); err == nil {
				cctx, ccancel := context.WithTimeout(pctx, callTimeout)
				err = pm.safeCall("plugin.config."+o.name, func() error { return cp.OnConfigChange(cctx, o.raw.Config) })
				ccancel()
				if err == nil {
					pm.mu.Lock()
					pm.lastRawHash[o.name] = o.rawHash
					pm.mu.Unlock()
					pm.log.Info("plugin config applied", logx.String("plugin", o.name))
					break
				}
				pm.setQuarantine(o.name, o.rawHash, err)
			} else {
				pm.setQuarantine(o.name, o.rawHash, err)
			}
			stopCtx, cancel := context.WithTimeout(pm.baseCtx, callTimeout)
			pm.stopOne(stopCtx, o.name, StopPluginQuarantine)
			cancel()
		}
	}

	pm.mu.Lock()
	pm.refreshRegistryLocked(cfg)
	pm.mu.Unlock()
	return nil
}

func (pm *PluginManager) enable(name string, p Plugin, raw config.PluginConfigRaw, rawHash uint64) {
	pm.clearQuarantineOnChange(name, rawHash)
	if pm.isQuarantined(name, rawHash) {
		pm.log.Warn("plugin enable skipped (quarantined)", logx.String("plugin", name))
		return
	}

	pctx, cancel := context.WithCancel(pm.baseCtx)
	pm.mu.Lock()
	needInit := !pm.inited[name]
	deps := pm.deps
	pm.mu.Unlock()

	if needInit {
		ictx, icancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.init."+name, func() error { return p.Init(ictx, deps) })
		icancel()
		if err != nil {
			pm.log.Error("plugin init failed", logx.String("plugin", name), logx.Err(err))
			cancel()
			return
		}
		pm.mu.Lock()
		pm.inited[name] = true
		pm.mu.Unlock()
	}

	if err := pm.validate(pctx, p, raw.Config); err != nil {
		pm.setQuarantine(name, rawHash, err)
		cancel()
		return
	}
	if cp, ok := p.(ConfigurablePlugin); ok {
		cctx, ccancel := context.WithTimeout(pctx, callTimeout)
		err := pm.safeCall("plugin.config."+name, func() error { return cp.OnConfigChange(cctx, raw.Config) })
		ccancel()
		if err != nil {
			pm.setQuarantine(name, rawHash, fmt.Errorf("config apply: %w", err))
			cancel()
			return
		}
	}

	if err := pm.startWithTimeout(name, p, pctx, cancel, callTimeout); err != nil {
		pm.log.Error("plugin start failed", logx.String("plugin", name), logx.Err(err))
		cancel()
		return
	}

	pm.mu.Lock()
	pm.run[name] = true
	pm.pctx[name] = pctx
	pm.pcancel[name] = cancel
	pm.lastRawHash[name] = rawHash
	delete(pm.quarantine, name)
	pm.mu.Unlock()

	pm.log.Info("plugin started", logx.String("plugin", name))
	pm.emit(eventbus.PluginStarted, name, "")
}

func (pm *PluginManager) validate(ctx context.Context, p Plugin, raw json.RawMessage) error {
	v, ok := p.(ConfigValidator)
	if !ok {
		return nil
	}
	if ctx == nil {
		ctx = pm.baseCtx
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pm.safeCall("plugin.validate."+p.Name(), func() error { return v.ValidateConfig(cctx, raw) }); err != nil {
		return fmt.Errorf("config validate: %w", err)
	}
	return nil
}

func (pm *PluginManager) isQuarantined(name string, rawHash uint64) bool {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	pm.mu.Unlock()
	return ok && st.rawHash == rawHash
}

func (pm *PluginManager) clearQuarantineOnChange(name string, rawHash uint64) {
	pm.mu.Lock()
	st, ok := pm.quarantine[name]
	if ok && st.rawHash != rawHash {
		delete(pm.quarantine, name)
		pm.mu.Unlock()
		pm.log.Info("plugin quarantine cleared (config changed)", logx.String("plugin", name))
		return
	}
	pm.mu.Unlock()
}

func (pm *PluginManager) setQuarantine(name string, rawHash uint64, err error) {
	if err == nil {
		return
	}
	errStr := err.Error()
	pm.mu.Lock()
	prev, ok := pm.quarantine[name]
	if ok && prev.rawHash == rawHash && prev.err == errStr {
		prev.count++
		pm.quarantine[name] = prev
		pm.mu.Unlock()
		return
	}
	pm.quarantine[name] = quarantineState{rawHash: rawHash, err: errStr, since: time.Now(), count: prev.count + 1}
	pm.mu.Unlock()

	pm.log.Error("plugin quarantined", logx.String("plugin", name), logx.String("err", errStr))
	pm.emit(eventbus.PluginQuarantined, name, errStr)
}

// startWithTimeout calls Start(pctx) but enforces a deadline. On timeout the
// plugin context is canceled.
func (pm *PluginManager) startWithTimeout(name string, p Plugin, pctx context.Context, cancel context.CancelFunc, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- pm.safeCall("plugin.start."+name, func() error { return p.Start(pctx) })
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case err := <-done:
		return err
	case <-t.C:
		cancel()
		grace := time.NewTimer(2 * time.Second)
		defer grace.Stop()
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("start timeout (%s): %w", timeout, err)
			}
			return fmt.Errorf("start timeout (%s)", timeout)
		case <-grace.C:
			return fmt.Errorf("start timeout (%s): start did not return after cancel", timeout)
		}
	}
}

func (pm *PluginManager) safeCall(label string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pm.log.Error("panic in plugin call",
				logx.String("call", label),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			err = fmt.Errorf("panic in %s: %v", label, r)
		}
	}()
	return fn()
}

func (pm *PluginManager) refreshRegistryLocked(cfg *config.Config) {
	if pm.cmdm == nil || cfg == nil {
		return
	}
	var (
		cmds   []Command
		cbs    []CallbackRoute
		inputs []InputRoute
	)
	names := make([]string, 0, len(pm.reg))
	for name := range pm.reg {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := pm.reg[name]
		if !pm.run[name] || !cfg.Plugins[name].Enabled {
			continue
		}
		_ = pm.safeCall("plugin.routes."+name, func() error {
			for _, c := range p.Commands() {
				c.PluginName = name
				cmds = append(cmds, c)
			}
			if cbp, ok := p.(CallbackProvider); ok {
				for _, r := range cbp.Callbacks() {
					r.Plugin = name
					cbs = append(cbs, r)
				}
			}
			if ip, ok := p.(InputProvider); ok {
				for _, r := range ip.Inputs() {
					r.Plugin = name
					inputs = append(inputs, r)
				}
			}
			return nil
		})
	}
	pm.cmdm.SetRegistry(cmds, cbs, inputs)
}

// ValidateConfig checks every enabled plugin's config block before a new
// config is committed. It never calls Init/Start/Stop.
func (pm *PluginManager) ValidateConfig(ctx context.Context, cfg *config.Config) error {
	pm.mu.Lock()
	type item struct {
		name string
		p    Plugin
		raw  json.RawMessage
	}
	var items []item
	for name, p := range pm.reg {
		if raw, ok := cfg.Plugins[name]; ok && raw.Enabled {
			items = append(items, item{name, p, raw.Config})
		}
	}
	pm.mu.Unlock()

	for _, it := range items {
		if err := pm.validate(ctx, it.p, it.raw); err != nil {
			return fmt.Errorf("plugin %s: %w", it.name, err)
		}
	}
	return nil
}

// Snapshot reports every registered plugin, probing health where available.
func (pm *PluginManager) Snapshot(ctx context.Context) []Status {
	cfg := pm.cfgm.Get()
	pm.mu.Lock()
	out := make([]Status, 0, len(pm.reg))
	probes := map[string]HealthChecker{}
	for name, p := range pm.reg {
		var raw config.PluginConfigRaw
		if cfg != nil {
			raw = cfg.Plugins[name]
		}
		st := Status{Name: name, Enabled: raw.Enabled, Running: pm.run[name], HasConfig: len(raw.Config) > 0}
		if q, ok := pm.quarantine[name]; ok {
			st.Quarantined, st.QuarantineErr, st.QuarantineSince = true, q.err, q.since
		}
		if hc, ok := p.(HealthChecker); ok && st.Running {
			probes[name] = hc
		}
		out = append(out, st)
	}
	pm.mu.Unlock()

	for i := range out {
		hc, ok := probes[out[i].Name]
		if !ok {
			continue
		}
		hctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		status, err := hc.Health(hctx)
		cancel()
		out[i].Health = status
		if err != nil {
			out[i].HealthErr = err.Error()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
