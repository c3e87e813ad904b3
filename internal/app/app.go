// Package app wires the toolbox bot: config, logging, storage, sessions,
// scheduler, the Telegram adapter, the router and the tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"toolbox/internal/config"
	"toolbox/internal/eventbus"
	"toolbox/internal/plugin"
	rtsup "toolbox/internal/runtime/supervisor"
	"toolbox/internal/session"
	"toolbox/internal/storage"
	"toolbox/internal/task/scheduler"
	kit "toolbox/internal/transport"
	telegram "toolbox/internal/transport/telegram/adapter"
	"toolbox/internal/transport/telegram/router"
	logx "toolbox/pkg/logx"
)

const (
	jobSessionSweep = "sessions.sweep"
	jobStorageUsage = "storage.usage"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log      logx.Logger
	logs     *logx.Service
	bus      eventbus.Bus
	store    *storage.Store
	sessions *session.Manager
	sched    *scheduler.Service

	adapter kit.Adapter
	cmdm    *router.CommandManager
	pm      *plugin.PluginManager

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The ops-chat sink needs the adapter, which needs a logger; start
	// without a sender and attach it below.
	logSvc, log := logx.New(logConfig(cfg), nil)

	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}
	logSvc.SetSender(ad)
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	store, err := openStore(cfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	sessions := session.NewManager(session.Options{
		IdleTimeout: cfg.IdleTimeout(),
		Bus:         bus,
		Log:         log,
	})

	sched := scheduler.New(schedulerConfig(cfg), log.With(logx.String("comp", "scheduler")), bus)

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "router")), ad, routerOptions(cfg))

	pm := plugin.NewPluginManager(log.With(logx.String("comp", "plugins")), cfgm, plugin.Deps{
		Logger:    log.With(logx.String("comp", "tool")),
		Adapter:   ad,
		Config:    cfgm,
		Store:     store,
		Sessions:  sessions,
		Scheduler: sched,
		Bus:       bus,
		Owners:    cfg.Telegram.OwnerUserIDs,
	}, cmdm)
	pm.Register(Builtins()...)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		sessions: sessions,
		sched:    sched,
		adapter:  ad,
		cmdm:     cmdm,
		pm:       pm,
		updates:  make(chan kit.Update, 256),
	}
	if err := a.registerJobs(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) Plugins() *plugin.PluginManager { return a.pm }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cmdm.SetMenuSupervisor(a.sup)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return a.pm.ValidateConfig(c, cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	if err := a.pm.StartAll(a.sup.Context()); err != nil {
		return err
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.Int("plugins", len(a.pm.Snapshot(ctx))))
	return nil
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, pluginChanged := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(pluginChanged) > 0 {
		a.log.Debug("plugin config changes detected", logx.Any("plugins", pluginChanged))
	}
	if restart := config.RestartRequired(oldCfg, newCfg); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("settings", strings.Join(restart, ",")))
	}

	a.logs.Apply(logConfig(newCfg))

	a.cmdm.SetAccess(newCfg.Telegram.OwnerUserIDs, newCfg.Telegram.AllowedChats)
	a.cmdm.SetRateLimit(newCfg.Telegram.RatePerSec, newCfg.Telegram.Burst)

	a.store.SetQuota(newCfg.QuotaBytes())
	a.sessions.SetIdleTimeout(newCfg.IdleTimeout())

	wasEnabled := a.sched.Enabled()
	a.sched.Apply(schedulerConfig(newCfg))
	if oldCfg.SweepEvery() != newCfg.SweepEvery() {
		if err := a.registerJobs(newCfg); err != nil {
			a.log.Warn("job update failed", logx.Err(err))
		}
	}
	switch {
	case wasEnabled && !newCfg.SchedulerEnabled():
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	case !wasEnabled && newCfg.SchedulerEnabled():
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	a.pm.OnConfigUpdate(ctx, newCfg)

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// registerJobs adds (or replaces) the maintenance jobs.
func (a *App) registerJobs(cfg *config.Config) error {
	err := a.sched.AddInterval(jobSessionSweep, cfg.SweepEvery(), 10*time.Second, func(context.Context) error {
		if n := a.sessions.Sweep(); n > 0 {
			a.log.Info("idle sessions released", logx.Int("count", n))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", jobSessionSweep, err)
	}
	err = a.sched.AddCron(jobStorageUsage, "@hourly", 30*time.Second, func(ctx context.Context) error {
		return reportUsage(ctx, a.store, a.log)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", jobStorageUsage, err)
	}
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.SessionData:
		a.log.Debug("event", logx.String("type", e.Type), logx.Chat(d.ChatID), logx.String("tool", d.Tool), logx.String("reason", d.Reason))
	case eventbus.StoreData:
		a.log.Debug("event", logx.String("type", e.Type), logx.Chat(d.ChatID), logx.String("tool", d.Tool), logx.String("store", d.Store), logx.String("id", d.ID))
	case eventbus.PluginData:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("plugin", d.Plugin), logx.String("reason", d.Reason))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

func (a *App) Stop(ctx context.Context, reason plugin.StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Plugins first: StopBase releases their sessions.
	a.step(ctx, "plugins", 4*time.Second, func(c context.Context) error { a.pm.StopAll(c, reason); return nil })
	a.step(ctx, "sessions", time.Second, func(context.Context) error {
		if n := a.sessions.ReleaseAll(session.ReasonShutdown); n > 0 {
			a.log.Info("sessions released", logx.Int("count", n))
		}
		return nil
	})
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	// Finally, wait for supervised goroutines (config watch/reload, dispatcher).
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step with an upper bound so one component cannot
// stall the whole stop. It never extends the caller's deadline.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		OpsChat: logx.OpsChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.GroupLog,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.SchedulerEnabled(), Timezone: cfg.Scheduler.Timezone}
}

func routerOptions(cfg *config.Config) router.Options {
	return router.Options{
		Workers:      cfg.Telegram.Workers,
		Owners:       cfg.Telegram.OwnerUserIDs,
		AllowedChats: cfg.Telegram.AllowedChats,
		RatePerSec:   cfg.Telegram.RatePerSec,
		Burst:        cfg.Telegram.Burst,
	}
}
