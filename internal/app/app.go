package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"feedbot/internal/config"
	"feedbot/internal/eventbus"
	"feedbot/internal/notifier"
	"feedbot/internal/observability/ops"
	"feedbot/internal/reconcile"
	rtsup "feedbot/internal/runtime/supervisor"
	kit "feedbot/internal/transport"
	telegram "feedbot/internal/transport/telegram/adapter"
	"feedbot/internal/transport/telegram/router"
	logx "feedbot/pkg/logx"
)

// restartSections cannot be applied to a running process.
var restartSections = []string{"storage", "device", "pellet", "telegram"}

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	core *Core

	adapter *telegram.Adapter // nil when telegram.enabled is false
	cmdm    *router.CommandManager
	notif   *notifier.Service
	alerts  *notifier.Alerts
	ops     *ops.Service

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.LoadOrDefault()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg), nil)
	comp := func(name string) logx.Logger { return log.With(logx.Component(name)) }

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	core, err := BuildCore(context.Background(), cfg, bus, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		log:     comp("app"),
		logs:    logSvc,
		bus:     bus,
		core:    core,
		notif:   notifier.New(ncfg, nil, comp("notifier")),
		ops:     ops.New(mapOpsConfig(cfg), comp("ops")),
		updates: make(chan kit.Update, 256),
	}
	a.alerts = notifier.NewAlerts(a.notif, bus, alertTarget(cfg), comp("alerts"))

	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, config.DefaultPollTimeout)
		if err != nil {
			_ = core.Close()
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, comp("telegram"))
		if err != nil {
			_ = core.Close()
			return nil, err
		}
		a.adapter = ad
		logSvc.SetSender(ad)
		a.notif.SetSender(ad)

		a.cmdm = router.NewCommandManager(comp("telegram.router"), ad, core.Auth)
		h := router.NewHandlers(core.Feeder, core.Scheduler, ad, core.Scheduler.Location)
		a.cmdm.SetRateLimit(cfg.Telegram.CommandsPerMinute)
		a.cmdm.SetRegistry(h.Commands())
	}

	a.ops.AddCheck("storage", core.Store.Ping)
	a.ops.AddCheck("scheduler", func(context.Context) error {
		snap := core.Scheduler.Snapshot()
		if snap.Enabled && !snap.Running {
			return errors.New("scheduler is not running")
		}
		return nil
	})
	a.ops.AddStatus("scheduler", func() any { return core.Scheduler.Snapshot() })
	a.ops.AddStatus("task_engine", func() any { return core.Engine.Snapshot() })
	a.ops.AddStatus("notifier", func() any { return a.notif.History() })
	return a, nil
}

// Core exposes the domain components, mainly for tests.
func (a *App) Core() *Core { return a.core }

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
	sup := a.sup
	a.ops.AddStatus("supervisor", func() any {
		out := map[string]rtsup.Snapshot{
			"app": sup.Snapshot(),
			"ops": a.ops.Supervisor().Snapshot(),
		}
		if a.cmdm != nil {
			out["commands"] = a.cmdm.Supervisor().Snapshot()
		}
		return out
	})
	a.cfgm.SetLogger(a.log.With(logx.Component("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapTaskEngineConfig(cfg); err != nil {
			return err
		}
		_, err := mapNotifierConfig(cfg)
		return err
	})
	cfg := a.cfgm.Get()

	// Timers are installed before the cron starts so nothing due at boot is missed.
	if err := a.core.Reconciler.Startup(a.sup.Context()); err != nil {
		a.log.Warn("some timers were not restored", logx.Err(err))
	}
	a.installResync(cfg)

	a.core.Engine.Start(a.sup.Context())
	a.core.Scheduler.Start(a.sup.Context())

	a.notif.Start(a.sup.Context())
	a.sup.Go("alerts", a.alerts.Run)
	a.ops.Start(a.sup.Context())

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.cmdm.SetAppSupervisor(a.sup)
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.cmdm.DispatchLoop(c, a.updates)
		})
	} else {
		a.log.Info("telegram disabled; running timers only")
	}

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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
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
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("scheduler", cfg.Scheduler.IsEnabled()),
		logx.Int("timers", len(a.core.Scheduler.Jobs())),
	)
	return nil
}

// installResync (re)registers the periodic ResyncAll interval.
func (a *App) installResync(cfg *config.Config) {
	a.core.Scheduler.RemoveInterval(reconcile.ResyncJobName)
	every := cfg.Scheduler.ResyncEvery()
	if every <= 0 {
		a.log.Info("periodic resync disabled")
		return
	}
	if err := a.core.Scheduler.AddInterval(reconcile.ResyncJobName, every, time.Minute, a.core.Reconciler.Job); err != nil {
		a.log.Warn("resync interval not installed", logx.Duration("every", every), logx.Err(err))
	}
}

func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		if !slices.Contains(restartSections, s) {
			continue
		}
		if s == "telegram" && !telegramNeedsRestart(oldCfg.Telegram, newCfg.Telegram) {
			continue
		}
		a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
	}

	if err := a.logs.Apply(mapLogConfig(newCfg)); err != nil {
		a.log.Warn("logging sinks partially applied", logx.Err(err))
	}
	if err := a.core.ApplyConfig(ctx, newCfg); err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
	}
	if slices.Contains(sections, "scheduler") {
		a.installResync(newCfg)
	}
	if a.cmdm != nil && oldCfg.Telegram.CommandsPerMinute != newCfg.Telegram.CommandsPerMinute {
		a.cmdm.SetRateLimit(newCfg.Telegram.CommandsPerMinute)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		wasEnabled := a.notif.Enabled()
		a.notif.Apply(ncfg)
		switch {
		case wasEnabled && !ncfg.Enabled:
			stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			a.notif.Stop(stopCtx)
			cancel()
		case !wasEnabled && ncfg.Enabled:
			a.notif.Start(ctx)
		}
	}
	a.ops.Reconfigure(ctx, mapOpsConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// telegramNeedsRestart ignores the command rate, which is applied live.
func telegramNeedsRestart(prev, next config.TelegramConfig) bool {
	prev.CommandsPerMinute, next.CommandsPerMinute = 0, 0
	return prev != next
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.core.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel first so background loops start unwinding immediately.
	a.sup.Cancel()

	// step bounds one shutdown phase so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := withStepTimeout(ctx, max)
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
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 2*time.Second, func(c context.Context) error { a.core.Scheduler.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.core.Engine.Stop(c); return nil })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("notifier", time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.adapter != nil {
		step("adapter", 2*time.Second, a.adapter.Stop)
	}
	step("supervisor", 2*time.Second, a.sup.Wait)
	// In-flight dispenses finish their ledger append before the database closes.
	step("storage", time.Second, func(context.Context) error { return a.core.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}
