package app

import (
	"context"
	"fmt"
	"time"

	"feedbot/internal/config"
	"feedbot/internal/dispense"
	"feedbot/internal/eventbus"
	"feedbot/internal/feeder"
	"feedbot/internal/feedratio"
	"feedbot/internal/ledger"
	"feedbot/internal/reconcile"
	"feedbot/internal/schedules"
	"feedbot/internal/storage"
	"feedbot/internal/task/engine"
	"feedbot/internal/task/scheduler"
	logx "feedbot/pkg/logx"
)

// Core is the feeder domain without any transport: storage, timers and the
// feeder service. The long-running App and one-shot CLI commands share it.
type Core struct {
	Store      *storage.Store
	Schedules  *schedules.Store
	Ledger     *ledger.Ledger
	Pipeline   *dispense.Pipeline
	Engine     *engine.Service
	Scheduler  *scheduler.Service
	Reconciler *reconcile.Reconciler
	Ratio      *feedratio.RatioStore
	Auth       *feeder.Authorizer
	Feeder     *feeder.Service
}

// BuildCore opens the database and wires the domain components. Nothing is
// started; the caller owns Close.
func BuildCore(ctx context.Context, cfg *config.Config, bus eventbus.Bus, log logx.Logger) (*Core, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	comp := func(name string) logx.Logger { return log.With(logx.Component(name)) }

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	gw, err := newGateway(cfg, comp("device"))
	if err != nil {
		return nil, err
	}
	counter, err := newCounter(cfg, comp("pellet"))
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(ctx, sc, comp("storage"))
	if err != nil {
		return nil, err
	}
	c := &Core{Store: db}
	fail := func(err error) (*Core, error) {
		_ = db.Close()
		return nil, err
	}

	c.Schedules = schedules.New(db, comp("schedules"))
	c.Schedules.SetAmountRange(cfg.AmountRange())
	c.Ledger, err = ledger.New(ctx, db, comp("ledger"))
	if err != nil {
		return fail(fmt.Errorf("open ledger: %w", err))
	}
	c.Pipeline = dispense.New(gw, c.Ledger, c.Schedules, bus, comp("dispense"))
	c.Pipeline.SetAmountRange(cfg.AmountRange())

	c.Engine = engine.New(engCfg, comp("taskengine"), bus)
	c.Scheduler = scheduler.New(mapSchedulerConfig(cfg, engCfg.DefaultTimeout), c.Engine, c.Pipeline.RunScheduled, comp("scheduler"))
	c.Reconciler = reconcile.New(c.Schedules, c.Scheduler, bus, comp("reconcile"))

	loc := c.Scheduler.Location
	c.Auth = feeder.NewAuthorizer(cfg.Access)
	c.Ratio = feedratio.NewRatioStore(db, c.Auth, cfg.DefaultFeedRatio(), comp("feedratio"))
	conv := feedratio.NewConverter(c.Schedules, c.Ratio, comp("feedratio"), feedratio.WithLocation(loc))

	c.Feeder = feeder.New(feeder.Deps{
		Schedules:  c.Schedules,
		Reconciler: c.Reconciler,
		Pipeline:   c.Pipeline,
		Ledger:     c.Ledger,
		Converter:  conv,
		Ratio:      c.Ratio,
		Counter:    counter,
		Auth:       c.Auth,
		Location:   loc,
	}, comp("feeder"))
	return c, nil
}

// ApplyConfig pushes the hot-reloadable parts of cfg into the core.
func (c *Core) ApplyConfig(ctx context.Context, cfg *config.Config) error {
	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		return err
	}
	c.Engine.Apply(ctx, engCfg)
	c.Scheduler.Apply(mapSchedulerConfig(cfg, engCfg.DefaultTimeout))
	c.Schedules.SetAmountRange(cfg.AmountRange())
	c.Pipeline.SetAmountRange(cfg.AmountRange())
	c.Auth.Set(cfg.Access)
	c.Ratio.SetDefault(cfg.DefaultFeedRatio())
	return nil
}

// Close releases the database. Timers and workers must already be stopped.
func (c *Core) Close() error {
	if c == nil {
		return nil
	}
	return c.Store.Close()
}

// StopWorkers halts timers before the engine so no fire lands on a closed queue.
func (c *Core) StopWorkers(ctx context.Context) {
	c.Scheduler.Stop(ctx)
	c.Engine.Stop(ctx)
}

func withStepTimeout(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	if max <= 0 {
		return ctx, func() {}
	}
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	return context.WithTimeout(ctx, max)
}
