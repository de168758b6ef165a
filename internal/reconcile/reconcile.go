// Package reconcile keeps the scheduler's timer set equal to the set of
// active schedules in the store.
//
// Decisions are derived from the store only, re-read under a per-id lock.
// The reconciler remembers which ids it installed so a full resync can drop
// timers whose schedule vanished (for example, deleted by the CLI from
// another process).
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"feedbot/internal/eventbus"
	"feedbot/internal/feeding"
	"feedbot/internal/metrics"
	logx "feedbot/pkg/logx"
)

// ResyncJobName is the maintenance interval name for ResyncAll.
const ResyncJobName = "schedules:resync"

type Store interface {
	Get(ctx context.Context, id int64) (feeding.Schedule, error)
	ListActive(ctx context.Context) ([]feeding.Schedule, error)
	ListAll(ctx context.Context) ([]feeding.Schedule, error)
}

type Timers interface {
	Upsert(scheduleID int64, at feeding.TimeOfDay) error
	Remove(scheduleID int64) bool
}

// ResyncResult counts what a full pass touched.
type ResyncResult struct {
	Installed int
	Removed   int
	Pruned    int
}

type action int

const (
	installed action = iota
	removed
	pruned
)

// lockStripes bounds the per-id locks; ids sharing a stripe serialize.
const lockStripes = 64

type Reconciler struct {
	store  Store
	timers Timers
	bus    eventbus.Bus
	log    logx.Logger

	stripes [lockStripes]sync.Mutex

	mu        sync.Mutex
	installed map[int64]struct{}
}

func New(store Store, timers Timers, bus eventbus.Bus, log logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Reconciler{
		store:     store,
		timers:    timers,
		bus:       bus,
		log:       log,
		installed: map[int64]struct{}{},
	}
}

// Startup installs a timer for every active schedule. A schedule whose
// timer cannot be installed is logged and the rest continue.
func (r *Reconciler) Startup(ctx context.Context) error {
	active, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active schedules: %w", err)
	}
	var errs []error
	for _, s := range active {
		if _, err := r.sync(ctx, s.ID); err != nil {
			errs = append(errs, err)
		}
	}
	r.log.Info("timers restored", logx.Int("active", len(active)), logx.Int("failed", len(errs)))
	return errors.Join(errs...)
}

// Sync makes the timer of schedule id match the store as it is now: active
// schedules get a timer, inactive or missing ones lose it. Calls for the
// same id are serialized and each one re-reads the store, so the last
// committed state wins regardless of which caller finishes first.
func (r *Reconciler) Sync(ctx context.Context, id int64) error {
	_, err := r.sync(ctx, id)
	return err
}

func (r *Reconciler) sync(ctx context.Context, id int64) (action, error) {
	mu := &r.stripes[uint64(id)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	s, err := r.store.Get(ctx, id)
	switch {
	case errors.Is(err, feeding.ErrNotFound):
		r.remove(id)
		return pruned, nil
	case err != nil:
		return installed, fmt.Errorf("load schedule %d: %w", id, err)
	case s.Active:
		return installed, r.upsert(s)
	default:
		r.remove(id)
		return removed, nil
	}
}

// ResyncAll syncs every stored schedule and every id this reconciler
// installed a timer for, which drops timers of schedules deleted elsewhere.
func (r *Reconciler) ResyncAll(ctx context.Context) (ResyncResult, error) {
	start := time.Now()
	all, err := r.store.ListAll(ctx)
	if err != nil {
		metrics.ResyncTotal.WithLabelValues("error").Inc()
		return ResyncResult{}, fmt.Errorf("list schedules: %w", err)
	}

	ids := make([]int64, 0, len(all))
	seen := make(map[int64]struct{}, len(all))
	for _, s := range all {
		ids = append(ids, s.ID)
		seen[s.ID] = struct{}{}
	}
	r.mu.Lock()
	for id := range r.installed {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	var res ResyncResult
	var errs []error
	for _, id := range ids {
		act, err := r.sync(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		switch act {
		case installed:
			res.Installed++
		case removed:
			res.Removed++
		case pruned:
			res.Pruned++
		}
	}

	err = errors.Join(errs...)
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ResyncTotal.WithLabelValues(result).Inc()
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeSchedulesResynced, Data: res})
	r.log.Debug("schedules resynced",
		logx.Int("installed", res.Installed),
		logx.Int("removed", res.Removed),
		logx.Int("pruned", res.Pruned),
		logx.Duration("took", time.Since(start)),
	)
	return res, err
}

// Job adapts ResyncAll to a scheduler interval.
func (r *Reconciler) Job(ctx context.Context) error {
	_, err := r.ResyncAll(ctx)
	return err
}

func (r *Reconciler) upsert(s feeding.Schedule) error {
	if err := r.timers.Upsert(s.ID, s.At); err != nil {
		r.log.Warn("timer install failed", logx.Int64("schedule_id", s.ID), logx.String("at", s.At.String()), logx.Err(err))
		return fmt.Errorf("install timer %d: %w", s.ID, err)
	}
	r.mu.Lock()
	r.installed[s.ID] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *Reconciler) remove(id int64) {
	r.timers.Remove(id)
	r.mu.Lock()
	delete(r.installed, id)
	r.mu.Unlock()
}
