package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbot/internal/device"
	"feedbot/internal/dispense"
	"feedbot/internal/eventbus"
	"feedbot/internal/feeding"
	"feedbot/internal/ledger"
	"feedbot/internal/schedules"
	"feedbot/internal/storage"
	"feedbot/internal/task/engine"
	"feedbot/internal/task/scheduler"
	logx "feedbot/pkg/logx"
)

// syncExec runs fired tasks inline.
type syncExec struct{ lastErr error }

func (e *syncExec) Enqueue(t engine.Task) error {
	e.lastErr = t.Run(context.Background())
	return nil
}

type fixture struct {
	db       *storage.Store
	store    *schedules.Store
	sched    *scheduler.Service
	rec      *Reconciler
	ledger   *ledger.Ledger
	gwCalls  *atomic.Int32
	exec     *syncExec
	resynced <-chan eventbus.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "r.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := schedules.New(db, logx.Nop())
	l, err := ledger.New(ctx, db, logx.Nop())
	require.NoError(t, err)

	calls := &atomic.Int32{}
	gw := device.GatewayFunc(func(context.Context, int) (bool, string, error) {
		calls.Add(1)
		return true, "", nil
	})
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	t.Cleanup(unsub)

	pipe := dispense.New(gw, l, store, bus, logx.Nop())
	exec := &syncExec{}
	sched := scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, exec, pipe.RunScheduled, logx.Nop())
	sched.Start(ctx)
	t.Cleanup(func() { sched.Stop(context.Background()) })

	return &fixture{
		db:       db,
		store:    store,
		sched:    sched,
		rec:      New(store, sched, bus, logx.Nop()),
		ledger:   l,
		gwCalls:  calls,
		exec:     exec,
		resynced: events,
	}
}

func at(h, m int) feeding.TimeOfDay { return feeding.TimeOfDay{Hour: h, Minute: m} }

// requireInSync asserts the live timer set equals the active schedule set.
func (f *fixture) requireInSync(t *testing.T) {
	t.Helper()
	active, err := f.store.ListActive(context.Background())
	require.NoError(t, err)
	want := map[int64]feeding.TimeOfDay{}
	for _, s := range active {
		want[s.ID] = s.At
	}
	got := map[int64]feeding.TimeOfDay{}
	for _, j := range f.sched.Jobs() {
		_, dup := got[j.ScheduleID]
		require.False(t, dup, "duplicate timer for %d", j.ScheduleID)
		got[j.ScheduleID] = j.At
	}
	require.Equal(t, want, got)
}

func (f *fixture) create(t *testing.T, name string, when feeding.TimeOfDay, owner int64) feeding.Schedule {
	t.Helper()
	s, err := f.store.Create(context.Background(), feeding.NewSchedule{Name: name, At: when, AmountGrams: 40, OwnerID: owner})
	require.NoError(t, err)
	require.NoError(t, f.rec.Sync(context.Background(), s.ID))
	return s
}

func TestTimerSetTracksActiveSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.create(t, "breakfast", at(8, 0), 1)
	b := f.create(t, "dinner", at(18, 30), 1)
	c := f.create(t, "snack", at(12, 0), 2)
	f.requireInSync(t)

	s, err := f.store.Toggle(ctx, b.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.rec.Sync(ctx, s.ID))
	f.requireInSync(t)

	newAt := at(9, 15)
	before, after, err := f.store.Update(ctx, a.ID, 1, feeding.ScheduleEdit{At: &newAt})
	require.NoError(t, err)
	require.NoError(t, f.rec.Sync(ctx, after.ID))
	f.requireInSync(t)
	next, ok := f.sched.NextRun(a.ID, before.CreatedAt)
	require.True(t, ok)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 15, next.Minute())

	_, err = f.store.Delete(ctx, c.ID, 2)
	require.NoError(t, err)
	require.NoError(t, f.rec.Sync(ctx, c.ID))
	f.requireInSync(t)

	// editing an inactive schedule keeps it without a timer
	amount := 60
	before, after, err = f.store.Update(ctx, b.ID, 1, feeding.ScheduleEdit{AmountGrams: &amount})
	require.NoError(t, err)
	require.NoError(t, f.rec.Sync(ctx, after.ID))
	f.requireInSync(t)
}

func TestStartupAndResyncAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, when := range []feeding.TimeOfDay{at(7, 0), at(12, 0), at(19, 0)} {
		s, err := f.store.Create(ctx, feeding.NewSchedule{Name: "s", At: when, AmountGrams: 30 + i, OwnerID: 1})
		require.NoError(t, err)
		if i == 1 {
			_, err = f.store.SetActive(ctx, s.ID, 1, false)
			require.NoError(t, err)
		}
	}

	require.NoError(t, f.rec.Startup(ctx))
	require.NoError(t, f.rec.Startup(ctx))
	f.requireInSync(t)
	assert.Len(t, f.sched.Jobs(), 2)

	for range 3 {
		res, err := f.rec.ResyncAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, ResyncResult{Installed: 2, Removed: 1}, res)
		f.requireInSync(t)
	}
	e := <-f.resynced
	assert.Equal(t, eventbus.TypeSchedulesResynced, e.Type)
}

func TestToggleAtEightScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.create(t, "morning", at(8, 0), 5)
	jobs := f.sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "0 8 * * *", jobs[0].Spec)

	off, err := f.store.Toggle(ctx, s.ID, 5)
	require.NoError(t, err)
	require.False(t, off.Active)
	require.NoError(t, f.rec.Sync(ctx, off.ID))
	assert.Empty(t, f.sched.Jobs())
	assert.ErrorIs(t, f.sched.Trigger(s.ID), scheduler.ErrNotScheduled)

	on, err := f.store.Toggle(ctx, s.ID, 5)
	require.NoError(t, err)
	require.True(t, on.Active)
	require.NoError(t, f.rec.Sync(ctx, on.ID))
	jobs = f.sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, at(8, 0), jobs[0].At)

	// someone else cannot toggle it off
	_, err = f.store.Toggle(ctx, s.ID, 6)
	require.ErrorIs(t, err, feeding.ErrUnauthorized)
	f.requireInSync(t)
}

func TestDeleteRemovesNeverFiredTimer(t *testing.T) {
	f := newFixture(t)
	s := f.create(t, "late", at(23, 59), 1)
	require.True(t, f.sched.Has(s.ID))

	_, err := f.store.Delete(context.Background(), s.ID, 1)
	require.NoError(t, err)
	require.NoError(t, f.rec.Sync(context.Background(), s.ID))
	require.NoError(t, f.rec.Sync(context.Background(), s.ID))
	assert.False(t, f.sched.Has(s.ID))
	assert.Zero(t, f.gwCalls.Load())
}

func TestDeletedBeforeFireIsSkippedAndPruned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "gone", at(6, 0), 1)

	// deleted behind the reconciler's back
	_, err := f.store.Delete(ctx, s.ID, 1)
	require.NoError(t, err)

	require.NoError(t, f.sched.Trigger(s.ID))
	require.NoError(t, f.exec.lastErr)
	assert.Zero(t, f.gwCalls.Load())
	recs, err := f.ledger.Recent(ctx, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, recs)

	res, err := f.rec.ResyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pruned)
	assert.False(t, f.sched.Has(s.ID))
}

func TestScheduledFireDispensesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.create(t, "noon", at(12, 0), 3)

	require.NoError(t, f.sched.Trigger(s.ID))
	require.NoError(t, f.exec.lastErr)
	assert.Equal(t, int32(1), f.gwCalls.Load())

	recs, err := f.ledger.Recent(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, feeding.TriggerScheduled, recs[0].Trigger)
	require.NotNil(t, recs[0].ScheduleID)
	assert.Equal(t, s.ID, *recs[0].ScheduleID)
	require.NotNil(t, recs[0].UserID)
	assert.Equal(t, int64(3), *recs[0].UserID)
}

type failingTimers struct{ removed []int64 }

func (f *failingTimers) Upsert(id int64, _ feeding.TimeOfDay) error {
	if id == 2 {
		return errors.New("boom")
	}
	return nil
}

func (f *failingTimers) Remove(id int64) bool {
	f.removed = append(f.removed, id)
	return true
}

type staticStore []feeding.Schedule

func (s staticStore) ListActive(context.Context) ([]feeding.Schedule, error) {
	var out []feeding.Schedule
	for _, sc := range s {
		if sc.Active {
			out = append(out, sc)
		}
	}
	return out, nil
}

func (s staticStore) ListAll(context.Context) ([]feeding.Schedule, error) { return s, nil }

func (s staticStore) Get(_ context.Context, id int64) (feeding.Schedule, error) {
	for _, sc := range s {
		if sc.ID == id {
			return sc, nil
		}
	}
	return feeding.Schedule{}, feeding.ErrNotFound
}

func TestStartupContinuesPastFailures(t *testing.T) {
	timers := &failingTimers{}
	store := staticStore{
		{ID: 1, At: at(7, 0), Active: true},
		{ID: 2, At: at(8, 0), Active: true},
		{ID: 3, At: at(9, 0), Active: false},
	}
	r := New(store, timers, nil, logx.Nop())

	err := r.Startup(context.Background())
	require.Error(t, err)

	res, err := r.ResyncAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, res.Installed)
	assert.Equal(t, 1, res.Removed)
	sort.Slice(timers.removed, func(a, b int) bool { return timers.removed[a] < timers.removed[b] })
	assert.Equal(t, []int64{3}, timers.removed)
}
