package feeder

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbot/internal/config"
	"feedbot/internal/device"
	"feedbot/internal/dispense"
	"feedbot/internal/feeding"
	"feedbot/internal/feedratio"
	"feedbot/internal/ledger"
	"feedbot/internal/reconcile"
	"feedbot/internal/schedules"
	"feedbot/internal/storage"
	"feedbot/internal/task/engine"
	"feedbot/internal/task/scheduler"
	logx "feedbot/pkg/logx"
)

type nopExec struct{}

func (nopExec) Enqueue(engine.Task) error { return nil }

type counterFunc func(ctx context.Context, image io.Reader, filename string) (int, error)

func (f counterFunc) Count(ctx context.Context, image io.Reader, filename string) (int, error) {
	return f(ctx, image, filename)
}

type fixture struct {
	svc   *Service
	sched *scheduler.Service
	dev   *device.Simulated
	now   time.Time
}

func newFixture(t *testing.T, counter counterFunc) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "feeder.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	f := &fixture{now: time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	store := schedules.New(db, logx.Nop())
	l, err := ledger.New(ctx, db, logx.Nop(), ledger.WithClock(clock))
	require.NoError(t, err)
	f.dev = device.NewSimulated("", logx.Nop())
	pipe := dispense.New(f.dev, l, store, nil, logx.Nop())
	f.sched = scheduler.New(scheduler.Config{Enabled: true, Timezone: "UTC"}, nopExec{}, pipe.RunScheduled, logx.Nop())
	auth := NewAuthorizer(config.AccessConfig{AdminUserIDs: []int64{1}, UserIDs: []int64{2}})
	loc := func() *time.Location { return time.UTC }
	ratio := feedratio.NewRatioStore(db, auth, feeding.FeedRatio{Pellets: 50, Grams: 10}, logx.Nop())

	d := Deps{
		Schedules:  store,
		Reconciler: reconcile.New(store, f.sched, nil, logx.Nop()),
		Pipeline:   pipe,
		Ledger:     l,
		Converter:  feedratio.NewConverter(store, ratio, logx.Nop(), feedratio.WithClock(clock), feedratio.WithLocation(loc)),
		Ratio:      ratio,
		Auth:       auth,
		Location:   loc,
		Now:        clock,
	}
	if counter != nil {
		d.Counter = counter
	}
	f.svc = New(d, logx.Nop())
	return f
}

func TestScheduleLifecycleDrivesTimers(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sc, err := f.svc.CreateSchedule(ctx, feeding.NewSchedule{Name: "am", At: feeding.TimeOfDay{Hour: 8}, AmountGrams: 40, OwnerID: 2})
	require.NoError(t, err)
	assert.True(t, f.sched.Has(sc.ID))

	_, err = f.svc.CreateSchedule(ctx, feeding.NewSchedule{Name: "x", At: feeding.TimeOfDay{Hour: 8}, AmountGrams: 40, OwnerID: 3})
	require.ErrorIs(t, err, feeding.ErrUnauthorized)

	_, err = f.svc.CreateSchedule(ctx, feeding.NewSchedule{Name: "x", At: feeding.TimeOfDay{Hour: 8}, AmountGrams: 500, OwnerID: 2})
	require.ErrorIs(t, err, feeding.ErrInvalidAmount)

	off, err := f.svc.ToggleSchedule(ctx, sc.ID, 2)
	require.NoError(t, err)
	assert.False(t, off.Active)
	assert.False(t, f.sched.Has(sc.ID))

	on, err := f.svc.SetScheduleActive(ctx, sc.ID, 2, true)
	require.NoError(t, err)
	assert.True(t, on.Active)

	at := feeding.TimeOfDay{Hour: 10, Minute: 30}
	edited, err := f.svc.EditSchedule(ctx, sc.ID, 2, feeding.ScheduleEdit{At: &at})
	require.NoError(t, err)
	assert.Equal(t, at, edited.At)
	jobs := f.sched.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, at, jobs[0].At)

	_, err = f.svc.DeleteSchedule(ctx, sc.ID, 1)
	require.ErrorIs(t, err, feeding.ErrUnauthorized)
	_, err = f.svc.DeleteSchedule(ctx, sc.ID, 2)
	require.NoError(t, err)
	assert.Empty(t, f.sched.Jobs())
}

func TestManualDispenseAndDashboard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// eight days ago: outside the week window
	f.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := f.svc.ManualDispense(ctx, 100, 2)
	require.NoError(t, err)

	// three days ago: week only
	f.now = time.Date(2026, 6, 7, 12, 0, 0, 0, time.UTC)
	_, err = f.svc.ManualDispense(ctx, 50, 2)
	require.NoError(t, err)

	f.now = time.Date(2026, 6, 10, 7, 0, 0, 0, time.UTC)
	res, err := f.svc.ManualDispense(ctx, 30, 2)
	require.NoError(t, err)
	require.True(t, res.OK())

	f.dev.SetFailMessage("jammed")
	res, err = f.svc.ManualDispense(ctx, 20, 1)
	require.NoError(t, err)
	assert.Equal(t, feeding.OutcomeFailure, res.Outcome)
	assert.Equal(t, "jammed", res.Error)

	_, err = f.svc.ManualDispense(ctx, 30, 9)
	require.ErrorIs(t, err, feeding.ErrUnauthorized)
	res, err = f.svc.ManualDispense(ctx, 5, 2)
	require.ErrorIs(t, err, feeding.ErrInvalidAmount)
	assert.Equal(t, int64(4), f.dev.Calls())

	f.now = time.Date(2026, 6, 10, 9, 0, 0, 0, time.UTC)
	dash, err := f.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, feeding.Stats{TotalGrams: 30, SuccessCount: 1, FailureCount: 1}, dash.Today)
	assert.Equal(t, int64(80), dash.Week.TotalGrams)
	assert.Equal(t, time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC), dash.WeekStart)

	page, err := f.svc.RecentLogs(ctx, 1, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, feeding.OutcomeFailure, page[0].Outcome)
	page, err = f.svc.RecentLogs(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 100, page[0].AmountGrams)
}

func TestCountAndConvert(t *testing.T) {
	var gotName string
	f := newFixture(t, func(_ context.Context, image io.Reader, filename string) (int, error) {
		gotName = filename
		b, _ := io.ReadAll(image)
		if string(b) == "bad" {
			return 0, errors.New("no pellets found")
		}
		return 25, nil
	})
	ctx := context.Background()
	_, err := f.svc.CreateSchedule(ctx, feeding.NewSchedule{Name: "pm", At: feeding.TimeOfDay{Hour: 18}, AmountGrams: 40, OwnerID: 2})
	require.NoError(t, err)

	conv, err := f.svc.CountAndConvert(ctx, strings.NewReader("img"), "bowl.jpg", 2)
	require.NoError(t, err)
	assert.Equal(t, "bowl.jpg", gotName)
	assert.Equal(t, 25, conv.PelletCount)
	assert.Equal(t, 5.0, conv.Grams)
	require.NotNil(t, conv.Remaining.Remaining)
	assert.Equal(t, 35.0, *conv.Remaining.Remaining)

	_, err = f.svc.CountAndConvert(ctx, strings.NewReader("bad"), "bowl.jpg", 2)
	require.ErrorContains(t, err, "no pellets found")

	_, err = f.svc.SetFeedRatio(ctx, 2, feeding.FeedRatio{Pellets: 10, Grams: 5})
	require.ErrorIs(t, err, feeding.ErrUnauthorized)
	_, err = f.svc.SetFeedRatio(ctx, 1, feeding.FeedRatio{Pellets: 10, Grams: 5})
	require.NoError(t, err)
	conv, err = f.svc.ConvertPelletsToGrams(ctx, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, 2.0, conv.Grams)

	_, err = f.svc.ConvertPelletsToGrams(ctx, 4, 9)
	require.ErrorIs(t, err, feeding.ErrUnauthorized)
	_, err = f.svc.CountAndConvert(ctx, strings.NewReader("img"), "bowl.jpg", 9)
	require.ErrorIs(t, err, feeding.ErrUnauthorized)
}

func TestCountAndConvertWithoutCounter(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.CountAndConvert(context.Background(), strings.NewReader("img"), "a.jpg", 2)
	require.Error(t, err)
}

// gatedTimers parks the first Remove after arming until release is closed.
type gatedTimers struct {
	reconcile.Timers
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTimers) Remove(id int64) bool {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Timers.Remove(id)
}

func TestConcurrentTogglesKeepTimerMatchingStore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	gate := &gatedTimers{Timers: f.sched, entered: make(chan struct{}), release: make(chan struct{})}
	f.svc.d.Reconciler = reconcile.New(f.svc.d.Schedules, gate, nil, logx.Nop())

	sc, err := f.svc.CreateSchedule(ctx, feeding.NewSchedule{Name: "am", At: feeding.TimeOfDay{Hour: 8}, AmountGrams: 40, OwnerID: 2})
	require.NoError(t, err)
	require.True(t, f.sched.Has(sc.ID))

	// first toggle commits "inactive" and stalls while removing the timer
	gate.armed.Store(true)
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.ToggleSchedule(ctx, sc.ID, 2)
		first <- err
	}()
	<-gate.entered

	// second toggle commits "active" while the first is still stalled
	second := make(chan error, 1)
	go func() {
		_, err := f.svc.ToggleSchedule(ctx, sc.ID, 2)
		second <- err
	}()
	require.Eventually(t, func() bool {
		cur, err := f.svc.GetSchedule(ctx, sc.ID)
		return err == nil && cur.Active
	}, 2*time.Second, 5*time.Millisecond)

	close(gate.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	cur, err := f.svc.GetSchedule(ctx, sc.ID)
	require.NoError(t, err)
	require.True(t, cur.Active)
	assert.True(t, f.sched.Has(sc.ID), "active schedule must keep its timer")
	assert.Len(t, f.sched.Jobs(), 1)
}
