package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbot/internal/feeding"
	"feedbot/internal/task/engine"
	logx "feedbot/pkg/logx"
)

type recordingExec struct {
	mu    sync.Mutex
	tasks []engine.Task
	err   error
	ch    chan engine.Task
}

func (r *recordingExec) Enqueue(t engine.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.tasks = append(r.tasks, t)
	if r.ch != nil {
		select {
		case r.ch <- t:
		default:
		}
	}
	return nil
}

func (r *recordingExec) Tasks() []engine.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Task(nil), r.tasks...)
}

func tod(h, m int) feeding.TimeOfDay { return feeding.TimeOfDay{Hour: h, Minute: m} }

func newService(t *testing.T, exec Executor, fire FireFunc) *Service {
	t.Helper()
	s := New(Config{Enabled: true, Timezone: "UTC", FireTimeout: time.Second}, exec, fire, logx.Nop())
	t.Cleanup(func() { s.Stop(context.Background()) })
	return s
}

func TestUpsertReplacesAndRemoveIsIdempotent(t *testing.T) {
	s := newService(t, &recordingExec{}, func(context.Context, int64) error { return nil })
	s.Start(context.Background())

	require.NoError(t, s.Upsert(2, tod(18, 0)))
	require.NoError(t, s.Upsert(1, tod(8, 0)))
	require.NoError(t, s.Upsert(3, tod(8, 0)))
	require.NoError(t, s.Upsert(1, tod(8, 0)))

	jobs := s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, []int64{1, 3, 2}, []int64{jobs[0].ScheduleID, jobs[1].ScheduleID, jobs[2].ScheduleID})
	assert.Equal(t, "0 8 * * *", jobs[0].Spec)
	assert.False(t, jobs[0].Next.IsZero())

	require.NoError(t, s.Upsert(2, tod(19, 30)))
	jobs = s.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, tod(19, 30), jobs[2].At)
	assert.Equal(t, "30 19 * * *", jobs[2].Spec)

	assert.True(t, s.Remove(3))
	assert.False(t, s.Remove(3))
	assert.False(t, s.Remove(99))
	assert.Len(t, s.Jobs(), 2)
}

func TestUpsertValidation(t *testing.T) {
	s := newService(t, &recordingExec{}, nil)
	assert.ErrorIs(t, s.Upsert(0, tod(8, 0)), feeding.ErrValidation)
	assert.ErrorIs(t, s.Upsert(1, tod(24, 0)), feeding.ErrValidation)
	assert.Empty(t, s.Jobs())
}

func TestTriggerUsesFirePath(t *testing.T) {
	exec := &recordingExec{}
	var got []int64
	s := newService(t, exec, func(_ context.Context, id int64) error {
		got = append(got, id)
		return nil
	})

	assert.ErrorIs(t, s.Trigger(7), ErrNotScheduled)
	require.NoError(t, s.Upsert(7, tod(6, 15)))
	require.NoError(t, s.Trigger(7))

	tasks := exec.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "feed:7", tasks[0].Name)
	assert.Equal(t, engine.OverlapSkipIfRunning, tasks[0].Overlap)
	assert.Equal(t, time.Second, tasks[0].Timeout)
	require.NoError(t, tasks[0].Run(context.Background()))
	assert.Equal(t, []int64{7}, got)
}

func TestDeleteNeverFiredTimer(t *testing.T) {
	exec := &recordingExec{}
	s := newService(t, exec, func(context.Context, int64) error { return nil })
	s.Start(context.Background())

	require.NoError(t, s.Upsert(4, tod(23, 59)))
	assert.True(t, s.Has(4))
	assert.True(t, s.Remove(4))
	assert.False(t, s.Has(4))
	assert.ErrorIs(t, s.Trigger(4), ErrNotScheduled)
	assert.Empty(t, exec.Tasks())
}

func TestNextRunInSchedulerZone(t *testing.T) {
	s := newService(t, &recordingExec{}, nil)
	require.NoError(t, s.Upsert(1, tod(8, 0)))

	from := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	next, ok := s.NextRun(1, from)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), next.UTC())

	next, ok = s.NextRun(1, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), next.UTC())

	_, ok = s.NextRun(2, from)
	assert.False(t, ok)
}

func TestDefinitionsInstalledOnStart(t *testing.T) {
	s := newService(t, &recordingExec{}, nil)
	require.NoError(t, s.Upsert(1, tod(8, 0)))
	require.NoError(t, s.AddInterval("resync", time.Hour, time.Minute, func(context.Context) error { return nil }))

	snap := s.Snapshot()
	assert.False(t, snap.Running)
	require.Len(t, snap.Jobs, 1)

	s.Start(context.Background())
	snap = s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "UTC", snap.Timezone)
	require.Len(t, snap.Jobs, 1)
	require.Len(t, snap.Intervals, 1)
	assert.Equal(t, "resync", snap.Intervals[0].Name)
	assert.False(t, snap.Intervals[0].Next.IsZero())

	s.Stop(context.Background())
	assert.False(t, s.Snapshot().Running)
	assert.Len(t, s.Jobs(), 1)
}

func TestApplyTimezoneReregisters(t *testing.T) {
	s := newService(t, &recordingExec{}, nil)
	s.Start(context.Background())
	require.NoError(t, s.Upsert(1, tod(8, 0)))

	s.Apply(Config{Enabled: true, Timezone: "Asia/Jakarta"})
	snap := s.Snapshot()
	assert.True(t, snap.Running)
	assert.Equal(t, "Asia/Jakarta", snap.Timezone)
	require.Len(t, snap.Jobs, 1)

	next, ok := s.NextRun(1, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.True(t, ok)
	// 08:00 WIB is 01:00 UTC.
	assert.Equal(t, time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC), next.UTC())

	s.Apply(Config{Enabled: false, Timezone: "Asia/Jakarta"})
	assert.False(t, s.Snapshot().Running)
	s.Apply(Config{Enabled: true, Timezone: "Asia/Jakarta"})
	assert.True(t, s.Snapshot().Running)
}

func TestDisabledStartDoesNotRun(t *testing.T) {
	s := New(Config{Enabled: false}, &recordingExec{}, nil, logx.Nop())
	s.Start(context.Background())
	assert.False(t, s.Snapshot().Running)
	s.Stop(context.Background())
}

func TestAddIntervalFiresThroughExecutor(t *testing.T) {
	exec := &recordingExec{ch: make(chan engine.Task, 1)}
	s := newService(t, exec, nil)

	assert.Error(t, s.AddInterval("", time.Second, 0, func(context.Context) error { return nil }))
	assert.Error(t, s.AddInterval("x", 0, 0, func(context.Context) error { return nil }))
	assert.Error(t, s.AddInterval("x", time.Second, 0, nil))

	require.NoError(t, s.AddInterval("tick", 10*time.Millisecond, time.Second, func(context.Context) error { return nil }))
	s.Start(context.Background())

	select {
	case task := <-exec.ch:
		assert.Equal(t, "tick", task.Name)
	case <-time.After(3 * time.Second):
		t.Fatal("interval did not fire")
	}
	assert.True(t, s.RemoveInterval("tick"))
	assert.False(t, s.RemoveInterval("tick"))
}
