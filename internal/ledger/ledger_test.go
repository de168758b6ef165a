package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"feedbot/internal/feeding"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(context.Background(), storage.Config{Path: filepath.Join(t.TempDir(), "l.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAppendAssignsMonotonicTimestamps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	frozen := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	l, err := New(ctx, openStore(t), logx.Nop(), WithClock(func() time.Time { return frozen }))
	require.NoError(t, err)

	var prev feeding.DispenseRecord
	for i := range 5 {
		rec, err := l.Append(ctx, Entry{AmountGrams: 40, Trigger: feeding.TriggerManual, Outcome: feeding.OutcomeSuccess})
		require.NoError(t, err)
		if i > 0 {
			require.True(t, rec.Timestamp.After(prev.Timestamp), "timestamps must strictly increase")
			require.Greater(t, rec.ID, prev.ID, "ids sort with timestamps")
		}
		prev = rec
	}
}

func TestAppendSurvivesRestartOrdering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := openStore(t)
	later := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l1, err := New(ctx, db, logx.Nop(), WithClock(func() time.Time { return later }))
	require.NoError(t, err)
	first, err := l1.Append(ctx, Entry{AmountGrams: 40, Trigger: feeding.TriggerManual, Outcome: feeding.OutcomeSuccess})
	require.NoError(t, err)

	// Clock went backwards across the restart.
	l2, err := New(ctx, db, logx.Nop(), WithClock(func() time.Time { return later.Add(-time.Hour) }))
	require.NoError(t, err)
	second, err := l2.Append(ctx, Entry{AmountGrams: 40, Trigger: feeding.TriggerManual, Outcome: feeding.OutcomeSuccess})
	require.NoError(t, err)
	require.True(t, second.Timestamp.After(first.Timestamp))
}

func TestAppendConcurrentWritesAreOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := New(ctx, openStore(t), logx.Nop())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, Entry{AmountGrams: 30, Trigger: feeding.TriggerManual, Outcome: feeding.OutcomeSuccess})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	recs, err := l.Recent(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, recs, 20)
	for i := 1; i < len(recs); i++ {
		require.True(t, recs[i-1].Timestamp.After(recs[i].Timestamp))
	}
}

func TestAppendValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	l, err := New(ctx, openStore(t), logx.Nop())
	require.NoError(t, err)

	_, err = l.Append(ctx, Entry{AmountGrams: 40, Trigger: feeding.TriggerScheduled, Outcome: feeding.OutcomeSuccess})
	require.ErrorIs(t, err, feeding.ErrValidation)
	_, err = l.Append(ctx, Entry{AmountGrams: 40, Trigger: "timer", Outcome: feeding.OutcomeSuccess})
	require.ErrorIs(t, err, feeding.ErrValidation)
	_, err = l.Append(ctx, Entry{AmountGrams: 40, Trigger: feeding.TriggerManual, Outcome: "maybe"})
	require.ErrorIs(t, err, feeding.ErrValidation)
}

func TestStatsCountSuccessGramsOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l, err := New(ctx, openStore(t), logx.Nop(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	sid := feeding.Int64Ptr(3)
	for _, e := range []Entry{
		{AmountGrams: 40, Trigger: feeding.TriggerManual, Outcome: feeding.OutcomeSuccess, UserID: feeding.Int64Ptr(1)},
		{AmountGrams: 30, Trigger: feeding.TriggerScheduled, ScheduleID: sid, Outcome: feeding.OutcomeFailure, Error: "no response"},
		{AmountGrams: 25, Trigger: feeding.TriggerScheduled, ScheduleID: sid, Outcome: feeding.OutcomeSuccess},
	} {
		_, err := l.Append(ctx, e)
		require.NoError(t, err)
	}

	st, err := l.StatsSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, feeding.Stats{TotalGrams: 65, SuccessCount: 2, FailureCount: 1}, st)

	st, err = l.StatsSince(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, feeding.Stats{}, st)
}

type failingRepo struct {
	*storage.Store
	err error
}

func (f failingRepo) InsertDispense(context.Context, feeding.DispenseRecord) error { return f.err }
func (f failingRepo) LastDispenseTime(context.Context) (time.Time, error)          { return time.Time{}, nil }

func TestAppendSurfacesPersistenceErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	perr := feeding.Persistence("insert dispense", errors.New("disk full"))
	l, err := New(ctx, failingRepo{err: perr}, logx.Nop())
	require.NoError(t, err)

	_, err = l.Append(ctx, Entry{AmountGrams: 40, Trigger: feeding.TriggerManual, Outcome: feeding.OutcomeSuccess})
	require.ErrorIs(t, err, feeding.ErrPersistence)
}
