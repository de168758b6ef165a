package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "feedbot/pkg/logx"
)

func startEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestEnqueueRunsOnceAndRecordsHistory(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1})
	var runs atomic.Int32
	require.NoError(t, s.Enqueue(Task{Name: "feed:1", Run: func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("device offline")
	}}))

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 1 }, 2*time.Second, 5*time.Millisecond)
	h := s.Snapshot().History[0]
	require.Equal(t, "feed:1", h.Name)
	require.Equal(t, "device offline", h.Error)
	// No retry.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), runs.Load())
}

func TestOverlapSkipSameKeyConcurrentDifferentKeys(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 2})
	release := make(chan struct{})
	var started atomic.Int32
	block := func(ctx context.Context) error {
		started.Add(1)
		<-release
		return nil
	}

	require.NoError(t, s.Enqueue(Task{Name: "feed:1", Run: block}))
	require.ErrorIs(t, s.Enqueue(Task{Name: "feed:1", Run: block}), ErrOverlapSkip)
	require.NoError(t, s.Enqueue(Task{Name: "feed:2", Run: block}))

	require.Eventually(t, func() bool { return started.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	require.True(t, s.Running("feed:1"))
	close(release)
	require.Eventually(t, func() bool { return !s.Running("feed:1") && !s.Running("feed:2") }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, s.Enqueue(Task{Name: "feed:1", Run: func(context.Context) error { return nil }}))
}

func TestTimeoutAndPanicAreContained(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, DefaultTimeout: 20 * time.Millisecond})
	require.NoError(t, s.Enqueue(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	require.NoError(t, s.Enqueue(Task{Name: "bad", Run: func(context.Context) error { panic("boom") }}))

	require.Eventually(t, func() bool { return len(s.Snapshot().History) == 2 }, 2*time.Second, 5*time.Millisecond)
	h := s.Snapshot().History
	require.Contains(t, h[0].Error, "deadline exceeded")
	require.Contains(t, h[1].Error, "panic: boom")
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1, QueueSize: 1})
	release := make(chan struct{})
	defer close(release)
	wait := func(context.Context) error { <-release; return nil }

	require.NoError(t, s.Enqueue(Task{Name: "a", Run: wait}))
	require.Eventually(t, func() bool { return s.Snapshot().InFlight == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Enqueue(Task{Name: "b", Run: wait}))
	require.ErrorIs(t, s.Enqueue(Task{Name: "c", Run: wait}), ErrQueueFull)
	require.Equal(t, uint64(1), s.Snapshot().Dropped)
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()
	off := New(Config{}, logx.Nop(), nil)
	require.ErrorIs(t, off.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrDisabled)

	on := New(Config{Enabled: true}, logx.Nop(), nil)
	require.ErrorIs(t, on.Enqueue(Task{Name: "x", Run: func(context.Context) error { return nil }}), ErrStopped)
}
