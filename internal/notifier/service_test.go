package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbot/internal/eventbus"
	"feedbot/internal/feeding"
	"feedbot/internal/task/engine"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
	ch   chan string
}

func newFakeSender() *fakeSender { return &fakeSender{ch: make(chan string, 16)} }

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	err := f.err
	f.mu.Unlock()
	f.ch <- text
	return kit.MessageRef{ChatID: to.ChatID}, err
}

func (f *fakeSender) wait(t *testing.T) string {
	t.Helper()
	select {
	case s := <-f.ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("nothing sent")
		return ""
	}
}

func startService(t *testing.T, cfg Config, sender Sender) *Service {
	t.Helper()
	s := New(cfg, sender, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func TestNotifyDedupsWithinWindow(t *testing.T) {
	sender := newFakeSender()
	s := startService(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, sender)
	ctx := context.Background()
	target := kit.ChatTarget{ChatID: 10}

	require.NoError(t, s.Notify(ctx, kit.Notification{Target: target, Text: "a", Key: "k1"}))
	require.NoError(t, s.Notify(ctx, kit.Notification{Target: target, Text: "a again", Key: "k1"}))
	require.NoError(t, s.Notify(ctx, kit.Notification{Target: target, Text: "b", Key: "k2"}))

	assert.Equal(t, "a", sender.wait(t))
	assert.Equal(t, "b", sender.wait(t))
	select {
	case extra := <-sender.ch:
		t.Fatalf("unexpected send %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSuppressorWindowAndCap(t *testing.T) {
	d := newSuppressor(2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, d.admit("x", now, time.Minute))
	assert.False(t, d.admit("x", now, time.Minute))
	now = now.Add(61 * time.Second)
	assert.True(t, d.admit("x", now, time.Minute))

	assert.True(t, d.admit("y", now, time.Minute))
	assert.True(t, d.admit("z", now, time.Minute))
	assert.LessOrEqual(t, d.size(), 2)
}

func TestAlertKeyPrefersExplicitKey(t *testing.T) {
	a := kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"}
	b := kit.Notification{Target: kit.ChatTarget{ChatID: 2}, Text: "x"}
	assert.NotEqual(t, alertKey(a), alertKey(b))
	a.Key = "feed-3"
	assert.Equal(t, "feed-3", alertKey(a))
}

func TestNotifyStates(t *testing.T) {
	ctx := context.Background()
	n := kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"}

	off := New(Config{Enabled: false}, newFakeSender(), logx.Nop())
	assert.ErrorIs(t, off.Notify(ctx, n), ErrDisabled)

	notStarted := New(Config{Enabled: true}, newFakeSender(), logx.Nop())
	assert.ErrorIs(t, notStarted.Notify(ctx, n), ErrStopped)

	s := New(Config{Enabled: true}, newFakeSender(), logx.Nop())
	s.Start(ctx)
	s.Stop(ctx)
	assert.ErrorIs(t, s.Notify(ctx, n), ErrStopped)
}

func TestSendFailureRecordedOnce(t *testing.T) {
	sender := newFakeSender()
	sender.err = errors.New("telegram down")
	s := startService(t, Config{Enabled: true, RatePerSec: 100}, sender)

	require.NoError(t, s.Notify(context.Background(), kit.Notification{Target: kit.ChatTarget{ChatID: 1}, Text: "x"}))
	sender.wait(t)
	require.Eventually(t, func() bool { return len(s.History()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "telegram down", s.History()[0].Error)
	select {
	case <-sender.ch:
		t.Fatal("send was retried")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAlertsForwardFailures(t *testing.T) {
	sender := newFakeSender()
	s := startService(t, Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, sender)
	bus := eventbus.New()
	a := NewAlerts(s, bus, kit.ChatTarget{ChatID: 42}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() { cancel(); <-done })

	failed := eventbus.Event{Type: eventbus.TypeDispenseFailed, Data: eventbus.Dispense{
		AmountGrams: 40, Trigger: string(feeding.TriggerScheduled), ScheduleID: feeding.Int64Ptr(3), Error: "no response",
	}}
	// the subscription is registered asynchronously
	require.Eventually(t, func() bool {
		bus.Publish(failed)
		select {
		case text := <-sender.ch:
			assert.Contains(t, text, "schedule #3")
			assert.Contains(t, text, "no response")
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	// same failure again is deduplicated; completed dispenses are ignored
	bus.Publish(failed)
	bus.Publish(eventbus.Event{Type: eventbus.TypeDispenseCompleted, Data: eventbus.Dispense{AmountGrams: 40}})
	bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Data: engine.TaskEvent{Name: "schedules:resync", Error: "db locked"}})

	text := sender.wait(t)
	assert.Contains(t, text, "schedules:resync")
	assert.Contains(t, text, "db locked")
}

func TestFormatAlertManual(t *testing.T) {
	text, key, ok := formatAlert(eventbus.Event{Type: eventbus.TypeDispenseFailed, Data: eventbus.Dispense{AmountGrams: 25, Trigger: "manual", Error: "jammed"}})
	require.True(t, ok)
	assert.Equal(t, "Feeding failed: 25 g (manual)\nReason: jammed", text)
	assert.Equal(t, "dispense:manual:jammed", key)

	_, _, ok = formatAlert(eventbus.Event{Type: "other"})
	assert.False(t, ok)
}
