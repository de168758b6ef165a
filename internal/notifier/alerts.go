package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"feedbot/internal/eventbus"
	"feedbot/internal/task/engine"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

// Alerts turns failure events from the bus into notifications for one chat.
type Alerts struct {
	n      *Service
	bus    eventbus.Bus
	target kit.ChatTarget
	log    logx.Logger
}

func NewAlerts(n *Service, bus eventbus.Bus, target kit.ChatTarget, log logx.Logger) *Alerts {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Alerts{n: n, bus: bus, target: target, log: log}
}

// Run consumes events until ctx is done.
func (a *Alerts) Run(ctx context.Context) error {
	if a.target.ChatID == 0 {
		a.log.Info("failure alerts off: no alert chat configured")
		<-ctx.Done()
		return nil
	}
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			a.handle(ctx, e)
		}
	}
}

func (a *Alerts) handle(ctx context.Context, e eventbus.Event) {
	text, key, ok := formatAlert(e)
	if !ok {
		return
	}
	err := a.n.Notify(ctx, kit.Notification{Target: a.target, Text: text, Key: key})
	switch {
	case err == nil, errors.Is(err, ErrDisabled):
	default:
		a.log.Warn("alert not queued", logx.String("key", key), logx.Err(err))
	}
}

func formatAlert(e eventbus.Event) (text, key string, ok bool) {
	switch e.Type {
	case eventbus.TypeDispenseFailed:
		d, ok := e.Data.(eventbus.Dispense)
		if !ok {
			return "", "", false
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Feeding failed: %d g", d.AmountGrams)
		key = "dispense:" + d.Trigger
		if d.ScheduleID != nil {
			fmt.Fprintf(&b, " (schedule #%d)", *d.ScheduleID)
			key += fmt.Sprintf(":%d", *d.ScheduleID)
		} else {
			fmt.Fprintf(&b, " (%s)", d.Trigger)
		}
		if d.Error != "" {
			b.WriteString("\nReason: " + d.Error)
		}
		return b.String(), key + ":" + d.Error, true
	case eventbus.TypeTaskFailed:
		t, ok := e.Data.(engine.TaskEvent)
		if !ok {
			return "", "", false
		}
		return fmt.Sprintf("Job %s failed after %s\n%s", t.Name, t.Duration.Round(1e6), t.Error), "task:" + t.Name, true
	default:
		return "", "", false
	}
}
