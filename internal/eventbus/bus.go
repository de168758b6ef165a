// Package eventbus is an in-memory fanout used to decouple the dispense
// pipeline from its observers (alerts, metrics).
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"feedbot/internal/metrics"
)

// Event types published on the bus.
const (
	TypeDispenseCompleted = "dispense.completed"
	TypeDispenseFailed    = "dispense.failed"
	TypeSchedulesResynced = "schedules.resynced"
	TypeTaskFailed        = "task.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Dispense is the payload of dispense.completed and dispense.failed.
type Dispense struct {
	RecordID    string
	AmountGrams int
	Trigger     string
	ScheduleID  *int64
	UserID      *int64
	Error       string
}

// Bus delivers each event to every current subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	b := &memBus{}
	b.subs.Store(&[]*subscriber{})
	return b
}

type subscriber struct {
	ch chan Event
	// guards sends against close in unsubscribe
	mu     sync.RWMutex
	closed bool
}

func (s *subscriber) offer(e Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return true
	}
	select {
	case s.ch <- e:
		return true
	default:
		return false
	}
}

// memBus publishes from a copy-on-write subscriber list.
type memBus struct {
	mu   sync.Mutex // serializes writers of subs
	subs atomic.Pointer[[]*subscriber]
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	for _, s := range *b.subs.Load() {
		if !s.offer(e) {
			metrics.EventsDropped.WithLabelValues(e.Type).Inc()
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	next := append(slices.Clone(*b.subs.Load()), s)
	b.subs.Store(&next)
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() { once.Do(func() { b.remove(s) }) }
}

func (b *memBus) remove(s *subscriber) {
	b.mu.Lock()
	next := slices.DeleteFunc(slices.Clone(*b.subs.Load()), func(x *subscriber) bool { return x == s })
	b.subs.Store(&next)
	b.mu.Unlock()

	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
