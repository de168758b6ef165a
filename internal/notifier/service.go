package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedbot/internal/metrics"
	rtsup "feedbot/internal/runtime/supervisor"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	sendTimeout = 10 * time.Second
	historySize = 100
)

type outgoing struct {
	n   kit.Notification
	key string
}

// Service delivers alerts from a bounded queue through one rate-limited
// worker. Safe for concurrent use.
type Service struct {
	mu        sync.Mutex
	cfg       Config
	sender    Sender
	limiter   *rate.Limiter
	queue     chan outgoing
	sup       *rtsup.Supervisor
	accepting bool
	inflight  sync.WaitGroup
	draining  chan struct{}

	log    logx.Logger
	recent *suppressor
	now    func() time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		sender: sender,
		log:    log,
		recent: newSuppressor(cfg.DedupMaxEntries),
		now:    time.Now,
	}
	s.setConfig(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A new queue size is used from the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.setConfig(cfg)
	s.mu.Unlock()
	s.recent.resize(cfg.DedupMaxEntries)
}

func (s *Service) setConfig(cfg Config) {
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetSender replaces the transport, e.g. after the Telegram adapter restarts.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// Start launches the worker. It waits for a pending Stop to finish first.
func (s *Service) Start(ctx context.Context) {
	if !s.awaitDrain(ctx) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}

	q := make(chan outgoing, s.cfg.QueueSize)
	s.queue, s.accepting = q, true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	s.sup.GoRestart("worker", func(c context.Context) error {
		s.deliver(c, q)
		return c.Err()
	}, rtsup.WithPublishFirstError(true))
}

func (s *Service) awaitDrain(ctx context.Context) bool {
	s.mu.Lock()
	done := s.draining
	s.mu.Unlock()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// Stop refuses new alerts and drains the queue until ctx expires, then
// cancels the worker.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return
	}
	if s.draining != nil {
		done := s.draining
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	q, sup := s.queue, s.sup
	done := make(chan struct{})
	s.draining, s.accepting = done, false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.inflight.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		s.mu.Lock()
		s.queue, s.sup, s.draining = nil, nil, nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify queues an alert. An alert whose key was queued within the dedup
// window is dropped without error.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	switch {
	case !s.cfg.Enabled:
		s.mu.Unlock()
		return ErrDisabled
	case !s.accepting:
		s.mu.Unlock()
		return ErrStopped
	}
	q, window := s.queue, s.cfg.DedupWindow
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	key := alertKey(n)
	if window > 0 && !s.recent.admit(key, s.now(), window) {
		metrics.NotificationsTotal.WithLabelValues("deduped").Inc()
		s.log.Debug("alert deduplicated", logx.String("key", key))
		return nil
	}
	select {
	case q <- outgoing{n: n, key: key}:
		return nil
	default:
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		return ErrQueueFull
	}
}

// History returns the last attempted alerts, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Service) record(it HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	if len(s.history) == historySize {
		copy(s.history, s.history[1:])
		s.history = s.history[:historySize-1]
	}
	s.history = append(s.history, it)
}

func (s *Service) deliver(ctx context.Context, q <-chan outgoing) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-q:
			if !ok {
				return
			}
			s.sendOne(ctx, o)
		}
	}
}

func (s *Service) sendOne(ctx context.Context, o outgoing) {
	s.mu.Lock()
	lim, sender := s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil || o.n.Text == "" {
		return
	}
	if lim.Wait(ctx) != nil {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	_, err := sender.SendText(callCtx, o.n.Target, o.n.Text, o.n.Options)
	cancel()

	it := HistoryItem{At: s.now(), Key: o.key, Text: o.n.Text}
	outcome := "sent"
	if err != nil {
		it.Error = err.Error()
		outcome = "failed"
		s.log.Warn("alert send failed", logx.String("key", o.key), logx.Err(err))
	}
	metrics.NotificationsTotal.WithLabelValues(outcome).Inc()
	s.record(it)
}
