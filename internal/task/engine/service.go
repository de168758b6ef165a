// Package engine is a bounded worker pool that runs fired jobs with a
// per-run timeout and per-key overlap gating.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"feedbot/internal/eventbus"
	"feedbot/internal/metrics"
	rtsup "feedbot/internal/runtime/supervisor"
	logx "feedbot/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	gateMu sync.Mutex
	gates  map[string]*keyGate

	hmu     sync.Mutex
	history []HistoryItem

	inFlight int32
	dropped  uint64
	skipped  uint64

	lastQueueFullWarnAt int64
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	gate       *keyGate
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	return &Service{
		cfg:   cfg.withDefaults(),
		log:   log,
		bus:   bus,
		gates: make(map[string]*keyGate),
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config; worker or queue size changes restart the pool.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.Stop(ctx)
	case running && (prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize):
		s.Stop(ctx)
		s.Start(ctx)
	case !running && cfg.Enabled && !prev.Enabled:
		s.Start(ctx)
	}
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	if s.stopCh != nil {
		done := s.stopDone
		s.mu.Unlock()
		if done == nil {
			return
		}
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.stopCh != nil {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh, queue := s.stopCh, s.q
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}
	s.log.Info("task engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	// Workers observe stopCh between tasks; a running task finishes.
	go func() {
		_ = sup.Wait(context.Background())
		sup.Cancel()
		s.mu.Lock()
		s.q, s.stopCh, s.stopDone, s.sup = nil, nil, nil, nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("task engine stopped")
	case <-ctx.Done():
		sup.Cancel()
		s.log.Warn("task engine stop timed out", logx.Err(ctx.Err()))
	}
}

// Enqueue hands t to the pool without blocking. Timer callbacks must never
// wait on the device, so a full queue drops the run with ErrQueueFull.
func (s *Service) Enqueue(t Task) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = ulid.Make().String()
	}

	s.mu.Lock()
	cfg, q, stopping := s.cfg, s.q, s.stopDone != nil
	s.mu.Unlock()

	if !cfg.Enabled {
		return ErrDisabled
	}
	if q == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = cfg.DefaultTimeout
	}

	var g *keyGate
	if t.Overlap == OverlapSkipIfRunning {
		g = s.gateFor(t)
		if !g.enter() {
			atomic.AddUint64(&s.skipped, 1)
			metrics.TaskRuns.WithLabelValues(metricName(t.Name), "overlap_skip").Inc()
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
	}
	qt := queuedTask{task: t, enqueuedAt: now, timeout: timeout, gate: g}
	select {
	case q <- qt:
		return nil
	default:
		s.release(qt)
		s.onQueueFull(now, t, q)
		return ErrQueueFull
	}
}

// Running reports whether a task with the given key is queued or running.
func (s *Service) Running(key string) bool {
	s.gateMu.Lock()
	g := s.gates[key]
	s.gateMu.Unlock()
	return g != nil && g.busy()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, q := s.cfg, s.q
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:        cfg.Enabled,
		Workers:        cfg.Workers,
		InFlight:       int(atomic.LoadInt32(&s.inFlight)),
		Dropped:        atomic.LoadUint64(&s.dropped),
		Skipped:        atomic.LoadUint64(&s.skipped),
		DefaultTimeout: cfg.DefaultTimeout,
	}
	if q != nil {
		snap.QueueLen, snap.QueueCap = len(q), cap(q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) gateFor(t Task) *keyGate {
	key := strings.TrimSpace(t.Key)
	if key == "" {
		key = t.Name
	}
	s.gateMu.Lock()
	defer s.gateMu.Unlock()
	g := s.gates[key]
	if g == nil {
		g = &keyGate{}
		s.gates[key] = g
	}
	return g
}

func (s *Service) release(qt queuedTask) {
	if qt.gate != nil {
		qt.gate.leave()
	}
}

func (s *Service) onQueueFull(now time.Time, t Task, q chan queuedTask) {
	atomic.AddUint64(&s.dropped, 1)
	metrics.TaskRuns.WithLabelValues(metricName(t.Name), "queue_full").Inc()
	prev := atomic.LoadInt64(&s.lastQueueFullWarnAt)
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return
	}
	if atomic.CompareAndSwapInt64(&s.lastQueueFullWarnAt, prev, now.UnixNano()) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped", atomic.LoadUint64(&s.dropped)),
		)
	}
}

// metricName collapses per-schedule task names ("feed:12") into one label.
func metricName(name string) string {
	if i := strings.IndexByte(name, ':'); i > 0 {
		return name[:i]
	}
	return name
}
