package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"feedbot/internal/eventbus"
	"feedbot/internal/metrics"
	logx "feedbot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, qt)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, qt queuedTask) {
	defer s.release(qt)

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	s.log.Debug("task started", logx.String("task", qt.task.Name), logx.Duration("queue_delay", queueDelay))

	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task panic", logx.String("task", qt.task.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = qt.task.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur}
	if err != nil {
		item.Error = err.Error()
		metrics.TaskRuns.WithLabelValues(metricName(qt.task.Name), "failed").Inc()
		s.log.Warn("task failed", logx.String("task", qt.task.Name), logx.Err(err), logx.Duration("dur", dur))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Time: time.Now(), Data: TaskEvent{
			ID: qt.task.ID, Name: qt.task.Name, Started: start, Duration: dur, Error: item.Error,
		}})
	} else {
		metrics.TaskRuns.WithLabelValues(metricName(qt.task.Name), "ok").Inc()
		s.log.Debug("task completed", logx.String("task", qt.task.Name), logx.Duration("dur", dur))
	}

	s.mu.Lock()
	historySize := s.cfg.HistorySize
	s.mu.Unlock()
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}
