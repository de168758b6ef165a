package scheduler

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedbot/internal/task/engine"
	logx "feedbot/pkg/logx"
)

// enqueueWarnings rate-limits "fire not enqueued" warnings per job.
type enqueueWarnings struct {
	byJob sync.Map // job name -> *rate.Sometimes
}

func (w *enqueueWarnings) do(job string, f func()) {
	v, _ := w.byJob.LoadOrStore(job, &rate.Sometimes{Interval: 5 * time.Second})
	v.(*rate.Sometimes).Do(f)
}

func (s *Service) reportEnqueueError(name string, err error) {
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrOverlapSkip):
		s.log.Debug("fire skipped, previous run in flight", logx.String("job", name))
	default:
		s.enqWarn.do(name, func() {
			s.log.Warn("fire not enqueued", logx.String("job", name), logx.Err(err))
		})
	}
}
