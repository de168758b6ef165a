package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"feedbot/internal/metrics"
	logx "feedbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// WithTimeout bounds a handler; d <= 0 leaves ctx alone.
func WithTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// Recover turns a handler panic into an error so one bad command cannot
// take down a dispatcher worker.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("handler panic", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

const slowCommand = 750 * time.Millisecond

// Observe logs each command once and counts it by route and result.
func Observe() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			dur := time.Since(start)

			result := "ok"
			if err != nil {
				result = "error"
			}
			metrics.CommandsTotal.WithLabelValues(req.Command, result).Inc()

			switch {
			case err != nil:
				req.Logger.Warn("command failed", logx.Duration("dur", dur), logx.Err(err))
			case dur >= slowCommand:
				req.Logger.Info("command slow", logx.Duration("dur", dur))
			default:
				req.Logger.Debug("command ok", logx.Duration("dur", dur))
			}
			return err
		}
	}
}

const (
	DefaultCommandsPerMinute = 20
	maxTrackedSenders        = 1024
)

// senderLimits keeps one token bucket per Telegram user.
type senderLimits struct {
	mu    sync.Mutex
	every rate.Limit
	burst int
	by    map[int64]*rate.Limiter
}

func newSenderLimits(perMinute int) *senderLimits {
	l := &senderLimits{}
	l.set(perMinute)
	return l
}

// set resets all buckets. perMinute <= 0 means the default.
func (l *senderLimits) set(perMinute int) {
	if perMinute <= 0 {
		perMinute = DefaultCommandsPerMinute
	}
	l.mu.Lock()
	l.every = rate.Limit(float64(perMinute) / 60)
	l.burst = perMinute
	l.by = map[int64]*rate.Limiter{}
	l.mu.Unlock()
}

func (l *senderLimits) allow(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.by[userID]
	if !ok {
		if len(l.by) >= maxTrackedSenders {
			clear(l.by)
		}
		lim = rate.NewLimiter(l.every, l.burst)
		l.by[userID] = lim
	}
	return lim.Allow()
}
