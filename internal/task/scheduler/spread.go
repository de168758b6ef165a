package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// Interval jobs first run one period plus a jitter of up to a tenth of it.
const maxFirstRunJitter = 30 * time.Second

type delayedEvery struct {
	every cron.Schedule
	first time.Time
}

func (d delayedEvery) Next(t time.Time) time.Time {
	if t.Before(d.first) {
		return d.first
	}
	return d.every.Next(t)
}

func jitteredEvery(every time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	limit := min(every/10, maxFirstRunJitter)
	if limit <= 0 {
		return cron.Every(every), 0
	}
	jitter := rand.N(limit)
	return delayedEvery{every: cron.Every(every), first: now.Add(every + jitter)}, jitter
}
