package scheduler

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"feedbot/internal/feeding"
	"feedbot/internal/task/engine"
)

// ErrNotScheduled is returned by Trigger for an id without a timer.
var ErrNotScheduled = errors.New("schedule has no timer")

// Config controls the trigger service. Timezone is an IANA name; empty means
// the process local zone.
type Config struct {
	Enabled     bool
	Timezone    string
	FireTimeout time.Duration
}

// FireFunc runs one scheduled feeding. It receives only the schedule id and
// must reload whatever else it needs.
type FireFunc func(ctx context.Context, scheduleID int64) error

// Executor accepts fired work. *engine.Service satisfies it.
type Executor interface {
	Enqueue(t engine.Task) error
}

type feedJob struct {
	id      int64
	at      feeding.TimeOfDay
	spec    string
	entryID cron.EntryID
}

type intervalDef struct {
	name    string
	every   time.Duration
	timeout time.Duration
	job     func(ctx context.Context) error
	entryID cron.EntryID
}

// JobInfo describes one installed feeding timer.
type JobInfo struct {
	ScheduleID int64
	At         feeding.TimeOfDay
	Spec       string
	Next       time.Time
	Prev       time.Time
}

type IntervalInfo struct {
	Name  string
	Every time.Duration
	Next  time.Time
	Prev  time.Time
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Jobs      []JobInfo
	Intervals []IntervalInfo
}

// JobName is the timer and task name for a schedule id.
func JobName(scheduleID int64) string {
	return "feed:" + strconv.FormatInt(scheduleID, 10)
}
