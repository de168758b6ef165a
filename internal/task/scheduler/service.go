package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"feedbot/internal/feeding"
	"feedbot/internal/metrics"
	"feedbot/internal/task/engine"
	logx "feedbot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	exec Executor
	fire FireFunc

	parser  cron.Parser
	c       *cron.Cron
	started bool

	jobs      map[int64]*feedJob
	intervals map[string]*intervalDef

	// read by cron callbacks, which must not take mu
	fireTimeout atomic.Int64

	enqWarn enqueueWarnings
}

func New(cfg Config, exec Executor, fire FireFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:       cfg,
		log:       log,
		exec:      exec,
		fire:      fire,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:      map[int64]*feedJob{},
		intervals: map[string]*intervalDef{},
	}
	s.loc = s.loadLocationLocked()
	s.fireTimeout.Store(int64(cfg.FireTimeout))
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the zone feeding times are interpreted in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply swaps the config. A timezone or enabled change re-registers every
// definition on a fresh cron instance.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	oldEnabled := s.cfg.Enabled
	s.cfg = cfg
	s.fireTimeout.Store(int64(cfg.FireTimeout))

	if oldTZ != strings.TrimSpace(cfg.Timezone) {
		s.loc = s.loadLocationLocked()
		if s.c != nil {
			s.restartLocked()
		}
	}
	if !s.started || oldEnabled == cfg.Enabled {
		return
	}
	if cfg.Enabled {
		s.startCronLocked()
	} else {
		s.stopCronLocked()
	}
}

// Start installs every known definition and begins triggering. Timers
// upserted before Start are kept and installed here.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled; timers will not fire", logx.Int("jobs", len(s.jobs)))
		return
	}
	s.startCronLocked()
}

// Stop halts triggering. Definitions stay so a later Start resumes them.
// Fires already handed to the engine are not affected.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()

	s.mu.Lock()
	c := s.c
	s.c = nil
	s.started = false
	s.clearEntryIDsLocked()
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// Upsert installs or replaces the daily timer for a schedule.
func (s *Service) Upsert(scheduleID int64, at feeding.TimeOfDay) error {
	if scheduleID <= 0 {
		return &feeding.ValidationError{Field: "schedule_id", Reason: "must be positive"}
	}
	if !at.Valid() {
		return &feeding.ValidationError{Field: "time", Reason: "out of range"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.jobs[scheduleID]; ok {
		s.removeEntryLocked(old.entryID)
	}
	j := &feedJob{id: scheduleID, at: at, spec: at.CronSpec()}
	s.jobs[scheduleID] = j
	metrics.SchedulerJobs.Set(float64(len(s.jobs)))

	if s.c == nil {
		return nil
	}
	if err := s.addFeedLocked(j); err != nil {
		delete(s.jobs, scheduleID)
		metrics.SchedulerJobs.Set(float64(len(s.jobs)))
		return err
	}
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("timer installed",
			logx.Int64("schedule_id", scheduleID),
			logx.String("at", at.String()),
			logx.Time("next", s.c.Entry(j.entryID).Next),
		)
	}
	return nil
}

// Remove drops the timer for a schedule. It reports whether one existed.
func (s *Service) Remove(scheduleID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[scheduleID]
	if !ok {
		return false
	}
	s.removeEntryLocked(j.entryID)
	delete(s.jobs, scheduleID)
	metrics.SchedulerJobs.Set(float64(len(s.jobs)))
	s.log.Debug("timer removed", logx.Int64("schedule_id", scheduleID))
	return true
}

// Has reports whether a timer exists for the schedule.
func (s *Service) Has(scheduleID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[scheduleID]
	return ok
}

// Trigger fires a schedule now through the same path as its timer.
func (s *Service) Trigger(scheduleID int64) error {
	s.mu.Lock()
	_, ok := s.jobs[scheduleID]
	s.mu.Unlock()
	if !ok {
		return ErrNotScheduled
	}
	return s.enqueueFire(scheduleID)
}

// AddInterval registers a maintenance job running every interval. A job
// with the same name is replaced.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if every <= 0 {
		return errors.New("interval must be positive")
	}
	if job == nil {
		return errors.New("job is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.intervals[name]; ok {
		s.removeEntryLocked(old.entryID)
	}
	d := &intervalDef{name: name, every: every, timeout: timeout, job: job}
	s.intervals[name] = d
	if s.c != nil {
		s.addIntervalLocked(d)
	}
	return nil
}

// RemoveInterval drops a maintenance job.
func (s *Service) RemoveInterval(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.intervals[strings.TrimSpace(name)]
	if !ok {
		return false
	}
	s.removeEntryLocked(d.entryID)
	delete(s.intervals, d.name)
	return true
}

// Jobs lists feeding timers ordered by time of day, then id.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().In(s.loc)
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		info := JobInfo{ScheduleID: j.id, At: j.at, Spec: j.spec}
		if s.c != nil && j.entryID != 0 {
			e := s.c.Entry(j.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		if info.Next.IsZero() {
			info.Next = s.nextLocked(j.spec, now)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].At != out[b].At {
			return out[a].At.Before(out[b].At)
		}
		return out[a].ScheduleID < out[b].ScheduleID
	})
	return out
}

// NextRun computes when the schedule's timer fires after from.
func (s *Service) NextRun(scheduleID int64, from time.Time) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[scheduleID]
	if !ok {
		return time.Time{}, false
	}
	next := s.nextLocked(j.spec, from.In(s.loc))
	return next, !next.IsZero()
}

func (s *Service) Snapshot() Snapshot {
	jobs := s.Jobs()

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: s.loc.String(),
		Jobs:     jobs,
	}
	for _, d := range s.intervals {
		it := IntervalInfo{Name: d.name, Every: d.every}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Intervals = append(snap.Intervals, it)
	}
	sort.Slice(snap.Intervals, func(a, b int) bool { return snap.Intervals[a].Name < snap.Intervals[b].Name })
	return snap
}

func (s *Service) enqueueFire(scheduleID int64) error {
	if s.exec == nil || s.fire == nil {
		return errors.New("scheduler has no executor")
	}
	fire := s.fire
	return s.exec.Enqueue(engine.Task{
		Name:    JobName(scheduleID),
		Timeout: time.Duration(s.fireTimeout.Load()),
		Overlap: engine.OverlapSkipIfRunning,
		Run: func(ctx context.Context) error {
			return fire(ctx, scheduleID)
		},
	})
}

func (s *Service) addFeedLocked(j *feedJob) error {
	id := j.id
	eid, err := s.c.AddFunc(j.spec, func() {
		if err := s.enqueueFire(id); err != nil {
			s.reportEnqueueError(JobName(id), err)
		}
	})
	if err != nil {
		s.log.Error("timer register failed", logx.Int64("schedule_id", id), logx.String("spec", j.spec), logx.Err(err))
		return err
	}
	j.entryID = eid
	return nil
}

func (s *Service) addIntervalLocked(d *intervalDef) {
	name, timeout, job := d.name, d.timeout, d.job
	sched, jitter := jitteredEvery(d.every, time.Now().In(s.loc))

	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() {
		if s.exec == nil {
			return
		}
		err := s.exec.Enqueue(engine.Task{
			Name:    name,
			Timeout: timeout,
			Overlap: engine.OverlapSkipIfRunning,
			Run:     job,
		})
		if err != nil {
			s.reportEnqueueError(name, err)
		}
	}))
	s.log.Debug("interval registered", logx.String("name", name), logx.Duration("every", d.every), logx.Duration("jitter", jitter))
}

func (s *Service) removeEntryLocked(id cron.EntryID) {
	if s.c != nil && id != 0 {
		s.c.Remove(id)
	}
}

func (s *Service) clearEntryIDsLocked() {
	for _, j := range s.jobs {
		j.entryID = 0
	}
	for _, d := range s.intervals {
		d.entryID = 0
	}
}

func (s *Service) startCronLocked() {
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.installAllLocked()
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Int("jobs", len(s.jobs)),
		logx.Int("intervals", len(s.intervals)),
	)
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.clearEntryIDsLocked()
	s.log.Info("scheduler paused")
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.clearEntryIDsLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.installAllLocked()
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) installAllLocked() {
	for id, j := range s.jobs {
		if err := s.addFeedLocked(j); err != nil {
			delete(s.jobs, id)
		}
	}
	for _, d := range s.intervals {
		s.addIntervalLocked(d)
	}
	metrics.SchedulerJobs.Set(float64(len(s.jobs)))
}

func (s *Service) nextLocked(spec string, from time.Time) time.Time {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(from)
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
