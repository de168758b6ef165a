// Package feeder is the single entry point used by Telegram and the CLI.
// Schedule mutations commit in the store first and only then reach the
// reconciler.
package feeder

import (
	"context"
	"fmt"
	"io"
	"time"

	"feedbot/internal/dispense"
	"feedbot/internal/feeding"
	"feedbot/internal/feedratio"
	"feedbot/internal/pellet"
	"feedbot/internal/reconcile"
	"feedbot/internal/schedules"
	logx "feedbot/pkg/logx"
)

const DefaultLogPage = 50

type Ledger interface {
	StatsSince(ctx context.Context, since time.Time) (feeding.Stats, error)
	Recent(ctx context.Context, limit, offset int) ([]feeding.DispenseRecord, error)
}

type Deps struct {
	Schedules  *schedules.Store
	Reconciler *reconcile.Reconciler
	Pipeline   *dispense.Pipeline
	Ledger     Ledger
	Converter  *feedratio.Converter
	Ratio      *feedratio.RatioStore
	Counter    pellet.Counter
	Auth       *Authorizer
	// Location returns the zone used for "today". Defaults to Local.
	Location func() *time.Location
	Now      func() time.Time
}

type Service struct {
	d   Deps
	log logx.Logger
}

func New(d Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if d.Location == nil {
		d.Location = func() *time.Location { return time.Local }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Counter == nil {
		d.Counter = pellet.Disabled{}
	}
	return &Service{d: d, log: log}
}

func (s *Service) Auth() *Authorizer { return s.d.Auth }

func (s *Service) requireUser(userID int64) error {
	if s.d.Auth != nil && !s.d.Auth.IsUser(userID) {
		return feeding.ErrUnauthorized
	}
	return nil
}

// reconcile brings the timer of id in line with the committed store state.
// The mutation already committed, so a cancelled caller must not skip it.
// Failures are logged; the periodic resync repairs the timer.
func (s *Service) reconcile(ctx context.Context, op string, id int64) {
	if err := s.d.Reconciler.Sync(context.WithoutCancel(ctx), id); err != nil {
		s.log.Error("timer reconcile failed", logx.String("op", op), logx.Int64("schedule_id", id), logx.Err(err))
	}
}

func (s *Service) CreateSchedule(ctx context.Context, in feeding.NewSchedule) (feeding.Schedule, error) {
	if err := s.requireUser(in.OwnerID); err != nil {
		return feeding.Schedule{}, err
	}
	sc, err := s.d.Schedules.Create(ctx, in)
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.reconcile(ctx, "create", sc.ID)
	s.log.Info("schedule created", logx.Int64("schedule_id", sc.ID), logx.String("at", sc.At.String()), logx.Int("grams", sc.AmountGrams), logx.Int64("owner", sc.OwnerID))
	return sc, nil
}

func (s *Service) EditSchedule(ctx context.Context, id, requesterID int64, edit feeding.ScheduleEdit) (feeding.Schedule, error) {
	_, after, err := s.d.Schedules.Update(ctx, id, requesterID, edit)
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.reconcile(ctx, "edit", id)
	s.log.Info("schedule edited", logx.Int64("schedule_id", id), logx.String("at", after.At.String()), logx.Int("grams", after.AmountGrams))
	return after, nil
}

func (s *Service) ToggleSchedule(ctx context.Context, id, requesterID int64) (feeding.Schedule, error) {
	sc, err := s.d.Schedules.Toggle(ctx, id, requesterID)
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.reconcile(ctx, "toggle", id)
	s.log.Info("schedule toggled", logx.Int64("schedule_id", id), logx.Bool("active", sc.Active))
	return sc, nil
}

func (s *Service) SetScheduleActive(ctx context.Context, id, requesterID int64, active bool) (feeding.Schedule, error) {
	sc, err := s.d.Schedules.SetActive(ctx, id, requesterID, active)
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.reconcile(ctx, "set_active", id)
	return sc, nil
}

func (s *Service) DeleteSchedule(ctx context.Context, id, requesterID int64) (feeding.Schedule, error) {
	sc, err := s.d.Schedules.Delete(ctx, id, requesterID)
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.reconcile(ctx, "delete", id)
	s.log.Info("schedule deleted", logx.Int64("schedule_id", id))
	return sc, nil
}

func (s *Service) GetSchedule(ctx context.Context, id int64) (feeding.Schedule, error) {
	return s.d.Schedules.Get(ctx, id)
}

func (s *Service) ListSchedulesForOwner(ctx context.Context, ownerID int64) ([]feeding.Schedule, error) {
	return s.d.Schedules.ListByOwner(ctx, ownerID)
}

func (s *Service) ListActiveSchedules(ctx context.Context) ([]feeding.Schedule, error) {
	return s.d.Schedules.ListActive(ctx)
}

func (s *Service) ListAllSchedules(ctx context.Context) ([]feeding.Schedule, error) {
	return s.d.Schedules.ListAll(ctx)
}

func (s *Service) ManualDispense(ctx context.Context, amountGrams int, userID int64) (dispense.Result, error) {
	if err := s.requireUser(userID); err != nil {
		return dispense.Result{}, err
	}
	return s.d.Pipeline.Manual(ctx, amountGrams, userID)
}

func (s *Service) StatsSince(ctx context.Context, since time.Time) (feeding.Stats, error) {
	return s.d.Ledger.StatsSince(ctx, since)
}

// Dashboard is the today/week rollup plus the active schedule list.
type Dashboard struct {
	Today      feeding.Stats
	Week       feeding.Stats
	TodayStart time.Time
	WeekStart  time.Time
	Active     []feeding.Schedule
}

// Dashboard counts today from local midnight and the week from seven days
// before that.
func (s *Service) Dashboard(ctx context.Context) (Dashboard, error) {
	now := s.d.Now().In(s.d.Location())
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekStart := todayStart.AddDate(0, 0, -7)

	today, err := s.d.Ledger.StatsSince(ctx, todayStart)
	if err != nil {
		return Dashboard{}, fmt.Errorf("today stats: %w", err)
	}
	week, err := s.d.Ledger.StatsSince(ctx, weekStart)
	if err != nil {
		return Dashboard{}, fmt.Errorf("week stats: %w", err)
	}
	active, err := s.d.Schedules.ListActive(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	return Dashboard{Today: today, Week: week, TodayStart: todayStart, WeekStart: weekStart, Active: active}, nil
}

// RecentLogs returns one newest-first page; page starts at 1.
func (s *Service) RecentLogs(ctx context.Context, page, perPage int) ([]feeding.DispenseRecord, error) {
	if perPage <= 0 {
		perPage = DefaultLogPage
	}
	if page < 1 {
		page = 1
	}
	return s.d.Ledger.Recent(ctx, perPage, (page-1)*perPage)
}

func (s *Service) ConvertPelletsToGrams(ctx context.Context, pelletCount int, userID int64) (feedratio.Conversion, error) {
	if err := s.requireUser(userID); err != nil {
		return feedratio.Conversion{}, err
	}
	return s.d.Converter.Convert(ctx, pelletCount, userID)
}

// CountAndConvert sends the image to the pellet counter and converts the
// result. Counter errors are returned as is.
func (s *Service) CountAndConvert(ctx context.Context, image io.Reader, filename string, userID int64) (feedratio.Conversion, error) {
	if err := s.requireUser(userID); err != nil {
		return feedratio.Conversion{}, err
	}
	n, err := s.d.Counter.Count(ctx, image, filename)
	if err != nil {
		return feedratio.Conversion{}, err
	}
	return s.d.Converter.Convert(ctx, n, userID)
}

func (s *Service) FeedRatio(ctx context.Context) (feeding.FeedRatio, error) {
	return s.d.Ratio.Get(ctx)
}

func (s *Service) SetFeedRatio(ctx context.Context, actorID int64, r feeding.FeedRatio) (feeding.FeedRatio, error) {
	return s.d.Ratio.Set(ctx, actorID, r)
}
