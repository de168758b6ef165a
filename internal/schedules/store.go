// Package schedules validates and authorizes feeding schedule mutations.
//
// Owner checks and writes share one transaction, so a caller that reacts to
// a returned Schedule (the reconciler) only ever sees committed state.
package schedules

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"feedbot/internal/feeding"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

const maxNameLen = 100

// Repository is the subset of storage used by the store.
type Repository interface {
	GetSchedule(ctx context.Context, id int64) (feeding.Schedule, error)
	InsertSchedule(ctx context.Context, s feeding.Schedule) (feeding.Schedule, error)
	ListSchedules(ctx context.Context, f storage.ScheduleFilter) ([]feeding.Schedule, error)
	RunInTransaction(ctx context.Context, fn func(tx *storage.Tx) error) error
}

type Store struct {
	repo   Repository
	log    logx.Logger
	now    func() time.Time
	amount atomic.Pointer[feeding.AmountRange]
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithAmountRange(r feeding.AmountRange) Option {
	return func(s *Store) { s.SetAmountRange(r) }
}

func New(repo Repository, log logx.Logger, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{repo: repo, log: log, now: time.Now}
	s.SetAmountRange(feeding.DefaultAmountRange())
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetAmountRange replaces the safe range used by Create and Update.
func (s *Store) SetAmountRange(r feeding.AmountRange) {
	r = r.Normalize()
	s.amount.Store(&r)
}

func (s *Store) AmountRange() feeding.AmountRange { return *s.amount.Load() }

func (s *Store) Create(ctx context.Context, in feeding.NewSchedule) (feeding.Schedule, error) {
	name, err := validName(in.Name)
	if err != nil {
		return feeding.Schedule{}, err
	}
	if !in.At.Valid() {
		return feeding.Schedule{}, &feeding.ValidationError{Field: "time", Reason: "must be HH:MM within a day"}
	}
	if in.OwnerID == 0 {
		return feeding.Schedule{}, &feeding.ValidationError{Field: "owner", Reason: "required"}
	}
	if err := s.AmountRange().Check(in.AmountGrams); err != nil {
		return feeding.Schedule{}, err
	}

	sc, err := s.repo.InsertSchedule(ctx, feeding.Schedule{
		Name:        name,
		At:          in.At,
		AmountGrams: in.AmountGrams,
		Active:      true,
		OwnerID:     in.OwnerID,
		CreatedAt:   s.now(),
	})
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.log.Debug("schedule stored",
		logx.Int64("schedule_id", sc.ID),
		logx.String("at", sc.At.String()),
		logx.Int("grams", sc.AmountGrams),
		logx.Int64("owner_id", sc.OwnerID),
	)
	return sc, nil
}

func (s *Store) Get(ctx context.Context, id int64) (feeding.Schedule, error) {
	return s.repo.GetSchedule(ctx, id)
}

// ListActive returns active schedules ordered by time of day, then id.
func (s *Store) ListActive(ctx context.Context) ([]feeding.Schedule, error) {
	return s.repo.ListSchedules(ctx, storage.ScheduleFilter{ActiveOnly: true})
}

func (s *Store) ListByOwner(ctx context.Context, ownerID int64) ([]feeding.Schedule, error) {
	if ownerID == 0 {
		return nil, &feeding.ValidationError{Field: "owner", Reason: "required"}
	}
	return s.repo.ListSchedules(ctx, storage.ScheduleFilter{OwnerID: ownerID})
}

func (s *Store) ListAll(ctx context.Context) ([]feeding.Schedule, error) {
	return s.repo.ListSchedules(ctx, storage.ScheduleFilter{})
}

func (s *Store) SetActive(ctx context.Context, id, requesterID int64, active bool) (feeding.Schedule, error) {
	return s.mutate(ctx, "set_active", id, requesterID, func(sc *feeding.Schedule) error {
		sc.Active = active
		return nil
	})
}

// Toggle flips the active flag inside the same transaction as the read.
func (s *Store) Toggle(ctx context.Context, id, requesterID int64) (feeding.Schedule, error) {
	return s.mutate(ctx, "toggle", id, requesterID, func(sc *feeding.Schedule) error {
		sc.Active = !sc.Active
		return nil
	})
}

// Update applies the non-nil fields of edit and returns the schedule before
// and after the change.
func (s *Store) Update(ctx context.Context, id, requesterID int64, edit feeding.ScheduleEdit) (before, after feeding.Schedule, err error) {
	if edit.Empty() {
		return feeding.Schedule{}, feeding.Schedule{}, &feeding.ValidationError{Field: "edit", Reason: "nothing to change"}
	}
	if edit.Name != nil {
		name, err := validName(*edit.Name)
		if err != nil {
			return feeding.Schedule{}, feeding.Schedule{}, err
		}
		edit.Name = &name
	}
	if edit.At != nil && !edit.At.Valid() {
		return feeding.Schedule{}, feeding.Schedule{}, &feeding.ValidationError{Field: "time", Reason: "must be HH:MM within a day"}
	}
	if edit.AmountGrams != nil {
		if err := s.AmountRange().Check(*edit.AmountGrams); err != nil {
			return feeding.Schedule{}, feeding.Schedule{}, err
		}
	}

	after, err = s.mutate(ctx, "update", id, requesterID, func(sc *feeding.Schedule) error {
		before = *sc
		if edit.Name != nil {
			sc.Name = *edit.Name
		}
		if edit.At != nil {
			sc.At = *edit.At
		}
		if edit.AmountGrams != nil {
			sc.AmountGrams = *edit.AmountGrams
		}
		return nil
	})
	if err != nil {
		return feeding.Schedule{}, feeding.Schedule{}, err
	}
	return before, after, nil
}

// Delete removes the schedule and returns its last committed state.
func (s *Store) Delete(ctx context.Context, id, requesterID int64) (feeding.Schedule, error) {
	var deleted feeding.Schedule
	err := s.repo.RunInTransaction(ctx, func(tx *storage.Tx) error {
		sc, err := ownedBy(ctx, tx, id, requesterID)
		if err != nil {
			return err
		}
		deleted = sc
		return tx.DeleteSchedule(ctx, id)
	})
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.log.Debug("schedule row deleted", logx.Int64("schedule_id", id), logx.Int64("requester_id", requesterID))
	return deleted, nil
}

func (s *Store) mutate(ctx context.Context, op string, id, requesterID int64, fn func(sc *feeding.Schedule) error) (feeding.Schedule, error) {
	var out feeding.Schedule
	err := s.repo.RunInTransaction(ctx, func(tx *storage.Tx) error {
		sc, err := ownedBy(ctx, tx, id, requesterID)
		if err != nil {
			return err
		}
		if err := fn(&sc); err != nil {
			return err
		}
		if err := tx.UpdateSchedule(ctx, sc); err != nil {
			return err
		}
		out = sc
		return nil
	})
	if err != nil {
		return feeding.Schedule{}, err
	}
	s.log.Debug("schedule row updated",
		logx.String("op", op),
		logx.Int64("schedule_id", out.ID),
		logx.Bool("active", out.Active),
		logx.String("at", out.At.String()),
		logx.Int("grams", out.AmountGrams),
	)
	return out, nil
}

func ownedBy(ctx context.Context, tx *storage.Tx, id, requesterID int64) (feeding.Schedule, error) {
	sc, err := tx.GetSchedule(ctx, id)
	if err != nil {
		return feeding.Schedule{}, err
	}
	if sc.OwnerID != requesterID {
		return feeding.Schedule{}, fmt.Errorf("schedule %d: %w", id, feeding.ErrUnauthorized)
	}
	return sc, nil
}

func validName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", &feeding.ValidationError{Field: "name", Reason: "required"}
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return "", &feeding.ValidationError{Field: "name", Reason: fmt.Sprintf("at most %d characters", maxNameLen)}
	}
	return name, nil
}
