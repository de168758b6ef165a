// Package ledger is the append-only record of every dispense attempt.
package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"feedbot/internal/feeding"
	"feedbot/internal/storage"
	logx "feedbot/pkg/logx"
)

// Repository is the subset of storage used by the ledger.
type Repository interface {
	InsertDispense(ctx context.Context, r feeding.DispenseRecord) error
	GetDispense(ctx context.Context, id string) (feeding.DispenseRecord, error)
	ListDispense(ctx context.Context, q storage.DispenseQuery) ([]feeding.DispenseRecord, error)
	DispenseStats(ctx context.Context, since time.Time) (feeding.Stats, error)
	LastDispenseTime(ctx context.Context) (time.Time, error)
}

// Entry is the caller-supplied part of a DispenseRecord. The ledger assigns
// the id and timestamp.
type Entry struct {
	AmountGrams int
	Trigger     feeding.TriggerKind
	ScheduleID  *int64
	Outcome     feeding.Outcome
	Error       string
	UserID      *int64
}

type Ledger struct {
	repo Repository
	log  logx.Logger
	now  func() time.Time

	// mu orders timestamp assignment and insertion together.
	mu      sync.Mutex
	last    time.Time
	entropy io.Reader
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New seeds the monotonic clock from the newest stored record so timestamps
// keep increasing across restarts.
func New(ctx context.Context, repo Repository, log logx.Logger, opts ...Option) (*Ledger, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Ledger{
		repo:    repo,
		log:     log,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
	for _, o := range opts {
		o(l)
	}
	last, err := repo.LastDispenseTime(ctx)
	if err != nil {
		return nil, err
	}
	l.last = last
	return l, nil
}

// Append writes one record. Device failures are data here, so only
// malformed entries and storage errors fail.
func (l *Ledger) Append(ctx context.Context, e Entry) (feeding.DispenseRecord, error) {
	if err := validate(e); err != nil {
		return feeding.DispenseRecord{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().Truncate(time.Microsecond)
	if !ts.After(l.last) {
		ts = l.last.Add(time.Microsecond)
	}
	id, err := ulid.New(ulid.Timestamp(ts), l.entropy)
	if err != nil {
		return feeding.DispenseRecord{}, fmt.Errorf("ledger id: %w", err)
	}

	rec := feeding.DispenseRecord{
		ID:          id.String(),
		Timestamp:   ts,
		AmountGrams: e.AmountGrams,
		Trigger:     e.Trigger,
		ScheduleID:  e.ScheduleID,
		Outcome:     e.Outcome,
		Error:       e.Error,
		UserID:      e.UserID,
	}
	if err := l.repo.InsertDispense(ctx, rec); err != nil {
		return feeding.DispenseRecord{}, err
	}
	l.last = ts

	fields := []logx.Field{
		logx.String("record_id", rec.ID),
		logx.String("trigger", string(rec.Trigger)),
		logx.String("outcome", string(rec.Outcome)),
		logx.Int("grams", rec.AmountGrams),
	}
	if rec.ScheduleID != nil {
		fields = append(fields, logx.Int64("schedule_id", *rec.ScheduleID))
	}
	l.log.Debug("dispense recorded", fields...)
	return rec, nil
}

func validate(e Entry) error {
	if !e.Trigger.Valid() {
		return &feeding.ValidationError{Field: "trigger", Reason: fmt.Sprintf("unknown trigger %q", e.Trigger)}
	}
	if !e.Outcome.Valid() {
		return &feeding.ValidationError{Field: "outcome", Reason: fmt.Sprintf("unknown outcome %q", e.Outcome)}
	}
	if e.Trigger == feeding.TriggerScheduled && e.ScheduleID == nil {
		return &feeding.ValidationError{Field: "schedule_id", Reason: "required for scheduled dispenses"}
	}
	return nil
}

// StatsSince aggregates records at or after since.
func (l *Ledger) StatsSince(ctx context.Context, since time.Time) (feeding.Stats, error) {
	return l.repo.DispenseStats(ctx, since)
}

// Recent pages the log newest first.
func (l *Ledger) Recent(ctx context.Context, limit, offset int) ([]feeding.DispenseRecord, error) {
	return l.repo.ListDispense(ctx, storage.DispenseQuery{Limit: limit, Offset: offset})
}

func (l *Ledger) Get(ctx context.Context, id string) (feeding.DispenseRecord, error) {
	return l.repo.GetDispense(ctx, id)
}
