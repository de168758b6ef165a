// Package feedratio turns a detected pellet count into grams and compares
// it with the caller's next pending feeding.
package feedratio

import (
	"context"
	"fmt"
	"math"
	"time"

	"feedbot/internal/feeding"
	logx "feedbot/pkg/logx"
)

// GramsFor converts a pellet count using r, rounded to two decimals.
func GramsFor(pelletCount int, r feeding.FeedRatio) (float64, error) {
	if r.Pellets <= 0 {
		return 0, feeding.ErrInvalidConfig
	}
	if pelletCount < 0 {
		return 0, &feeding.ValidationError{Field: "pellet_count", Reason: "must be >= 0"}
	}
	return round2(r.Grams * float64(pelletCount) / float64(r.Pellets)), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Remaining compares detected grams with the next pending schedule. Both
// values are nil when the user has nothing left today.
type Remaining struct {
	ScheduleID *int64
	At         *feeding.TimeOfDay
	Scheduled  *float64
	Remaining  *float64
}

func (r Remaining) Found() bool { return r.Scheduled != nil }

type Conversion struct {
	PelletCount int
	Grams       float64
	Ratio       feeding.FeedRatio
	Remaining
}

type ScheduleLister interface {
	ListByOwner(ctx context.Context, ownerID int64) ([]feeding.Schedule, error)
}

type RatioSource interface {
	Get(ctx context.Context) (feeding.FeedRatio, error)
}

type Converter struct {
	schedules ScheduleLister
	ratio     RatioSource
	now       func() time.Time
	loc       func() *time.Location
	log       logx.Logger
}

type Option func(*Converter)

func WithClock(now func() time.Time) Option { return func(c *Converter) { c.now = now } }

// WithLocation sets the zone "today" is evaluated in. It is read on every
// call so a reloaded scheduler timezone applies immediately.
func WithLocation(loc func() *time.Location) Option { return func(c *Converter) { c.loc = loc } }

func NewConverter(schedules ScheduleLister, ratio RatioSource, log logx.Logger, opts ...Option) *Converter {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Converter{
		schedules: schedules,
		ratio:     ratio,
		now:       time.Now,
		loc:       func() *time.Location { return time.Local },
		log:       log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// RemainingFor finds the user's earliest active schedule still ahead today
// and subtracts grams from its amount. The result may be negative.
func (c *Converter) RemainingFor(ctx context.Context, userID int64, grams float64) (Remaining, error) {
	list, err := c.schedules.ListByOwner(ctx, userID)
	if err != nil {
		return Remaining{}, fmt.Errorf("list schedules: %w", err)
	}
	now := feeding.TimeOfDayOf(c.now().In(c.loc()))
	for _, s := range list {
		if !s.Active || !now.Before(s.At) {
			continue
		}
		id, at := s.ID, s.At
		scheduled := float64(s.AmountGrams)
		remaining := round2(scheduled - grams)
		return Remaining{ScheduleID: &id, At: &at, Scheduled: &scheduled, Remaining: &remaining}, nil
	}
	return Remaining{}, nil
}

func (c *Converter) Convert(ctx context.Context, pelletCount int, userID int64) (Conversion, error) {
	r, err := c.ratio.Get(ctx)
	if err != nil {
		return Conversion{}, err
	}
	grams, err := GramsFor(pelletCount, r)
	if err != nil {
		return Conversion{}, err
	}
	rem, err := c.RemainingFor(ctx, userID, grams)
	if err != nil {
		return Conversion{}, err
	}
	c.log.Debug("pellets converted",
		logx.Int("pellets", pelletCount),
		logx.Float64("grams", grams),
		logx.Bool("pending", rem.Found()),
	)
	return Conversion{PelletCount: pelletCount, Grams: grams, Ratio: r, Remaining: rem}, nil
}
