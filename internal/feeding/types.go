package feeding

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a daily recurrence point with minute granularity.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" (24h clock).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid time %q, expected HH:MM", s)}
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid hour in %q", s)}
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid minute in %q", s)}
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// MarshalText renders "HH:MM" so schedules read naturally in JSON output.
func (t TimeOfDay) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.Hour*60 + t.Minute }

// Before reports whether t is earlier in the day than o.
func (t TimeOfDay) Before(o TimeOfDay) bool { return t.Minutes() < o.Minutes() }

// CronSpec returns the 5-field cron expression firing daily at t.
func (t TimeOfDay) CronSpec() string { return fmt.Sprintf("%d %d * * *", t.Minute, t.Hour) }

// TimeOfDayOf extracts the clock time of ts in its own location.
func TimeOfDayOf(ts time.Time) TimeOfDay {
	return TimeOfDay{Hour: ts.Hour(), Minute: ts.Minute()}
}

// Schedule is a persisted, user-owned daily feeding rule.
type Schedule struct {
	ID          int64
	Name        string
	At          TimeOfDay
	AmountGrams int
	Active      bool
	OwnerID     int64
	CreatedAt   time.Time
}

// NewSchedule is the input for creating a schedule. New schedules start active.
type NewSchedule struct {
	Name        string
	At          TimeOfDay
	AmountGrams int
	OwnerID     int64
}

// ScheduleEdit carries optional field updates. Nil fields are left unchanged.
type ScheduleEdit struct {
	Name        *string
	At          *TimeOfDay
	AmountGrams *int
}

func (e ScheduleEdit) Empty() bool {
	return e.Name == nil && e.At == nil && e.AmountGrams == nil
}

// TriggerKind is the origin of a dispense.
type TriggerKind string

const (
	TriggerManual    TriggerKind = "manual"
	TriggerScheduled TriggerKind = "scheduled"
)

func (k TriggerKind) Valid() bool { return k == TriggerManual || k == TriggerScheduled }

// Outcome is the result reported by the device for one dispense attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) Valid() bool { return o == OutcomeSuccess || o == OutcomeFailure }

// DispenseRecord is an immutable ledger entry for one dispense attempt.
type DispenseRecord struct {
	ID          string
	Timestamp   time.Time
	AmountGrams int
	Trigger     TriggerKind
	ScheduleID  *int64
	Outcome     Outcome
	Error       string
	UserID      *int64
}

// Stats aggregates ledger entries since a point in time.
// TotalGrams counts successful dispenses only.
type Stats struct {
	TotalGrams   int64
	SuccessCount int
	FailureCount int
}

// FeedRatio converts a detected pellet count into grams:
// Grams are dispensed per Pellets pellets detected.
type FeedRatio struct {
	Pellets int     `json:"pellets"`
	Grams   float64 `json:"grams"`
}

// Validate rejects ratios that cannot be stored.
func (r FeedRatio) Validate() error {
	if r.Pellets <= 0 {
		return &ValidationError{Field: "pellets", Reason: "must be > 0"}
	}
	if r.Grams <= 0 {
		return &ValidationError{Field: "grams", Reason: "must be > 0"}
	}
	return nil
}

// Int64Ptr is a small helper for optional ids.
func Int64Ptr(v int64) *int64 { return &v }
