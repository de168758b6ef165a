package feeding

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    TimeOfDay
		wantErr bool
	}{
		{raw: "08:00", want: TimeOfDay{Hour: 8}},
		{raw: " 23:59 ", want: TimeOfDay{Hour: 23, Minute: 59}},
		{raw: "7:05", want: TimeOfDay{Hour: 7, Minute: 5}},
		{raw: "24:00", wantErr: true},
		{raw: "12:60", wantErr: true},
		{raw: "noon", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseTimeOfDay(%q) err = %v, want validation error", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseTimeOfDay(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestTimeOfDayCronSpec(t *testing.T) {
	t.Parallel()
	if got := (TimeOfDay{Hour: 8, Minute: 30}).CronSpec(); got != "30 8 * * *" {
		t.Fatalf("CronSpec = %q", got)
	}
	if got := (TimeOfDay{Hour: 6, Minute: 5}).String(); got != "06:05" {
		t.Fatalf("String = %q", got)
	}
}

func TestAmountRangeCheck(t *testing.T) {
	t.Parallel()
	r := DefaultAmountRange()
	for _, g := range []int{20, 75, 150} {
		if err := r.Check(g); err != nil {
			t.Fatalf("Check(%d) unexpected error: %v", g, err)
		}
	}
	for _, g := range []int{0, 19, 151, -5} {
		err := r.Check(g)
		if !errors.Is(err, ErrInvalidAmount) || !errors.Is(err, ErrValidation) {
			t.Fatalf("Check(%d) err = %v, want ErrInvalidAmount", g, err)
		}
	}
	if !(AmountRange{}).Contains(20) {
		t.Fatal("zero range should normalize to defaults")
	}
}

func TestPersistenceWrapping(t *testing.T) {
	t.Parallel()
	driverErr := errors.New("disk I/O error")
	err := Persistence("ledger append", driverErr)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !errors.Is(err, driverErr) {
		t.Fatal("expected driver error to unwrap")
	}

	nf := fmt.Errorf("schedule 3: %w", ErrNotFound)
	if got := Persistence("get", nf); got != nf {
		t.Fatalf("domain errors must pass through, got %v", got)
	}
	if Persistence("noop", nil) != nil {
		t.Fatal("nil must stay nil")
	}
}

func TestFeedRatioValidate(t *testing.T) {
	t.Parallel()
	if err := (FeedRatio{Pellets: 50, Grams: 10}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (FeedRatio{Pellets: 0, Grams: 10}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := (FeedRatio{Pellets: 10, Grams: 0}).Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Schedule{ID: 1, At: TimeOfDay{Hour: 7, Minute: 5}})
	if err != nil {
		t.Fatal(err)
	}
	var back struct{ At TimeOfDay }
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.At != (TimeOfDay{Hour: 7, Minute: 5}) {
		t.Fatalf("round trip: got %v from %s", back.At, b)
	}
	if err := json.Unmarshal([]byte(`{"At":"25:00"}`), &back); err == nil {
		t.Fatal("want error for 25:00")
	}
}
