package feeding

import "fmt"

const (
	DefaultMinGrams = 20
	DefaultMaxGrams = 150
)

// AmountRange is the inclusive safe range for a single dispense.
type AmountRange struct {
	Min int
	Max int
}

// DefaultAmountRange is the observed policy: 20-150 grams.
func DefaultAmountRange() AmountRange {
	return AmountRange{Min: DefaultMinGrams, Max: DefaultMaxGrams}
}

// Normalize fills zero bounds with defaults.
func (r AmountRange) Normalize() AmountRange {
	if r.Min <= 0 {
		r.Min = DefaultMinGrams
	}
	if r.Max <= 0 {
		r.Max = DefaultMaxGrams
	}
	return r
}

func (r AmountRange) Contains(grams int) bool {
	r = r.Normalize()
	return grams >= r.Min && grams <= r.Max
}

// Check returns an error matching ErrInvalidAmount when grams is out of range.
func (r AmountRange) Check(grams int) error {
	if r.Contains(grams) {
		return nil
	}
	r = r.Normalize()
	return fmt.Errorf("%w: %dg not within %d-%dg", ErrInvalidAmount, grams, r.Min, r.Max)
}

func (r AmountRange) String() string {
	r = r.Normalize()
	return fmt.Sprintf("%d-%dg", r.Min, r.Max)
}
