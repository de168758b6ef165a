package feeding

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrPersistence  = errors.New("persistence failure")

	// ErrInvalidAmount is returned when an amount falls outside the safe range.
	ErrInvalidAmount = &ValidationError{Field: "amount", Reason: "out of safe range"}
	// ErrInvalidConfig is returned for a feed ratio that cannot convert.
	ErrInvalidConfig = &ValidationError{Field: "feed_ratio", Reason: "pellets must be > 0"}
)

// ValidationError reports bad input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	t, ok := target.(*ValidationError)
	return ok && t.Field == e.Field && t.Reason == e.Reason
}

// PersistenceError wraps a store/ledger write or read failure.
// It matches ErrPersistence and unwraps to the driver error.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Persistence wraps err as a PersistenceError. Domain errors pass through.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrValidation) || errors.Is(err, ErrPersistence) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
