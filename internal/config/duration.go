package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations are stored as Go duration strings ("90s", "5m"). An empty
// string means unset.

// ParseDurationField parses raw for the config key at path. Empty is 0;
// negative values are rejected.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	switch d, err := time.ParseDuration(raw); {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	default:
		return d, nil
	}
}

// ParseDurationOrDefault is ParseDurationField with def standing in for
// an unset or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// DurationOrDefault never fails; use it on a validated config.
func DurationOrDefault(raw string, def time.Duration) time.Duration {
	if d, err := ParseDurationOrDefault("", raw, def); err == nil {
		return d
	}
	return def
}

// ResyncEvery is the store resync period. Unlike the other durations an
// explicit "0s" is honored and disables resync.
func (c SchedulerConfig) ResyncEvery() time.Duration {
	if strings.TrimSpace(c.ResyncInterval) == "" {
		return DefaultResyncInterval
	}
	if d, err := ParseDurationField("", c.ResyncInterval); err == nil {
		return d
	}
	return DefaultResyncInterval
}
