package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"feedbot/internal/feeding"
)

const (
	DefaultStoragePath    = "./feedbot.db"
	DefaultBusyTimeout    = 5 * time.Second
	DefaultResyncInterval = 10 * time.Minute
	DefaultDeviceTimeout  = 10 * time.Second
	DefaultPelletTimeout  = 30 * time.Second
	DefaultPollTimeout    = 10 * time.Second
	DefaultDedupWindow    = 5 * time.Minute
	DefaultOpsAddr        = "127.0.0.1:9090"
	DefaultTaskTimeout    = 30 * time.Second
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging:   LoggingConfig{Level: "info", Console: true},
		Storage:   StorageConfig{Path: DefaultStoragePath},
		Device:    DeviceConfig{Driver: DeviceDriverSimulated},
		FeedRatio: FeedRatioConfig{Pellets: 50, Grams: 10},
	}
}

// AmountRange returns the configured safe dispense range.
func (c *Config) AmountRange() feeding.AmountRange {
	return feeding.AmountRange{Min: c.Feeding.MinGrams, Max: c.Feeding.MaxGrams}.Normalize()
}

// DefaultFeedRatio returns the configured fallback ratio.
func (c *Config) DefaultFeedRatio() feeding.FeedRatio {
	r := feeding.FeedRatio{Pellets: c.FeedRatio.Pellets, Grams: c.FeedRatio.Grams}
	if r.Pellets == 0 && r.Grams == 0 {
		r = feeding.FeedRatio{Pellets: 50, Grams: 10}
	}
	return r
}

// Location resolves scheduler.timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

// Validate rejects configurations that cannot be applied. It is run on load
// and before every hot reload is published.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	durations := map[string]string{
		"storage.busy_timeout":        cfg.Storage.BusyTimeout,
		"scheduler.resync_interval":   cfg.Scheduler.ResyncInterval,
		"task_engine.default_timeout": cfg.TaskEngine.DefaultTimeout,
		"device.timeout":              cfg.Device.Timeout,
		"pellet.timeout":              cfg.Pellet.Timeout,
		"telegram.poll_timeout":       cfg.Telegram.PollTimeout,
		"notifier.dedup_window":       cfg.Notifier.DedupWindow,
	}
	for path, raw := range durations {
		_, err := ParseDurationField(path, raw)
		add(err)
	}

	_, err := cfg.Location()
	add(err)

	if f := cfg.Feeding; f.MinGrams < 0 || f.MaxGrams < 0 || (f.MaxGrams > 0 && f.MinGrams > f.MaxGrams) {
		add(fmt.Errorf("feeding: invalid range %d-%d", f.MinGrams, f.MaxGrams))
	}
	if err := cfg.DefaultFeedRatio().Validate(); err != nil {
		add(fmt.Errorf("feed_ratio: %w", err))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Device.Driver)) {
	case "", DeviceDriverSimulated:
	case DeviceDriverHTTP:
		if strings.TrimSpace(cfg.Device.URL) == "" {
			add(errors.New("device.url is required for the http driver"))
		}
	default:
		add(fmt.Errorf("device.driver: unknown driver %q", cfg.Device.Driver))
	}

	if cfg.TaskEngine.Workers < 0 || cfg.TaskEngine.QueueSize < 0 || cfg.TaskEngine.HistorySize < 0 {
		add(errors.New("task_engine: sizes must be >= 0"))
	}
	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(errors.New("telegram.token is required when telegram.enabled"))
	}
	if cfg.Telegram.CommandsPerMinute < 0 {
		add(errors.New("telegram.commands_per_minute must be >= 0"))
	}
	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.QueueSize < 0 {
		add(errors.New("notifier: rate_per_sec and queue_size must be >= 0"))
	}
	if cfg.Ops.Enabled {
		add(validateOpsAddr(cfg.Ops))
	}
	return errors.Join(errs...)
}

func validateOpsAddr(c OpsConfig) error {
	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = DefaultOpsAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if strings.TrimSpace(c.Token) != "" {
		return nil
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("ops.addr %q is not loopback; set ops.token", addr)
}
