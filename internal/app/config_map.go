package app

import (
	"fmt"
	"strings"
	"time"

	"feedbot/internal/config"
	"feedbot/internal/device"
	"feedbot/internal/notifier"
	"feedbot/internal/observability/ops"
	"feedbot/internal/pellet"
	"feedbot/internal/storage"
	"feedbot/internal/task/engine"
	"feedbot/internal/task/scheduler"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && cfg.Telegram.Enabled,
			ChatID:     cfg.Telegram.AlertChatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = config.DefaultStoragePath
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, config.DefaultBusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := cfg.TaskEngine
	if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
		return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size and history_size must be >= 0")
	}
	timeout, err := config.ParseDurationOrDefault("task_engine.default_timeout", te.DefaultTimeout, config.DefaultTaskTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	// The engine also runs the resync interval, so it stays on even when
	// feeding timers are disabled.
	return engine.Config{
		Enabled:        true,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    te.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config, fireTimeout time.Duration) scheduler.Config {
	return scheduler.Config{
		Enabled:     cfg.Scheduler.IsEnabled(),
		Timezone:    strings.TrimSpace(cfg.Scheduler.Timezone),
		FireTimeout: fireTimeout,
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", cfg.Notifier.DedupWindow, config.DefaultDedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:     cfg.Notifier.Enabled && cfg.Telegram.Enabled,
		QueueSize:   cfg.Notifier.QueueSize,
		RatePerSec:  cfg.Notifier.RatePerSec,
		DedupWindow: window,
	}, nil
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	addr := strings.TrimSpace(cfg.Ops.Addr)
	if addr == "" {
		addr = config.DefaultOpsAddr
	}
	return ops.Config{
		Enabled: cfg.Ops.Enabled,
		Addr:    addr,
		Token:   strings.TrimSpace(cfg.Ops.Token),
		Pprof:   cfg.Ops.Pprof,
	}
}

func alertTarget(cfg *config.Config) kit.ChatTarget {
	return kit.ChatTarget{ChatID: cfg.Telegram.AlertChatID, ThreadID: cfg.Telegram.AlertThreadID}
}

// newGateway builds the dispenser driver named by device.driver.
func newGateway(cfg *config.Config, log logx.Logger) (device.Gateway, error) {
	switch d := strings.ToLower(strings.TrimSpace(cfg.Device.Driver)); d {
	case "", config.DeviceDriverSimulated:
		return device.NewSimulated(cfg.Device.FailMessage, log), nil
	case config.DeviceDriverHTTP:
		timeout, err := config.ParseDurationOrDefault("device.timeout", cfg.Device.Timeout, config.DefaultDeviceTimeout)
		if err != nil {
			return nil, err
		}
		gw, err := device.NewHTTP(cfg.Device.URL, timeout, log)
		if err != nil {
			return nil, err
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("device.driver: unknown driver %q", cfg.Device.Driver)
	}
}

// newCounter returns the pellet counter, or pellet.Disabled when no URL is set.
func newCounter(cfg *config.Config, log logx.Logger) (pellet.Counter, error) {
	if strings.TrimSpace(cfg.Pellet.URL) == "" {
		return pellet.Disabled{}, nil
	}
	timeout, err := config.ParseDurationOrDefault("pellet.timeout", cfg.Pellet.Timeout, config.DefaultPelletTimeout)
	if err != nil {
		return nil, err
	}
	c, err := pellet.NewHTTP(cfg.Pellet.URL, timeout, nil, log)
	if err != nil {
		return nil, err
	}
	return c, nil
}
