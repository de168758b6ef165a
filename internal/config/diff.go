package config

import (
	"reflect"

	logx "feedbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe log
// attributes for them. Secrets (tokens) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	section := func(name string, a, b any, fields ...logx.Field) {
		if reflect.DeepEqual(a, b) {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
	}

	section("logging", oldCfg.Logging, newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled))
	section("storage", oldCfg.Storage, newCfg.Storage,
		logx.String("storage.path", newCfg.Storage.Path))
	section("scheduler", oldCfg.Scheduler, newCfg.Scheduler,
		logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		logx.String("scheduler.resync_interval", newCfg.Scheduler.ResyncInterval))
	section("task_engine", oldCfg.TaskEngine, newCfg.TaskEngine,
		logx.Int("task_engine.workers", newCfg.TaskEngine.Workers))
	section("feeding", oldCfg.Feeding, newCfg.Feeding,
		logx.String("feeding.range", newCfg.AmountRange().String()))
	section("feed_ratio", oldCfg.FeedRatio, newCfg.FeedRatio,
		logx.Int("feed_ratio.pellets", newCfg.FeedRatio.Pellets),
		logx.Float64("feed_ratio.grams", newCfg.FeedRatio.Grams))
	section("device", oldCfg.Device, newCfg.Device,
		logx.String("device.driver", newCfg.Device.Driver))
	section("pellet", oldCfg.Pellet, newCfg.Pellet,
		logx.Bool("pellet.enabled", newCfg.Pellet.URL != ""))
	section("access", oldCfg.Access, newCfg.Access,
		logx.Int("access.admins", len(newCfg.Access.AdminUserIDs)),
		logx.Int("access.users", len(newCfg.Access.UserIDs)))
	section("telegram", redactTelegram(oldCfg.Telegram), redactTelegram(newCfg.Telegram),
		logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
		logx.Bool("telegram.alert_chat_set", newCfg.Telegram.AlertChatID != 0))
	section("notifier", oldCfg.Notifier, newCfg.Notifier,
		logx.Bool("notifier.enabled", newCfg.Notifier.Enabled))
	section("ops", redactOps(oldCfg.Ops), redactOps(newCfg.Ops),
		logx.Bool("ops.enabled", newCfg.Ops.Enabled),
		logx.String("ops.addr", newCfg.Ops.Addr))
	return changed, attrs
}

func redactTelegram(c TelegramConfig) TelegramConfig {
	if c.Token != "" {
		c.Token = "set"
	}
	return c
}

func redactOps(c OpsConfig) OpsConfig {
	if c.Token != "" {
		c.Token = "set"
	}
	return c
}
