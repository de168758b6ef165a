package config

// Config is the root of the feedbot configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Feeding    FeedingConfig    `json:"feeding"`
	FeedRatio  FeedRatioConfig  `json:"feed_ratio"`
	Device     DeviceConfig     `json:"device"`
	Pellet     PelletConfig     `json:"pellet"`
	Access     AccessConfig     `json:"access"`
	Telegram   TelegramConfig   `json:"telegram"`
	Notifier   NotifierConfig   `json:"notifier"`
	Ops        OpsConfig        `json:"ops"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines to telegram.alert_chat_id.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig points at the SQLite database file.
type StorageConfig struct {
	Path        string `json:"path"`                   // default: ./feedbot.db
	BusyTimeout string `json:"busy_timeout,omitempty"` // default: 5s
}

// SchedulerConfig controls timer jobs.
//
// Enabled is a pointer so an omitted key defaults to true.
type SchedulerConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Timezone       string `json:"timezone,omitempty"`        // IANA name; default: Local
	ResyncInterval string `json:"resync_interval,omitempty"` // default: 10m; "0s" disables
}

func (c SchedulerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// TaskEngineConfig sizes the worker pool that runs fired jobs.
//
// Defaults: workers 2, queue_size 64, default_timeout 30s, history_size 100.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// FeedingConfig is the safe dispense range in grams (default 20-150).
type FeedingConfig struct {
	MinGrams int `json:"min_grams,omitempty"`
	MaxGrams int `json:"max_grams,omitempty"`
}

// FeedRatioConfig is the ratio used until an admin stores one.
type FeedRatioConfig struct {
	Pellets int     `json:"pellets,omitempty"` // default: 50
	Grams   float64 `json:"grams,omitempty"`   // default: 10
}

const (
	DeviceDriverHTTP      = "http"
	DeviceDriverSimulated = "simulated"
)

type DeviceConfig struct {
	Driver string `json:"driver"` // http | simulated (default)
	URL    string `json:"url,omitempty"`
	// Timeout bounds one dispense call; default 10s.
	Timeout string `json:"timeout,omitempty"`
	// FailMessage makes the simulated driver report failures with this message.
	FailMessage string `json:"fail_message,omitempty"`
}

// PelletConfig points at the image inference service. Empty URL disables counting.
type PelletConfig struct {
	URL     string `json:"url,omitempty"`
	Timeout string `json:"timeout,omitempty"` // default: 30s
}

// AccessConfig lists Telegram/CLI user ids. Admins are always users.
// An empty user_ids list admits everyone.
type AccessConfig struct {
	AdminUserIDs []int64 `json:"admin_user_ids"`
	UserIDs      []int64 `json:"user_ids,omitempty"`
}

func (c AccessConfig) IsAdmin(id int64) bool {
	for _, a := range c.AdminUserIDs {
		if a == id {
			return true
		}
	}
	return false
}

func (c AccessConfig) IsUser(id int64) bool {
	if len(c.UserIDs) == 0 || c.IsAdmin(id) {
		return true
	}
	for _, u := range c.UserIDs {
		if u == id {
			return true
		}
	}
	return false
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
	// PollTimeout is the long-poll duration; default 10s.
	PollTimeout   string `json:"poll_timeout,omitempty"`
	AlertChatID   int64  `json:"alert_chat_id,omitempty"`
	AlertThreadID int    `json:"alert_thread_id,omitempty"`
	// CommandsPerMinute caps commands per sender; default 20. Applied live.
	CommandsPerMinute int `json:"commands_per_minute,omitempty"`
}

// NotifierConfig controls failure alerts sent to telegram.alert_chat_id.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default: 1
	DedupWindow string `json:"dedup_window,omitempty"` // default: 5m
	QueueSize   int    `json:"queue_size,omitempty"`   // default: 64
}

// OpsConfig controls the operational HTTP server (/healthz, /metrics, pprof).
//
// Prefer a loopback address; a non-loopback address requires a token.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: 127.0.0.1:9090
	Token   string `json:"token,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`
}
