package notifier

import (
	"context"
	"time"

	kit "feedbot/internal/transport"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled     bool
	QueueSize   int
	RatePerSec  int
	DedupWindow time.Duration
	// DedupMaxEntries caps the suppression cache.
	DedupMaxEntries int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 1000
	}
	return c
}

// Sender is the part of the chat adapter the notifier uses.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// HistoryItem is one delivery attempt, shown on the ops status page.
type HistoryItem struct {
	At    time.Time `json:"at"`
	Key   string    `json:"key"`
	Text  string    `json:"text"`
	Error string    `json:"error,omitempty"`
}
