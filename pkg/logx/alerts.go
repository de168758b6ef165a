package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "feedbot/internal/transport"
	"feedbot/pkg/tgui"
)

const (
	alertQueueSize = 256
	alertValueMax  = 300
)

// alertSink turns log lines into Telegram alerts. Writes never block: lines
// below the minimum level, over the rate limit, or past a full queue are
// dropped.
type alertSink struct {
	mu       sync.Mutex
	sender   kit.Adapter
	to       kit.ChatTarget
	minLevel Level
	limiter  *rate.Limiter

	queue  chan string
	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newAlertSink(sender kit.Adapter) *alertSink {
	return &alertSink{sender: sender, queue: make(chan string, alertQueueSize), minLevel: LevelWarn}
}

func (a *alertSink) setSender(sender kit.Adapter) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

func (a *alertSink) configure(cfg TelegramConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	a.minLevel = ParseLevel(cfg.MinLevel, LevelWarn)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	if cfg.Enabled && cfg.ChatID != 0 {
		a.start.Do(a.run)
	}
}

func (a *alertSink) run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	a.cancel = cancel
	a.done = make(chan struct{})
	done := a.done
	a.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-a.queue:
				a.mu.Lock()
				sender, to := a.sender, a.to
				a.mu.Unlock()
				if sender == nil || to.ChatID == 0 {
					continue
				}
				_, _ = sender.SendText(ctx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
			}
		}
	}()
}

func (a *alertSink) close() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (a *alertSink) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	ok := a.to.ChatID != 0 && level >= a.minLevel && a.limiter != nil && a.limiter.Allow()
	a.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	select {
	case a.queue <- renderAlert(p):
	default:
	}
	return len(p), nil
}

// renderAlert formats a JSON log line as an HTML card, sorted by key.
func renderAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return string(tgui.Esc(tgui.TruncRunes(strings.TrimSpace(string(p)), alertValueMax*10)))
	}
	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	card := tgui.NewCard(levelEmoji(lvl), strings.ToUpper(lvl)+" "+msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		card.KV(k, tgui.TruncRunes(fmt.Sprint(m[k]), alertValueMax))
	}
	return card.String()
}

func levelEmoji(lvl string) string {
	switch lvl {
	case "error", "fatal", "panic":
		return "🚨"
	case "warn":
		return "⚠️"
	default:
		return "ℹ️"
	}
}
