package adapter

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	kit "feedbot/internal/transport"
)

// Telegram's documented bot limits: about 30 messages a second overall and
// one a second per chat, with short bursts tolerated.
const (
	globalPerSec  = 25
	chatPerSec    = 1
	chatBurst     = 3
	maxChatsKept  = 512
	chunkRunes    = 4000
	htmlParseMode = "HTML"
)

type sendLimits struct {
	global *rate.Limiter

	mu    sync.Mutex
	chats map[int64]*rate.Limiter
}

func newSendLimits() *sendLimits {
	return &sendLimits{
		global: rate.NewLimiter(globalPerSec, globalPerSec),
		chats:  map[int64]*rate.Limiter{},
	}
}

func (l *sendLimits) wait(ctx context.Context, chatID int64) error {
	l.mu.Lock()
	lim, ok := l.chats[chatID]
	if !ok {
		if len(l.chats) >= maxChatsKept {
			clear(l.chats)
		}
		lim = rate.NewLimiter(chatPerSec, chatBurst)
		l.chats[chatID] = lim
	}
	l.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	return l.global.Wait(ctx)
}

// SendText delivers text to a chat, split into chunks Telegram accepts.
// Each chunk waits for the rate limits; the returned ref is the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}
	send := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, chunkRunes, opt.ParseMode) {
		if err := a.send.wait(ctx, to.ChatID); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, send)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// splitTelegramText cuts s into chunks of at most limit runes, preferring
// newline boundaries. In HTML mode a cut never lands inside a tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = chunkRunes
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, htmlParseMode)

	var out []string
	for start := 0; start < len(rs); {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			end = cutPoint(rs, start, end, limit, html)
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func cutPoint(rs []rune, start, end, limit int, html bool) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && i-start >= limit/3 {
			end = i + 1
			break
		}
	}
	if !html {
		return end
	}
	open, closed := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			open = i
		case '>':
			closed = i
		}
	}
	if open > closed && open > start+1 {
		return open
	}
	return end
}
