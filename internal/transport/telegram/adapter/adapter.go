// Package adapter connects the bot transport to Telegram via telebot.
package adapter

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "feedbot/internal/runtime/supervisor"
	kit "feedbot/internal/transport"
	logx "feedbot/pkg/logx"
)

const defaultPollTimeout = 10 * time.Second

// Config holds the Telegram connection settings.
type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter long-polls Telegram and forwards text and photo messages as
// kit.Updates. It implements kit.Adapter, kit.FileDownloader and
// kit.CommandMenuUpdater.
type Adapter struct {
	log logx.Logger
	bot *tele.Bot

	mu  sync.Mutex
	out chan<- kit.Update
	sup *rtsup.Supervisor

	dropped atomic.Uint64
	dropLog rate.Sometimes

	send *sendLimits

	menuMu sync.Mutex
	menu   []tele.Command
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{
		log:     log,
		bot:     b,
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
		send:    newSendLimits(),
	}
	forward := func(c tele.Context) error {
		if up, ok := updateFromMessage(c.Message()); ok {
			a.forward(up)
		}
		return nil
	}
	b.Handle(tele.OnText, forward)
	b.Handle(tele.OnPhoto, forward)
	return a, nil
}

// updateFromMessage keeps messages with a sender. A photo's caption becomes
// the text so "/pellets" can ride along with the picture.
func updateFromMessage(m *tele.Message) (kit.Update, bool) {
	if m == nil || m.Chat == nil || m.Sender == nil {
		return kit.Update{}, false
	}
	msg := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}
	if m.Photo != nil {
		msg.Text = m.Caption
		msg.Photo = &kit.Photo{FileID: m.Photo.FileID, Size: int64(m.Photo.FileSize)}
	}
	return kit.Update{Kind: kit.UpdateMessage, Message: msg}, true
}

func (a *Adapter) forward(up kit.Update) {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		a.dropped.Add(1)
		a.dropLog.Do(func() {
			a.log.Warn("incoming updates dropped, dispatcher busy", logx.Uint64("count", a.dropped.Swap(0)), logx.Int("chan_cap", cap(out)))
		})
	}
}

// Download streams a file previously received in an update.
func (a *Adapter) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileID) == "" {
		return nil, errors.New("empty file id")
	}
	return a.bot.File(&tele.File{FileID: fileID})
}

// Start begins long polling. Calling it while running is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out = out
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.Component("telegram.adapter"))),
		rtsup.WithCancelOnError(false),
	)
	a.sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	a.sup.GoRestart("telebot.poll", func(context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// stopGrace bounds how long Stop waits for a pending getUpdates call.
const stopGrace = 2 * time.Second

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup, a.out = nil, nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	sup.Cancel()
	go a.bot.Stop()

	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}
