// Package transport defines the chat-transport contract used by feedbot's
// command router, notifier and log sink. The Telegram adapter is the only
// implementation today.
package transport

import (
	"context"
	"io"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	// Photo is set for photo messages; Text then holds the caption.
	Photo *Photo
}

// Photo references the largest size of an incoming photo.
type Photo struct {
	FileID string
	Size   int64
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is a queued outbound message.
type Notification struct {
	Target ChatTarget
	Text   string
	// Key deduplicates repeated alerts within the notifier window.
	Key     string
	Options *SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// FileDownloader is implemented by adapters that can fetch incoming files.
type FileDownloader interface {
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
