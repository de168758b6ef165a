package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	kit "feedbot/internal/transport"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig forwards lines at or above MinLevel to the alert chat.
type TelegramConfig struct {
	Enabled    bool
	ChatID     int64
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

const defaultLogFile = "./feedbot.log"

// Service owns the live sink set. Loggers it hands out pick up every Apply.
type Service struct {
	mu   sync.Mutex
	file *os.File

	zl     atomic.Pointer[zerolog.Logger]
	alerts *alertSink
}

// New builds the service and applies cfg. sender may be nil and attached
// later with SetSender. A log file that cannot be opened is reported on
// stderr and skipped.
func New(cfg Config, sender kit.Adapter) (*Service, Logger) {
	s := &Service{alerts: newAlertSink(sender)}
	boot := newZero(consoleWriter(os.Stdout), ParseLevel(cfg.Level, LevelInfo))
	s.zl.Store(&boot)
	if err := s.Apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "logx: %v\n", err)
	}
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	if zl := s.zl.Load(); zl != nil {
		return *zl
	}
	return zerolog.Nop()
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetSender attaches the Telegram adapter once it exists.
func (s *Service) SetSender(sender kit.Adapter) { s.alerts.setSender(sender) }

// Apply rebuilds the sinks from cfg. The previous log file is closed. On a
// file error the remaining sinks still take effect and the error is
// returned.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var (
		sinks   []io.Writer
		fileErr error
	)
	if cfg.Console {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = defaultLogFile
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fileErr = fmt.Errorf("open log file %q: %w", path, err)
		} else {
			s.file = f
			sinks = append(sinks, zerolog.SyncWriter(f))
		}
	}
	s.alerts.configure(cfg.Telegram)
	if cfg.Telegram.Enabled && cfg.Telegram.ChatID != 0 {
		sinks = append(sinks, s.alerts)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, consoleWriter(os.Stdout))
	}

	zl := newZero(zerolog.MultiLevelWriter(sinks...), ParseLevel(cfg.Level, LevelInfo))
	s.zl.Store(&zl)
	return fileErr
}

// Close stops the alert sender and closes the log file.
func (s *Service) Close() error {
	s.alerts.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f != nil {
		return f.Close()
	}
	return nil
}
