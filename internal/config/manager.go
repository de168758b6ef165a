package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"strings"
	"sync"

	logx "feedbot/pkg/logx"
)

// Secrets can stay out of the file. A non-empty variable overrides the
// matching key.
const (
	EnvTelegramToken = "FEEDBOT_TELEGRAM_TOKEN"
	EnvOpsToken      = "FEEDBOT_OPS_TOKEN"
)

// ConfigManager owns the committed config and fans validated reloads out to
// subscribers.
type ConfigManager struct {
	path string

	mu        sync.RWMutex
	cfg       *Config
	canonical []byte

	subsMu sync.Mutex
	subs   []chan *Config

	log       logx.Logger
	validator func(ctx context.Context, cfg *Config) error
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, log: logx.Nop()}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// SetValidator adds a check that a reload must pass, after Validate, before
// it is committed.
func (m *ConfigManager) SetValidator(fn func(ctx context.Context, cfg *Config) error) {
	m.validator = fn
}

// Parse reads the file, decodes it strictly and applies env overrides. The
// result is not validated or committed.
func (m *ConfigManager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	cfg, err := decode(m.path, b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	applyEnv(cfg, os.Getenv)
	return cfg, nil
}

func decode(path string, b []byte) (*Config, error) {
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	var rest json.RawMessage
	if err := dec.Decode(&rest); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after config document")
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvOpsToken)); v != "" {
		cfg.Ops.Token = v
	}
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file commits Default() with env
// overrides applied.
func (m *ConfigManager) LoadOrDefault() (*Config, error) {
	cfg, err := m.Load()
	if !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	cfg = Default()
	applyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	m.Commit(cfg)
	return cfg, nil
}

func (m *ConfigManager) Commit(cfg *Config) {
	b, _ := json.Marshal(cfg)
	m.mu.Lock()
	m.cfg, m.canonical = cfg, b
	m.mu.Unlock()
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// sameAsCommitted reports whether cfg encodes identically to the committed
// config, so touching the file without editing it publishes nothing.
func (m *ConfigManager) sameAsCommitted(cfg *Config) bool {
	b, err := json.Marshal(cfg)
	if err != nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.canonical != nil && bytes.Equal(b, m.canonical)
}

func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. It holds subsMu so a concurrent
// publish never sends on a closed channel.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if i := slices.Index(m.subs, ch); i >= 0 {
		m.subs = slices.Delete(m.subs, i, i+1)
		close(ch)
	}
}

// publish hands cfg to every subscriber. A full subscriber loses its oldest
// pending config, since only the newest matters.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		for range 2 {
			select {
			case ch <- cfg:
			default:
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}
