package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "feedbot/pkg/logx"
)

const (
	reloadDebounce   = 250 * time.Millisecond
	validatorTimeout = 5 * time.Second
	rewatchMin       = 250 * time.Millisecond
	rewatchMax       = 5 * time.Second
)

// reload is one debounced pass: parse, skip if unchanged, validate, commit
// and publish. A bad file leaves the committed config in place.
func (m *ConfigManager) reload(ctx context.Context) {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.Err(err))
		return
	}
	if m.sameAsCommitted(cfg) {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	if err := Validate(cfg); err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	if m.validator != nil {
		vctx, cancel := context.WithTimeout(ctx, validatorTimeout)
		err := m.validator(vctx, cfg)
		cancel()
		if err != nil {
			m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
			return
		}
	}
	m.Commit(cfg)
	m.publish(cfg)
	m.log.Info("config file reloaded", logx.String("path", m.path))
}

// debouncer runs fn once after a quiet period following the last kick.
type debouncer struct {
	mu    sync.Mutex
	timer *time.Timer
	wait  time.Duration
	fn    func()
}

func (d *debouncer) kick() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Watch reloads the file whenever it changes until ctx ends. It watches the
// parent directory so editors that replace the file are seen. A broken
// watcher is rebuilt with jittered exponential backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	deb := &debouncer{wait: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer deb.stop()

	backoff := rewatchMin
	for {
		err := m.watchOnce(ctx, dir, file, deb, func() { backoff = rewatchMin })
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher down; retrying", logx.String("dir", dir), logx.Err(err), logx.Duration("backoff", backoff))
		wait := backoff + rand.N(backoff/2+1)
		backoff = min(backoff*2, rewatchMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// watchOnce runs a single fsnotify watcher until it breaks or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, deb *debouncer, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if ev.Op&relevant != 0 && strings.EqualFold(filepath.Base(ev.Name), file) {
				deb.kick()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; reloading", logx.String("dir", dir))
				deb.kick()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}
