package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrDisabled    = errors.New("engine: disabled")
	ErrStopped     = errors.New("engine: not running")
	ErrStopping    = errors.New("engine: shutting down")
	ErrQueueFull   = errors.New("engine: run queue full")
	ErrOverlapSkip = errors.New("engine: previous run with this key still pending")
)

// Config controls the task execution engine. The app maps config.task_engine
// into this struct.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout is used when Task.Timeout is 0. 0 disables it.
	DefaultTimeout time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	return c
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning skips a task whose key is already queued or running.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// keyGate counts queued plus running tasks for one overlap key, so a timer
// that fires faster than the device can dispense never stacks runs.
type keyGate struct {
	mu      sync.Mutex
	pending int
}

func (g *keyGate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending > 0 {
		return false
	}
	g.pending = 1
	return true
}

func (g *keyGate) leave() {
	g.mu.Lock()
	g.pending = 0
	g.mu.Unlock()
}

func (g *keyGate) busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending > 0
}

// Task is one unit of work. Each task runs exactly once; failures are
// recorded, never retried.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Overlap OverlapPolicy
	// Key groups tasks for overlap gating; defaults to Name.
	Key string
}

type HistoryItem struct {
	ID         string
	Name       string
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// TaskEvent is published on the event bus when a task fails.
type TaskEvent struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Enabled        bool
	Workers        int
	QueueLen       int
	QueueCap       int
	InFlight       int
	Dropped        uint64
	Skipped        uint64
	DefaultTimeout time.Duration
	History        []HistoryItem
}
