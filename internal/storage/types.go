package storage

import (
	"context"
	"database/sql"
	"time"
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
	// SkipMigrate leaves the schema untouched on Open.
	SkipMigrate bool
}

// ScheduleFilter narrows ListSchedules. Zero value lists everything.
type ScheduleFilter struct {
	ActiveOnly bool
	OwnerID    int64 // 0 = any owner
}

// DispenseQuery pages the dispense log newest-first.
type DispenseQuery struct {
	Limit  int
	Offset int
}

// executor is satisfied by both *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
