package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"feedbot/internal/feeding"
	logx "feedbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the SQLite-backed persistence layer.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the database file, applies pragmas and runs
// pending migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers; WAL keeps readers cheap.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := New(db, log)
	if !cfg.SkipMigrate {
		if err := s.Migrate(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	s.log.Debug("storage opened", logx.String("path", path))
	return s, nil
}

// New wraps an existing handle without touching the schema.
func New(db *sql.DB, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{db: db, log: log}
}

func (s *Store) newMigrator() (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Migrate applies all pending up migrations. The migrator is not closed
// because that would close the shared *sql.DB.
func (s *Store) Migrate() error {
	m, err := s.newMigrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *Store) SchemaVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrator()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Ping checks the connection; used by the ops health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return feeding.Persistence("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunInTransaction runs fn inside one transaction, committing on success.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return feeding.Persistence("begin transaction", err)
	}
	if err := fn(&Tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return feeding.Persistence("commit transaction", err)
	}
	return nil
}

// Tx exposes schedule queries bound to an open transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) GetSchedule(ctx context.Context, id int64) (feeding.Schedule, error) {
	return queryGetSchedule(ctx, t.tx, id)
}

func (t *Tx) InsertSchedule(ctx context.Context, s feeding.Schedule) (feeding.Schedule, error) {
	return queryInsertSchedule(ctx, t.tx, s)
}

func (t *Tx) UpdateSchedule(ctx context.Context, s feeding.Schedule) error {
	return queryUpdateSchedule(ctx, t.tx, s)
}

func (t *Tx) DeleteSchedule(ctx context.Context, id int64) error {
	return queryDeleteSchedule(ctx, t.tx, id)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
