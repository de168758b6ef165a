package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedbot/internal/feeding"
)

const defaultBusyTimeout = 5 * time.Second

const scheduleColumns = `id, name, hour, minute, amount_grams, active, owner_id, created_at`

func (s *Store) GetSchedule(ctx context.Context, id int64) (feeding.Schedule, error) {
	return queryGetSchedule(ctx, s.db, id)
}

func (s *Store) InsertSchedule(ctx context.Context, sc feeding.Schedule) (feeding.Schedule, error) {
	return queryInsertSchedule(ctx, s.db, sc)
}

func (s *Store) ListSchedules(ctx context.Context, f ScheduleFilter) ([]feeding.Schedule, error) {
	return queryListSchedules(ctx, s.db, f)
}

func queryGetSchedule(ctx context.Context, db executor, id int64) (feeding.Schedule, error) {
	row := db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return feeding.Schedule{}, fmt.Errorf("schedule %d: %w", id, feeding.ErrNotFound)
	}
	if err != nil {
		return feeding.Schedule{}, feeding.Persistence("get schedule", err)
	}
	return sc, nil
}

func queryInsertSchedule(ctx context.Context, db executor, sc feeding.Schedule) (feeding.Schedule, error) {
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now()
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO schedules (name, hour, minute, amount_grams, active, owner_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.Name, sc.At.Hour, sc.At.Minute, sc.AmountGrams, sc.Active, sc.OwnerID, sc.CreatedAt.UnixMicro(),
	)
	if err != nil {
		return feeding.Schedule{}, feeding.Persistence("insert schedule", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return feeding.Schedule{}, feeding.Persistence("insert schedule", err)
	}
	sc.ID = id
	sc.CreatedAt = time.UnixMicro(sc.CreatedAt.UnixMicro())
	return sc, nil
}

func queryUpdateSchedule(ctx context.Context, db executor, sc feeding.Schedule) error {
	res, err := db.ExecContext(ctx,
		`UPDATE schedules SET name = ?, hour = ?, minute = ?, amount_grams = ?, active = ? WHERE id = ?`,
		sc.Name, sc.At.Hour, sc.At.Minute, sc.AmountGrams, sc.Active, sc.ID,
	)
	return checkAffected("update schedule", sc.ID, res, err)
}

func queryDeleteSchedule(ctx context.Context, db executor, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return checkAffected("delete schedule", id, res, err)
}

func checkAffected(op string, id int64, res sql.Result, err error) error {
	if err != nil {
		return feeding.Persistence(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return feeding.Persistence(op, err)
	}
	if n == 0 {
		return fmt.Errorf("schedule %d: %w", id, feeding.ErrNotFound)
	}
	return nil
}

func queryListSchedules(ctx context.Context, db executor, f ScheduleFilter) ([]feeding.Schedule, error) {
	var (
		where []string
		args  []any
	)
	if f.ActiveOnly {
		where = append(where, "active = 1")
	}
	if f.OwnerID != 0 {
		where = append(where, "owner_id = ?")
		args = append(args, f.OwnerID)
	}
	q := `SELECT ` + scheduleColumns + ` FROM schedules`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY hour, minute, id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, feeding.Persistence("list schedules", err)
	}
	defer rows.Close()

	var out []feeding.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, feeding.Persistence("scan schedule", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, feeding.Persistence("list schedules", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (feeding.Schedule, error) {
	var (
		sc        feeding.Schedule
		createdAt int64
	)
	err := row.Scan(&sc.ID, &sc.Name, &sc.At.Hour, &sc.At.Minute, &sc.AmountGrams, &sc.Active, &sc.OwnerID, &createdAt)
	if err != nil {
		return feeding.Schedule{}, err
	}
	sc.CreatedAt = time.UnixMicro(createdAt)
	return sc, nil
}
