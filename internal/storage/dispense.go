package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"feedbot/internal/feeding"
)

const dispenseColumns = `id, ts, amount_grams, trigger_kind, schedule_id, outcome, error_message, user_id`

// InsertDispense appends one ledger row. Rows are immutable once written.
func (s *Store) InsertDispense(ctx context.Context, r feeding.DispenseRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispense_log (`+dispenseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp.UnixMicro(), r.AmountGrams, string(r.Trigger),
		nullInt64(r.ScheduleID), string(r.Outcome), nullStr(r.Error), nullInt64(r.UserID),
	)
	return feeding.Persistence("insert dispense", err)
}

func (s *Store) GetDispense(ctx context.Context, id string) (feeding.DispenseRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+dispenseColumns+` FROM dispense_log WHERE id = ?`, id)
	r, err := scanDispense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return feeding.DispenseRecord{}, fmt.Errorf("dispense %s: %w", id, feeding.ErrNotFound)
	}
	if err != nil {
		return feeding.DispenseRecord{}, feeding.Persistence("get dispense", err)
	}
	return r, nil
}

// ListDispense returns records newest first.
func (s *Store) ListDispense(ctx context.Context, q DispenseQuery) ([]feeding.DispenseRecord, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dispenseColumns+` FROM dispense_log ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`,
		q.Limit, max(q.Offset, 0),
	)
	if err != nil {
		return nil, feeding.Persistence("list dispense", err)
	}
	defer rows.Close()

	var out []feeding.DispenseRecord
	for rows.Next() {
		r, err := scanDispense(rows)
		if err != nil {
			return nil, feeding.Persistence("scan dispense", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, feeding.Persistence("list dispense", err)
	}
	return out, nil
}

// DispenseStats aggregates records with ts >= since. TotalGrams counts
// successful dispenses only.
func (s *Store) DispenseStats(ctx context.Context, since time.Time) (feeding.Stats, error) {
	var st feeding.Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN outcome = 'success' THEN amount_grams ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'failure' THEN 1 ELSE 0 END), 0)
		 FROM dispense_log WHERE ts >= ?`,
		since.UnixMicro(),
	).Scan(&st.TotalGrams, &st.SuccessCount, &st.FailureCount)
	if err != nil {
		return feeding.Stats{}, feeding.Persistence("dispense stats", err)
	}
	return st, nil
}

// LastDispenseTime returns the newest ledger timestamp, or the zero time.
func (s *Store) LastDispenseTime(ctx context.Context) (time.Time, error) {
	var ts int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(ts), 0) FROM dispense_log`).Scan(&ts)
	if err != nil {
		return time.Time{}, feeding.Persistence("last dispense", err)
	}
	if ts == 0 {
		return time.Time{}, nil
	}
	return time.UnixMicro(ts), nil
}

func scanDispense(row scanner) (feeding.DispenseRecord, error) {
	var (
		r          feeding.DispenseRecord
		ts         int64
		trigger    string
		outcome    string
		scheduleID sql.NullInt64
		errMsg     sql.NullString
		userID     sql.NullInt64
	)
	if err := row.Scan(&r.ID, &ts, &r.AmountGrams, &trigger, &scheduleID, &outcome, &errMsg, &userID); err != nil {
		return feeding.DispenseRecord{}, err
	}
	r.Timestamp = time.UnixMicro(ts)
	r.Trigger = feeding.TriggerKind(trigger)
	r.Outcome = feeding.Outcome(outcome)
	r.Error = errMsg.String
	if scheduleID.Valid {
		r.ScheduleID = feeding.Int64Ptr(scheduleID.Int64)
	}
	if userID.Valid {
		r.UserID = feeding.Int64Ptr(userID.Int64)
	}
	return r, nil
}
