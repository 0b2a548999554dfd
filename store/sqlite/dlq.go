package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
)

// PushDLQ adds a failed op entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	opJSON, err := json.Marshal(entry.Op)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: marshal dlq op: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO circulate_dlq (
			id, task_id, label, op, error, attempts,
			failed_at, replayed_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TaskID, entry.Label, string(opJSON), entry.Error,
		entry.Attempts, nanos(entry.FailedAt), nanosPtr(entry.ReplayedAt),
		nanos(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, oldest
// failure first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `
		SELECT
			id, task_id, label, op, error, attempts,
			failed_at, replayed_at, created_at
		FROM circulate_dlq
		WHERE 1=1`
	args := []any{}

	if opts.Label != "" {
		query += " AND label = ?"
		args = append(args, opts.Label)
	}
	if opts.Unreplayed {
		query += " AND replayed_at IS NULL"
	}

	query += " ORDER BY failed_at ASC"
	query, args = paginate(query, args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT
			id, task_id, label, op, error, attempts,
			failed_at, replayed_at, created_at
		FROM circulate_dlq
		WHERE id = ?`,
		entryID,
	)

	e, err := scanDLQ(r)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrDLQNotFound
		}
		return nil, fmt.Errorf("circulate/sqlite: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE circulate_dlq SET replayed_at = ? WHERE id = ?`,
		nanos(time.Now().UTC()), entryID,
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: replay dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM circulate_dlq WHERE failed_at < ?`,
		nanos(before),
	)
	if err != nil {
		return 0, fmt.Errorf("circulate/sqlite: purge dlq: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM circulate_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("circulate/sqlite: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(r row) (*dlq.Entry, error) {
	var (
		e          dlq.Entry
		opJSON     string
		failedNS   int64
		replayedNS sql.NullInt64
		createdNS  int64
	)
	err := r.Scan(
		&e.ID, &e.TaskID, &e.Label, &opJSON, &e.Error, &e.Attempts,
		&failedNS, &replayedNS, &createdNS,
	)
	if err != nil {
		return nil, err
	}
	e.FailedAt = fromNanos(failedNS)
	e.ReplayedAt = fromNanosPtr(replayedNS)
	e.CreatedAt = fromNanos(createdNS)

	var op circulation.Op
	if err := json.Unmarshal([]byte(opJSON), &op); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: unmarshal dlq op: %w", err)
	}
	e.Op = &op

	return &e, nil
}
