package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
)

// PushDLQ adds a failed op entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	opJSON, err := json.Marshal(entry.Op)
	if err != nil {
		return fmt.Errorf("circulate/postgres: marshal dlq op: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO circulate_dlq (
			id, task_id, label, op, error, attempts,
			failed_at, replayed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.TaskID, entry.Label, opJSON, entry.Error,
		entry.Attempts, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: push dlq: %w", err)
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
	argIdx := 1

	if opts.Label != "" {
		query += fmt.Sprintf(" AND label = $%d", argIdx)
		args = append(args, opts.Label)
		argIdx++
	}
	if opts.Unreplayed {
		query += " AND replayed_at IS NULL"
	}

	query += " ORDER BY failed_at ASC"
	query, args = paginate(query, args, argIdx, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	var entries []*dlq.Entry
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, task_id, label, op, error, attempts,
			failed_at, replayed_at, created_at
		FROM circulate_dlq
		WHERE id = $1`,
		entryID,
	)

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrDLQNotFound
		}
		return nil, fmt.Errorf("circulate/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE circulate_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return circulate.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM circulate_dlq WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("circulate/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM circulate_dlq`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("circulate/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e      dlq.Entry
		opJSON []byte
	)
	err := row.Scan(
		&e.ID, &e.TaskID, &e.Label, &opJSON, &e.Error, &e.Attempts,
		&e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	var op circulation.Op
	if err := json.Unmarshal(opJSON, &op); err != nil {
		return nil, fmt.Errorf("circulate/postgres: unmarshal dlq op: %w", err)
	}
	e.Op = &op

	return &e, nil
}
