package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// AppendEntry persists a journal entry.
func (s *Store) AppendEntry(ctx context.Context, e *journal.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circulate_journal (
			id, task_id, label, kind, actor, book_id, member_id, loan_id,
			hold_id, outcome, error, elapsed_ms, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.TaskID, e.Label, string(e.Kind),
		e.Actor, e.BookID, e.MemberID, e.LoanID, e.HoldID,
		e.Outcome, e.Error, e.ElapsedMS, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: append journal entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.JournalID) (*journal.Entry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, task_id, label, kind, actor, book_id, member_id, loan_id,
			hold_id, outcome, error, elapsed_ms, recorded_at
		FROM circulate_journal
		WHERE id = $1`,
		entryID,
	)

	e, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrEntryNotFound
		}
		return nil, fmt.Errorf("circulate/postgres: get journal entry: %w", err)
	}
	return e, nil
}

// ListEntries returns entries matching the filter, newest first.
func (s *Store) ListEntries(ctx context.Context, f journal.Filter) ([]*journal.Entry, error) {
	query := `
		SELECT
			id, task_id, label, kind, actor, book_id, member_id, loan_id,
			hold_id, outcome, error, elapsed_ms, recorded_at
		FROM circulate_journal
		WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Label != "" {
		query += fmt.Sprintf(" AND label = $%d", argIdx)
		args = append(args, f.Label)
		argIdx++
	}
	if !f.Actor.IsNil() {
		query += fmt.Sprintf(" AND actor = $%d", argIdx)
		args = append(args, f.Actor)
		argIdx++
	}
	if !f.BookID.IsNil() {
		query += fmt.Sprintf(" AND book_id = $%d", argIdx)
		args = append(args, f.BookID)
		argIdx++
	}
	if !f.MemberID.IsNil() {
		query += fmt.Sprintf(" AND member_id = $%d", argIdx)
		args = append(args, f.MemberID)
		argIdx++
	}
	if !f.Since.IsZero() {
		query += fmt.Sprintf(" AND recorded_at >= $%d", argIdx)
		args = append(args, f.Since)
		argIdx++
	}
	if !f.Until.IsZero() {
		query += fmt.Sprintf(" AND recorded_at < $%d", argIdx)
		args = append(args, f.Until)
		argIdx++
	}

	query += " ORDER BY recorded_at DESC"
	query, args = paginate(query, args, argIdx, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*journal.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan journal row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate journal rows: %w", err)
	}
	return entries, nil
}

// CountEntries returns the total number of journal entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM circulate_journal`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("circulate/postgres: count journal entries: %w", err)
	}
	return count, nil
}

// PurgeEntries removes entries recorded before the given time.
func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM circulate_journal WHERE recorded_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("circulate/postgres: purge journal entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanEntry scans a single journal entry row.
func scanEntry(row pgx.Row) (*journal.Entry, error) {
	var (
		e       journal.Entry
		kindStr string
	)
	err := row.Scan(
		&e.ID, &e.TaskID, &e.Label, &kindStr,
		&e.Actor, &e.BookID, &e.MemberID, &e.LoanID, &e.HoldID,
		&e.Outcome, &e.Error, &e.ElapsedMS, &e.RecordedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = circulation.Kind(kindStr)
	return &e, nil
}
