package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// AppendEntry persists a journal entry.
func (s *Store) AppendEntry(ctx context.Context, e *journal.Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circulate_journal (
			id, task_id, label, kind, actor, book_id, member_id, loan_id,
			hold_id, outcome, error, elapsed_ms, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.Label, string(e.Kind),
		e.Actor, e.BookID, e.MemberID, e.LoanID, e.HoldID,
		string(e.Outcome), e.Error, e.ElapsedMS, nanos(e.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: append journal entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.JournalID) (*journal.Entry, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT
			id, task_id, label, kind, actor, book_id, member_id, loan_id,
			hold_id, outcome, error, elapsed_ms, recorded_at
		FROM circulate_journal
		WHERE id = ?`,
		entryID,
	)

	e, err := scanEntry(r)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrEntryNotFound
		}
		return nil, fmt.Errorf("circulate/sqlite: get journal entry: %w", err)
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

	if f.Label != "" {
		query += " AND label = ?"
		args = append(args, f.Label)
	}
	if !f.Actor.IsNil() {
		query += " AND actor = ?"
		args = append(args, f.Actor)
	}
	if !f.BookID.IsNil() {
		query += " AND book_id = ?"
		args = append(args, f.BookID)
	}
	if !f.MemberID.IsNil() {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	if !f.Since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, nanos(f.Since))
	}
	if !f.Until.IsZero() {
		query += " AND recorded_at < ?"
		args = append(args, nanos(f.Until))
	}

	query += " ORDER BY recorded_at DESC"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []*journal.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan journal row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate journal rows: %w", err)
	}
	return entries, nil
}

// CountEntries returns the total number of journal entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM circulate_journal`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("circulate/sqlite: count journal entries: %w", err)
	}
	return count, nil
}

// PurgeEntries removes entries recorded before the given time.
func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM circulate_journal WHERE recorded_at < ?`,
		nanos(before),
	)
	if err != nil {
		return 0, fmt.Errorf("circulate/sqlite: purge journal entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}

// scanEntry scans a single journal entry row.
func scanEntry(r row) (*journal.Entry, error) {
	var (
		e          journal.Entry
		kindStr    string
		outcomeStr string
		recordedNS int64
	)
	err := r.Scan(
		&e.ID, &e.TaskID, &e.Label, &kindStr,
		&e.Actor, &e.BookID, &e.MemberID, &e.LoanID, &e.HoldID,
		&outcomeStr, &e.Error, &e.ElapsedMS, &recordedNS,
	)
	if err != nil {
		return nil, err
	}
	e.Kind = circulation.Kind(kindStr)
	e.Outcome = journal.Outcome(outcomeStr)
	e.RecordedAt = fromNanos(recordedNS)
	return &e, nil
}
