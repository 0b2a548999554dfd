package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// AppendEntry persists a journal entry.
func (s *Store) AppendEntry(ctx context.Context, e *journal.Entry) error {
	m := toJournalModel(e)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: append entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a journal entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.JournalID) (*journal.Entry, error) {
	m := new(journalEntryModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrEntryNotFound
		}
		return nil, fmt.Errorf("circulate/bun: get entry: %w", err)
	}
	return fromJournalModel(m), nil
}

// ListEntries returns journal entries matching the filter, newest first.
func (s *Store) ListEntries(ctx context.Context, f journal.Filter) ([]*journal.Entry, error) {
	var models []journalEntryModel
	q := s.db.NewSelect().Model(&models)

	if f.Label != "" {
		q = q.Where("label = ?", f.Label)
	}
	if !f.Actor.IsNil() {
		q = q.Where("actor = ?", f.Actor)
	}
	if !f.BookID.IsNil() {
		q = q.Where("book_id = ?", f.BookID)
	}
	if !f.MemberID.IsNil() {
		q = q.Where("member_id = ?", f.MemberID)
	}
	if !f.Since.IsZero() {
		q = q.Where("recorded_at >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("recorded_at < ?", f.Until)
	}

	q = q.Order("recorded_at DESC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: list entries: %w", err)
	}

	entries := make([]*journal.Entry, 0, len(models))
	for i := range models {
		entries = append(entries, fromJournalModel(&models[i]))
	}
	return entries, nil
}

// CountEntries returns the total number of journal entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		TableExpr("circulate_journal").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("circulate/bun: count entries: %w", err)
	}
	return int64(count), nil
}

// PurgeEntries removes entries recorded before the given time. Returns the
// number of entries removed.
func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		TableExpr("circulate_journal").
		Where("recorded_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("circulate/bun: purge entries: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return rows, nil
}
