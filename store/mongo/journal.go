package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// AppendEntry persists a journal entry.
func (s *Store) AppendEntry(ctx context.Context, e *journal.Entry) error {
	m := toEntryModel(e)
	_, err := s.db.Collection(colJournal).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: append entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a journal entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.JournalID) (*journal.Entry, error) {
	var m journalEntryModel
	err := s.db.Collection(colJournal).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, circulate.ErrEntryNotFound
		}
		return nil, fmt.Errorf("circulate/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

// ListEntries returns journal entries matching the filter, newest first.
func (s *Store) ListEntries(ctx context.Context, f journal.Filter) ([]*journal.Entry, error) {
	filter := bson.M{}
	if f.Label != "" {
		filter["label"] = f.Label
	}
	if !f.Actor.IsNil() {
		filter["actor"] = f.Actor.String()
	}
	if !f.BookID.IsNil() {
		filter["book_id"] = f.BookID.String()
	}
	if !f.MemberID.IsNil() {
		filter["member_id"] = f.MemberID.String()
	}
	recorded := bson.M{}
	if !f.Since.IsZero() {
		recorded["$gte"] = f.Since
	}
	if !f.Until.IsZero() {
		recorded["$lt"] = f.Until
	}
	if len(recorded) > 0 {
		filter["recorded_at"] = recorded
	}

	findOpts := findOptions(bson.D{{Key: "recorded_at", Value: -1}}, f.Limit, f.Offset)
	cursor, err := s.db.Collection(colJournal).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: list entries: %w", err)
	}
	defer cursor.Close(ctx)

	var models []journalEntryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("circulate/mongo: list entries decode: %w", err)
	}

	entries := make([]*journal.Entry, 0, len(models))
	for i := range models {
		e, convErr := fromEntryModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("circulate/mongo: list entries convert: %w", convErr)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CountEntries returns the total number of journal entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	count, err := s.db.Collection(colJournal).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("circulate/mongo: count entries: %w", err)
	}
	return count, nil
}

// PurgeEntries removes entries recorded before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colJournal).DeleteMany(ctx, bson.M{
		"recorded_at": bson.M{"$lt": before},
	})
	if err != nil {
		return 0, fmt.Errorf("circulate/mongo: purge entries: %w", err)
	}
	return res.DeletedCount, nil
}
