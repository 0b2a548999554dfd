package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/journal"
)

// Collection name constants.
const (
	colBooks     = "circulate_books"
	colMembers   = "circulate_members"
	colLoans     = "circulate_loans"
	colHolds     = "circulate_holds"
	colJournal   = "circulate_journal"
	colDLQ       = "circulate_dlq"
	colInstances = "circulate_instances"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ catalog.Store = (*Store)(nil)
	_ journal.Store = (*Store)(nil)
	_ dlq.Store     = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// Store implements the composite store.Store interface on a MongoDB
// database. The caller owns the client lifecycle; Store never
// disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a new MongoDB store on the given database handle.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *mongo.Database for advanced usage.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all circulate collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}

		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("circulate/mongo: migrate %s indexes: %w", col, err)
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all circulate
// collections, mirroring the SQL backends' indexes.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colBooks: {
			{Keys: bson.D{{Key: "isbn", Value: 1}}},
			{Keys: bson.D{{Key: "genre", Value: 1}}},
		},
		colMembers: {
			{Keys: bson.D{{Key: "role", Value: 1}}},
		},
		colLoans: {
			// Open-loan lookup per member.
			{Keys: bson.D{
				{Key: "member_id", Value: 1},
				{Key: "returned_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "book_id", Value: 1}}},
		},
		colHolds: {
			// Hold queue: oldest active hold per book.
			{Keys: bson.D{
				{Key: "book_id", Value: 1},
				{Key: "status", Value: 1},
				{Key: "placed_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "member_id", Value: 1}}},
		},
		colJournal: {
			{Keys: bson.D{{Key: "recorded_at", Value: -1}}},
			{Keys: bson.D{{Key: "label", Value: 1}}},
			{Keys: bson.D{{Key: "book_id", Value: 1}}},
			{Keys: bson.D{{Key: "member_id", Value: 1}}},
		},
		colDLQ: {
			{Keys: bson.D{{Key: "label", Value: 1}}},
			{Keys: bson.D{
				{Key: "replayed_at", Value: 1},
				{Key: "failed_at", Value: 1},
			}},
		},
		colInstances: {
			{Keys: bson.D{{Key: "is_leader", Value: 1}}},
			{Keys: bson.D{{Key: "last_seen", Value: 1}}},
		},
	}
}

// findOptions builds Find options with the shared sort/limit/offset shape.
func findOptions(sort bson.D, limit, offset int) *options.FindOptionsBuilder {
	findOpts := options.Find().SetSort(sort)
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	if offset > 0 {
		findOpts.SetSkip(int64(offset))
	}
	return findOpts
}
