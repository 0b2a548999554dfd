// Package store defines the aggregate persistence interface. Each subsystem
// (catalog, journal, dlq, cluster) defines its own store interface. The
// composite Store composes them all. Backends: Postgres, Bun, SQLite,
// Redis, Mongo, and Memory.
package store

import (
	"context"

	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/journal"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (postgres, bun, sqlite, etc.) implements all of them.
type Store interface {
	catalog.Store
	journal.Store
	dlq.Store
	cluster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
