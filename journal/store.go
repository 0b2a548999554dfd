package journal

import (
	"context"
	"time"

	"github.com/xraph/circulate/id"
)

// Filter selects journal entries. Zero-value fields are ignored.
type Filter struct {
	// Label filters by task label. Empty means all labels.
	Label string
	// Actor filters by the member who initiated the op.
	Actor id.MemberID
	// BookID filters by the book the op touched.
	BookID id.BookID
	// MemberID filters by the member the op touched.
	MemberID id.MemberID
	// Since excludes entries recorded before this time.
	Since time.Time
	// Until excludes entries recorded at or after this time.
	Until time.Time
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
}

// Store defines the persistence contract for the journal. Entries are
// listed newest first.
type Store interface {
	// AppendEntry persists a journal entry.
	AppendEntry(ctx context.Context, e *Entry) error

	// GetEntry retrieves an entry by ID. Missing entries fail with
	// circulate.ErrEntryNotFound.
	GetEntry(ctx context.Context, entryID id.JournalID) (*Entry, error)

	// ListEntries returns entries matching the filter, newest first.
	ListEntries(ctx context.Context, f Filter) ([]*Entry, error)

	// CountEntries returns the total number of journal entries.
	CountEntries(ctx context.Context) (int64, error)

	// PurgeEntries removes entries recorded before the given time and
	// returns the number removed.
	PurgeEntries(ctx context.Context, before time.Time) (int64, error)
}
