package catalog

import (
	"context"

	"github.com/xraph/circulate/id"
)

// BookFilter controls pagination and filtering for book list queries.
type BookFilter struct {
	// ISBN filters to an exact ISBN match. Empty means all.
	ISBN string
	// Genre filters by genre. Empty means all.
	Genre string
	// Limit is the maximum number of books to return. Zero means no limit.
	Limit int
	// Offset is the number of books to skip.
	Offset int
}

// MemberFilter controls pagination and filtering for member list queries.
type MemberFilter struct {
	// Role filters by role. Empty means all roles.
	Role Role
	// Limit is the maximum number of members to return. Zero means no limit.
	Limit int
	// Offset is the number of members to skip.
	Offset int
}

// LoanFilter controls pagination and filtering for loan list queries.
type LoanFilter struct {
	// BookID filters by book. Nil means all books.
	BookID id.BookID
	// MemberID filters by member. Nil means all members.
	MemberID id.MemberID
	// OpenOnly restricts results to loans not yet returned.
	OpenOnly bool
	// Limit is the maximum number of loans to return. Zero means no limit.
	Limit int
	// Offset is the number of loans to skip.
	Offset int
}

// HoldFilter controls pagination and filtering for hold list queries.
type HoldFilter struct {
	// BookID filters by book. Nil means all books.
	BookID id.BookID
	// MemberID filters by member. Nil means all members.
	MemberID id.MemberID
	// Status filters by hold status. Empty means all statuses.
	Status HoldStatus
	// Limit is the maximum number of holds to return. Zero means no limit.
	Limit int
	// Offset is the number of holds to skip.
	Offset int
}

// Store defines the persistence contract for the catalog. Implementations
// return the package-level sentinel errors from the root package
// (circulate.ErrBookNotFound and friends) for missing entities.
type Store interface {
	// CreateBook persists a new book.
	CreateBook(ctx context.Context, b *Book) error

	// GetBook retrieves a book by ID.
	GetBook(ctx context.Context, bookID id.BookID) (*Book, error)

	// UpdateBook persists changes to an existing book.
	UpdateBook(ctx context.Context, b *Book) error

	// DeleteBook removes a book by ID.
	DeleteBook(ctx context.Context, bookID id.BookID) error

	// ListBooks returns books matching the filter, ordered by ID.
	ListBooks(ctx context.Context, f BookFilter) ([]*Book, error)

	// AdjustCopies atomically changes a book's available copy count by
	// delta and returns the new count. It fails with circulate.ErrNoCopies
	// when the adjustment would drive the count negative, leaving the
	// book unchanged.
	AdjustCopies(ctx context.Context, bookID id.BookID, delta int) (int, error)

	// CreateMember persists a new member.
	CreateMember(ctx context.Context, m *Member) error

	// GetMember retrieves a member by ID.
	GetMember(ctx context.Context, memberID id.MemberID) (*Member, error)

	// UpdateMember persists changes to an existing member.
	UpdateMember(ctx context.Context, m *Member) error

	// DeleteMember removes a member by ID.
	DeleteMember(ctx context.Context, memberID id.MemberID) error

	// ListMembers returns members matching the filter, ordered by ID.
	ListMembers(ctx context.Context, f MemberFilter) ([]*Member, error)

	// CreateLoan persists a new loan.
	CreateLoan(ctx context.Context, l *Loan) error

	// GetLoan retrieves a loan by ID.
	GetLoan(ctx context.Context, loanID id.LoanID) (*Loan, error)

	// UpdateLoan persists changes to an existing loan.
	UpdateLoan(ctx context.Context, l *Loan) error

	// ListLoans returns loans matching the filter, ordered by ID.
	ListLoans(ctx context.Context, f LoanFilter) ([]*Loan, error)

	// CountOpenLoans returns the number of open loans held by a member.
	CountOpenLoans(ctx context.Context, memberID id.MemberID) (int, error)

	// CreateHold persists a new hold.
	CreateHold(ctx context.Context, h *Hold) error

	// GetHold retrieves a hold by ID.
	GetHold(ctx context.Context, holdID id.HoldID) (*Hold, error)

	// UpdateHold persists changes to an existing hold.
	UpdateHold(ctx context.Context, h *Hold) error

	// ListHolds returns holds matching the filter, ordered by placement
	// time so the oldest active hold is first.
	ListHolds(ctx context.Context, f HoldFilter) ([]*Hold, error)
}
