package circulation

import (
	"fmt"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

// Kind identifies a circulation operation. The kind doubles as the label
// of the scheduler task that executes the op.
type Kind string

const (
	// KindAddBook catalogs a new book.
	KindAddBook Kind = "book.add"
	// KindUpdateBook edits a cataloged book.
	KindUpdateBook Kind = "book.update"
	// KindRemoveBook removes a book from the catalog.
	KindRemoveBook Kind = "book.delete"
	// KindBorrow checks a copy out to a member.
	KindBorrow Kind = "loan.borrow"
	// KindReturn checks a borrowed copy back in.
	KindReturn Kind = "loan.return"
	// KindReserve places a hold for a member.
	KindReserve Kind = "hold.place"
	// KindCancelHold withdraws an active hold.
	KindCancelHold Kind = "hold.cancel"
	// KindSync upserts a batch of books pulled from an external source.
	KindSync Kind = "catalog.sync"
)

// Op is a serializable descriptor of one circulation operation. Service
// methods build ops internally; stored ops (dead letters, wire frames)
// are re-executed through [Service.Apply].
//
// Only the fields the kind requires are set. A sync op carries the full
// pulled batch so it can be replayed without contacting the source again.
type Op struct {
	Kind  Kind        `json:"kind"`
	Actor id.MemberID `json:"actor,omitempty"`

	Book     *catalog.Book  `json:"book,omitempty"`
	BookID   id.BookID      `json:"book_id,omitempty"`
	MemberID id.MemberID    `json:"member_id,omitempty"`
	LoanID   id.LoanID      `json:"loan_id,omitempty"`
	HoldID   id.HoldID      `json:"hold_id,omitempty"`
	Source   string         `json:"source,omitempty"`
	Books    []catalog.Book `json:"books,omitempty"`

	// Attempt counts prior failed executions of this op. Zero on first
	// submission; dead letter replay stamps it from the entry.
	Attempt int `json:"attempt,omitempty"`
}

// Label returns the scheduler task label for this op.
func (o *Op) Label() string { return string(o.Kind) }

// Validate checks that the op carries the payload its kind requires.
// It fails with circulate.ErrUnknownOp or circulate.ErrBadOp.
func (o *Op) Validate() error {
	switch o.Kind {
	case KindAddBook:
		if o.Book == nil {
			return fmt.Errorf("%w: %s requires a book", circulate.ErrBadOp, o.Kind)
		}
	case KindUpdateBook:
		if o.Book == nil {
			return fmt.Errorf("%w: %s requires a book", circulate.ErrBadOp, o.Kind)
		}
		if o.Book.ID.IsNil() {
			return fmt.Errorf("%w: %s requires a book id", circulate.ErrBadOp, o.Kind)
		}
	case KindRemoveBook:
		if o.BookID.IsNil() {
			return fmt.Errorf("%w: %s requires a book id", circulate.ErrBadOp, o.Kind)
		}
	case KindBorrow, KindReserve:
		if o.BookID.IsNil() || o.MemberID.IsNil() {
			return fmt.Errorf("%w: %s requires a book id and a member id", circulate.ErrBadOp, o.Kind)
		}
	case KindReturn:
		if o.LoanID.IsNil() {
			return fmt.Errorf("%w: %s requires a loan id", circulate.ErrBadOp, o.Kind)
		}
	case KindCancelHold:
		if o.HoldID.IsNil() {
			return fmt.Errorf("%w: %s requires a hold id", circulate.ErrBadOp, o.Kind)
		}
	case KindSync:
		// An empty batch is a legal no-op sync.
	default:
		return fmt.Errorf("%w: %q", circulate.ErrUnknownOp, o.Kind)
	}
	return nil
}
