package catalog

import (
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/id"
)

// Loan records one copy of a book checked out to a member. ReturnedAt is
// nil while the loan is open.
type Loan struct {
	circulate.Entity

	ID         id.LoanID   `json:"id"`
	BookID     id.BookID   `json:"book_id"`
	MemberID   id.MemberID `json:"member_id"`
	BorrowedAt time.Time   `json:"borrowed_at"`
	DueAt      time.Time   `json:"due_at"`
	ReturnedAt *time.Time  `json:"returned_at,omitempty"`
}

// Open reports whether the loan has not been returned yet.
func (l *Loan) Open() bool {
	return l.ReturnedAt == nil
}

// Overdue reports whether the loan is open past its due date.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Open() && now.After(l.DueAt)
}
