package catalog

import (
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/id"
)

// HoldStatus represents the lifecycle state of a hold.
type HoldStatus string

const (
	// HoldActive means the member is waiting for a copy.
	HoldActive HoldStatus = "active"
	// HoldFulfilled means a returned copy was matched to this hold.
	HoldFulfilled HoldStatus = "fulfilled"
	// HoldCancelled means the member withdrew the hold.
	HoldCancelled HoldStatus = "cancelled"
)

// Hold is a member's reservation for a book with no copies on the shelf.
// Holds are fulfilled oldest first when a copy comes back.
type Hold struct {
	circulate.Entity

	ID       id.HoldID   `json:"id"`
	BookID   id.BookID   `json:"book_id"`
	MemberID id.MemberID `json:"member_id"`
	PlacedAt time.Time   `json:"placed_at"`
	Status   HoldStatus  `json:"status"`
}

// Active reports whether the hold is still waiting for a copy.
func (h *Hold) Active() bool {
	return h.Status == HoldActive
}
