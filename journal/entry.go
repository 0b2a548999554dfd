package journal

import (
	"time"

	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/id"
)

// Entry outcomes.
const (
	// OutcomeSuccess means the task's body returned nil.
	OutcomeSuccess = "success"
	// OutcomeFailure means the task's body returned an error or panicked.
	OutcomeFailure = "failure"
)

// Entry is one journaled task settlement. Entries are append-only;
// nothing updates them after the fact.
type Entry struct {
	ID     id.JournalID `json:"id"`
	TaskID id.TaskID    `json:"task_id"`
	Label  string       `json:"label"`

	// Kind and the entity references are set when the task carried a
	// circulation op.
	Kind     circulation.Kind `json:"kind,omitempty"`
	Actor    id.MemberID      `json:"actor,omitempty"`
	BookID   id.BookID        `json:"book_id,omitempty"`
	MemberID id.MemberID      `json:"member_id,omitempty"`
	LoanID   id.LoanID        `json:"loan_id,omitempty"`
	HoldID   id.HoldID        `json:"hold_id,omitempty"`

	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	RecordedAt time.Time `json:"recorded_at"`
}
