package dlq

import (
	"time"

	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/id"
)

// Entry represents a circulation op whose task failed, retained in the
// dead letter queue for inspection or replay.
type Entry struct {
	ID         id.DLQID        `json:"id"`
	TaskID     id.TaskID       `json:"task_id"`
	Label      string          `json:"label"`
	Op         *circulation.Op `json:"op"`
	Error      string          `json:"error"`
	Attempts   int             `json:"attempts"`
	FailedAt   time.Time       `json:"failed_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Replayed reports whether the entry has already been replayed.
func (e *Entry) Replayed() bool { return e.ReplayedAt != nil }
