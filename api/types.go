package api

import (
	"time"

	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/sched"
)

// BorrowRequest names the member taking out a loan.
type BorrowRequest struct {
	MemberID string `json:"member_id"`
}

// ReserveRequest names the member placing a hold.
type ReserveRequest struct {
	MemberID string `json:"member_id"`
}

// SetConcurrencyRequest carries the requested scheduler limit.
type SetConcurrencyRequest struct {
	Limit int `json:"limit"`
}

// ConcurrencyResponse reports the effective limit after clamping.
type ConcurrencyResponse struct {
	Concurrency int `json:"concurrency"`
}

// ClearResponse reports how many pending tasks were discarded.
type ClearResponse struct {
	Dropped int `json:"dropped"`
}

// CountResponse wraps a bare count.
type CountResponse struct {
	Count int64 `json:"count"`
}

// PurgeDLQResponse reports how many entries a purge removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// ReplayResponse carries the replayed task and its result.
type ReplayResponse struct {
	TaskID string `json:"task_id"`
	Result any    `json:"result"`
}

// StatsResponse aggregates scheduler, journal, and DLQ counters.
type StatsResponse struct {
	Scheduler sched.Stats          `json:"scheduler"`
	Progress  circulation.Progress `json:"progress"`
	Journal   int64                `json:"journal_entries"`
	DLQ       int64                `json:"dlq_entries"`
}

// SyncStatusResponse describes the syncer's sources and schedule state.
type SyncStatusResponse struct {
	Sources []string  `json:"sources"`
	NextRun time.Time `json:"next_run"`
	LastRun time.Time `json:"last_run"`
}

// StatusResponse is a bare status acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
