package circulate

import "time"

// Config holds configuration for a Circulator.
type Config struct {
	// Concurrency is the scheduler's concurrency limit: the maximum
	// number of circulation tasks in flight at once. Values below 1 are
	// clamped up to 1.
	Concurrency int

	// LoanPeriod is how long a borrowed book may be kept before it is
	// due.
	LoanPeriod time.Duration

	// LoanLimit is the maximum number of open loans per member.
	LoanLimit int

	// SyncSchedule is the cron expression for scheduled catalog syncs.
	// Empty disables scheduled syncing.
	SyncSchedule string

	// ShutdownTimeout is the maximum time to wait for in-flight tasks
	// during graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		LoanPeriod:      14 * 24 * time.Hour,
		LoanLimit:       5,
		SyncSchedule:    "",
		ShutdownTimeout: 30 * time.Second,
	}
}
