package circulate

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("circulate: no store configured")
	ErrStoreClosed     = errors.New("circulate: store closed")
	ErrMigrationFailed = errors.New("circulate: migration failed")

	// Not found errors.
	ErrBookNotFound     = errors.New("circulate: book not found")
	ErrMemberNotFound   = errors.New("circulate: member not found")
	ErrLoanNotFound     = errors.New("circulate: loan not found")
	ErrHoldNotFound     = errors.New("circulate: hold not found")
	ErrEntryNotFound    = errors.New("circulate: journal entry not found")
	ErrDLQNotFound      = errors.New("circulate: dlq entry not found")
	ErrInstanceNotFound = errors.New("circulate: instance not found")

	// Conflict errors.
	ErrDuplicateISBN = errors.New("circulate: isbn already cataloged")
	ErrHoldExists    = errors.New("circulate: member already holds this book")
	ErrBookBorrowed  = errors.New("circulate: book has open loans")

	// Circulation rule errors. These surface as task failures on the
	// submitting caller's outcome, never as scheduler errors.
	ErrNoCopies   = errors.New("circulate: no copies available")
	ErrLoanClosed = errors.New("circulate: loan already returned")
	ErrHoldClosed = errors.New("circulate: hold no longer active")
	ErrLoanLimit  = errors.New("circulate: member at loan limit")
	ErrPermission = errors.New("circulate: action not permitted for role")

	// Op descriptor errors.
	ErrUnknownOp = errors.New("circulate: unknown op kind")
	ErrBadOp     = errors.New("circulate: op descriptor missing required payload")

	// Cluster errors.
	ErrLeadershipLost = errors.New("circulate: leadership lost")
	ErrNotLeader      = errors.New("circulate: not the leader")
)
