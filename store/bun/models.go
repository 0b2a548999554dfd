package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// Model ID fields use id.ID directly: it implements driver.Valuer and
// sql.Scanner, and a nil ID maps to SQL NULL.

// ── Book model ────────────────────────────────────────────────────

type bookModel struct {
	bun.BaseModel `bun:"table:circulate_books"`

	ID              id.BookID `bun:"id,pk"`
	ISBN            string    `bun:"isbn,notnull,default:''"`
	Title           string    `bun:"title,notnull"`
	Author          string    `bun:"author,notnull"`
	Genre           string    `bun:"genre,notnull,default:''"`
	CopiesTotal     int       `bun:"copies_total,notnull,default:0"`
	CopiesAvailable int       `bun:"copies_available,notnull,default:0"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt       time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

func toBookModel(b *catalog.Book) *bookModel {
	return &bookModel{
		ID:              b.ID,
		ISBN:            b.ISBN,
		Title:           b.Title,
		Author:          b.Author,
		Genre:           b.Genre,
		CopiesTotal:     b.CopiesTotal,
		CopiesAvailable: b.CopiesAvailable,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func fromBookModel(m *bookModel) *catalog.Book {
	return &catalog.Book{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              m.ID,
		ISBN:            m.ISBN,
		Title:           m.Title,
		Author:          m.Author,
		Genre:           m.Genre,
		CopiesTotal:     m.CopiesTotal,
		CopiesAvailable: m.CopiesAvailable,
	}
}

// ── Member model ──────────────────────────────────────────────────

type memberModel struct {
	bun.BaseModel `bun:"table:circulate_members"`

	ID        id.MemberID `bun:"id,pk"`
	Name      string      `bun:"name,notnull"`
	Email     string      `bun:"email,notnull"`
	Role      string      `bun:"role,notnull,default:'member'"`
	CreatedAt time.Time   `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time   `bun:"updated_at,notnull,default:current_timestamp"`
}

func toMemberModel(mb *catalog.Member) *memberModel {
	return &memberModel{
		ID:        mb.ID,
		Name:      mb.Name,
		Email:     mb.Email,
		Role:      string(mb.Role),
		CreatedAt: mb.CreatedAt,
		UpdatedAt: mb.UpdatedAt,
	}
}

func fromMemberModel(m *memberModel) *catalog.Member {
	return &catalog.Member{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:    m.ID,
		Name:  m.Name,
		Email: m.Email,
		Role:  catalog.Role(m.Role),
	}
}

// ── Loan model ────────────────────────────────────────────────────

type loanModel struct {
	bun.BaseModel `bun:"table:circulate_loans"`

	ID         id.LoanID   `bun:"id,pk"`
	BookID     id.BookID   `bun:"book_id,notnull"`
	MemberID   id.MemberID `bun:"member_id,notnull"`
	BorrowedAt time.Time   `bun:"borrowed_at,notnull"`
	DueAt      time.Time   `bun:"due_at,notnull"`
	ReturnedAt *time.Time  `bun:"returned_at"`
	CreatedAt  time.Time   `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time   `bun:"updated_at,notnull,default:current_timestamp"`
}

func toLoanModel(l *catalog.Loan) *loanModel {
	return &loanModel{
		ID:         l.ID,
		BookID:     l.BookID,
		MemberID:   l.MemberID,
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func fromLoanModel(m *loanModel) *catalog.Loan {
	return &catalog.Loan{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         m.ID,
		BookID:     m.BookID,
		MemberID:   m.MemberID,
		BorrowedAt: m.BorrowedAt,
		DueAt:      m.DueAt,
		ReturnedAt: m.ReturnedAt,
	}
}

// ── Hold model ────────────────────────────────────────────────────

type holdModel struct {
	bun.BaseModel `bun:"table:circulate_holds"`

	ID        id.HoldID   `bun:"id,pk"`
	BookID    id.BookID   `bun:"book_id,notnull"`
	MemberID  id.MemberID `bun:"member_id,notnull"`
	PlacedAt  time.Time   `bun:"placed_at,notnull"`
	Status    string      `bun:"status,notnull,default:'active'"`
	CreatedAt time.Time   `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time   `bun:"updated_at,notnull,default:current_timestamp"`
}

func toHoldModel(h *catalog.Hold) *holdModel {
	return &holdModel{
		ID:        h.ID,
		BookID:    h.BookID,
		MemberID:  h.MemberID,
		PlacedAt:  h.PlacedAt,
		Status:    string(h.Status),
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}
}

func fromHoldModel(m *holdModel) *catalog.Hold {
	return &catalog.Hold{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       m.ID,
		BookID:   m.BookID,
		MemberID: m.MemberID,
		PlacedAt: m.PlacedAt,
		Status:   catalog.HoldStatus(m.Status),
	}
}

// ── Journal entry model ───────────────────────────────────────────

type journalEntryModel struct {
	bun.BaseModel `bun:"table:circulate_journal"`

	ID         id.JournalID `bun:"id,pk"`
	TaskID     id.TaskID    `bun:"task_id,notnull"`
	Label      string       `bun:"label,notnull"`
	Kind       string       `bun:"kind,notnull,default:''"`
	Actor      id.MemberID  `bun:"actor"`
	BookID     id.BookID    `bun:"book_id"`
	MemberID   id.MemberID  `bun:"member_id"`
	LoanID     id.LoanID    `bun:"loan_id"`
	HoldID     id.HoldID    `bun:"hold_id"`
	Outcome    string       `bun:"outcome,notnull"`
	Error      string       `bun:"error,notnull,default:''"`
	ElapsedMS  int64        `bun:"elapsed_ms,notnull,default:0"`
	RecordedAt time.Time    `bun:"recorded_at,notnull"`
}

func toJournalModel(e *journal.Entry) *journalEntryModel {
	return &journalEntryModel{
		ID:         e.ID,
		TaskID:     e.TaskID,
		Label:      e.Label,
		Kind:       string(e.Kind),
		Actor:      e.Actor,
		BookID:     e.BookID,
		MemberID:   e.MemberID,
		LoanID:     e.LoanID,
		HoldID:     e.HoldID,
		Outcome:    e.Outcome,
		Error:      e.Error,
		ElapsedMS:  e.ElapsedMS,
		RecordedAt: e.RecordedAt,
	}
}

func fromJournalModel(m *journalEntryModel) *journal.Entry {
	return &journal.Entry{
		ID:         m.ID,
		TaskID:     m.TaskID,
		Label:      m.Label,
		Kind:       circulation.Kind(m.Kind),
		Actor:      m.Actor,
		BookID:     m.BookID,
		MemberID:   m.MemberID,
		LoanID:     m.LoanID,
		HoldID:     m.HoldID,
		Outcome:    m.Outcome,
		Error:      m.Error,
		ElapsedMS:  m.ElapsedMS,
		RecordedAt: m.RecordedAt,
	}
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:circulate_dlq"`

	ID         id.DLQID   `bun:"id,pk"`
	TaskID     id.TaskID  `bun:"task_id,notnull"`
	Label      string     `bun:"label,notnull"`
	Op         []byte     `bun:"op,notnull,type:jsonb"`
	Error      string     `bun:"error,notnull"`
	Attempts   int        `bun:"attempts,notnull,default:1"`
	FailedAt   time.Time  `bun:"failed_at,notnull"`
	ReplayedAt *time.Time `bun:"replayed_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toDLQModel(e *dlq.Entry) (*dlqEntryModel, error) {
	opJSON, err := json.Marshal(e.Op)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: marshal dlq op: %w", err)
	}

	return &dlqEntryModel{
		ID:         e.ID,
		TaskID:     e.TaskID,
		Label:      e.Label,
		Op:         opJSON,
		Error:      e.Error,
		Attempts:   e.Attempts,
		FailedAt:   e.FailedAt,
		ReplayedAt: e.ReplayedAt,
		CreatedAt:  e.CreatedAt,
	}, nil
}

func fromDLQModel(m *dlqEntryModel) (*dlq.Entry, error) {
	var op circulation.Op
	if err := json.Unmarshal(m.Op, &op); err != nil {
		return nil, fmt.Errorf("circulate/bun: unmarshal dlq op: %w", err)
	}

	return &dlq.Entry{
		ID:         m.ID,
		TaskID:     m.TaskID,
		Label:      m.Label,
		Op:         &op,
		Error:      m.Error,
		Attempts:   m.Attempts,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ── Instance model ────────────────────────────────────────────────

type instanceModel struct {
	bun.BaseModel `bun:"table:circulate_instances"`

	ID          id.InstanceID     `bun:"id,pk"`
	Hostname    string            `bun:"hostname,notnull"`
	Concurrency int               `bun:"concurrency,notnull,default:1"`
	State       string            `bun:"state,notnull,default:'active'"`
	IsLeader    bool              `bun:"is_leader,notnull,default:false"`
	LeaderUntil *time.Time        `bun:"leader_until"`
	LastSeen    time.Time         `bun:"last_seen,notnull,default:current_timestamp"`
	Metadata    map[string]string `bun:"metadata,type:jsonb"`
	CreatedAt   time.Time         `bun:"created_at,notnull,default:current_timestamp"`
}

func toInstanceModel(inst *cluster.Instance) *instanceModel {
	return &instanceModel{
		ID:          inst.ID,
		Hostname:    inst.Hostname,
		Concurrency: inst.Concurrency,
		State:       string(inst.State),
		IsLeader:    inst.IsLeader,
		LeaderUntil: inst.LeaderUntil,
		LastSeen:    inst.LastSeen,
		Metadata:    inst.Metadata,
		CreatedAt:   inst.CreatedAt,
	}
}

func fromInstanceModel(m *instanceModel) *cluster.Instance {
	return &cluster.Instance{
		ID:          m.ID,
		Hostname:    m.Hostname,
		Concurrency: m.Concurrency,
		State:       cluster.InstanceState(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}
}
