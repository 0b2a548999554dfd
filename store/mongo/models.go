package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// Model ID fields are TypeID strings: BSON cannot marshal the id.ID
// struct directly, so converters round-trip through String()/Parse.

// ── Book model ────────────────────────────────────────────────────

type bookModel struct {
	ID              string    `bson:"_id"`
	ISBN            string    `bson:"isbn"`
	Title           string    `bson:"title"`
	Author          string    `bson:"author"`
	Genre           string    `bson:"genre"`
	CopiesTotal     int       `bson:"copies_total"`
	CopiesAvailable int       `bson:"copies_available"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func toBookModel(b *catalog.Book) *bookModel {
	return &bookModel{
		ID:              b.ID.String(),
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

func fromBookModel(m *bookModel) (*catalog.Book, error) {
	parsedID, err := id.ParseBookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse book id %q: %w", m.ID, err)
	}

	return &catalog.Book{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              parsedID,
		ISBN:            m.ISBN,
		Title:           m.Title,
		Author:          m.Author,
		Genre:           m.Genre,
		CopiesTotal:     m.CopiesTotal,
		CopiesAvailable: m.CopiesAvailable,
	}, nil
}

// ── Member model ──────────────────────────────────────────────────

type memberModel struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Role      string    `bson:"role"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toMemberModel(mb *catalog.Member) *memberModel {
	return &memberModel{
		ID:        mb.ID.String(),
		Name:      mb.Name,
		Email:     mb.Email,
		Role:      string(mb.Role),
		CreatedAt: mb.CreatedAt,
		UpdatedAt: mb.UpdatedAt,
	}
}

func fromMemberModel(m *memberModel) (*catalog.Member, error) {
	parsedID, err := id.ParseMemberID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse member id %q: %w", m.ID, err)
	}

	return &catalog.Member{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:    parsedID,
		Name:  m.Name,
		Email: m.Email,
		Role:  catalog.Role(m.Role),
	}, nil
}

// ── Loan model ────────────────────────────────────────────────────

type loanModel struct {
	ID         string     `bson:"_id"`
	BookID     string     `bson:"book_id"`
	MemberID   string     `bson:"member_id"`
	BorrowedAt time.Time  `bson:"borrowed_at"`
	DueAt      time.Time  `bson:"due_at"`
	ReturnedAt *time.Time `bson:"returned_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at"`
}

func toLoanModel(l *catalog.Loan) *loanModel {
	return &loanModel{
		ID:         l.ID.String(),
		BookID:     l.BookID.String(),
		MemberID:   l.MemberID.String(),
		BorrowedAt: l.BorrowedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func fromLoanModel(m *loanModel) (*catalog.Loan, error) {
	parsedID, err := id.ParseLoanID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse loan id %q: %w", m.ID, err)
	}
	bookID, err := id.ParseBookID(m.BookID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse loan book id %q: %w", m.BookID, err)
	}
	memberID, err := id.ParseMemberID(m.MemberID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse loan member id %q: %w", m.MemberID, err)
	}

	return &catalog.Loan{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         parsedID,
		BookID:     bookID,
		MemberID:   memberID,
		BorrowedAt: m.BorrowedAt,
		DueAt:      m.DueAt,
		ReturnedAt: m.ReturnedAt,
	}, nil
}

// ── Hold model ────────────────────────────────────────────────────

type holdModel struct {
	ID        string    `bson:"_id"`
	BookID    string    `bson:"book_id"`
	MemberID  string    `bson:"member_id"`
	PlacedAt  time.Time `bson:"placed_at"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func toHoldModel(h *catalog.Hold) *holdModel {
	return &holdModel{
		ID:        h.ID.String(),
		BookID:    h.BookID.String(),
		MemberID:  h.MemberID.String(),
		PlacedAt:  h.PlacedAt,
		Status:    string(h.Status),
		CreatedAt: h.CreatedAt,
		UpdatedAt: h.UpdatedAt,
	}
}

func fromHoldModel(m *holdModel) (*catalog.Hold, error) {
	parsedID, err := id.ParseHoldID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse hold id %q: %w", m.ID, err)
	}
	bookID, err := id.ParseBookID(m.BookID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse hold book id %q: %w", m.BookID, err)
	}
	memberID, err := id.ParseMemberID(m.MemberID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse hold member id %q: %w", m.MemberID, err)
	}

	return &catalog.Hold{
		Entity: circulate.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       parsedID,
		BookID:   bookID,
		MemberID: memberID,
		PlacedAt: m.PlacedAt,
		Status:   catalog.HoldStatus(m.Status),
	}, nil
}

// ── Journal entry model ───────────────────────────────────────────

type journalEntryModel struct {
	ID         string    `bson:"_id"`
	TaskID     string    `bson:"task_id"`
	Label      string    `bson:"label"`
	Kind       string    `bson:"kind"`
	Actor      string    `bson:"actor,omitempty"`
	BookID     string    `bson:"book_id,omitempty"`
	MemberID   string    `bson:"member_id,omitempty"`
	LoanID     string    `bson:"loan_id,omitempty"`
	HoldID     string    `bson:"hold_id,omitempty"`
	Outcome    string    `bson:"outcome"`
	Error      string    `bson:"error"`
	ElapsedMS  int64     `bson:"elapsed_ms"`
	RecordedAt time.Time `bson:"recorded_at"`
}

func toEntryModel(e *journal.Entry) *journalEntryModel {
	m := &journalEntryModel{
		ID:         e.ID.String(),
		TaskID:     e.TaskID.String(),
		Label:      e.Label,
		Kind:       string(e.Kind),
		Outcome:    e.Outcome,
		Error:      e.Error,
		ElapsedMS:  e.ElapsedMS,
		RecordedAt: e.RecordedAt,
	}
	if !e.Actor.IsNil() {
		m.Actor = e.Actor.String()
	}
	if !e.BookID.IsNil() {
		m.BookID = e.BookID.String()
	}
	if !e.MemberID.IsNil() {
		m.MemberID = e.MemberID.String()
	}
	if !e.LoanID.IsNil() {
		m.LoanID = e.LoanID.String()
	}
	if !e.HoldID.IsNil() {
		m.HoldID = e.HoldID.String()
	}
	return m
}

func fromEntryModel(m *journalEntryModel) (*journal.Entry, error) {
	parsedID, err := id.ParseJournalID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse entry id %q: %w", m.ID, err)
	}

	e := &journal.Entry{
		ID:         parsedID,
		Label:      m.Label,
		Kind:       circulation.Kind(m.Kind),
		Outcome:    m.Outcome,
		Error:      m.Error,
		ElapsedMS:  m.ElapsedMS,
		RecordedAt: m.RecordedAt,
	}

	if m.TaskID != "" {
		parsed, tErr := id.ParseTaskID(m.TaskID)
		if tErr == nil {
			e.TaskID = parsed
		}
	}
	if m.Actor != "" {
		parsed, aErr := id.ParseMemberID(m.Actor)
		if aErr == nil {
			e.Actor = parsed
		}
	}
	if m.BookID != "" {
		parsed, bErr := id.ParseBookID(m.BookID)
		if bErr == nil {
			e.BookID = parsed
		}
	}
	if m.MemberID != "" {
		parsed, mErr := id.ParseMemberID(m.MemberID)
		if mErr == nil {
			e.MemberID = parsed
		}
	}
	if m.LoanID != "" {
		parsed, lErr := id.ParseLoanID(m.LoanID)
		if lErr == nil {
			e.LoanID = parsed
		}
	}
	if m.HoldID != "" {
		parsed, hErr := id.ParseHoldID(m.HoldID)
		if hErr == nil {
			e.HoldID = parsed
		}
	}
	return e, nil
}

// ── DLQ entry model ───────────────────────────────────────────────

type dlqEntryModel struct {
	ID         string     `bson:"_id"`
	TaskID     string     `bson:"task_id"`
	Label      string     `bson:"label"`
	Op         []byte     `bson:"op"`
	Error      string     `bson:"error"`
	Attempts   int        `bson:"attempts"`
	FailedAt   time.Time  `bson:"failed_at"`
	ReplayedAt *time.Time `bson:"replayed_at,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
}

func toDLQModel(e *dlq.Entry) (*dlqEntryModel, error) {
	opJSON, err := json.Marshal(e.Op)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: marshal dlq op: %w", err)
	}

	return &dlqEntryModel{
		ID:         e.ID.String(),
		TaskID:     e.TaskID.String(),
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
	parsedID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse dlq id %q: %w", m.ID, err)
	}

	var op circulation.Op
	if err := json.Unmarshal(m.Op, &op); err != nil {
		return nil, fmt.Errorf("circulate/mongo: unmarshal dlq op: %w", err)
	}

	e := &dlq.Entry{
		ID:         parsedID,
		Label:      m.Label,
		Op:         &op,
		Error:      m.Error,
		Attempts:   m.Attempts,
		FailedAt:   m.FailedAt,
		ReplayedAt: m.ReplayedAt,
		CreatedAt:  m.CreatedAt,
	}

	if m.TaskID != "" {
		parsed, tErr := id.ParseTaskID(m.TaskID)
		if tErr == nil {
			e.TaskID = parsed
		}
	}
	return e, nil
}

// ── Instance model ────────────────────────────────────────────────

type instanceModel struct {
	ID          string            `bson:"_id"`
	Hostname    string            `bson:"hostname"`
	Concurrency int               `bson:"concurrency"`
	State       string            `bson:"state"`
	IsLeader    bool              `bson:"is_leader"`
	LeaderUntil *time.Time        `bson:"leader_until,omitempty"`
	LastSeen    time.Time         `bson:"last_seen"`
	Metadata    map[string]string `bson:"metadata,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

func toInstanceModel(inst *cluster.Instance) *instanceModel {
	return &instanceModel{
		ID:          inst.ID.String(),
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

func fromInstanceModel(m *instanceModel) (*cluster.Instance, error) {
	parsedID, err := id.ParseInstanceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: parse instance id %q: %w", m.ID, err)
	}

	return &cluster.Instance{
		ID:          parsedID,
		Hostname:    m.Hostname,
		Concurrency: m.Concurrency,
		State:       cluster.InstanceState(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen,
		Metadata:    m.Metadata,
		CreatedAt:   m.CreatedAt,
	}, nil
}
