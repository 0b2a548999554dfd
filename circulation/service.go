package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// Circulation defaults, used when the corresponding option is not given.
const (
	// DefaultLoanPeriod is how long a borrowed copy may be kept.
	DefaultLoanPeriod = 14 * 24 * time.Hour
	// DefaultLoanLimit is the maximum number of open loans per member.
	DefaultLoanLimit = 5
)

// Service executes circulation operations asynchronously. Each method
// submits one labeled task to the scheduler and returns its outcome
// without waiting for execution.
type Service struct {
	store      catalog.Store
	scheduler  *sched.Scheduler
	emitter    Emitter
	logger     *slog.Logger
	loanPeriod time.Duration
	loanLimit  int
}

// Emitter is notified of every submission, for lifecycle fan-out.
// ext.Registry satisfies this interface.
type Emitter interface {
	EmitTaskSubmitted(ctx context.Context, t *sched.Task)
}

// Option configures a Service.
type Option func(*Service)

// WithEmitter announces each submitted task to the given emitter.
func WithEmitter(e Emitter) Option {
	return func(s *Service) { s.emitter = e }
}

// WithLogger sets the logger used for secondary failures that do not
// settle an outcome.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLoanPeriod sets the loan duration. Non-positive values keep the
// default.
func WithLoanPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.loanPeriod = d
		}
	}
}

// WithLoanLimit sets the maximum open loans per member. Non-positive
// values keep the default.
func WithLoanLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.loanLimit = n
		}
	}
}

// NewService creates a circulation service over the given store and
// scheduler.
func NewService(store catalog.Store, scheduler *sched.Scheduler, opts ...Option) *Service {
	s := &Service{
		store:      store,
		scheduler:  scheduler,
		logger:     slog.Default(),
		loanPeriod: DefaultLoanPeriod,
		loanLimit:  DefaultLoanLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the catalog store, for read paths that bypass the
// scheduler.
func (s *Service) Store() catalog.Store { return s.store }

// Scheduler returns the underlying task scheduler.
func (s *Service) Scheduler() *sched.Scheduler { return s.scheduler }

// Progress is a derived snapshot of scheduler activity, safe to compute
// from inside the scheduler's change callback.
type Progress struct {
	// Queued is the number of operations waiting for admission.
	Queued int `json:"queued"`

	// Running is the number of operations currently executing.
	Running int `json:"running"`

	// Concurrency is the current concurrency limit.
	Concurrency int `json:"concurrency"`

	// Busy is Running divided by Concurrency, in [0, 1] under normal
	// operation.
	Busy float64 `json:"busy"`
}

// Progress reports the scheduler's current load.
func (s *Service) Progress() Progress {
	st := s.scheduler.Stats()
	p := Progress{
		Queued:      st.Queued,
		Running:     st.Running,
		Concurrency: st.Concurrency,
	}
	if st.Concurrency > 0 {
		p.Busy = float64(st.Running) / float64(st.Concurrency)
	}
	return p
}

// ── Operations ──────────────────────────────────────

// AddBook catalogs a new book. The outcome value is the stored
// *catalog.Book with its assigned ID. When the book's available count is
// zero it defaults to the total count.
func (s *Service) AddBook(ctx context.Context, b *catalog.Book) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindAddBook, Book: b})
}

// UpdateBook edits a cataloged book. Copy accounting is derived, not
// taken from the argument: the available count moves by the change in
// the total count, floored at zero. The outcome value is the stored
// *catalog.Book.
func (s *Service) UpdateBook(ctx context.Context, b *catalog.Book) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindUpdateBook, Book: b})
}

// RemoveBook deletes a book with no open loans and cancels its active
// holds. The outcome value is the removed *catalog.Book.
func (s *Service) RemoveBook(ctx context.Context, bookID id.BookID) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindRemoveBook, BookID: bookID})
}

// Borrow checks a copy out to a member. The outcome value is the created
// *catalog.Loan; failure modes include circulate.ErrNoCopies and
// circulate.ErrLoanLimit. Borrowing fulfills the member's own active
// hold on the book, if any.
func (s *Service) Borrow(ctx context.Context, bookID id.BookID, memberID id.MemberID) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindBorrow, BookID: bookID, MemberID: memberID})
}

// Return checks a borrowed copy back in. The outcome value is the closed
// *catalog.Loan.
func (s *Service) Return(ctx context.Context, loanID id.LoanID) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindReturn, LoanID: loanID})
}

// Reserve places a hold for a member. Holds may be placed regardless of
// current availability; one active hold per member and book. The outcome
// value is the created *catalog.Hold.
func (s *Service) Reserve(ctx context.Context, bookID id.BookID, memberID id.MemberID) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindReserve, BookID: bookID, MemberID: memberID})
}

// CancelHold withdraws an active hold. The outcome value is the
// cancelled *catalog.Hold.
func (s *Service) CancelHold(ctx context.Context, holdID id.HoldID) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindCancelHold, HoldID: holdID})
}

// Sync upserts a batch of books pulled from an external source, matching
// by ISBN. The outcome value is a *SyncReport. Individual book failures
// are counted, not fatal.
func (s *Service) Sync(ctx context.Context, source string, books []catalog.Book) *sched.Outcome {
	return s.submit(ctx, &Op{Kind: KindSync, Source: source, Books: books})
}

// Apply validates an op descriptor and submits it. The returned error
// covers descriptor problems only (circulate.ErrUnknownOp,
// circulate.ErrBadOp); execution errors settle the outcome.
func (s *Service) Apply(ctx context.Context, op *Op) (*sched.Outcome, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return s.submit(ctx, op), nil
}

// submit stamps the actor and hands the op to the scheduler. The op rides
// on the task as its payload so lifecycle extensions can see it.
func (s *Service) submit(ctx context.Context, op *Op) *sched.Outcome {
	if op.Actor.IsNil() {
		op.Actor = circulate.ActorFromContext(ctx)
	}
	out := s.scheduler.Submit(op.Label(), func(taskCtx context.Context) (any, error) {
		return s.execute(taskCtx, op)
	}, sched.WithActor(op.Actor), sched.WithData(op))

	// A fast task may already be running, or settled, by the time this
	// fires; subscribers must not rely on submitted preceding started.
	if s.emitter != nil {
		s.emitter.EmitTaskSubmitted(ctx, out.Task())
	}
	return out
}

// execute runs inside the task body. Validation failures from direct
// method calls surface here, on the outcome.
func (s *Service) execute(ctx context.Context, op *Op) (any, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	switch op.Kind {
	case KindAddBook:
		return s.addBook(ctx, op)
	case KindUpdateBook:
		return s.updateBook(ctx, op)
	case KindRemoveBook:
		return s.removeBook(ctx, op)
	case KindBorrow:
		return s.borrow(ctx, op)
	case KindReturn:
		return s.returnLoan(ctx, op)
	case KindReserve:
		return s.reserve(ctx, op)
	case KindCancelHold:
		return s.cancelHold(ctx, op)
	case KindSync:
		return s.syncCatalog(ctx, op)
	default:
		return nil, fmt.Errorf("%w: %q", circulate.ErrUnknownOp, op.Kind)
	}
}

// ── Executors ───────────────────────────────────────

func (s *Service) addBook(ctx context.Context, op *Op) (*catalog.Book, error) {
	if err := s.requireRole(ctx, op.Actor, catalog.Role.CanManageCatalog); err != nil {
		return nil, err
	}

	if op.Book.ISBN != "" {
		dupes, err := s.store.ListBooks(ctx, catalog.BookFilter{ISBN: op.Book.ISBN, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(dupes) > 0 {
			return nil, fmt.Errorf("isbn %s: %w", op.Book.ISBN, circulate.ErrDuplicateISBN)
		}
	}

	book := *op.Book
	if book.ID.IsNil() {
		book.ID = id.NewBookID()
	}
	if book.CopiesAvailable == 0 {
		book.CopiesAvailable = book.CopiesTotal
	}
	if book.CreatedAt.IsZero() {
		book.Entity = circulate.NewEntity()
	}

	if err := s.store.CreateBook(ctx, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (s *Service) updateBook(ctx context.Context, op *Op) (*catalog.Book, error) {
	if err := s.requireRole(ctx, op.Actor, catalog.Role.CanManageCatalog); err != nil {
		return nil, err
	}

	existing, err := s.store.GetBook(ctx, op.Book.ID)
	if err != nil {
		return nil, err
	}

	book := *op.Book
	book.Entity = existing.Entity
	book.CopiesAvailable = existing.CopiesAvailable + (book.CopiesTotal - existing.CopiesTotal)
	if book.CopiesAvailable < 0 {
		book.CopiesAvailable = 0
	}

	if err := s.store.UpdateBook(ctx, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

func (s *Service) removeBook(ctx context.Context, op *Op) (*catalog.Book, error) {
	if err := s.requireRole(ctx, op.Actor, catalog.Role.CanManageCatalog); err != nil {
		return nil, err
	}

	book, err := s.store.GetBook(ctx, op.BookID)
	if err != nil {
		return nil, err
	}

	open, err := s.store.ListLoans(ctx, catalog.LoanFilter{BookID: op.BookID, OpenOnly: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(open) > 0 {
		return nil, fmt.Errorf("remove %s: %w", op.BookID, circulate.ErrBookBorrowed)
	}

	holds, err := s.store.ListHolds(ctx, catalog.HoldFilter{BookID: op.BookID, Status: catalog.HoldActive})
	if err != nil {
		return nil, err
	}
	for _, h := range holds {
		h.Status = catalog.HoldCancelled
		if uerr := s.store.UpdateHold(ctx, h); uerr != nil {
			s.logger.Warn("failed to cancel hold for removed book",
				"hold_id", h.ID, "book_id", op.BookID, "error", uerr)
		}
	}

	if err := s.store.DeleteBook(ctx, op.BookID); err != nil {
		return nil, err
	}
	return book, nil
}

func (s *Service) borrow(ctx context.Context, op *Op) (*catalog.Loan, error) {
	if err := s.requireRole(ctx, op.Actor, catalog.Role.CanCirculate); err != nil {
		return nil, err
	}

	if _, err := s.store.GetMember(ctx, op.MemberID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetBook(ctx, op.BookID); err != nil {
		return nil, err
	}

	open, err := s.store.CountOpenLoans(ctx, op.MemberID)
	if err != nil {
		return nil, err
	}
	if open >= s.loanLimit {
		return nil, fmt.Errorf("member %s has %d open loans: %w", op.MemberID, open, circulate.ErrLoanLimit)
	}

	if _, err := s.store.AdjustCopies(ctx, op.BookID, -1); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	loan := &catalog.Loan{
		Entity:     circulate.NewEntity(),
		ID:         id.NewLoanID(),
		BookID:     op.BookID,
		MemberID:   op.MemberID,
		BorrowedAt: now,
		DueAt:      now.Add(s.loanPeriod),
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		if _, rerr := s.store.AdjustCopies(ctx, op.BookID, +1); rerr != nil {
			s.logger.Warn("failed to restore copy count after loan create failure",
				"book_id", op.BookID, "error", rerr)
		}
		return nil, err
	}

	// Borrowing satisfies the member's own hold.
	holds, err := s.store.ListHolds(ctx, catalog.HoldFilter{
		BookID:   op.BookID,
		MemberID: op.MemberID,
		Status:   catalog.HoldActive,
		Limit:    1,
	})
	if err == nil && len(holds) > 0 {
		holds[0].Status = catalog.HoldFulfilled
		if uerr := s.store.UpdateHold(ctx, holds[0]); uerr != nil {
			s.logger.Warn("failed to fulfill hold on borrow",
				"hold_id", holds[0].ID, "error", uerr)
		}
	}

	return loan, nil
}

func (s *Service) returnLoan(ctx context.Context, op *Op) (*catalog.Loan, error) {
	if err := s.requireRole(ctx, op.Actor, catalog.Role.CanCirculate); err != nil {
		return nil, err
	}

	loan, err := s.store.GetLoan(ctx, op.LoanID)
	if err != nil {
		return nil, err
	}
	if !loan.Open() {
		return nil, fmt.Errorf("loan %s: %w", op.LoanID, circulate.ErrLoanClosed)
	}

	now := time.Now().UTC()
	loan.ReturnedAt = &now
	if err := s.store.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}

	if _, err := s.store.AdjustCopies(ctx, loan.BookID, +1); err != nil {
		return nil, fmt.Errorf("loan %s returned but copy count not restored: %w", op.LoanID, err)
	}

	return loan, nil
}

func (s *Service) reserve(ctx context.Context, op *Op) (*catalog.Hold, error) {
	if err := s.requireRole(ctx, op.Actor, catalog.Role.CanCirculate); err != nil {
		return nil, err
	}

	if _, err := s.store.GetMember(ctx, op.MemberID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetBook(ctx, op.BookID); err != nil {
		return nil, err
	}

	active, err := s.store.ListHolds(ctx, catalog.HoldFilter{
		BookID:   op.BookID,
		MemberID: op.MemberID,
		Status:   catalog.HoldActive,
		Limit:    1,
	})
	if err != nil {
		return nil, err
	}
	if len(active) > 0 {
		return nil, fmt.Errorf("member %s, book %s: %w", op.MemberID, op.BookID, circulate.ErrHoldExists)
	}

	hold := &catalog.Hold{
		Entity:   circulate.NewEntity(),
		ID:       id.NewHoldID(),
		BookID:   op.BookID,
		MemberID: op.MemberID,
		PlacedAt: time.Now().UTC(),
		Status:   catalog.HoldActive,
	}
	if err := s.store.CreateHold(ctx, hold); err != nil {
		return nil, err
	}
	return hold, nil
}

func (s *Service) cancelHold(ctx context.Context, op *Op) (*catalog.Hold, error) {
	if err := s.requireRole(ctx, op.Actor, catalog.Role.CanCirculate); err != nil {
		return nil, err
	}

	hold, err := s.store.GetHold(ctx, op.HoldID)
	if err != nil {
		return nil, err
	}
	if !hold.Active() {
		return nil, fmt.Errorf("hold %s is %s: %w", op.HoldID, hold.Status, circulate.ErrHoldClosed)
	}

	hold.Status = catalog.HoldCancelled
	if err := s.store.UpdateHold(ctx, hold); err != nil {
		return nil, err
	}
	return hold, nil
}

// SyncReport summarizes one catalog sync run.
type SyncReport struct {
	Source  string `json:"source"`
	Created int    `json:"created"`
	Updated int    `json:"updated"`
	Failed  int    `json:"failed"`
}

// Synced returns the number of books successfully upserted.
func (r *SyncReport) Synced() int { return r.Created + r.Updated }

func (s *Service) syncCatalog(ctx context.Context, op *Op) (*SyncReport, error) {
	report := &SyncReport{Source: op.Source}

	for i := range op.Books {
		incoming := &op.Books[i]
		if incoming.ISBN == "" {
			report.Failed++
			s.logger.Warn("sync: skipping book without isbn",
				"source", op.Source, "title", incoming.Title)
			continue
		}

		existing, err := s.store.ListBooks(ctx, catalog.BookFilter{ISBN: incoming.ISBN, Limit: 1})
		if err != nil {
			return report, err
		}

		if len(existing) == 0 {
			book := *incoming
			book.Entity = circulate.NewEntity()
			book.ID = id.NewBookID()
			book.CopiesAvailable = book.CopiesTotal
			if cerr := s.store.CreateBook(ctx, &book); cerr != nil {
				report.Failed++
				s.logger.Warn("sync: create failed",
					"source", op.Source, "isbn", incoming.ISBN, "error", cerr)
				continue
			}
			report.Created++
			continue
		}

		book := existing[0]
		book.Title = incoming.Title
		book.Author = incoming.Author
		book.Genre = incoming.Genre
		book.CopiesAvailable += incoming.CopiesTotal - book.CopiesTotal
		if book.CopiesAvailable < 0 {
			book.CopiesAvailable = 0
		}
		book.CopiesTotal = incoming.CopiesTotal
		if uerr := s.store.UpdateBook(ctx, book); uerr != nil {
			report.Failed++
			s.logger.Warn("sync: update failed",
				"source", op.Source, "isbn", incoming.ISBN, "error", uerr)
			continue
		}
		report.Updated++
	}

	return report, nil
}

// requireRole loads the acting member and checks the role predicate.
// Ops with no actor are internal and skip the check.
func (s *Service) requireRole(ctx context.Context, actor id.MemberID, allowed func(catalog.Role) bool) error {
	if actor.IsNil() {
		return nil
	}
	m, err := s.store.GetMember(ctx, actor)
	if err != nil {
		return err
	}
	if !allowed(m.Role) {
		return fmt.Errorf("role %s: %w", m.Role, circulate.ErrPermission)
	}
	return nil
}
