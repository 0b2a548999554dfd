package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

// ── Books ─────────────────────────────────────────────────────────

// CreateBook persists a new book.
func (s *Store) CreateBook(ctx context.Context, b *catalog.Book) error {
	m := toBookModel(b)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: create book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, bookID id.BookID) (*catalog.Book, error) {
	m := new(bookModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", bookID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrBookNotFound
		}
		return nil, fmt.Errorf("circulate/bun: get book: %w", err)
	}
	return fromBookModel(m), nil
}

// UpdateBook persists changes to an existing book.
func (s *Store) UpdateBook(ctx context.Context, b *catalog.Book) error {
	b.Touch()
	m := toBookModel(b)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: update book: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book by ID.
func (s *Store) DeleteBook(ctx context.Context, bookID id.BookID) error {
	res, err := s.db.NewDelete().
		TableExpr("circulate_books").
		Where("id = ?", bookID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: delete book: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrBookNotFound
	}
	return nil
}

// ListBooks returns books matching the filter, ordered by ID.
func (s *Store) ListBooks(ctx context.Context, f catalog.BookFilter) ([]*catalog.Book, error) {
	var models []bookModel
	q := s.db.NewSelect().Model(&models)

	if f.ISBN != "" {
		q = q.Where("isbn = ?", f.ISBN)
	}
	if f.Genre != "" {
		q = q.Where("genre = ?", f.Genre)
	}

	q = q.Order("id ASC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: list books: %w", err)
	}

	books := make([]*catalog.Book, 0, len(models))
	for i := range models {
		books = append(books, fromBookModel(&models[i]))
	}
	return books, nil
}

// AdjustCopies atomically changes a book's available copy count by delta
// and returns the new count. The guarded UPDATE refuses to drive the count
// negative.
func (s *Store) AdjustCopies(ctx context.Context, bookID id.BookID, delta int) (int, error) {
	var count int
	_, err := s.db.NewRaw(`
		UPDATE circulate_books
		SET copies_available = copies_available + ?0, updated_at = NOW()
		WHERE id = ?1 AND copies_available + ?0 >= 0
		RETURNING copies_available`,
		delta, bookID,
	).Exec(ctx, &count)
	if err == nil {
		return count, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("circulate/bun: adjust copies: %w", err)
	}

	// No row matched: either the book is missing or the guard refused
	// the adjustment. A second read tells the two apart.
	var current int
	selErr := s.db.NewSelect().
		ColumnExpr("copies_available").
		TableExpr("circulate_books").
		Where("id = ?", bookID).
		Limit(1).
		Scan(ctx, &current)
	if selErr != nil {
		if isNoRows(selErr) {
			return 0, circulate.ErrBookNotFound
		}
		return 0, fmt.Errorf("circulate/bun: adjust copies check: %w", selErr)
	}
	return current, circulate.ErrNoCopies
}

// ── Members ───────────────────────────────────────────────────────

// CreateMember persists a new member.
func (s *Store) CreateMember(ctx context.Context, mb *catalog.Member) error {
	m := toMemberModel(mb)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID.
func (s *Store) GetMember(ctx context.Context, memberID id.MemberID) (*catalog.Member, error) {
	m := new(memberModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", memberID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrMemberNotFound
		}
		return nil, fmt.Errorf("circulate/bun: get member: %w", err)
	}
	return fromMemberModel(m), nil
}

// UpdateMember persists changes to an existing member.
func (s *Store) UpdateMember(ctx context.Context, mb *catalog.Member) error {
	mb.Touch()
	m := toMemberModel(mb)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: update member: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrMemberNotFound
	}
	return nil
}

// DeleteMember removes a member by ID.
func (s *Store) DeleteMember(ctx context.Context, memberID id.MemberID) error {
	res, err := s.db.NewDelete().
		TableExpr("circulate_members").
		Where("id = ?", memberID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: delete member: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrMemberNotFound
	}
	return nil
}

// ListMembers returns members matching the filter, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, f catalog.MemberFilter) ([]*catalog.Member, error) {
	var models []memberModel
	q := s.db.NewSelect().Model(&models)

	if f.Role != "" {
		q = q.Where("role = ?", string(f.Role))
	}

	q = q.Order("id ASC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: list members: %w", err)
	}

	members := make([]*catalog.Member, 0, len(models))
	for i := range models {
		members = append(members, fromMemberModel(&models[i]))
	}
	return members, nil
}

// ── Loans ─────────────────────────────────────────────────────────

// CreateLoan persists a new loan.
func (s *Store) CreateLoan(ctx context.Context, l *catalog.Loan) error {
	m := toLoanModel(l)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by ID.
func (s *Store) GetLoan(ctx context.Context, loanID id.LoanID) (*catalog.Loan, error) {
	m := new(loanModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", loanID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrLoanNotFound
		}
		return nil, fmt.Errorf("circulate/bun: get loan: %w", err)
	}
	return fromLoanModel(m), nil
}

// UpdateLoan persists changes to an existing loan.
func (s *Store) UpdateLoan(ctx context.Context, l *catalog.Loan) error {
	l.Touch()
	m := toLoanModel(l)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: update loan: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrLoanNotFound
	}
	return nil
}

// ListLoans returns loans matching the filter, ordered by ID.
func (s *Store) ListLoans(ctx context.Context, f catalog.LoanFilter) ([]*catalog.Loan, error) {
	var models []loanModel
	q := s.db.NewSelect().Model(&models)

	if !f.BookID.IsNil() {
		q = q.Where("book_id = ?", f.BookID)
	}
	if !f.MemberID.IsNil() {
		q = q.Where("member_id = ?", f.MemberID)
	}
	if f.OpenOnly {
		q = q.Where("returned_at IS NULL")
	}

	q = q.Order("id ASC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: list loans: %w", err)
	}

	loans := make([]*catalog.Loan, 0, len(models))
	for i := range models {
		loans = append(loans, fromLoanModel(&models[i]))
	}
	return loans, nil
}

// CountOpenLoans returns the number of open loans held by a member.
func (s *Store) CountOpenLoans(ctx context.Context, memberID id.MemberID) (int, error) {
	count, err := s.db.NewSelect().
		TableExpr("circulate_loans").
		Where("member_id = ?", memberID).
		Where("returned_at IS NULL").
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("circulate/bun: count open loans: %w", err)
	}
	return count, nil
}

// ── Holds ─────────────────────────────────────────────────────────

// CreateHold persists a new hold.
func (s *Store) CreateHold(ctx context.Context, h *catalog.Hold) error {
	m := toHoldModel(h)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: create hold: %w", err)
	}
	return nil
}

// GetHold retrieves a hold by ID.
func (s *Store) GetHold(ctx context.Context, holdID id.HoldID) (*catalog.Hold, error) {
	m := new(holdModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", holdID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrHoldNotFound
		}
		return nil, fmt.Errorf("circulate/bun: get hold: %w", err)
	}
	return fromHoldModel(m), nil
}

// UpdateHold persists changes to an existing hold.
func (s *Store) UpdateHold(ctx context.Context, h *catalog.Hold) error {
	h.Touch()
	m := toHoldModel(h)
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: update hold: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrHoldNotFound
	}
	return nil
}

// ListHolds returns holds matching the filter, oldest placement first.
func (s *Store) ListHolds(ctx context.Context, f catalog.HoldFilter) ([]*catalog.Hold, error) {
	var models []holdModel
	q := s.db.NewSelect().Model(&models)

	if !f.BookID.IsNil() {
		q = q.Where("book_id = ?", f.BookID)
	}
	if !f.MemberID.IsNil() {
		q = q.Where("member_id = ?", f.MemberID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}

	q = q.Order("placed_at ASC")

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	err := q.Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: list holds: %w", err)
	}

	holds := make([]*catalog.Hold, 0, len(models))
	for i := range models {
		holds = append(holds, fromHoldModel(&models[i]))
	}
	return holds, nil
}
