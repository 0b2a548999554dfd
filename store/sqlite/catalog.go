package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

// row is the subset of sql.Row/sql.Rows the scan helpers need.
type row interface {
	Scan(dest ...any) error
}

// ── Books ───────────────────────────────────────────

// CreateBook persists a new book.
func (s *Store) CreateBook(ctx context.Context, b *catalog.Book) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circulate_books (
			id, isbn, title, author, genre,
			copies_total, copies_available, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.ISBN, b.Title, b.Author, b.Genre,
		b.CopiesTotal, b.CopiesAvailable, nanos(b.CreatedAt), nanos(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: create book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, bookID id.BookID) (*catalog.Book, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT
			id, isbn, title, author, genre,
			copies_total, copies_available, created_at, updated_at
		FROM circulate_books
		WHERE id = ?`,
		bookID,
	)

	b, err := scanBook(r)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrBookNotFound
		}
		return nil, fmt.Errorf("circulate/sqlite: get book: %w", err)
	}
	return b, nil
}

// UpdateBook persists changes to an existing book.
func (s *Store) UpdateBook(ctx context.Context, b *catalog.Book) error {
	b.Touch()
	res, err := s.db.ExecContext(ctx, `
		UPDATE circulate_books SET
			isbn = ?, title = ?, author = ?, genre = ?,
			copies_total = ?, copies_available = ?, updated_at = ?
		WHERE id = ?`,
		b.ISBN, b.Title, b.Author, b.Genre,
		b.CopiesTotal, b.CopiesAvailable, nanos(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: update book: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book by ID.
func (s *Store) DeleteBook(ctx context.Context, bookID id.BookID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM circulate_books WHERE id = ?`, bookID)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: delete book: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrBookNotFound
	}
	return nil
}

// ListBooks returns books matching the filter, ordered by ID.
func (s *Store) ListBooks(ctx context.Context, f catalog.BookFilter) ([]*catalog.Book, error) {
	query := `
		SELECT
			id, isbn, title, author, genre,
			copies_total, copies_available, created_at, updated_at
		FROM circulate_books
		WHERE 1=1`
	args := []any{}

	if f.ISBN != "" {
		query += " AND isbn = ?"
		args = append(args, f.ISBN)
	}
	if f.Genre != "" {
		query += " AND genre = ?"
		args = append(args, f.Genre)
	}

	query += " ORDER BY id ASC"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: list books: %w", err)
	}
	defer rows.Close()

	var books []*catalog.Book
	for rows.Next() {
		b, scanErr := scanBook(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan book row: %w", scanErr)
		}
		books = append(books, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate book rows: %w", err)
	}
	return books, nil
}

// AdjustCopies atomically changes a book's available copy count. The
// guard in the WHERE clause keeps the count from going negative without
// an explicit transaction.
func (s *Store) AdjustCopies(ctx context.Context, bookID id.BookID, delta int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		UPDATE circulate_books
		SET copies_available = copies_available + ?, updated_at = ?
		WHERE id = ? AND copies_available + ? >= 0
		RETURNING copies_available`,
		delta, nanos(time.Now().UTC()), bookID, delta,
	).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("circulate/sqlite: adjust copies: %w", err)
	}

	// No row updated: the book is missing or the guard rejected the delta.
	var current int
	gerr := s.db.QueryRowContext(ctx,
		`SELECT copies_available FROM circulate_books WHERE id = ?`,
		bookID,
	).Scan(&current)
	if gerr != nil {
		if isNoRows(gerr) {
			return 0, circulate.ErrBookNotFound
		}
		return 0, fmt.Errorf("circulate/sqlite: adjust copies: %w", gerr)
	}
	return current, circulate.ErrNoCopies
}

// ── Members ─────────────────────────────────────────

// CreateMember persists a new member.
func (s *Store) CreateMember(ctx context.Context, m *catalog.Member) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circulate_members (
			id, name, email, role, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Email, string(m.Role), nanos(m.CreatedAt), nanos(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID.
func (s *Store) GetMember(ctx context.Context, memberID id.MemberID) (*catalog.Member, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM circulate_members
		WHERE id = ?`,
		memberID,
	)

	m, err := scanMember(r)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrMemberNotFound
		}
		return nil, fmt.Errorf("circulate/sqlite: get member: %w", err)
	}
	return m, nil
}

// UpdateMember persists changes to an existing member.
func (s *Store) UpdateMember(ctx context.Context, m *catalog.Member) error {
	m.Touch()
	res, err := s.db.ExecContext(ctx, `
		UPDATE circulate_members SET
			name = ?, email = ?, role = ?, updated_at = ?
		WHERE id = ?`,
		m.Name, m.Email, string(m.Role), nanos(m.UpdatedAt), m.ID,
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: update member: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrMemberNotFound
	}
	return nil
}

// DeleteMember removes a member by ID.
func (s *Store) DeleteMember(ctx context.Context, memberID id.MemberID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM circulate_members WHERE id = ?`, memberID)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: delete member: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrMemberNotFound
	}
	return nil
}

// ListMembers returns members matching the filter, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, f catalog.MemberFilter) ([]*catalog.Member, error) {
	query := `
		SELECT id, name, email, role, created_at, updated_at
		FROM circulate_members
		WHERE 1=1`
	args := []any{}

	if f.Role != "" {
		query += " AND role = ?"
		args = append(args, string(f.Role))
	}

	query += " ORDER BY id ASC"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: list members: %w", err)
	}
	defer rows.Close()

	var members []*catalog.Member
	for rows.Next() {
		m, scanErr := scanMember(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan member row: %w", scanErr)
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate member rows: %w", err)
	}
	return members, nil
}

// ── Loans ───────────────────────────────────────────

// CreateLoan persists a new loan.
func (s *Store) CreateLoan(ctx context.Context, l *catalog.Loan) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circulate_loans (
			id, book_id, member_id, borrowed_at, due_at, returned_at,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.BookID, l.MemberID, nanos(l.BorrowedAt), nanos(l.DueAt),
		nanosPtr(l.ReturnedAt), nanos(l.CreatedAt), nanos(l.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by ID.
func (s *Store) GetLoan(ctx context.Context, loanID id.LoanID) (*catalog.Loan, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, member_id, borrowed_at, due_at, returned_at,
			created_at, updated_at
		FROM circulate_loans
		WHERE id = ?`,
		loanID,
	)

	l, err := scanLoan(r)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrLoanNotFound
		}
		return nil, fmt.Errorf("circulate/sqlite: get loan: %w", err)
	}
	return l, nil
}

// UpdateLoan persists changes to an existing loan.
func (s *Store) UpdateLoan(ctx context.Context, l *catalog.Loan) error {
	l.Touch()
	res, err := s.db.ExecContext(ctx, `
		UPDATE circulate_loans SET
			book_id = ?, member_id = ?, borrowed_at = ?, due_at = ?,
			returned_at = ?, updated_at = ?
		WHERE id = ?`,
		l.BookID, l.MemberID, nanos(l.BorrowedAt), nanos(l.DueAt),
		nanosPtr(l.ReturnedAt), nanos(l.UpdatedAt), l.ID,
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: update loan: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrLoanNotFound
	}
	return nil
}

// ListLoans returns loans matching the filter, ordered by ID.
func (s *Store) ListLoans(ctx context.Context, f catalog.LoanFilter) ([]*catalog.Loan, error) {
	query := `
		SELECT id, book_id, member_id, borrowed_at, due_at, returned_at,
			created_at, updated_at
		FROM circulate_loans
		WHERE 1=1`
	args := []any{}

	if !f.BookID.IsNil() {
		query += " AND book_id = ?"
		args = append(args, f.BookID)
	}
	if !f.MemberID.IsNil() {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.OpenOnly {
		query += " AND returned_at IS NULL"
	}

	query += " ORDER BY id ASC"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: list loans: %w", err)
	}
	defer rows.Close()

	var loans []*catalog.Loan
	for rows.Next() {
		l, scanErr := scanLoan(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan loan row: %w", scanErr)
		}
		loans = append(loans, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate loan rows: %w", err)
	}
	return loans, nil
}

// CountOpenLoans returns the number of open loans held by a member.
func (s *Store) CountOpenLoans(ctx context.Context, memberID id.MemberID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM circulate_loans
		WHERE member_id = ? AND returned_at IS NULL`,
		memberID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("circulate/sqlite: count open loans: %w", err)
	}
	return count, nil
}

// ── Holds ───────────────────────────────────────────

// CreateHold persists a new hold.
func (s *Store) CreateHold(ctx context.Context, h *catalog.Hold) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO circulate_holds (
			id, book_id, member_id, placed_at, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.BookID, h.MemberID, nanos(h.PlacedAt), string(h.Status),
		nanos(h.CreatedAt), nanos(h.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: create hold: %w", err)
	}
	return nil
}

// GetHold retrieves a hold by ID.
func (s *Store) GetHold(ctx context.Context, holdID id.HoldID) (*catalog.Hold, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, member_id, placed_at, status, created_at, updated_at
		FROM circulate_holds
		WHERE id = ?`,
		holdID,
	)

	h, err := scanHold(r)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrHoldNotFound
		}
		return nil, fmt.Errorf("circulate/sqlite: get hold: %w", err)
	}
	return h, nil
}

// UpdateHold persists changes to an existing hold.
func (s *Store) UpdateHold(ctx context.Context, h *catalog.Hold) error {
	h.Touch()
	res, err := s.db.ExecContext(ctx, `
		UPDATE circulate_holds SET
			book_id = ?, member_id = ?, placed_at = ?, status = ?,
			updated_at = ?
		WHERE id = ?`,
		h.BookID, h.MemberID, nanos(h.PlacedAt), string(h.Status),
		nanos(h.UpdatedAt), h.ID,
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: update hold: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrHoldNotFound
	}
	return nil
}

// ListHolds returns holds matching the filter, oldest placement first.
func (s *Store) ListHolds(ctx context.Context, f catalog.HoldFilter) ([]*catalog.Hold, error) {
	query := `
		SELECT id, book_id, member_id, placed_at, status, created_at, updated_at
		FROM circulate_holds
		WHERE 1=1`
	args := []any{}

	if !f.BookID.IsNil() {
		query += " AND book_id = ?"
		args = append(args, f.BookID)
	}
	if !f.MemberID.IsNil() {
		query += " AND member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}

	query += " ORDER BY placed_at ASC"
	query, args = paginate(query, args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: list holds: %w", err)
	}
	defer rows.Close()

	var holds []*catalog.Hold
	for rows.Next() {
		h, scanErr := scanHold(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan hold row: %w", scanErr)
		}
		holds = append(holds, h)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate hold rows: %w", err)
	}
	return holds, nil
}

// ── Scan helpers ────────────────────────────────────

func scanBook(r row) (*catalog.Book, error) {
	var (
		b                  catalog.Book
		createdNS, updatedNS int64
	)
	err := r.Scan(
		&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Genre,
		&b.CopiesTotal, &b.CopiesAvailable, &createdNS, &updatedNS,
	)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = fromNanos(createdNS)
	b.UpdatedAt = fromNanos(updatedNS)
	return &b, nil
}

func scanMember(r row) (*catalog.Member, error) {
	var (
		m                  catalog.Member
		roleStr            string
		createdNS, updatedNS int64
	)
	err := r.Scan(&m.ID, &m.Name, &m.Email, &roleStr, &createdNS, &updatedNS)
	if err != nil {
		return nil, err
	}
	m.Role = catalog.Role(roleStr)
	m.CreatedAt = fromNanos(createdNS)
	m.UpdatedAt = fromNanos(updatedNS)
	return &m, nil
}

func scanLoan(r row) (*catalog.Loan, error) {
	var (
		l                              catalog.Loan
		borrowedNS, dueNS              int64
		returnedNS                     sql.NullInt64
		createdNS, updatedNS           int64
	)
	err := r.Scan(
		&l.ID, &l.BookID, &l.MemberID, &borrowedNS, &dueNS, &returnedNS,
		&createdNS, &updatedNS,
	)
	if err != nil {
		return nil, err
	}
	l.BorrowedAt = fromNanos(borrowedNS)
	l.DueAt = fromNanos(dueNS)
	l.ReturnedAt = fromNanosPtr(returnedNS)
	l.CreatedAt = fromNanos(createdNS)
	l.UpdatedAt = fromNanos(updatedNS)
	return &l, nil
}

func scanHold(r row) (*catalog.Hold, error) {
	var (
		h                  catalog.Hold
		statusStr          string
		placedNS           int64
		createdNS, updatedNS int64
	)
	err := r.Scan(
		&h.ID, &h.BookID, &h.MemberID, &placedNS, &statusStr,
		&createdNS, &updatedNS,
	)
	if err != nil {
		return nil, err
	}
	h.Status = catalog.HoldStatus(statusStr)
	h.PlacedAt = fromNanos(placedNS)
	h.CreatedAt = fromNanos(createdNS)
	h.UpdatedAt = fromNanos(updatedNS)
	return &h, nil
}

// paginate appends LIMIT/OFFSET clauses when set.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if offset > 0 {
		if limit <= 0 {
			// SQLite requires LIMIT before OFFSET.
			query += " LIMIT -1"
		}
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}
