package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

// ── Books ───────────────────────────────────────────

// CreateBook persists a new book.
func (s *Store) CreateBook(ctx context.Context, b *catalog.Book) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circulate_books (
			id, isbn, title, author, genre,
			copies_total, copies_available, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.ISBN, b.Title, b.Author, b.Genre,
		b.CopiesTotal, b.CopiesAvailable, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: create book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, bookID id.BookID) (*catalog.Book, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, isbn, title, author, genre,
			copies_total, copies_available, created_at, updated_at
		FROM circulate_books
		WHERE id = $1`,
		bookID,
	)

	b, err := scanBook(row)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrBookNotFound
		}
		return nil, fmt.Errorf("circulate/postgres: get book: %w", err)
	}
	return b, nil
}

// UpdateBook persists changes to an existing book.
func (s *Store) UpdateBook(ctx context.Context, b *catalog.Book) error {
	b.Touch()
	tag, err := s.pool.Exec(ctx, `
		UPDATE circulate_books SET
			isbn = $2, title = $3, author = $4, genre = $5,
			copies_total = $6, copies_available = $7, updated_at = $8
		WHERE id = $1`,
		b.ID, b.ISBN, b.Title, b.Author, b.Genre,
		b.CopiesTotal, b.CopiesAvailable, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: update book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return circulate.ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book by ID.
func (s *Store) DeleteBook(ctx context.Context, bookID id.BookID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM circulate_books WHERE id = $1`, bookID)
	if err != nil {
		return fmt.Errorf("circulate/postgres: delete book: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	argIdx := 1

	if f.ISBN != "" {
		query += fmt.Sprintf(" AND isbn = $%d", argIdx)
		args = append(args, f.ISBN)
		argIdx++
	}
	if f.Genre != "" {
		query += fmt.Sprintf(" AND genre = $%d", argIdx)
		args = append(args, f.Genre)
		argIdx++
	}

	query += " ORDER BY id ASC"
	query, args = paginate(query, args, argIdx, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: list books: %w", err)
	}
	defer rows.Close()

	var books []*catalog.Book
	for rows.Next() {
		b, scanErr := scanBook(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan book row: %w", scanErr)
		}
		books = append(books, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate book rows: %w", err)
	}
	return books, nil
}

// AdjustCopies atomically changes a book's available copy count. The
// guard in the WHERE clause keeps the count from going negative without
// an explicit transaction.
func (s *Store) AdjustCopies(ctx context.Context, bookID id.BookID, delta int) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		UPDATE circulate_books
		SET copies_available = copies_available + $2, updated_at = NOW()
		WHERE id = $1 AND copies_available + $2 >= 0
		RETURNING copies_available`,
		bookID, delta,
	).Scan(&count)
	if err == nil {
		return count, nil
	}
	if !isNoRows(err) {
		return 0, fmt.Errorf("circulate/postgres: adjust copies: %w", err)
	}

	// No row updated: the book is missing or the guard rejected the delta.
	var current int
	gerr := s.pool.QueryRow(ctx,
		`SELECT copies_available FROM circulate_books WHERE id = $1`,
		bookID,
	).Scan(&current)
	if gerr != nil {
		if isNoRows(gerr) {
			return 0, circulate.ErrBookNotFound
		}
		return 0, fmt.Errorf("circulate/postgres: adjust copies: %w", gerr)
	}
	return current, circulate.ErrNoCopies
}

// ── Members ─────────────────────────────────────────

// CreateMember persists a new member.
func (s *Store) CreateMember(ctx context.Context, m *catalog.Member) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circulate_members (
			id, name, email, role, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, m.Email, string(m.Role), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID.
func (s *Store) GetMember(ctx context.Context, memberID id.MemberID) (*catalog.Member, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role, created_at, updated_at
		FROM circulate_members
		WHERE id = $1`,
		memberID,
	)

	m, err := scanMember(row)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrMemberNotFound
		}
		return nil, fmt.Errorf("circulate/postgres: get member: %w", err)
	}
	return m, nil
}

// UpdateMember persists changes to an existing member.
func (s *Store) UpdateMember(ctx context.Context, m *catalog.Member) error {
	m.Touch()
	tag, err := s.pool.Exec(ctx, `
		UPDATE circulate_members SET
			name = $2, email = $3, role = $4, updated_at = $5
		WHERE id = $1`,
		m.ID, m.Name, m.Email, string(m.Role), m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: update member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return circulate.ErrMemberNotFound
	}
	return nil
}

// DeleteMember removes a member by ID.
func (s *Store) DeleteMember(ctx context.Context, memberID id.MemberID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM circulate_members WHERE id = $1`, memberID)
	if err != nil {
		return fmt.Errorf("circulate/postgres: delete member: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	argIdx := 1

	if f.Role != "" {
		query += fmt.Sprintf(" AND role = $%d", argIdx)
		args = append(args, string(f.Role))
		argIdx++
	}

	query += " ORDER BY id ASC"
	query, args = paginate(query, args, argIdx, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: list members: %w", err)
	}
	defer rows.Close()

	var members []*catalog.Member
	for rows.Next() {
		m, scanErr := scanMember(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan member row: %w", scanErr)
		}
		members = append(members, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate member rows: %w", err)
	}
	return members, nil
}

// ── Loans ───────────────────────────────────────────

// CreateLoan persists a new loan.
func (s *Store) CreateLoan(ctx context.Context, l *catalog.Loan) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circulate_loans (
			id, book_id, member_id, borrowed_at, due_at, returned_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.ID, l.BookID, l.MemberID, l.BorrowedAt, l.DueAt, l.ReturnedAt,
		l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by ID.
func (s *Store) GetLoan(ctx context.Context, loanID id.LoanID) (*catalog.Loan, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, book_id, member_id, borrowed_at, due_at, returned_at,
			created_at, updated_at
		FROM circulate_loans
		WHERE id = $1`,
		loanID,
	)

	l, err := scanLoan(row)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrLoanNotFound
		}
		return nil, fmt.Errorf("circulate/postgres: get loan: %w", err)
	}
	return l, nil
}

// UpdateLoan persists changes to an existing loan.
func (s *Store) UpdateLoan(ctx context.Context, l *catalog.Loan) error {
	l.Touch()
	tag, err := s.pool.Exec(ctx, `
		UPDATE circulate_loans SET
			book_id = $2, member_id = $3, borrowed_at = $4, due_at = $5,
			returned_at = $6, updated_at = $7
		WHERE id = $1`,
		l.ID, l.BookID, l.MemberID, l.BorrowedAt, l.DueAt,
		l.ReturnedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: update loan: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	argIdx := 1

	if !f.BookID.IsNil() {
		query += fmt.Sprintf(" AND book_id = $%d", argIdx)
		args = append(args, f.BookID)
		argIdx++
	}
	if !f.MemberID.IsNil() {
		query += fmt.Sprintf(" AND member_id = $%d", argIdx)
		args = append(args, f.MemberID)
		argIdx++
	}
	if f.OpenOnly {
		query += " AND returned_at IS NULL"
	}

	query += " ORDER BY id ASC"
	query, args = paginate(query, args, argIdx, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: list loans: %w", err)
	}
	defer rows.Close()

	var loans []*catalog.Loan
	for rows.Next() {
		l, scanErr := scanLoan(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan loan row: %w", scanErr)
		}
		loans = append(loans, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate loan rows: %w", err)
	}
	return loans, nil
}

// CountOpenLoans returns the number of open loans held by a member.
func (s *Store) CountOpenLoans(ctx context.Context, memberID id.MemberID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM circulate_loans
		WHERE member_id = $1 AND returned_at IS NULL`,
		memberID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("circulate/postgres: count open loans: %w", err)
	}
	return count, nil
}

// ── Holds ───────────────────────────────────────────

// CreateHold persists a new hold.
func (s *Store) CreateHold(ctx context.Context, h *catalog.Hold) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circulate_holds (
			id, book_id, member_id, placed_at, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.BookID, h.MemberID, h.PlacedAt, string(h.Status),
		h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: create hold: %w", err)
	}
	return nil
}

// GetHold retrieves a hold by ID.
func (s *Store) GetHold(ctx context.Context, holdID id.HoldID) (*catalog.Hold, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, book_id, member_id, placed_at, status, created_at, updated_at
		FROM circulate_holds
		WHERE id = $1`,
		holdID,
	)

	h, err := scanHold(row)
	if err != nil {
		if isNoRows(err) {
			return nil, circulate.ErrHoldNotFound
		}
		return nil, fmt.Errorf("circulate/postgres: get hold: %w", err)
	}
	return h, nil
}

// UpdateHold persists changes to an existing hold.
func (s *Store) UpdateHold(ctx context.Context, h *catalog.Hold) error {
	h.Touch()
	tag, err := s.pool.Exec(ctx, `
		UPDATE circulate_holds SET
			book_id = $2, member_id = $3, placed_at = $4, status = $5,
			updated_at = $6
		WHERE id = $1`,
		h.ID, h.BookID, h.MemberID, h.PlacedAt, string(h.Status), h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: update hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
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
	argIdx := 1

	if !f.BookID.IsNil() {
		query += fmt.Sprintf(" AND book_id = $%d", argIdx)
		args = append(args, f.BookID)
		argIdx++
	}
	if !f.MemberID.IsNil() {
		query += fmt.Sprintf(" AND member_id = $%d", argIdx)
		args = append(args, f.MemberID)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}

	query += " ORDER BY placed_at ASC"
	query, args = paginate(query, args, argIdx, f.Limit, f.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: list holds: %w", err)
	}
	defer rows.Close()

	var holds []*catalog.Hold
	for rows.Next() {
		h, scanErr := scanHold(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan hold row: %w", scanErr)
		}
		holds = append(holds, h)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate hold rows: %w", err)
	}
	return holds, nil
}

// ── Scan helpers ────────────────────────────────────

func scanBook(row pgx.Row) (*catalog.Book, error) {
	var b catalog.Book
	err := row.Scan(
		&b.ID, &b.ISBN, &b.Title, &b.Author, &b.Genre,
		&b.CopiesTotal, &b.CopiesAvailable, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanMember(row pgx.Row) (*catalog.Member, error) {
	var (
		m       catalog.Member
		roleStr string
	)
	err := row.Scan(&m.ID, &m.Name, &m.Email, &roleStr, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Role = catalog.Role(roleStr)
	return &m, nil
}

func scanLoan(row pgx.Row) (*catalog.Loan, error) {
	var l catalog.Loan
	err := row.Scan(
		&l.ID, &l.BookID, &l.MemberID, &l.BorrowedAt, &l.DueAt, &l.ReturnedAt,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanHold(row pgx.Row) (*catalog.Hold, error) {
	var (
		h         catalog.Hold
		statusStr string
	)
	err := row.Scan(
		&h.ID, &h.BookID, &h.MemberID, &h.PlacedAt, &statusStr,
		&h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.Status = catalog.HoldStatus(statusStr)
	return &h, nil
}

// paginate appends LIMIT/OFFSET clauses when set.
func paginate(query string, args []any, argIdx, limit, offset int) (string, []any) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
		argIdx++
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, offset)
	}
	return query, args
}
