package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

// ── Books ─────────────────────────────────────────────────────────

// CreateBook stores the book as a Hash and adds it to the ID set.
func (s *Store) CreateBook(ctx context.Context, b *catalog.Book) error {
	bID := b.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, bookKey(bID), bookToMap(b))
	pipe.SAdd(ctx, bookIDsKey, bID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/redis: create book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, bookID id.BookID) (*catalog.Book, error) {
	vals, err := s.client.HGetAll(ctx, bookKey(bookID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: get book: %w", err)
	}
	if len(vals) == 0 {
		return nil, circulate.ErrBookNotFound
	}
	return mapToBook(vals)
}

// UpdateBook persists changes to an existing book.
func (s *Store) UpdateBook(ctx context.Context, b *catalog.Book) error {
	key := bookKey(b.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update book exists: %w", err)
	}
	if exists == 0 {
		return circulate.ErrBookNotFound
	}

	b.Touch()
	_, err = s.client.HSet(ctx, key, bookToMap(b)).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update book: %w", err)
	}
	return nil
}

// DeleteBook removes a book by ID.
func (s *Store) DeleteBook(ctx context.Context, bookID id.BookID) error {
	bID := bookID.String()
	key := bookKey(bID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: delete book exists: %w", err)
	}
	if exists == 0 {
		return circulate.ErrBookNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, bookIDsKey, bID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/redis: delete book: %w", err)
	}
	return nil
}

// ListBooks returns books matching the filter, ordered by ID.
func (s *Store) ListBooks(ctx context.Context, f catalog.BookFilter) ([]*catalog.Book, error) {
	ids, err := s.client.SMembers(ctx, bookIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: list books: %w", err)
	}
	sort.Strings(ids)

	books := make([]*catalog.Book, 0, len(ids))
	for _, bID := range ids {
		vals, getErr := s.client.HGetAll(ctx, bookKey(bID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		b, convErr := mapToBook(vals)
		if convErr != nil {
			continue
		}
		if f.ISBN != "" && b.ISBN != f.ISBN {
			continue
		}
		if f.Genre != "" && b.Genre != f.Genre {
			continue
		}
		books = append(books, b)
	}

	return pageSlice(books, f.Offset, f.Limit), nil
}

// AdjustCopies atomically changes a book's available copy count by delta
// and returns the new count. HIncrBy is atomic; an adjustment that lands
// below zero is rolled back with the opposite increment.
func (s *Store) AdjustCopies(ctx context.Context, bookID id.BookID, delta int) (int, error) {
	key := bookKey(bookID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("circulate/redis: adjust copies exists: %w", err)
	}
	if exists == 0 {
		return 0, circulate.ErrBookNotFound
	}

	count, err := s.client.HIncrBy(ctx, key, "copies_available", int64(delta)).Result()
	if err != nil {
		return 0, fmt.Errorf("circulate/redis: adjust copies: %w", err)
	}
	if count < 0 {
		rolled, rbErr := s.client.HIncrBy(ctx, key, "copies_available", int64(-delta)).Result()
		if rbErr != nil {
			return 0, fmt.Errorf("circulate/redis: adjust copies rollback: %w", rbErr)
		}
		return int(rolled), circulate.ErrNoCopies
	}

	if hErr := s.client.HSet(ctx, key,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err(); hErr != nil {
		s.logger.Warn("failed to touch book after copy adjust", "error", hErr)
	}
	return int(count), nil
}

// ── Members ───────────────────────────────────────────────────────

// CreateMember stores the member as a Hash and adds it to the ID set.
func (s *Store) CreateMember(ctx context.Context, m *catalog.Member) error {
	mID := m.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, memberKey(mID), memberToMap(m))
	pipe.SAdd(ctx, memberIDsKey, mID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/redis: create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID.
func (s *Store) GetMember(ctx context.Context, memberID id.MemberID) (*catalog.Member, error) {
	vals, err := s.client.HGetAll(ctx, memberKey(memberID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: get member: %w", err)
	}
	if len(vals) == 0 {
		return nil, circulate.ErrMemberNotFound
	}
	return mapToMember(vals)
}

// UpdateMember persists changes to an existing member.
func (s *Store) UpdateMember(ctx context.Context, m *catalog.Member) error {
	key := memberKey(m.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update member exists: %w", err)
	}
	if exists == 0 {
		return circulate.ErrMemberNotFound
	}

	m.Touch()
	_, err = s.client.HSet(ctx, key, memberToMap(m)).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update member: %w", err)
	}
	return nil
}

// DeleteMember removes a member by ID.
func (s *Store) DeleteMember(ctx context.Context, memberID id.MemberID) error {
	mID := memberID.String()
	key := memberKey(mID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: delete member exists: %w", err)
	}
	if exists == 0 {
		return circulate.ErrMemberNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, memberIDsKey, mID)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/redis: delete member: %w", err)
	}
	return nil
}

// ListMembers returns members matching the filter, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, f catalog.MemberFilter) ([]*catalog.Member, error) {
	ids, err := s.client.SMembers(ctx, memberIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: list members: %w", err)
	}
	sort.Strings(ids)

	members := make([]*catalog.Member, 0, len(ids))
	for _, mID := range ids {
		vals, getErr := s.client.HGetAll(ctx, memberKey(mID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		m, convErr := mapToMember(vals)
		if convErr != nil {
			continue
		}
		if f.Role != "" && m.Role != f.Role {
			continue
		}
		members = append(members, m)
	}

	return pageSlice(members, f.Offset, f.Limit), nil
}

// ── Loans ─────────────────────────────────────────────────────────

// CreateLoan stores the loan as a Hash and adds it to the ID set.
func (s *Store) CreateLoan(ctx context.Context, l *catalog.Loan) error {
	lID := l.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, loanKey(lID), loanToMap(l))
	pipe.SAdd(ctx, loanIDsKey, lID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/redis: create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by ID.
func (s *Store) GetLoan(ctx context.Context, loanID id.LoanID) (*catalog.Loan, error) {
	vals, err := s.client.HGetAll(ctx, loanKey(loanID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: get loan: %w", err)
	}
	if len(vals) == 0 {
		return nil, circulate.ErrLoanNotFound
	}
	return mapToLoan(vals)
}

// UpdateLoan persists changes to an existing loan.
func (s *Store) UpdateLoan(ctx context.Context, l *catalog.Loan) error {
	key := loanKey(l.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update loan exists: %w", err)
	}
	if exists == 0 {
		return circulate.ErrLoanNotFound
	}

	l.Touch()
	_, err = s.client.HSet(ctx, key, loanToMap(l)).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update loan: %w", err)
	}
	return nil
}

// ListLoans returns loans matching the filter, ordered by ID.
func (s *Store) ListLoans(ctx context.Context, f catalog.LoanFilter) ([]*catalog.Loan, error) {
	ids, err := s.client.SMembers(ctx, loanIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: list loans: %w", err)
	}
	sort.Strings(ids)

	loans := make([]*catalog.Loan, 0, len(ids))
	for _, lID := range ids {
		vals, getErr := s.client.HGetAll(ctx, loanKey(lID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		l, convErr := mapToLoan(vals)
		if convErr != nil {
			continue
		}
		if !f.BookID.IsNil() && l.BookID != f.BookID {
			continue
		}
		if !f.MemberID.IsNil() && l.MemberID != f.MemberID {
			continue
		}
		if f.OpenOnly && l.ReturnedAt != nil {
			continue
		}
		loans = append(loans, l)
	}

	return pageSlice(loans, f.Offset, f.Limit), nil
}

// CountOpenLoans returns the number of open loans held by a member.
func (s *Store) CountOpenLoans(ctx context.Context, memberID id.MemberID) (int, error) {
	open, err := s.ListLoans(ctx, catalog.LoanFilter{MemberID: memberID, OpenOnly: true})
	if err != nil {
		return 0, err
	}
	return len(open), nil
}

// ── Holds ─────────────────────────────────────────────────────────

// CreateHold stores the hold as a Hash and adds it to the ID set.
func (s *Store) CreateHold(ctx context.Context, h *catalog.Hold) error {
	hID := h.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, holdKey(hID), holdToMap(h))
	pipe.SAdd(ctx, holdIDsKey, hID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/redis: create hold: %w", err)
	}
	return nil
}

// GetHold retrieves a hold by ID.
func (s *Store) GetHold(ctx context.Context, holdID id.HoldID) (*catalog.Hold, error) {
	vals, err := s.client.HGetAll(ctx, holdKey(holdID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: get hold: %w", err)
	}
	if len(vals) == 0 {
		return nil, circulate.ErrHoldNotFound
	}
	return mapToHold(vals)
}

// UpdateHold persists changes to an existing hold.
func (s *Store) UpdateHold(ctx context.Context, h *catalog.Hold) error {
	key := holdKey(h.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update hold exists: %w", err)
	}
	if exists == 0 {
		return circulate.ErrHoldNotFound
	}

	h.Touch()
	_, err = s.client.HSet(ctx, key, holdToMap(h)).Result()
	if err != nil {
		return fmt.Errorf("circulate/redis: update hold: %w", err)
	}
	return nil
}

// ListHolds returns holds matching the filter, oldest placement first.
func (s *Store) ListHolds(ctx context.Context, f catalog.HoldFilter) ([]*catalog.Hold, error) {
	ids, err := s.client.SMembers(ctx, holdIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: list holds: %w", err)
	}

	holds := make([]*catalog.Hold, 0, len(ids))
	for _, hID := range ids {
		vals, getErr := s.client.HGetAll(ctx, holdKey(hID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		h, convErr := mapToHold(vals)
		if convErr != nil {
			continue
		}
		if !f.BookID.IsNil() && h.BookID != f.BookID {
			continue
		}
		if !f.MemberID.IsNil() && h.MemberID != f.MemberID {
			continue
		}
		if f.Status != "" && h.Status != f.Status {
			continue
		}
		holds = append(holds, h)
	}

	sort.Slice(holds, func(i, j int) bool {
		return holds[i].PlacedAt.Before(holds[j].PlacedAt)
	})

	return pageSlice(holds, f.Offset, f.Limit), nil
}

// ── helpers ──

// pageSlice applies offset and limit to an already ordered slice.
func pageSlice[T any](items []T, offset, limit int) []T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) {
		return nil
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func bookToMap(b *catalog.Book) map[string]interface{} {
	return map[string]interface{}{
		"id":               b.ID.String(),
		"isbn":             b.ISBN,
		"title":            b.Title,
		"author":           b.Author,
		"genre":            b.Genre,
		"copies_total":     strconv.Itoa(b.CopiesTotal),
		"copies_available": strconv.Itoa(b.CopiesAvailable),
		"created_at":       b.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       b.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToBook(m map[string]string) (*catalog.Book, error) {
	bID, err := id.ParseBookID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: parse book id: %w", err)
	}

	total, _ := strconv.Atoi(m["copies_total"])                   //nolint:errcheck // best-effort parse from trusted Redis data
	avail, _ := strconv.Atoi(m["copies_available"])               //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &catalog.Book{
		Entity: circulate.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:              bID,
		ISBN:            m["isbn"],
		Title:           m["title"],
		Author:          m["author"],
		Genre:           m["genre"],
		CopiesTotal:     total,
		CopiesAvailable: avail,
	}, nil
}

func memberToMap(mb *catalog.Member) map[string]interface{} {
	return map[string]interface{}{
		"id":         mb.ID.String(),
		"name":       mb.Name,
		"email":      mb.Email,
		"role":       string(mb.Role),
		"created_at": mb.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": mb.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToMember(m map[string]string) (*catalog.Member, error) {
	mID, err := id.ParseMemberID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: parse member id: %w", err)
	}

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &catalog.Member{
		Entity: circulate.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:    mID,
		Name:  m["name"],
		Email: m["email"],
		Role:  catalog.Role(m["role"]),
	}, nil
}

func loanToMap(l *catalog.Loan) map[string]interface{} {
	m := map[string]interface{}{
		"id":          l.ID.String(),
		"book_id":     l.BookID.String(),
		"member_id":   l.MemberID.String(),
		"borrowed_at": l.BorrowedAt.Format(time.RFC3339Nano),
		"due_at":      l.DueAt.Format(time.RFC3339Nano),
		"created_at":  l.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  l.UpdatedAt.Format(time.RFC3339Nano),
	}
	if l.ReturnedAt != nil {
		m["returned_at"] = l.ReturnedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToLoan(m map[string]string) (*catalog.Loan, error) {
	lID, err := id.ParseLoanID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: parse loan id: %w", err)
	}

	bookID, _ := id.ParseBookID(m["book_id"])                      //nolint:errcheck // best-effort parse from trusted Redis data
	memberID, _ := id.ParseMemberID(m["member_id"])                //nolint:errcheck // best-effort parse from trusted Redis data
	borrowedAt, _ := time.Parse(time.RFC3339Nano, m["borrowed_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	dueAt, _ := time.Parse(time.RFC3339Nano, m["due_at"])          //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"])  //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"])  //nolint:errcheck // best-effort parse from trusted Redis data

	l := &catalog.Loan{
		Entity: circulate.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:         lID,
		BookID:     bookID,
		MemberID:   memberID,
		BorrowedAt: borrowedAt,
		DueAt:      dueAt,
	}

	if v := m["returned_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		l.ReturnedAt = &t
	}
	return l, nil
}

func holdToMap(h *catalog.Hold) map[string]interface{} {
	return map[string]interface{}{
		"id":         h.ID.String(),
		"book_id":    h.BookID.String(),
		"member_id":  h.MemberID.String(),
		"placed_at":  h.PlacedAt.Format(time.RFC3339Nano),
		"status":     string(h.Status),
		"created_at": h.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": h.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToHold(m map[string]string) (*catalog.Hold, error) {
	hID, err := id.ParseHoldID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: parse hold id: %w", err)
	}

	bookID, _ := id.ParseBookID(m["book_id"])                     //nolint:errcheck // best-effort parse from trusted Redis data
	memberID, _ := id.ParseMemberID(m["member_id"])               //nolint:errcheck // best-effort parse from trusted Redis data
	placedAt, _ := time.Parse(time.RFC3339Nano, m["placed_at"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	return &catalog.Hold{
		Entity: circulate.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:       hID,
		BookID:   bookID,
		MemberID: memberID,
		PlacedAt: placedAt,
		Status:   catalog.HoldStatus(m["status"]),
	}, nil
}
