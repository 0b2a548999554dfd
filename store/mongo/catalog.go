package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/id"
)

// ── Books ─────────────────────────────────────────────────────────

// CreateBook persists a new book.
func (s *Store) CreateBook(ctx context.Context, b *catalog.Book) error {
	m := toBookModel(b)
	_, err := s.db.Collection(colBooks).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: create book: %w", err)
	}
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, bookID id.BookID) (*catalog.Book, error) {
	var m bookModel
	err := s.db.Collection(colBooks).FindOne(ctx, bson.M{"_id": bookID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, circulate.ErrBookNotFound
		}
		return nil, fmt.Errorf("circulate/mongo: get book: %w", err)
	}
	return fromBookModel(&m)
}

// UpdateBook persists changes to an existing book.
func (s *Store) UpdateBook(ctx context.Context, b *catalog.Book) error {
	b.Touch()
	m := toBookModel(b)
	res, err := s.db.Collection(colBooks).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: update book: %w", err)
	}
	if res.MatchedCount == 0 {
		return circulate.ErrBookNotFound
	}
	return nil
}

// DeleteBook removes a book by ID.
func (s *Store) DeleteBook(ctx context.Context, bookID id.BookID) error {
	res, err := s.db.Collection(colBooks).DeleteOne(ctx, bson.M{"_id": bookID.String()})
	if err != nil {
		return fmt.Errorf("circulate/mongo: delete book: %w", err)
	}
	if res.DeletedCount == 0 {
		return circulate.ErrBookNotFound
	}
	return nil
}

// ListBooks returns books matching the filter, ordered by ID.
func (s *Store) ListBooks(ctx context.Context, f catalog.BookFilter) ([]*catalog.Book, error) {
	filter := bson.M{}
	if f.ISBN != "" {
		filter["isbn"] = f.ISBN
	}
	if f.Genre != "" {
		filter["genre"] = f.Genre
	}

	findOpts := findOptions(bson.D{{Key: "_id", Value: 1}}, f.Limit, f.Offset)
	cursor, err := s.db.Collection(colBooks).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: list books: %w", err)
	}
	defer cursor.Close(ctx)

	var models []bookModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("circulate/mongo: list books decode: %w", err)
	}

	books := make([]*catalog.Book, 0, len(models))
	for i := range models {
		b, convErr := fromBookModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("circulate/mongo: list books convert: %w", convErr)
		}
		books = append(books, b)
	}
	return books, nil
}

// AdjustCopies atomically changes a book's available copy count by delta
// and returns the new count. The guarded FindOneAndUpdate refuses
// adjustments that would land below zero.
func (s *Store) AdjustCopies(ctx context.Context, bookID id.BookID, delta int) (int, error) {
	col := s.db.Collection(colBooks)
	t := now()

	filter := bson.M{
		"_id":              bookID.String(),
		"copies_available": bson.M{"$gte": -delta},
	}
	update := bson.M{
		"$inc": bson.M{"copies_available": delta},
		"$set": bson.M{"updated_at": t},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var m bookModel
	err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
	if err == nil {
		return m.CopiesAvailable, nil
	}
	if !isNoDocuments(err) {
		return 0, fmt.Errorf("circulate/mongo: adjust copies: %w", err)
	}

	// Guard refused: distinguish a missing book from exhausted copies.
	var cur bookModel
	err = col.FindOne(ctx, bson.M{"_id": bookID.String()}).Decode(&cur)
	if err != nil {
		if isNoDocuments(err) {
			return 0, circulate.ErrBookNotFound
		}
		return 0, fmt.Errorf("circulate/mongo: adjust copies check: %w", err)
	}
	return cur.CopiesAvailable, circulate.ErrNoCopies
}

// ── Members ───────────────────────────────────────────────────────

// CreateMember persists a new member.
func (s *Store) CreateMember(ctx context.Context, mb *catalog.Member) error {
	m := toMemberModel(mb)
	_, err := s.db.Collection(colMembers).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: create member: %w", err)
	}
	return nil
}

// GetMember retrieves a member by ID.
func (s *Store) GetMember(ctx context.Context, memberID id.MemberID) (*catalog.Member, error) {
	var m memberModel
	err := s.db.Collection(colMembers).FindOne(ctx, bson.M{"_id": memberID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, circulate.ErrMemberNotFound
		}
		return nil, fmt.Errorf("circulate/mongo: get member: %w", err)
	}
	return fromMemberModel(&m)
}

// UpdateMember persists changes to an existing member.
func (s *Store) UpdateMember(ctx context.Context, mb *catalog.Member) error {
	mb.Touch()
	m := toMemberModel(mb)
	res, err := s.db.Collection(colMembers).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: update member: %w", err)
	}
	if res.MatchedCount == 0 {
		return circulate.ErrMemberNotFound
	}
	return nil
}

// DeleteMember removes a member by ID.
func (s *Store) DeleteMember(ctx context.Context, memberID id.MemberID) error {
	res, err := s.db.Collection(colMembers).DeleteOne(ctx, bson.M{"_id": memberID.String()})
	if err != nil {
		return fmt.Errorf("circulate/mongo: delete member: %w", err)
	}
	if res.DeletedCount == 0 {
		return circulate.ErrMemberNotFound
	}
	return nil
}

// ListMembers returns members matching the filter, ordered by ID.
func (s *Store) ListMembers(ctx context.Context, f catalog.MemberFilter) ([]*catalog.Member, error) {
	filter := bson.M{}
	if f.Role != "" {
		filter["role"] = string(f.Role)
	}

	findOpts := findOptions(bson.D{{Key: "_id", Value: 1}}, f.Limit, f.Offset)
	cursor, err := s.db.Collection(colMembers).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: list members: %w", err)
	}
	defer cursor.Close(ctx)

	var models []memberModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("circulate/mongo: list members decode: %w", err)
	}

	members := make([]*catalog.Member, 0, len(models))
	for i := range models {
		mb, convErr := fromMemberModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("circulate/mongo: list members convert: %w", convErr)
		}
		members = append(members, mb)
	}
	return members, nil
}

// ── Loans ─────────────────────────────────────────────────────────

// CreateLoan persists a new loan.
func (s *Store) CreateLoan(ctx context.Context, l *catalog.Loan) error {
	m := toLoanModel(l)
	_, err := s.db.Collection(colLoans).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: create loan: %w", err)
	}
	return nil
}

// GetLoan retrieves a loan by ID.
func (s *Store) GetLoan(ctx context.Context, loanID id.LoanID) (*catalog.Loan, error) {
	var m loanModel
	err := s.db.Collection(colLoans).FindOne(ctx, bson.M{"_id": loanID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, circulate.ErrLoanNotFound
		}
		return nil, fmt.Errorf("circulate/mongo: get loan: %w", err)
	}
	return fromLoanModel(&m)
}

// UpdateLoan persists changes to an existing loan.
func (s *Store) UpdateLoan(ctx context.Context, l *catalog.Loan) error {
	l.Touch()
	m := toLoanModel(l)
	res, err := s.db.Collection(colLoans).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: update loan: %w", err)
	}
	if res.MatchedCount == 0 {
		return circulate.ErrLoanNotFound
	}
	return nil
}

// ListLoans returns loans matching the filter, ordered by ID.
func (s *Store) ListLoans(ctx context.Context, f catalog.LoanFilter) ([]*catalog.Loan, error) {
	filter := bson.M{}
	if !f.BookID.IsNil() {
		filter["book_id"] = f.BookID.String()
	}
	if !f.MemberID.IsNil() {
		filter["member_id"] = f.MemberID.String()
	}
	if f.OpenOnly {
		filter["returned_at"] = nil
	}

	findOpts := findOptions(bson.D{{Key: "_id", Value: 1}}, f.Limit, f.Offset)
	cursor, err := s.db.Collection(colLoans).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: list loans: %w", err)
	}
	defer cursor.Close(ctx)

	var models []loanModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("circulate/mongo: list loans decode: %w", err)
	}

	loans := make([]*catalog.Loan, 0, len(models))
	for i := range models {
		l, convErr := fromLoanModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("circulate/mongo: list loans convert: %w", convErr)
		}
		loans = append(loans, l)
	}
	return loans, nil
}

// CountOpenLoans returns the number of open loans held by a member.
func (s *Store) CountOpenLoans(ctx context.Context, memberID id.MemberID) (int, error) {
	count, err := s.db.Collection(colLoans).CountDocuments(ctx, bson.M{
		"member_id":   memberID.String(),
		"returned_at": nil,
	})
	if err != nil {
		return 0, fmt.Errorf("circulate/mongo: count open loans: %w", err)
	}
	return int(count), nil
}

// ── Holds ─────────────────────────────────────────────────────────

// CreateHold persists a new hold.
func (s *Store) CreateHold(ctx context.Context, h *catalog.Hold) error {
	m := toHoldModel(h)
	_, err := s.db.Collection(colHolds).InsertOne(ctx, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: create hold: %w", err)
	}
	return nil
}

// GetHold retrieves a hold by ID.
func (s *Store) GetHold(ctx context.Context, holdID id.HoldID) (*catalog.Hold, error) {
	var m holdModel
	err := s.db.Collection(colHolds).FindOne(ctx, bson.M{"_id": holdID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, circulate.ErrHoldNotFound
		}
		return nil, fmt.Errorf("circulate/mongo: get hold: %w", err)
	}
	return fromHoldModel(&m)
}

// UpdateHold persists changes to an existing hold.
func (s *Store) UpdateHold(ctx context.Context, h *catalog.Hold) error {
	h.Touch()
	m := toHoldModel(h)
	res, err := s.db.Collection(colHolds).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("circulate/mongo: update hold: %w", err)
	}
	if res.MatchedCount == 0 {
		return circulate.ErrHoldNotFound
	}
	return nil
}

// ListHolds returns holds matching the filter, oldest placement first.
func (s *Store) ListHolds(ctx context.Context, f catalog.HoldFilter) ([]*catalog.Hold, error) {
	filter := bson.M{}
	if !f.BookID.IsNil() {
		filter["book_id"] = f.BookID.String()
	}
	if !f.MemberID.IsNil() {
		filter["member_id"] = f.MemberID.String()
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}

	findOpts := findOptions(bson.D{{Key: "placed_at", Value: 1}}, f.Limit, f.Offset)
	cursor, err := s.db.Collection(colHolds).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: list holds: %w", err)
	}
	defer cursor.Close(ctx)

	var models []holdModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("circulate/mongo: list holds decode: %w", err)
	}

	holds := make([]*catalog.Hold, 0, len(models))
	for i := range models {
		h, convErr := fromHoldModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("circulate/mongo: list holds convert: %w", convErr)
		}
		holds = append(holds, h)
	}
	return holds, nil
}
