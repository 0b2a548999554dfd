//go:build integration

package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
	bunstore "github.com/xraph/circulate/store/bun"
)

// setupTestStore creates a Postgres container and returns a connected Bun Store.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("circulate_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	// Create Bun DB from pgdriver.
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	db := bun.NewDB(sqldb, pgdialect.New())

	t.Cleanup(func() {
		_ = db.Close()
	})

	store := bunstore.New(db, bunstore.WithLogger(slog.Default()))

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}

	return store
}

func testBook(title string, copies int) *catalog.Book {
	return &catalog.Book{
		Entity:          circulate.NewEntity(),
		ID:              id.NewBookID(),
		ISBN:            "978-0-13-468599-1",
		Title:           title,
		Author:          "Alan A. A. Donovan",
		Genre:           "programming",
		CopiesTotal:     copies,
		CopiesAvailable: copies,
	}
}

func testMember(name string, role catalog.Role) *catalog.Member {
	return &catalog.Member{
		Entity: circulate.NewEntity(),
		ID:     id.NewMemberID(),
		Name:   name,
		Email:  name + "@example.org",
		Role:   role,
	}
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

func TestStore_MigrateIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	// Second migrate should be a no-op.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Book store tests
// ──────────────────────────────────────────────────

func TestBookStore_CreateAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	b := testBook("The Go Programming Language", 3)
	if err := s.CreateBook(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "The Go Programming Language" {
		t.Fatalf("expected title, got %s", got.Title)
	}
	if got.CopiesAvailable != 3 {
		t.Fatalf("expected 3 copies available, got %d", got.CopiesAvailable)
	}

	_, err = s.GetBook(ctx, id.NewBookID())
	if !errors.Is(err, circulate.ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got: %v", err)
	}
}

func TestBookStore_UpdateAndDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	b := testBook("update-me", 1)
	if err := s.CreateBook(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	b.Title = "updated"
	b.CopiesTotal = 5
	if err := s.UpdateBook(ctx, b); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetBook(ctx, b.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Title != "updated" || got.CopiesTotal != 5 {
		t.Fatalf("update not applied: %+v", got)
	}

	if err = s.DeleteBook(ctx, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if delErr := s.DeleteBook(ctx, b.ID); !errors.Is(delErr, circulate.ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got: %v", delErr)
	}
}

func TestBookStore_ListFilters(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b := testBook(fmt.Sprintf("book-%d", i), 1)
		b.ISBN = fmt.Sprintf("978-0-0000-000%d-0", i)
		if i%2 == 0 {
			b.Genre = "fiction"
		}
		if err := s.CreateBook(ctx, b); err != nil {
			t.Fatalf("create book-%d: %v", i, err)
		}
	}

	fiction, err := s.ListBooks(ctx, catalog.BookFilter{Genre: "fiction"})
	if err != nil {
		t.Fatalf("list by genre: %v", err)
	}
	if len(fiction) != 2 {
		t.Fatalf("expected 2 fiction, got %d", len(fiction))
	}

	byISBN, err := s.ListBooks(ctx, catalog.BookFilter{ISBN: "978-0-0000-0001-0"})
	if err != nil {
		t.Fatalf("list by isbn: %v", err)
	}
	if len(byISBN) != 1 {
		t.Fatalf("expected 1 match, got %d", len(byISBN))
	}

	page, err := s.ListBooks(ctx, catalog.BookFilter{Limit: 3, Offset: 2})
	if err != nil {
		t.Fatalf("list page: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 on second page, got %d", len(page))
	}
}

func TestBookStore_AdjustCopies(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	b := testBook("adjust-me", 2)
	if err := s.CreateBook(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	count, err := s.AdjustCopies(ctx, b.ID, -1)
	if err != nil {
		t.Fatalf("adjust -1: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}

	count, err = s.AdjustCopies(ctx, b.ID, -1)
	if err != nil {
		t.Fatalf("adjust -1 again: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}

	// Driving below zero fails and leaves the count untouched.
	count, err = s.AdjustCopies(ctx, b.ID, -1)
	if !errors.Is(err, circulate.ErrNoCopies) {
		t.Fatalf("expected ErrNoCopies, got: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0 with ErrNoCopies, got %d", count)
	}

	count, err = s.AdjustCopies(ctx, b.ID, 2)
	if err != nil {
		t.Fatalf("adjust +2: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 after return, got %d", count)
	}

	_, err = s.AdjustCopies(ctx, id.NewBookID(), -1)
	if !errors.Is(err, circulate.ErrBookNotFound) {
		t.Fatalf("expected ErrBookNotFound, got: %v", err)
	}
}

// ──────────────────────────────────────────────────
// Member store tests
// ──────────────────────────────────────────────────

func TestMemberStore_CRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	m := testMember("ada", catalog.RoleLibrarian)
	if err := s.CreateMember(ctx, m); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Role != catalog.RoleLibrarian {
		t.Fatalf("expected librarian, got %s", got.Role)
	}

	m.Email = "ada@library.example"
	if err = s.UpdateMember(ctx, m); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err = s.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Email != "ada@library.example" {
		t.Fatalf("update not applied: %s", got.Email)
	}

	if err = s.DeleteMember(ctx, m.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, getErr := s.GetMember(ctx, m.ID)
	if !errors.Is(getErr, circulate.ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got: %v", getErr)
	}
}

func TestMemberStore_ListByRole(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	roles := []catalog.Role{catalog.RoleMember, catalog.RoleMember, catalog.RoleLibrarian}
	for i, role := range roles {
		if err := s.CreateMember(ctx, testMember(fmt.Sprintf("m%d", i), role)); err != nil {
			t.Fatalf("create m%d: %v", i, err)
		}
	}

	members, err := s.ListMembers(ctx, catalog.MemberFilter{Role: catalog.RoleMember})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
}

// ──────────────────────────────────────────────────
// Loan store tests
// ──────────────────────────────────────────────────

func TestLoanStore_OpenLoans(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	b := testBook("loaned", 5)
	m := testMember("reader", catalog.RoleMember)
	if err := s.CreateBook(ctx, b); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := s.CreateMember(ctx, m); err != nil {
		t.Fatalf("create member: %v", err)
	}

	now := time.Now().UTC()
	returned := now.Add(-time.Hour)
	loans := []*catalog.Loan{
		{Entity: circulate.NewEntity(), ID: id.NewLoanID(), BookID: b.ID, MemberID: m.ID, BorrowedAt: now.Add(-48 * time.Hour), DueAt: now.Add(24 * time.Hour), ReturnedAt: &returned},
		{Entity: circulate.NewEntity(), ID: id.NewLoanID(), BookID: b.ID, MemberID: m.ID, BorrowedAt: now, DueAt: now.Add(72 * time.Hour)},
	}
	for i, l := range loans {
		if err := s.CreateLoan(ctx, l); err != nil {
			t.Fatalf("create loan %d: %v", i, err)
		}
	}

	open, err := s.ListLoans(ctx, catalog.LoanFilter{MemberID: m.ID, OpenOnly: true})
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open loan, got %d", len(open))
	}
	if open[0].ReturnedAt != nil {
		t.Fatal("open loan should have nil ReturnedAt")
	}

	count, err := s.CountOpenLoans(ctx, m.ID)
	if err != nil {
		t.Fatalf("count open: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}

	// Closing the loan empties the open set.
	open[0].ReturnedAt = &now
	if err = s.UpdateLoan(ctx, open[0]); err != nil {
		t.Fatalf("update loan: %v", err)
	}
	count, err = s.CountOpenLoans(ctx, m.ID)
	if err != nil {
		t.Fatalf("count after return: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0, got %d", count)
	}
}

// ──────────────────────────────────────────────────
// Hold store tests
// ──────────────────────────────────────────────────

func TestHoldStore_OldestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	b := testBook("held", 0)
	if err := s.CreateBook(ctx, b); err != nil {
		t.Fatalf("create book: %v", err)
	}

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		h := &catalog.Hold{
			Entity:   circulate.NewEntity(),
			ID:       id.NewHoldID(),
			BookID:   b.ID,
			MemberID: id.NewMemberID(),
			PlacedAt: now.Add(-time.Duration(i) * time.Hour),
			Status:   catalog.HoldActive,
		}
		if err := s.CreateHold(ctx, h); err != nil {
			t.Fatalf("create hold %d: %v", i, err)
		}
	}

	holds, err := s.ListHolds(ctx, catalog.HoldFilter{BookID: b.ID, Status: catalog.HoldActive})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(holds) != 3 {
		t.Fatalf("expected 3 holds, got %d", len(holds))
	}
	for i := 1; i < len(holds); i++ {
		if holds[i].PlacedAt.Before(holds[i-1].PlacedAt) {
			t.Fatal("holds not ordered oldest first")
		}
	}

	// Cancelling drops a hold from the active set.
	holds[0].Status = catalog.HoldCancelled
	if err = s.UpdateHold(ctx, holds[0]); err != nil {
		t.Fatalf("update hold: %v", err)
	}
	active, err := s.ListHolds(ctx, catalog.HoldFilter{BookID: b.ID, Status: catalog.HoldActive})
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}
}

// ──────────────────────────────────────────────────
// Journal store tests
// ──────────────────────────────────────────────────

func TestJournalStore_AppendAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	bookID := id.NewBookID()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		e := &journal.Entry{
			ID:         id.NewJournalID(),
			TaskID:     id.NewTaskID(),
			Label:      fmt.Sprintf("op-%d", i%2),
			Kind:       circulation.KindBorrow,
			BookID:     bookID,
			Outcome:    "ok",
			ElapsedMS:  int64(i * 10),
			RecordedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendEntry(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	all, err := s.ListEntries(ctx, journal.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3, got %d", len(all))
	}
	// Newest first.
	if all[0].RecordedAt.Before(all[1].RecordedAt) {
		t.Fatal("entries not ordered newest first")
	}

	got, err := s.GetEntry(ctx, all[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Kind != circulation.KindBorrow {
		t.Fatalf("expected borrow kind, got %s", got.Kind)
	}
	if got.BookID.String() != bookID.String() {
		t.Fatalf("book id mismatch: %s", got.BookID)
	}

	byLabel, err := s.ListEntries(ctx, journal.Filter{Label: "op-1"})
	if err != nil {
		t.Fatalf("list by label: %v", err)
	}
	if len(byLabel) != 1 {
		t.Fatalf("expected 1 op-1 entry, got %d", len(byLabel))
	}

	since, err := s.ListEntries(ctx, journal.Filter{Since: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("list since: %v", err)
	}
	if len(since) != 2 {
		t.Fatalf("expected 2 since, got %d", len(since))
	}
}

func TestJournalStore_CountAndPurge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		e := &journal.Entry{
			ID:         id.NewJournalID(),
			TaskID:     id.NewTaskID(),
			Label:      "purge-test",
			Outcome:    "ok",
			RecordedAt: now.Add(-time.Duration(i) * time.Hour),
		}
		if err := s.AppendEntry(ctx, e); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	count, err := s.CountEntries(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4, got %d", count)
	}

	purged, err := s.PurgeEntries(ctx, now.Add(-90*time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}

	count, err = s.CountEntries(ctx)
	if err != nil {
		t.Fatalf("count after purge: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 remaining, got %d", count)
	}
}

// ──────────────────────────────────────────────────
// DLQ store tests
// ──────────────────────────────────────────────────

func TestDLQStore_PushAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := &dlq.Entry{
		ID:     id.NewDLQID(),
		TaskID: id.NewTaskID(),
		Label:  "borrow-book",
		Op: &circulation.Op{
			Kind:     circulation.KindBorrow,
			BookID:   id.NewBookID(),
			MemberID: id.NewMemberID(),
		},
		Error:     "no copies available",
		Attempts:  2,
		FailedAt:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Label != "borrow-book" {
		t.Fatalf("expected borrow-book, got %s", got.Label)
	}
	if got.Op == nil || got.Op.Kind != circulation.KindBorrow {
		t.Fatalf("op did not round-trip: %+v", got.Op)
	}
	if got.Op.BookID.String() != entry.Op.BookID.String() {
		t.Fatalf("op book id mismatch: %s", got.Op.BookID)
	}
	if got.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", got.Attempts)
	}
}

func TestDLQStore_ListAndPurge(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		entry := &dlq.Entry{
			ID:        id.NewDLQID(),
			TaskID:    id.NewTaskID(),
			Label:     fmt.Sprintf("dlq-op-%d", i),
			Op:        &circulation.Op{Kind: circulation.KindReturn, LoanID: id.NewLoanID()},
			Error:     "loan already returned",
			Attempts:  1,
			FailedAt:  time.Now().UTC().Add(-time.Duration(i) * time.Hour),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.PushDLQ(ctx, entry); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5, got %d", len(entries))
	}

	// Purge entries older than 2 hours.
	purged, err := s.PurgeDLQ(ctx, time.Now().UTC().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 3 {
		t.Fatalf("expected 3 purged, got %d", purged)
	}

	remaining, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("list after purge: %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2, got %d", len(remaining))
	}
}

func TestDLQStore_Replay(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := &dlq.Entry{
		ID:        id.NewDLQID(),
		TaskID:    id.NewTaskID(),
		Label:     "replay-op",
		Op:        &circulation.Op{Kind: circulation.KindReserve, BookID: id.NewBookID()},
		Error:     "error",
		Attempts:  1,
		FailedAt:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.PushDLQ(ctx, entry); err != nil {
		t.Fatalf("push: %v", err)
	}

	if err := s.ReplayDLQ(ctx, entry.ID); err != nil {
		t.Fatalf("replay: %v", err)
	}

	got, err := s.GetDLQ(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get after replay: %v", err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected replayed_at to be set")
	}

	// Unreplayed listing excludes it now.
	unreplayed, err := s.ListDLQ(ctx, dlq.ListOpts{Unreplayed: true})
	if err != nil {
		t.Fatalf("list unreplayed: %v", err)
	}
	if len(unreplayed) != 0 {
		t.Fatalf("expected 0 unreplayed, got %d", len(unreplayed))
	}

	if replayErr := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(replayErr, circulate.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got: %v", replayErr)
	}
}

func TestDLQStore_Count(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry := &dlq.Entry{
			ID:        id.NewDLQID(),
			TaskID:    id.NewTaskID(),
			Label:     "count-op",
			Op:        &circulation.Op{Kind: circulation.KindAddBook},
			Error:     "error",
			Attempts:  1,
			FailedAt:  time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
		}
		if err := s.PushDLQ(ctx, entry); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}
}

// ──────────────────────────────────────────────────
// Cluster store tests
// ──────────────────────────────────────────────────

func TestClusterStore_RegisterAndList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inst := &cluster.Instance{
		ID:          id.NewInstanceID(),
		Hostname:    "node-1",
		Concurrency: 4,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC(),
		Metadata:    map[string]string{"version": "1.0"},
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.RegisterInstance(ctx, inst); err != nil {
		t.Fatalf("register: %v", err)
	}

	instances, err := s.ListInstances(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1, got %d", len(instances))
	}
	if instances[0].Hostname != "node-1" {
		t.Fatalf("expected node-1, got %s", instances[0].Hostname)
	}
	if instances[0].Metadata["version"] != "1.0" {
		t.Fatalf("metadata did not round-trip: %v", instances[0].Metadata)
	}

	// Re-register refreshes without duplicating.
	inst.Concurrency = 8
	if err = s.RegisterInstance(ctx, inst); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	instances, err = s.ListInstances(ctx)
	if err != nil {
		t.Fatalf("list after re-register: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("expected 1 after re-register, got %d", len(instances))
	}
	if instances[0].Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", instances[0].Concurrency)
	}
}

func TestClusterStore_Deregister(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inst := &cluster.Instance{
		ID:          id.NewInstanceID(),
		Hostname:    "ephemeral",
		Concurrency: 2,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.RegisterInstance(ctx, inst); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.DeregisterInstance(ctx, inst.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}

	instances, err := s.ListInstances(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(instances) != 0 {
		t.Fatalf("expected 0, got %d", len(instances))
	}

	if deregErr := s.DeregisterInstance(ctx, inst.ID); !errors.Is(deregErr, circulate.ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got: %v", deregErr)
	}
}

func TestClusterStore_HeartbeatAndReap(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inst := &cluster.Instance{
		ID:          id.NewInstanceID(),
		Hostname:    "stale-node",
		Concurrency: 2,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC().Add(-5 * time.Minute),
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.RegisterInstance(ctx, inst); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Should be reaped with 1-minute threshold.
	dead, err := s.ReapDeadInstances(ctx, 1*time.Minute)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if len(dead) != 1 {
		t.Fatalf("expected 1 dead, got %d", len(dead))
	}

	// Heartbeat refreshes.
	if err = s.HeartbeatInstance(ctx, inst.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	dead, err = s.ReapDeadInstances(ctx, 1*time.Minute)
	if err != nil {
		t.Fatalf("reap after heartbeat: %v", err)
	}
	if len(dead) != 0 {
		t.Fatalf("expected 0 dead after heartbeat, got %d", len(dead))
	}
}

func TestClusterStore_Leadership(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	i1 := &cluster.Instance{
		ID:          id.NewInstanceID(),
		Hostname:    "leader-1",
		Concurrency: 4,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	i2 := &cluster.Instance{
		ID:          id.NewInstanceID(),
		Hostname:    "leader-2",
		Concurrency: 4,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	for _, inst := range []*cluster.Instance{i1, i2} {
		if err := s.RegisterInstance(ctx, inst); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	// i1 acquires leadership.
	acquired, err := s.AcquireLeadership(ctx, i1.ID, 30*time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquired")
	}

	// i2 cannot acquire.
	acquired, err = s.AcquireLeadership(ctx, i2.ID, 30*time.Second)
	if err != nil {
		t.Fatalf("acquire by i2: %v", err)
	}
	if acquired {
		t.Fatal("expected not acquired by i2")
	}

	// GetLeader returns i1.
	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("get leader: %v", err)
	}
	if leader == nil {
		t.Fatal("expected leader")
	}
	if leader.ID.String() != i1.ID.String() {
		t.Fatalf("expected i1 as leader, got %s", leader.ID.String())
	}

	// i1 renews.
	renewed, err := s.RenewLeadership(ctx, i1.ID, 30*time.Second)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if !renewed {
		t.Fatal("expected renewed")
	}

	// i2 cannot renew (not leader).
	renewed, err = s.RenewLeadership(ctx, i2.ID, 30*time.Second)
	if err != nil {
		t.Fatalf("renew by i2: %v", err)
	}
	if renewed {
		t.Fatal("expected not renewed by i2")
	}
}

func TestClusterStore_LeaderExpiry(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	i1 := &cluster.Instance{
		ID:          id.NewInstanceID(),
		Hostname:    "expiring-leader",
		Concurrency: 4,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}
	i2 := &cluster.Instance{
		ID:          id.NewInstanceID(),
		Hostname:    "new-leader",
		Concurrency: 4,
		State:       cluster.InstanceActive,
		LastSeen:    time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	for _, inst := range []*cluster.Instance{i1, i2} {
		if err := s.RegisterInstance(ctx, inst); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	// i1 acquires with very short TTL.
	acquired, err := s.AcquireLeadership(ctx, i1.ID, 1*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquired")
	}

	// Wait for TTL to expire.
	time.Sleep(50 * time.Millisecond)

	// i2 should now be able to acquire.
	acquired, err = s.AcquireLeadership(ctx, i2.ID, 30*time.Second)
	if err != nil {
		t.Fatalf("acquire by i2: %v", err)
	}
	if !acquired {
		t.Fatal("expected acquired by i2 after expiry")
	}
}
