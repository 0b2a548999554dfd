package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/api"
	"github.com/xraph/circulate/catalog"
	"github.com/xraph/circulate/dlq"
	"github.com/xraph/circulate/engine"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
	"github.com/xraph/circulate/store/memory"
)

// ── Test helpers ────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T) (http.Handler, *engine.Engine) {
	t.Helper()
	c, err := circulate.New(
		circulate.WithStore(memory.New()),
		circulate.WithConcurrency(2),
		circulate.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("circulate.New: %v", err)
	}
	eng, err := engine.Build(c)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	a := api.New(eng, api.WithLogger(testLogger()))
	return a.Handler(), eng
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func createMember(t *testing.T, h http.Handler, name string, role catalog.Role) *catalog.Member {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/members", catalog.Member{
		Name:  name,
		Email: name + "@example.com",
		Role:  role,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create member: %d %s", rec.Code, rec.Body.String())
	}
	m := decodeBody[*catalog.Member](t, rec)
	return m
}

func createBook(t *testing.T, h http.Handler, title string, copies int) *catalog.Book {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/books", catalog.Book{
		Title:       title,
		Author:      "Octavia E. Butler",
		CopiesTotal: copies,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create book: %d %s", rec.Code, rec.Body.String())
	}
	return decodeBody[*catalog.Book](t, rec)
}

// ── Books ───────────────────────────────────────────

func TestAPI_BookCRUD(t *testing.T) {
	h, _ := newTestAPI(t)

	b := createBook(t, h, "Kindred", 3)
	if b.ID.IsNil() {
		t.Fatal("created book has no ID")
	}
	if b.CopiesAvailable != 3 {
		t.Errorf("copies available = %d, want 3", b.CopiesAvailable)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/books/"+b.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get book: %d", rec.Code)
	}
	if got := decodeBody[*catalog.Book](t, rec); got.Title != "Kindred" {
		t.Errorf("title = %q", got.Title)
	}

	rec = doJSON(t, h, http.MethodPut, "/v1/books/"+b.ID.String(), catalog.Book{
		Title:       "Kindred (25th Anniversary)",
		Author:      "Octavia E. Butler",
		CopiesTotal: 3,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update book: %d %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody[*catalog.Book](t, rec); got.Title != "Kindred (25th Anniversary)" {
		t.Errorf("updated title = %q", got.Title)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/books", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list books: %d", rec.Code)
	}
	if books := decodeBody[[]*catalog.Book](t, rec); len(books) != 1 {
		t.Errorf("books = %d, want 1", len(books))
	}

	rec = doJSON(t, h, http.MethodDelete, "/v1/books/"+b.ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete book: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/books/"+b.ID.String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted book: %d, want 404", rec.Code)
	}
}

func TestAPI_InvalidBookID(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/books/not-an-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bogus ID: %d, want 400", rec.Code)
	}

	// A well-formed ID with the wrong prefix is rejected the same way.
	rec = doJSON(t, h, http.MethodGet, "/v1/books/"+id.NewMemberID().String(), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("member ID in book route: %d, want 400", rec.Code)
	}
}

// ── Circulation ─────────────────────────────────────

func TestAPI_BorrowAndReturnFlow(t *testing.T) {
	h, _ := newTestAPI(t)

	m := createMember(t, h, "reader", catalog.RoleMember)
	b := createBook(t, h, "Parable of the Sower", 2)

	rec := doJSON(t, h, http.MethodPost, "/v1/books/"+b.ID.String()+"/borrow",
		api.BorrowRequest{MemberID: m.ID.String()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("borrow: %d %s", rec.Code, rec.Body.String())
	}
	loan := decodeBody[*catalog.Loan](t, rec)
	if loan.BookID != b.ID || loan.MemberID != m.ID {
		t.Fatalf("loan references wrong entities: %+v", loan)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/books/"+b.ID.String(), nil)
	if got := decodeBody[*catalog.Book](t, rec); got.CopiesAvailable != 1 {
		t.Errorf("copies after borrow = %d, want 1", got.CopiesAvailable)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/members/"+m.ID.String()+"/loans?open=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("member loans: %d", rec.Code)
	}
	if loans := decodeBody[[]*catalog.Loan](t, rec); len(loans) != 1 {
		t.Errorf("open loans = %d, want 1", len(loans))
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/loans/"+loan.ID.String()+"/return", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("return: %d %s", rec.Code, rec.Body.String())
	}
	if returned := decodeBody[*catalog.Loan](t, rec); returned.ReturnedAt == nil {
		t.Error("returned loan has no return time")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/books/"+b.ID.String(), nil)
	if got := decodeBody[*catalog.Book](t, rec); got.CopiesAvailable != 2 {
		t.Errorf("copies after return = %d, want 2", got.CopiesAvailable)
	}
}

func TestAPI_BorrowUnknownMember(t *testing.T) {
	h, _ := newTestAPI(t)
	b := createBook(t, h, "Dawn", 1)

	rec := doJSON(t, h, http.MethodPost, "/v1/books/"+b.ID.String()+"/borrow",
		api.BorrowRequest{MemberID: id.NewMemberID().String()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("borrow unknown member: %d, want 404", rec.Code)
	}
	if resp := decodeBody[api.ErrorResponse](t, rec); resp.Error == "" {
		t.Error("error response has no message")
	}
}

func TestAPI_BorrowNoCopies(t *testing.T) {
	h, _ := newTestAPI(t)

	m1 := createMember(t, h, "first", catalog.RoleMember)
	m2 := createMember(t, h, "second", catalog.RoleMember)
	b := createBook(t, h, "Wild Seed", 1)

	rec := doJSON(t, h, http.MethodPost, "/v1/books/"+b.ID.String()+"/borrow",
		api.BorrowRequest{MemberID: m1.ID.String()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first borrow: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/books/"+b.ID.String()+"/borrow",
		api.BorrowRequest{MemberID: m2.ID.String()})
	if rec.Code != http.StatusConflict {
		t.Fatalf("second borrow: %d, want 409", rec.Code)
	}
}

func TestAPI_ReserveAndCancel(t *testing.T) {
	h, _ := newTestAPI(t)

	m1 := createMember(t, h, "holder", catalog.RoleMember)
	m2 := createMember(t, h, "waiter", catalog.RoleMember)
	b := createBook(t, h, "Fledgling", 1)

	rec := doJSON(t, h, http.MethodPost, "/v1/books/"+b.ID.String()+"/borrow",
		api.BorrowRequest{MemberID: m1.ID.String()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("borrow: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/books/"+b.ID.String()+"/reserve",
		api.ReserveRequest{MemberID: m2.ID.String()})
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve: %d %s", rec.Code, rec.Body.String())
	}
	hold := decodeBody[*catalog.Hold](t, rec)
	if hold.Status != catalog.HoldActive {
		t.Errorf("hold status = %q, want active", hold.Status)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/holds?member_id="+m2.ID.String(), nil)
	if holds := decodeBody[[]*catalog.Hold](t, rec); len(holds) != 1 {
		t.Errorf("holds = %d, want 1", len(holds))
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/holds/"+hold.ID.String()+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel hold: %d %s", rec.Code, rec.Body.String())
	}
	if cancelled := decodeBody[*catalog.Hold](t, rec); cancelled.Status != catalog.HoldCancelled {
		t.Errorf("cancelled status = %q", cancelled.Status)
	}
}

func TestAPI_ActorHeaderPermission(t *testing.T) {
	h, _ := newTestAPI(t)

	member := createMember(t, h, "patron", catalog.RoleMember)
	librarian := createMember(t, h, "curator", catalog.RoleLibrarian)

	rec := doJSON(t, h, http.MethodPost, "/v1/books",
		catalog.Book{Title: "Restricted", Author: "A. Nonymous", CopiesTotal: 1},
		api.HeaderActor, member.ID.String())
	if rec.Code != http.StatusForbidden {
		t.Fatalf("member adding book: %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/books",
		catalog.Book{Title: "Permitted", Author: "A. Nonymous", CopiesTotal: 1},
		api.HeaderActor, librarian.ID.String())
	if rec.Code != http.StatusCreated {
		t.Fatalf("librarian adding book: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/books",
		catalog.Book{Title: "Bogus", Author: "A. Nonymous", CopiesTotal: 1},
		api.HeaderActor, "garbage")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("garbage actor header: %d, want 400", rec.Code)
	}
}

// ── Journal and DLQ ─────────────────────────────────

func TestAPI_JournalEndpoints(t *testing.T) {
	h, _ := newTestAPI(t)

	b := createBook(t, h, "Journaled", 1)

	rec := doJSON(t, h, http.MethodGet, "/v1/journal?label=book.add", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list journal: %d", rec.Code)
	}
	entries := decodeBody[[]*journal.Entry](t, rec)
	if len(entries) != 1 {
		t.Fatalf("journal entries = %d, want 1", len(entries))
	}
	if entries[0].BookID != b.ID {
		t.Errorf("entry book = %s, want %s", entries[0].BookID, b.ID)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/journal/"+entries[0].ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get journal entry: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/journal/count", nil)
	if count := decodeBody[api.CountResponse](t, rec); count.Count < 1 {
		t.Errorf("journal count = %d, want >= 1", count.Count)
	}
}

func TestAPI_DLQListAndReplay(t *testing.T) {
	h, eng := newTestAPI(t)
	ctx := context.Background()

	b := createBook(t, h, "Replayable", 1)
	ghost := id.NewMemberID()

	rec := doJSON(t, h, http.MethodPost, "/v1/books/"+b.ID.String()+"/borrow",
		api.BorrowRequest{MemberID: ghost.String()})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("borrow ghost member: %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/dlq?unreplayed=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list dlq: %d", rec.Code)
	}
	entries := decodeBody[[]*dlq.Entry](t, rec)
	if len(entries) != 1 {
		t.Fatalf("dlq entries = %d, want 1", len(entries))
	}

	// Register the missing member, then replay the failed borrow.
	if err := eng.CatalogStore().CreateMember(ctx, &catalog.Member{
		ID:     ghost,
		Name:   "Late Arrival",
		Email:  "late@example.com",
		Role:   catalog.RoleMember,
		Entity: circulate.NewEntity(),
	}); err != nil {
		t.Fatalf("create member: %v", err)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/dlq/"+entries[0].ID.String()+"/replay", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("replay: %d %s", rec.Code, rec.Body.String())
	}
	if resp := decodeBody[api.ReplayResponse](t, rec); resp.TaskID == "" {
		t.Error("replay response has no task ID")
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/dlq?unreplayed=true", nil)
	if remaining := decodeBody[[]*dlq.Entry](t, rec); len(remaining) != 0 {
		t.Errorf("unreplayed entries after replay = %d, want 0", len(remaining))
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/dlq/count", nil)
	if count := decodeBody[api.CountResponse](t, rec); count.Count != 1 {
		t.Errorf("dlq count = %d, want 1", count.Count)
	}
}

// ── Admin ───────────────────────────────────────────

func TestAPI_Stats(t *testing.T) {
	h, _ := newTestAPI(t)

	createBook(t, h, "Counted", 1)

	rec := doJSON(t, h, http.MethodGet, "/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	stats := decodeBody[api.StatsResponse](t, rec)
	if stats.Scheduler.Concurrency != 2 {
		t.Errorf("concurrency = %d, want 2", stats.Scheduler.Concurrency)
	}
	if stats.Journal != 1 {
		t.Errorf("journal count = %d, want 1", stats.Journal)
	}
}

func TestAPI_SetConcurrencyAndClear(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodPost, "/v1/scheduler/concurrency",
		api.SetConcurrencyRequest{Limit: 5})
	if rec.Code != http.StatusOK {
		t.Fatalf("set concurrency: %d", rec.Code)
	}
	if resp := decodeBody[api.ConcurrencyResponse](t, rec); resp.Concurrency != 5 {
		t.Errorf("concurrency = %d, want 5", resp.Concurrency)
	}

	// Zero is clamped up to one.
	rec = doJSON(t, h, http.MethodPost, "/v1/scheduler/concurrency",
		api.SetConcurrencyRequest{Limit: 0})
	if resp := decodeBody[api.ConcurrencyResponse](t, rec); resp.Concurrency != 1 {
		t.Errorf("clamped concurrency = %d, want 1", resp.Concurrency)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/scheduler/clear", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear: %d", rec.Code)
	}
	if resp := decodeBody[api.ClearResponse](t, rec); resp.Dropped != 0 {
		t.Errorf("dropped = %d, want 0", resp.Dropped)
	}
}

func TestAPI_SyncStatusAndHealth(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := doJSON(t, h, http.MethodGet, "/v1/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sync status: %d", rec.Code)
	}
	if status := decodeBody[api.SyncStatusResponse](t, rec); len(status.Sources) != 0 {
		t.Errorf("sources = %v, want none", status.Sources)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: %d", rec.Code)
	}
	if resp := decodeBody[api.StatusResponse](t, rec); resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}

	rec = doJSON(t, h, http.MethodGet, "/v1/cluster/instances", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("instances: %d", rec.Code)
	}
}
