package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/engine"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// HeaderActor names the member performing the request. The circulation
// service checks it against the member's role and the journal records it
// for attribution.
const HeaderActor = "X-Circulate-Actor"

// API wires all circulation HTTP handlers together over an assembled
// engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLogger sets the logger used for handler-side failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an API from a circulate Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	a.RegisterRoutes(mux)
	return mux
}

// RegisterRoutes registers all circulation API routes on the given mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	a.registerBookRoutes(mux)
	a.registerMemberRoutes(mux)
	a.registerLoanRoutes(mux)
	a.registerHoldRoutes(mux)
	a.registerJournalRoutes(mux)
	a.registerDLQRoutes(mux)
	a.registerAdminRoutes(mux)
}

// registerBookRoutes registers catalog management routes.
func (a *API) registerBookRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/books", a.listBooks)
	mux.HandleFunc("POST /v1/books", a.createBook)
	mux.HandleFunc("GET /v1/books/{bookID}", a.getBook)
	mux.HandleFunc("PUT /v1/books/{bookID}", a.updateBook)
	mux.HandleFunc("DELETE /v1/books/{bookID}", a.removeBook)
	mux.HandleFunc("POST /v1/books/{bookID}/borrow", a.borrowBook)
	mux.HandleFunc("POST /v1/books/{bookID}/reserve", a.reserveBook)
}

// registerMemberRoutes registers member management routes.
func (a *API) registerMemberRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/members", a.listMembers)
	mux.HandleFunc("POST /v1/members", a.createMember)
	mux.HandleFunc("GET /v1/members/{memberID}", a.getMember)
	mux.HandleFunc("PUT /v1/members/{memberID}", a.updateMember)
	mux.HandleFunc("DELETE /v1/members/{memberID}", a.deleteMember)
	mux.HandleFunc("GET /v1/members/{memberID}/loans", a.listMemberLoans)
}

// registerLoanRoutes registers loan routes.
func (a *API) registerLoanRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/loans", a.listLoans)
	mux.HandleFunc("GET /v1/loans/{loanID}", a.getLoan)
	mux.HandleFunc("POST /v1/loans/{loanID}/return", a.returnLoan)
}

// registerHoldRoutes registers hold routes.
func (a *API) registerHoldRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/holds", a.listHolds)
	mux.HandleFunc("GET /v1/holds/{holdID}", a.getHold)
	mux.HandleFunc("POST /v1/holds/{holdID}/cancel", a.cancelHold)
}

// registerJournalRoutes registers journal query routes.
func (a *API) registerJournalRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/journal", a.listJournal)
	mux.HandleFunc("GET /v1/journal/count", a.journalCount)
	mux.HandleFunc("GET /v1/journal/{entryID}", a.getJournalEntry)
}

// registerDLQRoutes registers dead letter queue management routes.
func (a *API) registerDLQRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/dlq", a.listDLQ)
	mux.HandleFunc("GET /v1/dlq/count", a.dlqCount)
	mux.HandleFunc("GET /v1/dlq/{entryID}", a.getDLQ)
	mux.HandleFunc("POST /v1/dlq/{entryID}/replay", a.replayDLQ)
	mux.HandleFunc("POST /v1/dlq/purge", a.purgeDLQ)
}

// registerAdminRoutes registers stats, scheduler, sync, cluster, and
// health routes.
func (a *API) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/stats", a.stats)
	mux.HandleFunc("POST /v1/scheduler/concurrency", a.setConcurrency)
	mux.HandleFunc("POST /v1/scheduler/clear", a.clearQueue)
	mux.HandleFunc("GET /v1/sync", a.syncStatus)
	mux.HandleFunc("POST /v1/sync", a.triggerSync)
	mux.HandleFunc("GET /v1/cluster/instances", a.listInstances)
	mux.HandleFunc("GET /v1/healthz", a.health)
}

// ── Shared plumbing ─────────────────────────────────

// requestContext returns the request context, with the acting member
// attached when the actor header carries a valid member ID.
func requestContext(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	raw := r.Header.Get(HeaderActor)
	if raw == "" {
		return ctx, nil
	}
	actor, err := id.ParseMemberID(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s header: %w", HeaderActor, err)
	}
	return circulate.WithActor(ctx, actor), nil
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	a.writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// await settles the outcome against the caller's context and writes the
// task result, or the mapped task error.
func (a *API) await(w http.ResponseWriter, ctx context.Context, out *sched.Outcome, status int) {
	res, err := out.Wait(ctx)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, status, res)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// statusFor maps circulate sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case isNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, circulate.ErrPermission):
		return http.StatusForbidden
	case isConflict(err):
		return http.StatusConflict
	case errors.Is(err, circulate.ErrBadOp) || errors.Is(err, circulate.ErrUnknownOp):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		// The task keeps running; only the caller stopped waiting.
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, circulate.ErrBookNotFound) ||
		errors.Is(err, circulate.ErrMemberNotFound) ||
		errors.Is(err, circulate.ErrLoanNotFound) ||
		errors.Is(err, circulate.ErrHoldNotFound) ||
		errors.Is(err, circulate.ErrEntryNotFound) ||
		errors.Is(err, circulate.ErrDLQNotFound) ||
		errors.Is(err, circulate.ErrInstanceNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, circulate.ErrDuplicateISBN) ||
		errors.Is(err, circulate.ErrHoldExists) ||
		errors.Is(err, circulate.ErrBookBorrowed) ||
		errors.Is(err, circulate.ErrNoCopies) ||
		errors.Is(err, circulate.ErrLoanClosed) ||
		errors.Is(err, circulate.ErrHoldClosed) ||
		errors.Is(err, circulate.ErrLoanLimit)
}

// defaultLimit caps list responses when the client does not pick a size.
func defaultLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func queryInt(r *http.Request, key string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
