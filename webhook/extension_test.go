package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xraph/circulate/backoff"
	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
	"github.com/xraph/circulate/webhook"
)

// ── Helpers ─────────────────────────────────────────

// envelope mirrors webhook.Event with raw Data for per-test decoding.
type envelope struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type delivery struct {
	envelope envelope
	header   http.Header
	body     []byte
}

// capture is a test endpoint that records every webhook request.
type capture struct {
	mu         sync.Mutex
	deliveries []delivery
	status     int
	failFirst  int // fail this many requests before succeeding
	requests   int
}

func (c *capture) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests++
	if c.failFirst > 0 {
		c.failFirst--
		w.WriteHeader(http.StatusBadGateway)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.deliveries = append(c.deliveries, delivery{
		envelope: env,
		header:   r.Header.Clone(),
		body:     body,
	})

	status := c.status
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

// find returns the first recorded delivery of the given event type.
func (c *capture) find(eventType string) (delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.deliveries {
		if d.envelope.Type == eventType {
			return d, true
		}
	}
	return delivery{}, false
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

// waitForEvent polls until a delivery of the given type arrives.
func waitForEvent(t *testing.T, c *capture, eventType string) delivery {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if d, ok := c.find(eventType); ok {
			return d
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s delivery received", eventType)
	return delivery{}
}

func newTestExtension(t *testing.T, opts ...webhook.Option) (*webhook.Extension, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)

	opts = append([]webhook.Option{
		webhook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		webhook.WithBackoff(backoff.NewConstant(time.Millisecond)),
	}, opts...)
	h := webhook.New(srv.URL, opts...)
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.Shutdown(ctx)
	})
	return h, c
}

func newTestTask() *sched.Task {
	return &sched.Task{
		ID:    id.NewTaskID(),
		Label: "loan.borrow",
		Actor: id.NewMemberID(),
	}
}

// ── Tests ───────────────────────────────────────────

func TestWebhookExtension_Name(t *testing.T) {
	h, _ := newTestExtension(t)
	if h.Name() != "webhook" {
		t.Errorf("expected name %q, got %q", "webhook", h.Name())
	}
}

func TestWebhookExtension_TaskSubmitted(t *testing.T) {
	h, c := newTestExtension(t)
	task := newTestTask()

	if err := h.OnTaskSubmitted(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventTaskSubmitted)
	var payload struct {
		TaskID string `json:"task_id"`
		Label  string `json:"label"`
		Actor  string `json:"actor"`
	}
	if err := json.Unmarshal(d.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TaskID != task.ID.String() {
		t.Errorf("task_id: want %q, got %q", task.ID.String(), payload.TaskID)
	}
	if payload.Label != "loan.borrow" {
		t.Errorf("label: want %q, got %q", "loan.borrow", payload.Label)
	}
	if payload.Actor != task.Actor.String() {
		t.Errorf("actor: want %q, got %q", task.Actor.String(), payload.Actor)
	}
}

func TestWebhookExtension_TaskCompleted(t *testing.T) {
	h, c := newTestExtension(t)

	if err := h.OnTaskCompleted(context.Background(), newTestTask(), 150*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventTaskCompleted)
	var payload struct {
		ElapsedMs int64 `json:"elapsed_ms"`
	}
	if err := json.Unmarshal(d.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.ElapsedMs != 150 {
		t.Errorf("elapsed_ms: want 150, got %d", payload.ElapsedMs)
	}
}

func TestWebhookExtension_TaskFailed(t *testing.T) {
	h, c := newTestExtension(t)

	if err := h.OnTaskFailed(context.Background(), newTestTask(), errors.New("book gone")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventTaskFailed)
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(d.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Error != "book gone" {
		t.Errorf("error: want %q, got %q", "book gone", payload.Error)
	}
}

func TestWebhookExtension_QueueCleared(t *testing.T) {
	h, c := newTestExtension(t)

	if err := h.OnQueueCleared(context.Background(), 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventQueueCleared)
	var payload struct {
		Dropped int `json:"dropped"`
	}
	if err := json.Unmarshal(d.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Dropped != 4 {
		t.Errorf("dropped: want 4, got %d", payload.Dropped)
	}
}

func TestWebhookExtension_ConcurrencyChanged(t *testing.T) {
	h, c := newTestExtension(t)

	if err := h.OnConcurrencyChanged(context.Background(), 2, 6); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventConcurrencyChanged)
	var payload struct {
		OldLimit int `json:"old_limit"`
		NewLimit int `json:"new_limit"`
	}
	if err := json.Unmarshal(d.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.OldLimit != 2 || payload.NewLimit != 6 {
		t.Errorf("limits: want 2→6, got %d→%d", payload.OldLimit, payload.NewLimit)
	}
}

func TestWebhookExtension_SyncCompleted(t *testing.T) {
	h, c := newTestExtension(t)

	if err := h.OnSyncCompleted(context.Background(), "central-catalog", 40, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventSyncCompleted)
	var payload struct {
		Source string `json:"source"`
		Synced int    `json:"synced"`
		Failed int    `json:"failed"`
	}
	if err := json.Unmarshal(d.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Source != "central-catalog" || payload.Synced != 40 || payload.Failed != 2 {
		t.Errorf("unexpected payload: %+v", payload)
	}
}

func TestWebhookExtension_DeliveryHeaders(t *testing.T) {
	h, c := newTestExtension(t, webhook.WithSecret("s3cret"))

	if err := h.OnQueueCleared(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventQueueCleared)
	if got := d.header.Get(webhook.HeaderEvent); got != webhook.EventQueueCleared {
		t.Errorf("%s: want %q, got %q", webhook.HeaderEvent, webhook.EventQueueCleared, got)
	}
	if got := d.header.Get(webhook.HeaderDelivery); got != d.envelope.ID {
		t.Errorf("%s: want %q, got %q", webhook.HeaderDelivery, d.envelope.ID, got)
	}
	sig := d.header.Get(webhook.HeaderSignature)
	if !webhook.VerifySignature("s3cret", d.body, sig) {
		t.Errorf("signature %q does not verify against body", sig)
	}
	if webhook.VerifySignature("wrong-secret", d.body, sig) {
		t.Error("signature verified under the wrong secret")
	}
}

func TestWebhookExtension_RetriesOnFailure(t *testing.T) {
	h, c := newTestExtension(t)
	c.mu.Lock()
	c.failFirst = 2
	c.mu.Unlock()

	if err := h.OnQueueCleared(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForEvent(t, c, webhook.EventQueueCleared)
	c.mu.Lock()
	requests := c.requests
	c.mu.Unlock()
	if requests != 3 {
		t.Errorf("requests: want 3 (two failures and one success), got %d", requests)
	}
}

func TestWebhookExtension_WithEvents_FiltersDisabled(t *testing.T) {
	h, c := newTestExtension(t, webhook.WithEvents(webhook.EventTaskCompleted))

	ctx := context.Background()
	task := newTestTask()

	// Submitted is NOT in the enabled set and must be silently skipped.
	if err := h.OnTaskSubmitted(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Completed IS enabled.
	if err := h.OnTaskCompleted(ctx, task, 50*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForEvent(t, c, webhook.EventTaskCompleted)
	if _, ok := c.find(webhook.EventTaskSubmitted); ok {
		t.Error("disabled event type was delivered")
	}
	if got := c.count(); got != 1 {
		t.Errorf("deliveries: want 1, got %d", got)
	}
}

func TestWebhookExtension_WithPayloadFunc(t *testing.T) {
	h, c := newTestExtension(t, webhook.WithPayloadFunc(
		webhook.EventTaskFailed,
		func(defaultData any) (any, error) {
			return map[string]string{"alert": "page-the-librarian"}, nil
		},
	))

	if err := h.OnTaskFailed(context.Background(), newTestTask(), errors.New("boom")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := waitForEvent(t, c, webhook.EventTaskFailed)
	var payload map[string]string
	if err := json.Unmarshal(d.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["alert"] != "page-the-librarian" {
		t.Errorf("custom payload not applied: %v", payload)
	}
}

func TestWebhookExtension_PayloadFuncError(t *testing.T) {
	wantErr := errors.New("payload build failed")
	h, _ := newTestExtension(t, webhook.WithPayloadFunc(
		webhook.EventTaskFailed,
		func(any) (any, error) { return nil, wantErr },
	))

	err := h.OnTaskFailed(context.Background(), newTestTask(), errors.New("boom"))
	if !errors.Is(err, wantErr) {
		t.Errorf("expected payload error, got %v", err)
	}
}

func TestWebhookExtension_ShutdownDrains(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	h := webhook.New(srv.URL,
		webhook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		webhook.WithBackoff(backoff.NewConstant(time.Millisecond)),
	)
	if err := h.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := h.OnQueueCleared(ctx, i); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	sctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.Shutdown(sctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if got := c.count(); got != 5 {
		t.Errorf("deliveries after drain: want 5, got %d", got)
	}

	// Events after shutdown are ignored without error.
	if err := h.OnQueueCleared(ctx, 9); err != nil {
		t.Fatalf("unexpected error after shutdown: %v", err)
	}
	if got := c.count(); got != 5 {
		t.Errorf("deliveries after shutdown: want 5, got %d", got)
	}
}

func TestWebhookExtension_ViaRegistry(t *testing.T) {
	h, c := newTestExtension(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := ext.NewRegistry(logger)
	reg.Register(h)

	ctx := context.Background()
	task := newTestTask()

	reg.EmitTaskSubmitted(ctx, task)
	reg.EmitTaskStarted(ctx, task)
	reg.EmitTaskCompleted(ctx, task, 50*time.Millisecond)
	reg.EmitTaskFailed(ctx, task, errors.New("fail"))
	reg.EmitQueueCleared(ctx, 2)
	reg.EmitConcurrencyChanged(ctx, 2, 4)
	reg.EmitSyncCompleted(ctx, "branch-feed", 7, 1)

	for _, et := range webhook.AllEvents() {
		waitForEvent(t, c, et)
	}
}
