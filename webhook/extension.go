package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/circulate/backoff"
	"github.com/xraph/circulate/ext"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// Compile-time interface checks.
var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.TaskSubmitted      = (*Extension)(nil)
	_ ext.TaskStarted        = (*Extension)(nil)
	_ ext.TaskCompleted      = (*Extension)(nil)
	_ ext.TaskFailed         = (*Extension)(nil)
	_ ext.QueueCleared       = (*Extension)(nil)
	_ ext.ConcurrencyChanged = (*Extension)(nil)
	_ ext.SyncCompleted      = (*Extension)(nil)
)

// Extension delivers Circulate lifecycle events to an HTTP endpoint as
// signed JSON webhooks. Hooks enqueue events without blocking; a single
// dispatcher goroutine POSTs them in order with retries and optional
// rate limiting. Shutdown drains the queue before returning.
type Extension struct {
	url        string
	secret     string
	client     *http.Client
	limiter    *rate.Limiter
	strategy   backoff.Strategy
	maxRetries int
	enabled    map[string]bool        // nil = all enabled
	payloads   map[string]PayloadFunc // custom payload builders
	logger     *slog.Logger

	queue  chan *Event
	stop   chan struct{}
	closed atomic.Bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an Extension that POSTs lifecycle events to url.
func New(url string, opts ...Option) *Extension {
	h := &Extension{
		url:        url,
		client:     &http.Client{Timeout: 10 * time.Second},
		strategy:   backoff.NewExponential(500*time.Millisecond, 30*time.Second),
		maxRetries: 3,
		logger:     slog.Default(),
		stop:       make(chan struct{}),
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(h)
	}
	if h.queue == nil {
		h.queue = make(chan *Event, 256)
	}
	return h
}

// Name implements ext.Extension.
func (h *Extension) Name() string { return "webhook" }

// Init implements ext.Extension. It starts the dispatcher goroutine.
func (h *Extension) Init(ctx context.Context) error {
	h.wg.Add(1)
	go h.dispatch()
	return nil
}

// Shutdown implements ext.Extension. It stops accepting events, waits
// for queued deliveries to drain, and aborts in-flight requests if ctx
// expires first.
func (h *Extension) Shutdown(ctx context.Context) error {
	if h.closed.Swap(true) {
		return nil
	}
	close(h.stop)

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}

// ── Task lifecycle hooks ─────────────────────────────

// OnTaskSubmitted implements ext.TaskSubmitted.
func (h *Extension) OnTaskSubmitted(ctx context.Context, t *sched.Task) error {
	return h.send(ctx, EventTaskSubmitted, newTaskPayload(t))
}

// OnTaskStarted implements ext.TaskStarted.
func (h *Extension) OnTaskStarted(ctx context.Context, t *sched.Task) error {
	return h.send(ctx, EventTaskStarted, newTaskPayload(t))
}

// OnTaskCompleted implements ext.TaskCompleted.
func (h *Extension) OnTaskCompleted(ctx context.Context, t *sched.Task, elapsed time.Duration) error {
	return h.send(ctx, EventTaskCompleted, &taskCompletedPayload{
		taskPayload: *newTaskPayload(t),
		ElapsedMs:   elapsed.Milliseconds(),
	})
}

// OnTaskFailed implements ext.TaskFailed.
func (h *Extension) OnTaskFailed(ctx context.Context, t *sched.Task, taskErr error) error {
	return h.send(ctx, EventTaskFailed, &taskFailedPayload{
		taskPayload: *newTaskPayload(t),
		Error:       taskErr.Error(),
	})
}

// ── Scheduler state hooks ────────────────────────────

// OnQueueCleared implements ext.QueueCleared.
func (h *Extension) OnQueueCleared(ctx context.Context, dropped int) error {
	return h.send(ctx, EventQueueCleared, &queueClearedPayload{Dropped: dropped})
}

// OnConcurrencyChanged implements ext.ConcurrencyChanged.
func (h *Extension) OnConcurrencyChanged(ctx context.Context, oldLimit, newLimit int) error {
	return h.send(ctx, EventConcurrencyChanged, &concurrencyChangedPayload{
		OldLimit: oldLimit,
		NewLimit: newLimit,
	})
}

// ── Sync hooks ───────────────────────────────────────

// OnSyncCompleted implements ext.SyncCompleted.
func (h *Extension) OnSyncCompleted(ctx context.Context, source string, synced, failed int) error {
	return h.send(ctx, EventSyncCompleted, &syncCompletedPayload{
		Source: source,
		Synced: synced,
		Failed: failed,
	})
}

// ── Internal helpers ────────────────────────────────

// send enqueues an event for delivery if the event type is enabled.
// The queue never blocks the caller; when it is full the event is
// dropped with a warning.
func (h *Extension) send(_ context.Context, eventType string, defaultData any) error {
	if h.enabled != nil && !h.enabled[eventType] {
		return nil
	}
	if h.closed.Load() {
		return nil
	}

	data := defaultData
	if fn, ok := h.payloads[eventType]; ok {
		custom, err := fn(defaultData)
		if err != nil {
			return err
		}
		data = custom
	}

	evt := &Event{
		ID:        id.NewEventID().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	select {
	case h.queue <- evt:
	default:
		h.logger.Warn("webhook queue full, dropping event", "type", eventType)
	}
	return nil
}

// dispatch consumes the queue until Shutdown, then drains what is
// already buffered.
func (h *Extension) dispatch() {
	defer h.wg.Done()
	for {
		select {
		case evt := <-h.queue:
			h.deliver(evt)
		case <-h.stop:
			for {
				select {
				case evt := <-h.queue:
					h.deliver(evt)
				default:
					return
				}
			}
		}
	}
}

// deliver POSTs one event, retrying transient failures with backoff.
func (h *Extension) deliver(evt *Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("webhook payload marshal failed",
			"type", evt.Type,
			"error", err)
		return
	}

	for attempt := 0; ; attempt++ {
		if h.limiter != nil {
			if err := h.limiter.Wait(h.ctx); err != nil {
				return
			}
		}

		err = h.post(evt, body)
		if err == nil {
			h.logger.Debug("webhook delivered",
				"type", evt.Type,
				"delivery", evt.ID)
			return
		}
		if attempt >= h.maxRetries {
			h.logger.Warn("webhook delivery abandoned",
				"type", evt.Type,
				"delivery", evt.ID,
				"attempts", attempt+1,
				"error", err)
			return
		}

		select {
		case <-time.After(h.strategy.Delay(attempt)):
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Extension) post(evt *Event, body []byte) error {
	req, err := http.NewRequestWithContext(h.ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, evt.Type)
	req.Header.Set(HeaderDelivery, evt.ID)
	if h.secret != "" {
		req.Header.Set(HeaderSignature, Signature(h.secret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %s: %w", evt.Type, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook: endpoint returned %s", resp.Status)
	}
	return nil
}

// ── Default payload types ───────────────────────────

type taskPayload struct {
	TaskID string `json:"task_id"`
	Label  string `json:"label"`
	Actor  string `json:"actor,omitempty"`
}

func newTaskPayload(t *sched.Task) *taskPayload {
	return &taskPayload{
		TaskID: t.ID.String(),
		Label:  t.Label,
		Actor:  t.Actor.String(),
	}
}

type taskCompletedPayload struct {
	taskPayload
	ElapsedMs int64 `json:"elapsed_ms"`
}

type taskFailedPayload struct {
	taskPayload
	Error string `json:"error"`
}

type queueClearedPayload struct {
	Dropped int `json:"dropped"`
}

type concurrencyChangedPayload struct {
	OldLimit int `json:"old_limit"`
	NewLimit int `json:"new_limit"`
}

type syncCompletedPayload struct {
	Source string `json:"source"`
	Synced int    `json:"synced"`
	Failed int    `json:"failed"`
}
