package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/circulate/client"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
	"github.com/xraph/circulate/stream"
	"github.com/xraph/circulate/wire"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAuthenticator(t *testing.T) *wire.APIKeyAuthenticator {
	t.Helper()

	hash, err := wire.HashKey("s3cr3t")
	if err != nil {
		t.Fatalf("HashKey: %v", err)
	}
	return wire.NewAPIKeyAuthenticator(wire.APIKeyEntry{
		Name: "monitor",
		Hash: hash,
		Identity: wire.Identity{
			Subject: "test-user",
			Scopes:  []string{wire.ScopeAll},
		},
	})
}

// setupClientTest serves a wire gateway on an httptest server and
// dials a Go client against it. Returns the client and the broker so
// tests can drive lifecycle events.
func setupClientTest(t *testing.T, clientOpts ...client.Option) (*client.Client, *stream.Broker) {
	t.Helper()

	logger := testLogger()
	broker := stream.NewBroker(logger)
	gateway := wire.NewGateway(broker,
		wire.WithAuth(testAuthenticator(t)),
		wire.WithLogger(logger),
	)

	ts := httptest.NewServer(gateway)
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	opts := append([]client.Option{
		client.WithToken("monitor.s3cr3t"),
		client.WithLogger(logger),
	}, clientOpts...)

	c, dialErr := client.DialContext(context.Background(), wsURL, opts...)
	if dialErr != nil {
		t.Fatalf("DialContext: %v", dialErr)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c, broker
}

// ── Connection Tests ──────────────────────────────────

func TestClient_DialAndClose(t *testing.T) {
	c, _ := setupClientTest(t)

	// Session ID should be assigned after auth.
	if c.SessionID() == "" {
		t.Error("expected non-empty session ID after dial")
	}

	// Close should not error, even twice.
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestClient_DialAuthFailure(t *testing.T) {
	logger := testLogger()
	broker := stream.NewBroker(logger)
	gateway := wire.NewGateway(broker,
		wire.WithAuth(testAuthenticator(t)),
		wire.WithLogger(logger),
	)

	ts := httptest.NewServer(gateway)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	_, dialErr := client.DialContext(context.Background(), wsURL,
		client.WithToken("monitor.wrong-secret"),
		client.WithLogger(logger),
	)
	if dialErr == nil {
		t.Fatal("expected error for invalid token")
	}
	if !strings.Contains(dialErr.Error(), "auth") {
		t.Errorf("error = %q, want to contain 'auth'", dialErr.Error())
	}
}

// ── Subscription Tests ────────────────────────────────

func TestClient_SubscribeReceivesEvents(t *testing.T) {
	c, broker := setupClientTest(t)

	events, err := c.Subscribe(context.Background(), stream.TaskTopic("loan.borrow"))
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	task := &sched.Task{ID: id.NewTaskID(), Label: "loan.borrow"}
	if hookErr := broker.OnTaskCompleted(context.Background(), task, 3*time.Millisecond); hookErr != nil {
		t.Fatalf("OnTaskCompleted: %v", hookErr)
	}

	select {
	case evt := <-events:
		if evt.Type != stream.EventTaskCompleted {
			t.Errorf("Type = %q, want %q", evt.Type, stream.EventTaskCompleted)
		}
		var data stream.TaskEventData
		if jsonErr := json.Unmarshal(evt.Data, &data); jsonErr != nil {
			t.Fatalf("unmarshal event data: %v", jsonErr)
		}
		if data.Label != "loan.borrow" {
			t.Errorf("Label = %q, want %q", data.Label, "loan.borrow")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestClient_Watch(t *testing.T) {
	c, broker := setupClientTest(t)

	events, err := c.Watch(context.Background(), "book.add")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	task := &sched.Task{ID: id.NewTaskID(), Label: "book.add"}
	if hookErr := broker.OnTaskStarted(context.Background(), task); hookErr != nil {
		t.Fatalf("OnTaskStarted: %v", hookErr)
	}

	select {
	case evt := <-events:
		if evt.Type != stream.EventTaskStarted {
			t.Errorf("Type = %q, want %q", evt.Type, stream.EventTaskStarted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestClient_Unsubscribe(t *testing.T) {
	c, broker := setupClientTest(t)

	ctx := context.Background()
	events, err := c.Subscribe(ctx, stream.TopicActivity)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if unsubErr := c.Unsubscribe(ctx, stream.TopicActivity); unsubErr != nil {
		t.Fatalf("Unsubscribe: %v", unsubErr)
	}

	// The local channel is closed on unsubscribe.
	select {
	case _, open := <-events:
		if open {
			t.Error("expected closed channel after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Unsubscribe")
	}

	// Later events must not be routed anywhere.
	task := &sched.Task{ID: id.NewTaskID(), Label: "book.add"}
	if hookErr := broker.OnTaskStarted(ctx, task); hookErr != nil {
		t.Fatalf("OnTaskStarted: %v", hookErr)
	}
}

func TestClient_SubscribeInvalidTopic(t *testing.T) {
	c, _ := setupClientTest(t)

	_, err := c.Subscribe(context.Background(), "not-a-topic")
	if err == nil {
		t.Fatal("expected error for invalid topic")
	}
}

// ── Stats Test ────────────────────────────────────────

func TestClient_Stats(t *testing.T) {
	c, _ := setupClientTest(t)

	raw, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	var stats wire.StatsResponse
	if jsonErr := json.Unmarshal(raw, &stats); jsonErr != nil {
		t.Fatalf("stats unmarshal: %v", jsonErr)
	}
	if stats.Connections != 1 {
		t.Errorf("Connections = %d, want 1", stats.Connections)
	}
}

// ── Codec Test ────────────────────────────────────────

func TestClient_MsgpackFormat(t *testing.T) {
	c, broker := setupClientTest(t, client.WithFormat(wire.CodecNameMsgpack))

	events, err := c.Subscribe(context.Background(), stream.TopicFirehose)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	task := &sched.Task{ID: id.NewTaskID(), Label: "hold.reserve"}
	if hookErr := broker.OnTaskSubmitted(context.Background(), task); hookErr != nil {
		t.Fatalf("OnTaskSubmitted: %v", hookErr)
	}

	select {
	case evt := <-events:
		if evt.Type != stream.EventTaskSubmitted {
			t.Errorf("Type = %q, want %q", evt.Type, stream.EventTaskSubmitted)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for msgpack event")
	}
}

// ── Context Cancellation Test ─────────────────────────

func TestClient_ContextTimeout(t *testing.T) {
	c, _ := setupClientTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond) // Ensure timeout fires.

	_, err := c.Stats(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// ── Multiple Operations Test ──────────────────────────

func TestClient_MultipleSequentialRequests(t *testing.T) {
	c, _ := setupClientTest(t)

	ctx := context.Background()
	for i := range 5 {
		if _, err := c.Stats(ctx); err != nil {
			t.Fatalf("Stats[%d]: %v", i, err)
		}
	}
}
