package webhook

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/xraph/circulate/backoff"
)

// Option configures an Extension.
type Option func(*Extension)

// PayloadFunc builds a custom event payload for a specific event type.
// It receives the default payload and the returned value becomes
// Event.Data.
type PayloadFunc func(defaultData any) (any, error)

// WithSecret enables HMAC-SHA256 request signing. The signature is sent
// in the X-Circulate-Signature header.
func WithSecret(secret string) Option {
	return func(h *Extension) { h.secret = secret }
}

// WithHTTPClient sets the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(h *Extension) {
		if c != nil {
			h.client = c
		}
	}
}

// WithEvents restricts the extension to emit only the listed event types.
// By default all event types are enabled. Unknown types are silently
// ignored.
func WithEvents(events ...string) Option {
	return func(h *Extension) {
		h.enabled = make(map[string]bool, len(events))
		for _, e := range events {
			h.enabled[e] = true
		}
	}
}

// WithPayloadFunc registers a custom payload builder for the given event
// type. The function replaces the default JSON payload for that event.
func WithPayloadFunc(eventType string, fn PayloadFunc) Option {
	return func(h *Extension) {
		if h.payloads == nil {
			h.payloads = make(map[string]PayloadFunc)
		}
		h.payloads[eventType] = fn
	}
}

// WithRateLimit caps deliveries at r requests per second with the given
// burst, for endpoints that meter inbound traffic.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(h *Extension) { h.limiter = rate.NewLimiter(r, burst) }
}

// WithBackoff sets the pacing between delivery retries.
func WithBackoff(s backoff.Strategy) Option {
	return func(h *Extension) {
		if s != nil {
			h.strategy = s
		}
	}
}

// WithMaxRetries sets how many times a failed delivery is retried
// before it is abandoned.
func WithMaxRetries(n int) Option {
	return func(h *Extension) {
		if n >= 0 {
			h.maxRetries = n
		}
	}
}

// WithQueueSize sets the delivery queue capacity. Events enqueued while
// the queue is full are dropped.
func WithQueueSize(n int) Option {
	return func(h *Extension) {
		if n > 0 {
			h.queue = make(chan *Event, n)
		}
	}
}

// WithLogger sets the logger for delivery diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(h *Extension) {
		if l != nil {
			h.logger = l
		}
	}
}
