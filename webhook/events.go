package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Circulate lifecycle event types. Each constant maps to one ext lifecycle
// hook and is used as the Event.Type of the delivered payload.
const (
	EventTaskSubmitted      = "circulate.task.submitted"
	EventTaskStarted        = "circulate.task.started"
	EventTaskCompleted      = "circulate.task.completed"
	EventTaskFailed         = "circulate.task.failed"
	EventQueueCleared       = "circulate.queue.cleared"
	EventConcurrencyChanged = "circulate.concurrency.changed"
	EventSyncCompleted      = "circulate.sync.completed"
)

// Delivery headers set on every webhook request.
const (
	// HeaderEvent carries the event type, e.g. "circulate.task.completed".
	HeaderEvent = "X-Circulate-Event"

	// HeaderDelivery carries the unique delivery ID for deduplication.
	HeaderDelivery = "X-Circulate-Delivery"

	// HeaderSignature carries the HMAC-SHA256 of the request body,
	// prefixed with "sha256=", when a signing secret is configured.
	HeaderSignature = "X-Circulate-Signature"
)

// AllEvents returns every lifecycle event type, in emission-order groups.
// Useful as the argument to WithEvents when re-enabling all types.
func AllEvents() []string {
	return []string{
		EventTaskSubmitted,
		EventTaskStarted,
		EventTaskCompleted,
		EventTaskFailed,
		EventQueueCleared,
		EventConcurrencyChanged,
		EventSyncCompleted,
	}
}

// Event is the JSON envelope POSTed to the configured endpoint.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"ts"`
	Data      any       `json:"data"`
}

// Signature computes the signed-payload header value for body:
// "sha256=" followed by the hex HMAC-SHA256 of body under secret.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is a valid signature for body
// under secret. Receivers should use this instead of comparing strings
// so the check is constant-time.
func VerifySignature(secret string, body []byte, header string) bool {
	return hmac.Equal([]byte(Signature(secret, body)), []byte(header))
}
