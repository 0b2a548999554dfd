// Package webhook delivers Circulate lifecycle events to an HTTP
// endpoint as signed JSON POSTs. Register the Extension with the engine
// and every enabled event (task submitted, started, completed, failed,
// queue cleared, concurrency changed, sync completed) is enqueued for
// asynchronous delivery with retries, optional rate limiting, and
// HMAC-SHA256 request signing.
//
//	hook := webhook.New("https://ops.example.com/hooks/circulate",
//		webhook.WithSecret(os.Getenv("WEBHOOK_SECRET")),
//		webhook.WithEvents(webhook.EventTaskFailed, webhook.EventSyncCompleted),
//	)
//	eng, err := engine.Build(c, engine.WithExtension(hook))
//
// Receivers verify authenticity with VerifySignature against the
// X-Circulate-Signature header.
package webhook
