// Package dlq retains circulation ops whose tasks failed, for inspection
// and replay.
//
// A [Capture] extension listens for failed tasks; when the task carried a
// circulation op, the op is stored as an [Entry] together with the error
// message and attempt count. Tasks without an op payload (nothing to
// replay) are not captured.
//
// # Replay
//
// [Service.Replay] re-applies a stored op through the circulation
// service, producing a fresh labeled task, and marks the entry replayed.
// If the replay fails again, Capture records a new entry with the
// attempt count advanced.
//
//	outcome, err := svc.Replay(ctx, entryID)
//	if err != nil {
//	    // entry missing or descriptor invalid
//	}
//	if _, err := outcome.Wait(ctx); err != nil {
//	    // the op failed again
//	}
//
// [Service.ReplayAll] replays every unreplayed entry oldest first,
// waiting for each outcome and pausing between entries according to a
// backoff strategy so a flood of dead letters does not saturate the
// scheduler.
//
// # Retention
//
// Entries are kept until explicitly purged:
//
//	svc.DLQStore().PurgeDLQ(ctx, time.Now().Add(-30*24*time.Hour))
package dlq
