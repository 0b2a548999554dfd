// Package journal is the circulation audit trail. A [Recorder] extension
// listens for settled tasks and appends one immutable [Entry] per task to
// a [Store], capturing what ran, who asked for it, which entities it
// touched, and how it ended.
//
// # Recording
//
//	rec := journal.NewRecorder(store)
//	registry.Register(rec)
//
// Tasks that carry a circulation op are attributed with the op's kind,
// actor, and entity references. Tasks without an op payload are journaled
// by label alone.
//
// # Querying
//
//	entries, err := store.ListEntries(ctx, journal.Filter{
//	    MemberID: memberID,
//	    Since:    time.Now().Add(-24 * time.Hour),
//	    Limit:    50,
//	})
//
// # Selective recording
//
//	journal.NewRecorder(store,
//	    journal.WithLabels("loan.borrow", "loan.return"),
//	)
package journal
