package dlq

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/sched"
)

// Replay re-applies a dead-lettered op as a fresh task and marks the
// entry replayed. The returned outcome settles when the replayed op
// finishes; a second failure produces a new DLQ entry with the attempt
// count advanced.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*sched.Outcome, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Op == nil {
		return nil, fmt.Errorf("%w: dlq entry %s has no op", circulate.ErrBadOp, entryID)
	}

	op := *entry.Op
	op.Attempt = entry.Attempts

	outcome, err := s.circ.Apply(ctx, &op)
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The op is already submitted. Surface the bookkeeping failure.
		return outcome, err
	}
	return outcome, nil
}

// ReplayReport summarizes one batch replay.
type ReplayReport struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// ReplayAll replays unreplayed entries oldest first, waiting for each
// outcome before moving on and pausing between entries according to the
// configured backoff strategy. A limit of zero replays everything.
func (s *Service) ReplayAll(ctx context.Context, limit int) (*ReplayReport, error) {
	entries, err := s.store.ListDLQ(ctx, ListOpts{Unreplayed: true, Limit: limit})
	if err != nil {
		return nil, err
	}

	report := &ReplayReport{}
	for i, entry := range entries {
		if i > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.pause.Delay(entry.Attempts)):
			}
		}

		outcome, rerr := s.Replay(ctx, entry.ID)
		if rerr != nil {
			report.Failed++
			s.logger.Warn("dlq: replay submission failed",
				"entry_id", entry.ID, "label", entry.Label, "error", rerr)
			continue
		}

		if _, werr := outcome.Wait(ctx); werr != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			report.Failed++
			continue
		}
		report.Replayed++
	}
	return report, nil
}
