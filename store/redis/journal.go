package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/circulation"
	"github.com/xraph/circulate/id"
	"github.com/xraph/circulate/journal"
)

// AppendEntry persists a journal entry.
func (s *Store) AppendEntry(ctx context.Context, e *journal.Entry) error {
	eID := e.ID.String()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, journalKey(eID), entryToMap(e))
	pipe.SAdd(ctx, journalIDsKey, eID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/redis: append entry: %w", err)
	}
	return nil
}

// GetEntry retrieves a journal entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.JournalID) (*journal.Entry, error) {
	vals, err := s.client.HGetAll(ctx, journalKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: get entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, circulate.ErrEntryNotFound
	}
	return mapToEntry(vals)
}

// ListEntries returns journal entries matching the filter, newest first.
func (s *Store) ListEntries(ctx context.Context, f journal.Filter) ([]*journal.Entry, error) {
	ids, err := s.client.SMembers(ctx, journalIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: list entries: %w", err)
	}

	entries := make([]*journal.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, journalKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToEntry(vals)
		if convErr != nil {
			continue
		}
		if f.Label != "" && e.Label != f.Label {
			continue
		}
		if !f.Actor.IsNil() && e.Actor != f.Actor {
			continue
		}
		if !f.BookID.IsNil() && e.BookID != f.BookID {
			continue
		}
		if !f.MemberID.IsNil() && e.MemberID != f.MemberID {
			continue
		}
		if !f.Since.IsZero() && e.RecordedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && !e.RecordedAt.Before(f.Until) {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RecordedAt.After(entries[j].RecordedAt)
	})

	return pageSlice(entries, f.Offset, f.Limit), nil
}

// CountEntries returns the total number of journal entries.
func (s *Store) CountEntries(ctx context.Context) (int64, error) {
	count, err := s.client.SCard(ctx, journalIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("circulate/redis: count entries: %w", err)
	}
	return count, nil
}

// PurgeEntries removes entries recorded before the given time.
func (s *Store) PurgeEntries(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.SMembers(ctx, journalIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("circulate/redis: purge entries smembers: %w", err)
	}

	var purged int64
	for _, eID := range ids {
		key := journalKey(eID)
		recordedAtStr, getErr := s.client.HGet(ctx, key, "recorded_at").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return purged, fmt.Errorf("circulate/redis: purge entries get: %w", getErr)
		}

		recordedAt, _ := time.Parse(time.RFC3339Nano, recordedAtStr) //nolint:errcheck // best-effort parse from trusted Redis data
		if recordedAt.Before(before) {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, key)
			pipe.SRem(ctx, journalIDsKey, eID)
			if _, pErr := pipe.Exec(ctx); pErr != nil {
				return purged, fmt.Errorf("circulate/redis: purge entries del: %w", pErr)
			}
			purged++
		}
	}
	return purged, nil
}

// ── helpers ──

func entryToMap(e *journal.Entry) map[string]interface{} {
	m := map[string]interface{}{
		"id":          e.ID.String(),
		"task_id":     e.TaskID.String(),
		"label":       e.Label,
		"kind":        string(e.Kind),
		"outcome":     e.Outcome,
		"error":       e.Error,
		"elapsed_ms":  strconv.FormatInt(e.ElapsedMS, 10),
		"recorded_at": e.RecordedAt.Format(time.RFC3339Nano),
	}
	if !e.Actor.IsNil() {
		m["actor"] = e.Actor.String()
	}
	if !e.BookID.IsNil() {
		m["book_id"] = e.BookID.String()
	}
	if !e.MemberID.IsNil() {
		m["member_id"] = e.MemberID.String()
	}
	if !e.LoanID.IsNil() {
		m["loan_id"] = e.LoanID.String()
	}
	if !e.HoldID.IsNil() {
		m["hold_id"] = e.HoldID.String()
	}
	return m
}

func mapToEntry(m map[string]string) (*journal.Entry, error) {
	eID, err := id.ParseJournalID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("circulate/redis: parse entry id: %w", err)
	}

	taskID, _ := id.ParseTaskID(m["task_id"])                       //nolint:errcheck // best-effort parse from trusted Redis data
	elapsedMS, _ := strconv.ParseInt(m["elapsed_ms"], 10, 64)       //nolint:errcheck // best-effort parse from trusted Redis data
	recordedAt, _ := time.Parse(time.RFC3339Nano, m["recorded_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &journal.Entry{
		ID:         eID,
		TaskID:     taskID,
		Label:      m["label"],
		Kind:       circulation.Kind(m["kind"]),
		Outcome:    m["outcome"],
		Error:      m["error"],
		ElapsedMS:  elapsedMS,
		RecordedAt: recordedAt,
	}

	if v := m["actor"]; v != "" {
		e.Actor, _ = id.ParseMemberID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["book_id"]; v != "" {
		e.BookID, _ = id.ParseBookID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["member_id"]; v != "" {
		e.MemberID, _ = id.ParseMemberID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["loan_id"]; v != "" {
		e.LoanID, _ = id.ParseLoanID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["hold_id"]; v != "" {
		e.HoldID, _ = id.ParseHoldID(v) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	return e, nil
}
