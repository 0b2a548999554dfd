// Package syncer provides scheduled catalog synchronization with
// leader election.
//
// Sources are pulled on a cron schedule and only by the cluster leader.
// This guarantees at-most-once pulling per round even when multiple
// Circulate instances share a store.
//
// # Source
//
// A [Source] is anything that can produce a batch of catalog records:
//   - [HTTPSource] pulls a JSON book feed from a remote endpoint
//   - custom implementations adapt vendor feeds, OPDS catalogs, etc.
//
// # Scheduling
//
// The [Syncer] checks the schedule on every tick. When a round is due
// it pulls every registered source with bounded parallelism, submits
// one sync operation per successful pull, and computes the next run
// from the cron expression. Transient pull failures are retried with
// backoff before the source is skipped for the round.
//
// Rounds can also be triggered on demand with [Syncer.SyncNow], which
// bypasses both the schedule and the leadership check. The admin API
// uses this for POST /v1/sync.
package syncer
