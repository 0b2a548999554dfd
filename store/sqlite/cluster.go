package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/id"
)

// RegisterInstance adds an instance to the registry. Re-registering an
// existing ID refreshes its mutable fields.
func (s *Store) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	meta, err := marshalMetadata(inst.Metadata)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: marshal instance metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO circulate_instances (
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			concurrency = excluded.concurrency,
			state = excluded.state,
			last_seen = excluded.last_seen,
			metadata = excluded.metadata`,
		inst.ID, inst.Hostname, inst.Concurrency,
		string(inst.State), inst.IsLeader, nanosPtr(inst.LeaderUntil),
		nanos(inst.LastSeen), meta, nanos(inst.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: register instance: %w", err)
	}
	return nil
}

// DeregisterInstance removes an instance from the registry.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM circulate_instances WHERE id = ?`,
		instanceID,
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: deregister instance: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// HeartbeatInstance updates the last-seen timestamp for an instance.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE circulate_instances SET last_seen = ? WHERE id = ?`,
		nanos(time.Now().UTC()), instanceID,
	)
	if err != nil {
		return fmt.Errorf("circulate/sqlite: heartbeat instance: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// ListInstances returns all registered instances.
func (s *Store) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM circulate_instances
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: list instances: %w", err)
	}
	defer rows.Close()

	var instances []*cluster.Instance
	for rows.Next() {
		inst, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan instance row: %w", scanErr)
		}
		instances = append(instances, inst)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate instance rows: %w", err)
	}
	return instances, nil
}

// ReapDeadInstances returns instances whose last-seen timestamp is
// older than the given threshold.
func (s *Store) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM circulate_instances
		WHERE last_seen < ?`,
		nanos(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("circulate/sqlite: reap dead instances: %w", err)
	}
	defer rows.Close()

	var instances []*cluster.Instance
	for rows.Next() {
		inst, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/sqlite: scan dead instance: %w", scanErr)
		}
		instances = append(instances, inst)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/sqlite: iterate dead instances: %w", err)
	}
	return instances, nil
}

// AcquireLeadership attempts to become the cluster leader. Leadership
// is claimed when no unexpired lease exists or the caller already holds
// the lease.
func (s *Store) AcquireLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	until := now.Add(ttl)

	// Step 1: Clear any expired leader.
	_, err := s.db.ExecContext(ctx, `
		UPDATE circulate_instances
		SET is_leader = 0, leader_until = NULL
		WHERE is_leader = 1 AND leader_until < ?`,
		nanos(now),
	)
	if err != nil {
		return false, fmt.Errorf("circulate/sqlite: clear expired leader: %w", err)
	}

	// Step 2: Check if there's already an active leader that isn't us.
	var activeLeaderID *string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM circulate_instances
		WHERE is_leader = 1 AND leader_until >= ?
		LIMIT 1`,
		nanos(now),
	).Scan(&activeLeaderID)
	if err != nil && !isNoRows(err) {
		return false, fmt.Errorf("circulate/sqlite: check leader: %w", err)
	}

	if activeLeaderID != nil && *activeLeaderID != instanceID.String() {
		return false, nil
	}

	// Step 3: Claim or re-claim leadership.
	res, claimErr := s.db.ExecContext(ctx, `
		UPDATE circulate_instances
		SET is_leader = 1, leader_until = ?
		WHERE id = ?`,
		nanos(until), instanceID,
	)
	if claimErr != nil {
		return false, fmt.Errorf("circulate/sqlite: claim leadership: %w", claimErr)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return false, nil
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	res, err := s.db.ExecContext(ctx, `
		UPDATE circulate_instances
		SET leader_until = ?
		WHERE id = ? AND is_leader = 1`,
		nanos(until), instanceID,
	)
	if err != nil {
		return false, fmt.Errorf("circulate/sqlite: renew leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return false, nil
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// unexpired lease.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Instance, error) {
	r := s.db.QueryRowContext(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM circulate_instances
		WHERE is_leader = 1 AND leader_until >= ?
		LIMIT 1`,
		nanos(time.Now().UTC()),
	)

	inst, err := scanInstance(r)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("circulate/sqlite: get leader: %w", err)
	}
	return inst, nil
}

// scanInstance scans a single instance row.
func scanInstance(r row) (*cluster.Instance, error) {
	var (
		inst          cluster.Instance
		stateStr      string
		leaderUntilNS sql.NullInt64
		lastSeenNS    int64
		meta          sql.NullString
		createdNS     int64
	)
	err := r.Scan(
		&inst.ID, &inst.Hostname, &inst.Concurrency, &stateStr,
		&inst.IsLeader, &leaderUntilNS, &lastSeenNS, &meta, &createdNS,
	)
	if err != nil {
		return nil, err
	}

	inst.State = cluster.InstanceState(stateStr)
	inst.LeaderUntil = fromNanosPtr(leaderUntilNS)
	inst.LastSeen = fromNanos(lastSeenNS)
	inst.CreatedAt = fromNanos(createdNS)

	inst.Metadata, err = unmarshalMetadata(meta)
	if err != nil {
		return nil, fmt.Errorf("unmarshal instance metadata: %w", err)
	}
	return &inst, nil
}

func marshalMetadata(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalMetadata(s sql.NullString) (map[string]string, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
