package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/id"
)

// RegisterInstance adds an instance to the registry. Re-registering an
// existing ID refreshes its mutable fields.
func (s *Store) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO circulate_instances (
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		inst.ID, inst.Hostname, inst.Concurrency,
		string(inst.State), inst.IsLeader, inst.LeaderUntil,
		inst.LastSeen, inst.Metadata, inst.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: register instance: %w", err)
	}
	return nil
}

// DeregisterInstance removes an instance from the registry.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM circulate_instances WHERE id = $1`,
		instanceID,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: deregister instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// HeartbeatInstance updates the last-seen timestamp for an instance.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE circulate_instances SET last_seen = NOW() WHERE id = $1`,
		instanceID,
	)
	if err != nil {
		return fmt.Errorf("circulate/postgres: heartbeat instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// ListInstances returns all registered instances.
func (s *Store) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM circulate_instances
		ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: list instances: %w", err)
	}
	defer rows.Close()

	var instances []*cluster.Instance
	for rows.Next() {
		inst, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan instance row: %w", scanErr)
		}
		instances = append(instances, inst)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate instance rows: %w", err)
	}
	return instances, nil
}

// ReapDeadInstances returns instances whose last-seen timestamp is
// older than the given threshold.
func (s *Store) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM circulate_instances
		WHERE last_seen < NOW() - $1::interval`,
		threshold.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("circulate/postgres: reap dead instances: %w", err)
	}
	defer rows.Close()

	var instances []*cluster.Instance
	for rows.Next() {
		inst, scanErr := scanInstance(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("circulate/postgres: scan dead instance: %w", scanErr)
		}
		instances = append(instances, inst)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("circulate/postgres: iterate dead instances: %w", err)
	}
	return instances, nil
}

// AcquireLeadership attempts to become the cluster leader. Leadership
// is claimed when no unexpired lease exists or the caller already holds
// the lease.
func (s *Store) AcquireLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	// Step 1: Clear any expired leader.
	_, err := s.pool.Exec(ctx, `
		UPDATE circulate_instances
		SET is_leader = FALSE, leader_until = NULL
		WHERE is_leader = TRUE AND leader_until < NOW()`,
	)
	if err != nil {
		return false, fmt.Errorf("circulate/postgres: clear expired leader: %w", err)
	}

	// Step 2: Check if there's already an active leader that isn't us.
	var activeLeaderID *string
	err = s.pool.QueryRow(ctx, `
		SELECT id FROM circulate_instances
		WHERE is_leader = TRUE AND leader_until >= NOW()
		LIMIT 1`,
	).Scan(&activeLeaderID)
	if err != nil && !isNoRows(err) {
		return false, fmt.Errorf("circulate/postgres: check leader: %w", err)
	}

	if activeLeaderID != nil && *activeLeaderID != instanceID.String() {
		return false, nil
	}

	// Step 3: Claim or re-claim leadership.
	tag, claimErr := s.pool.Exec(ctx, `
		UPDATE circulate_instances
		SET is_leader = TRUE, leader_until = $2
		WHERE id = $1`,
		instanceID, until,
	)
	if claimErr != nil {
		return false, fmt.Errorf("circulate/postgres: claim leadership: %w", claimErr)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	tag, err := s.pool.Exec(ctx, `
		UPDATE circulate_instances
		SET leader_until = $2
		WHERE id = $1 AND is_leader = TRUE`,
		instanceID, until,
	)
	if err != nil {
		return false, fmt.Errorf("circulate/postgres: renew leadership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// unexpired lease.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, hostname, concurrency, state,
			is_leader, leader_until, last_seen, metadata, created_at
		FROM circulate_instances
		WHERE is_leader = TRUE AND leader_until >= NOW()
		LIMIT 1`,
	)

	inst, err := scanInstance(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("circulate/postgres: get leader: %w", err)
	}
	return inst, nil
}

// scanInstance scans a single instance row.
func scanInstance(row pgx.Row) (*cluster.Instance, error) {
	var (
		inst     cluster.Instance
		stateStr string
	)
	err := row.Scan(
		&inst.ID, &inst.Hostname, &inst.Concurrency, &stateStr,
		&inst.IsLeader, &inst.LeaderUntil, &inst.LastSeen, &inst.Metadata,
		&inst.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	inst.State = cluster.InstanceState(stateStr)
	return &inst, nil
}
