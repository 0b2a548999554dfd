package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/id"
)

// RegisterInstance adds an instance to the registry. Re-registering an
// existing ID refreshes its mutable fields.
func (s *Store) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	m := toInstanceModel(inst)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("concurrency = EXCLUDED.concurrency").
		Set("state = EXCLUDED.state").
		Set("last_seen = EXCLUDED.last_seen").
		Set("metadata = EXCLUDED.metadata").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: register instance: %w", err)
	}
	return nil
}

// DeregisterInstance removes an instance from the registry.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	res, err := s.db.NewDelete().
		TableExpr("circulate_instances").
		Where("id = ?", instanceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: deregister instance: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// HeartbeatInstance updates the last-seen timestamp for an instance.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID) error {
	res, err := s.db.NewUpdate().
		TableExpr("circulate_instances").
		Set("last_seen = NOW()").
		Where("id = ?", instanceID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("circulate/bun: heartbeat instance: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// ListInstances returns all registered instances.
func (s *Store) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	var models []instanceModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: list instances: %w", err)
	}

	instances := make([]*cluster.Instance, 0, len(models))
	for i := range models {
		instances = append(instances, fromInstanceModel(&models[i]))
	}
	return instances, nil
}

// ReapDeadInstances returns instances whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	var models []instanceModel
	err := s.db.NewSelect().Model(&models).
		Where("last_seen < NOW() - ?::interval", threshold.String()).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("circulate/bun: reap dead instances: %w", err)
	}

	instances := make([]*cluster.Instance, 0, len(models))
	for i := range models {
		instances = append(instances, fromInstanceModel(&models[i]))
	}
	return instances, nil
}

// AcquireLeadership attempts to become the cluster leader. Leadership is
// claimed when no unexpired lease exists or the caller already holds it.
func (s *Store) AcquireLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	until := time.Now().UTC().Add(ttl)

	// Step 1: Clear any expired leader.
	_, err := s.db.NewUpdate().
		TableExpr("circulate_instances").
		Set("is_leader = FALSE").
		Set("leader_until = NULL").
		Where("is_leader = TRUE").
		Where("leader_until < NOW()").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("circulate/bun: clear expired leader: %w", err)
	}

	// Step 2: Check if there's already an active leader that isn't us.
	var activeLeaderID string
	err = s.db.NewSelect().
		ColumnExpr("id").
		TableExpr("circulate_instances").
		Where("is_leader = TRUE").
		Where("leader_until >= NOW()").
		Limit(1).
		Scan(ctx, &activeLeaderID)
	if err != nil && !isNoRows(err) {
		return false, fmt.Errorf("circulate/bun: check leader: %w", err)
	}

	if activeLeaderID != "" && activeLeaderID != instanceID.String() {
		return false, nil
	}

	// Step 3: Claim or re-claim leadership.
	res, claimErr := s.db.NewUpdate().
		TableExpr("circulate_instances").
		Set("is_leader = TRUE").
		Set("leader_until = ?", until).
		Where("id = ?", instanceID).
		Exec(ctx)
	if claimErr != nil {
		return false, fmt.Errorf("circulate/bun: claim leadership: %w", claimErr)
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

	res, err := s.db.NewUpdate().
		TableExpr("circulate_instances").
		Set("leader_until = ?", until).
		Where("id = ?", instanceID).
		Where("is_leader = TRUE").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("circulate/bun: renew leadership: %w", err)
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
	m := new(instanceModel)
	err := s.db.NewSelect().Model(m).
		Where("is_leader = TRUE").
		Where("leader_until >= NOW()").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("circulate/bun: get leader: %w", err)
	}
	return fromInstanceModel(m), nil
}
