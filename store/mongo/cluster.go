package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/circulate"
	"github.com/xraph/circulate/cluster"
	"github.com/xraph/circulate/id"
)

// RegisterInstance adds an instance to the cluster registry.
// Uses upsert to handle re-registration.
func (s *Store) RegisterInstance(ctx context.Context, inst *cluster.Instance) error {
	m := toInstanceModel(inst)
	col := s.db.Collection(colInstances)

	_, err := col.UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$set": bson.M{
			"hostname":     m.Hostname,
			"concurrency":  m.Concurrency,
			"state":        m.State,
			"is_leader":    m.IsLeader,
			"leader_until": m.LeaderUntil,
			"last_seen":    m.LastSeen,
			"metadata":     m.Metadata,
			"created_at":   m.CreatedAt,
		}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("circulate/mongo: register instance: %w", err)
	}
	return nil
}

// DeregisterInstance removes an instance from the cluster registry.
func (s *Store) DeregisterInstance(ctx context.Context, instanceID id.InstanceID) error {
	res, err := s.db.Collection(colInstances).DeleteOne(ctx, bson.M{"_id": instanceID.String()})
	if err != nil {
		return fmt.Errorf("circulate/mongo: deregister instance: %w", err)
	}
	if res.DeletedCount == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// HeartbeatInstance updates the last-seen timestamp for an instance.
func (s *Store) HeartbeatInstance(ctx context.Context, instanceID id.InstanceID) error {
	res, err := s.db.Collection(colInstances).UpdateOne(ctx,
		bson.M{"_id": instanceID.String()},
		bson.M{"$set": bson.M{"last_seen": now()}},
	)
	if err != nil {
		return fmt.Errorf("circulate/mongo: heartbeat instance: %w", err)
	}
	if res.MatchedCount == 0 {
		return circulate.ErrInstanceNotFound
	}
	return nil
}

// ListInstances returns all registered instances.
func (s *Store) ListInstances(ctx context.Context) ([]*cluster.Instance, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.Collection(colInstances).Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: list instances: %w", err)
	}
	defer cursor.Close(ctx)

	var models []instanceModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("circulate/mongo: list instances decode: %w", err)
	}

	instances := make([]*cluster.Instance, 0, len(models))
	for i := range models {
		inst, convErr := fromInstanceModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("circulate/mongo: list instances convert: %w", convErr)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// ReapDeadInstances returns instances whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadInstances(ctx context.Context, threshold time.Duration) ([]*cluster.Instance, error) {
	cutoff := now().Add(-threshold)

	cursor, err := s.db.Collection(colInstances).Find(ctx, bson.M{
		"last_seen": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return nil, fmt.Errorf("circulate/mongo: reap dead instances: %w", err)
	}
	defer cursor.Close(ctx)

	var models []instanceModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("circulate/mongo: reap dead instances decode: %w", err)
	}

	instances := make([]*cluster.Instance, 0, len(models))
	for i := range models {
		inst, convErr := fromInstanceModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("circulate/mongo: reap dead instances convert: %w", convErr)
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// AcquireLeadership attempts to become the cluster leader.
// Uses a multi-step approach: clear expired, check active, claim.
func (s *Store) AcquireLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	iID := instanceID.String()
	t := now()
	until := t.Add(ttl)
	col := s.db.Collection(colInstances)

	// Step 1: Clear any expired leader.
	_, err := col.UpdateMany(ctx,
		bson.M{
			"is_leader":    true,
			"leader_until": bson.M{"$lt": t},
		},
		bson.M{"$set": bson.M{
			"is_leader": false,
		}, "$unset": bson.M{
			"leader_until": "",
		}},
	)
	if err != nil {
		return false, fmt.Errorf("circulate/mongo: clear expired leader: %w", err)
	}

	// Step 2: Check if there's already an active leader that isn't us.
	var activeLeader instanceModel
	err = col.FindOne(ctx, bson.M{
		"is_leader":    true,
		"leader_until": bson.M{"$gte": t},
	}).Decode(&activeLeader)
	if err != nil {
		if !isNoDocuments(err) {
			return false, fmt.Errorf("circulate/mongo: check leader: %w", err)
		}
		// No active leader -- proceed to claim.
	} else if activeLeader.ID != iID {
		return false, nil
	}

	// Step 3: Claim or re-claim leadership.
	res, err := col.UpdateOne(ctx,
		bson.M{"_id": iID},
		bson.M{"$set": bson.M{
			"is_leader":    true,
			"leader_until": until,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("circulate/mongo: claim leadership: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}

	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, instanceID id.InstanceID, ttl time.Duration) (bool, error) {
	until := now().Add(ttl)

	res, err := s.db.Collection(colInstances).UpdateOne(ctx,
		bson.M{
			"_id":       instanceID.String(),
			"is_leader": true,
		},
		bson.M{"$set": bson.M{
			"leader_until": until,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("circulate/mongo: renew leadership: %w", err)
	}
	if res.MatchedCount == 0 {
		return false, nil
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Instance, error) {
	var m instanceModel
	err := s.db.Collection(colInstances).FindOne(ctx, bson.M{
		"is_leader":    true,
		"leader_until": bson.M{"$gte": now()},
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("circulate/mongo: get leader: %w", err)
	}
	return fromInstanceModel(&m)
}
