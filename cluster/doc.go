// Package cluster provides instance registration, heartbeating, and
// leader election for multi-replica Circulate deployments.
//
// Each running Circulate process registers itself as an [Instance] with a
// unique [id.InstanceID], its hostname, its scheduler concurrency, and a
// state: [InstanceActive], [InstanceDraining], or [InstanceDead].
// Instances send periodic heartbeats; an instance whose heartbeat is
// older than the reap threshold is considered dead.
//
// # Leader Election
//
// One instance at a time holds leadership. The leader runs the work that
// must happen exactly once per cluster, scheduled catalog syncs in
// particular. Leadership is a TTL lease acquired through
// [Store.AcquireLeadership] and kept alive with [Store.RenewLeadership];
// when a renewal fails the instance must stop leading immediately and
// surface circulate.ErrLeadershipLost to whatever it was driving.
//
// Store implementations: store/memory (single process, tests),
// store/redis (SET NX PX leases), and cluster/k8s (Kubernetes
// coordination/v1 Leases via client-go).
package cluster
