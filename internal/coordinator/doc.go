// Package coordinator implements the routing core of the kotare cache: key
// placement over the consistent-hash ring, replication-mode-aware cache
// operations, active health monitoring of the shard fleet, and automatic
// primary-to-replica failover.
//
// # Components
//
// The package is organized around four cooperating pieces:
//
//   - Coordinator: the public surface. Resolves keys through the ring and
//     executes set/get/delete against the owning shard's endpoints, plus
//     the observability surface (ring description, statistics, replication
//     lag, health summary, failover metrics).
//   - HealthMonitor: a background prober driving a per-shard state machine
//     (HEALTHY, DEGRADED, FAILED, FAILED_OVER). Threshold breaches hand the
//     shard to the failover manager; recovery of an original primary after
//     a completed failover is detected by probing that endpoint by
//     identity, not by current role.
//   - FailoverManager: executes promotion sequences (verify replica, lift
//     read-only, detach from master, swap role pointers) and re-integrates
//     recovered primaries as replicas of the promoted endpoint. Transitions
//     are at-most-once per shard and independent across shards.
//   - statistics aggregation: parses the textual INFO output of every
//     endpoint into keyspace, hit-rate, and replication-lag figures. Shards
//     that fail to answer contribute error entries without failing the
//     aggregate.
//
// # Ordering guarantees
//
// Cache operations read role pointers through the shard binding's
// accessors; the failover manager raises the binding's gate before swapping
// and lowers it after. A write that observes the gate down after a
// completed failover therefore observes the promoted endpoint. Synchronous
// writes issue WAIT on the same connection after the write, so
// per-key sync-replication semantics hold. No ordering is promised across
// shards.
//
// # Ownership
//
// The Coordinator owns the ring, the bindings, the monitor, and the
// failover manager. The monitor and the failover manager hold references to
// the same bindings but never to each other's internals; their interaction
// is the two calls FailoverToReplica and HandlePrimaryRecovery.
package coordinator
