// Package cluster provides the shared building blocks for the kotare
// coordinator: endpoint handles over the storage-shard wire protocol, role
// identities, replication modes, and the deadline policy applied to every
// remote command.
//
// # Overview
//
// A kotare deployment consists of N logical shards, each realized as a pair
// of Redis-protocol storage servers (one primary, one replica). The cluster
// package models a single such server as an Endpoint: a stable network
// address plus one long-lived client connection. Endpoints are created once
// at coordinator startup and closed at shutdown; every other component
// (ring, bindings, monitor, failover manager) borrows them.
//
// # Endpoint identity
//
// Roles swap during failover, addresses never do. Each Endpoint therefore
// records the role it was configured with at startup (OriginalRole). The
// health monitor relies on this to find "the original primary" of a shard
// after its binding's role pointers have been exchanged.
//
// # Deadlines
//
// All shard commands are I/O and must be deadline-bounded. The package
// defines the cluster-wide defaults:
//
//   - DefaultCommandTimeout (5s) for data commands
//   - DefaultProbeTimeout (3s) for liveness probes
//   - DefaultWaitTimeout (1s) for synchronous-replication confirmation
//
// Callers pass a context; Endpoint methods narrow it with the appropriate
// default when the caller has not set a tighter deadline.
package cluster
