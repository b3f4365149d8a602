// Package shardsim implements an in-process storage shard speaking the
// Redis wire protocol (RESP), for tests and local development.
//
// # Why a simulator
//
// The coordinator's correctness lives in the interplay of ring lookups,
// role swaps, health probing, and promotion commands issued over the wire.
// Stubbing the client out would bypass exactly the layer under test. The
// simulator is a real TCP server that the production client connects to,
// so every test drives the same code path a deployment does.
//
// # Supported commands
//
// PING, GET, SET (with EX), SETEX, DEL, WAIT, REPLICAOF/SLAVEOF,
// CONFIG SET/GET (replica-read-only), INFO (replication, keyspace, stats),
// plus the CLIENT/HELLO handshake noise a modern client emits.
//
// # Failure injection and replication
//
// SetFailing makes the server drop connections, which a client observes as
// network errors and the health monitor counts as failed probes.
// LinkReplica attaches another simulator as this one's replica: writes are
// applied to both stores and replication offsets advance in lockstep, so
// WAIT confirms and reported lag is zero. Unlinking lets offsets diverge,
// which is how replication-lag and sync-timeout scenarios are staged.
package shardsim
