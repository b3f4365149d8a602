// Package ring implements the consistent-hash ring that places cache keys
// onto shards.
//
// # Geometry
//
// The ring is the 32-bit hash space [0, 2^32). Each shard contributes V
// virtual nodes (default 150): deterministic positions derived from the
// shard's stable name, so the same configuration always yields the same
// ring across restarts. A key is owned by the first virtual node at or
// clockwise after the key's own hash position, wrapping at the seam.
//
// Virtual nodes spread each shard's key range into many small arcs, which
// keeps the per-shard share of the key space close to 1/N and bounds how
// many keys move when the shard set changes.
//
// # Immutability
//
// The ring is immutable after construction. Failover swaps role pointers
// inside a shard's binding; it never moves ring positions. Lookups on the
// hot path therefore need no synchronization.
package ring
