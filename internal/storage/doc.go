// Package storage provides the in-memory key/value store backing the shard
// simulator.
//
// The store is a TTL-aware map: entries written with an expiry disappear
// once their deadline passes, enforced lazily on access and eagerly by an
// explicit Sweep call (no background sweep runs). It keeps the counters the simulator's INFO
// output reports (keys, hits, misses), so a coordinator pointed at a
// simulated shard sees realistic keyspace and stats sections.
//
// The production system never uses this package; real deployments run
// against external storage shards. It exists so tests and local development
// exercise the true wire path end to end.
package storage
