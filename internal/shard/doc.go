// Package shard implements the per-shard binding: the pair of storage
// endpoints realizing one logical cache shard, the role pointers naming
// which of the two is currently primary, and the failover bookkeeping that
// guards role transitions.
//
// # Role pointers
//
// A Binding owns exactly two endpoints, fixed at creation. Which endpoint is
// written to is decided by a pair of role pointers that the failover manager
// may swap at runtime. Callers never hold an endpoint across a suspension
// point; they re-read WriteEndpoint or ReadEndpoint for every operation, so
// a swap becomes visible to the very next request.
//
// # Failover gate
//
// While a promotion is in progress the binding's gate is raised. Writes
// observe the gate and fail fast with a retryable error instead of racing
// the role swap. The gate is raised before the swap and lowered after it,
// on success and failure paths alike.
//
// # At-most-once promotion
//
// BeginFailover is the single entry point into a transition. It atomically
// checks the failover record and raises the gate, so two concurrent
// triggers for the same shard result in exactly one promotion sequence.
package shard
