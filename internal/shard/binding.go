// Package shard implements per-shard endpoint bindings and failover state.
// See doc.go for complete package documentation.
package shard

import (
	"fmt"
	"sync"
	"time"

	"github.com/dreamware/kotare/internal/cluster"
)

// FailoverStatus tracks where a shard stands in its failover lifecycle.
type FailoverStatus int

const (
	// NeverFailed means no failover has been attempted on this shard.
	NeverFailed FailoverStatus = iota

	// FailingOver means a promotion sequence is executing right now.
	// Writes are gated while this status holds.
	FailingOver

	// FailedOver means the replica was promoted and now serves as primary.
	FailedOver

	// Recovered means the original primary came back after a failover and
	// was re-integrated as a replica of the promoted endpoint.
	Recovered

	// FailoverFailed means the last promotion sequence aborted. The shard
	// stays failed until the monitor retries.
	FailoverFailed
)

// String returns the event-log spelling of the status.
func (s FailoverStatus) String() string {
	switch s {
	case NeverFailed:
		return "NEVER_FAILED"
	case FailingOver:
		return "FAILING_OVER"
	case FailedOver:
		return "FAILED_OVER"
	case Recovered:
		return "RECOVERED"
	case FailoverFailed:
		return "FAILOVER_FAILED"
	default:
		return "UNKNOWN"
	}
}

// FailoverRecord is the per-shard failover bookkeeping: current status, when
// it last changed, whether the replica has been promoted, and how long the
// last completed transition took.
type FailoverRecord struct {
	Since        time.Time      `json:"since"`
	Status       FailoverStatus `json:"status"`
	Promoted     bool           `json:"promoted"`
	LastDuration time.Duration  `json:"last_duration"`
}

// Binding is the coordinator's handle on one logical shard: a stable
// identity, two endpoints, and the role pointers naming which endpoint
// currently acts as primary.
//
// The endpoint pair is fixed at creation; only the role pointers move.
// Invariant: primary != replica at all times, including mid-swap.
//
// Thread Safety:
// All methods are safe for concurrent use. Role pointers are read and
// swapped under the binding's mutex, so a reader observes either the
// pre-swap or the post-swap assignment, never a torn pair.
type Binding struct {
	// ID is the shard ordinal in [0, N), fixed at creation.
	ID int

	// Name is the stable shard name, "cache_node_<id>". Ring positions are
	// derived from it, so it must never change.
	Name string

	mu      sync.RWMutex
	primary *cluster.Endpoint
	replica *cluster.Endpoint

	// gate is raised for the duration of a promotion. Writes fail fast
	// while it holds.
	gate bool

	record FailoverRecord

	// originalPrimary pins the endpoint configured as primary at startup.
	// Recovery detection probes this endpoint by identity because the live
	// role pointers change under failover.
	originalPrimary *cluster.Endpoint
}

// NewBinding creates the binding for shard id over the given endpoint pair.
//
// Parameters:
//   - id: shard ordinal in [0, N)
//   - primary: endpoint configured as the shard's primary
//   - replica: endpoint configured as the shard's replica
//
// Returns:
//   - *Binding with role pointers set to the configured assignment
//   - error if the two endpoints are the same object or share an address
func NewBinding(id int, primary, replica *cluster.Endpoint) (*Binding, error) {
	if primary == nil || replica == nil {
		return nil, fmt.Errorf("shard %d: both endpoints are required", id)
	}
	if primary == replica || primary.Addr() == replica.Addr() {
		return nil, fmt.Errorf("shard %d: primary and replica must be distinct, both are %s", id, primary.Addr())
	}

	return &Binding{
		ID:              id,
		Name:            fmt.Sprintf("cache_node_%d", id),
		primary:         primary,
		replica:         replica,
		originalPrimary: primary,
		record:          FailoverRecord{Status: NeverFailed},
	}, nil
}

// WriteEndpoint returns the endpoint currently acting as primary. After a
// failover this is the promoted replica; callers cannot tell the
// difference and should not try to.
func (b *Binding) WriteEndpoint() *cluster.Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.primary
}

// ReadEndpoint returns the endpoint reads should target in steady state.
// The read path tries WriteEndpoint first for read-your-writes and uses
// this endpoint only as the fallback, so in practice ReadEndpoint names
// "the other one".
func (b *Binding) ReadEndpoint() *cluster.Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.replica
}

// OriginalPrimary returns the endpoint configured as primary at startup,
// regardless of any swaps performed since.
func (b *Binding) OriginalPrimary() *cluster.Endpoint {
	return b.originalPrimary
}

// SwapRoles atomically exchanges the primary and replica pointers. Called
// only by the failover manager, with the gate already raised.
func (b *Binding) SwapRoles() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.primary, b.replica = b.replica, b.primary
}

// InFailover reports whether the failover gate is currently raised.
func (b *Binding) InFailover() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.gate
}

// Record returns a copy of the shard's failover record.
func (b *Binding) Record() FailoverRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.record
}

// BeginFailover attempts to enter the promotion sequence. It atomically
// checks the record and raises the gate, which makes concurrent triggers
// collapse into a single promotion: the second caller sees FailingOver (or
// an already completed FailedOver) and backs off.
//
// Returns:
//   - true if the caller owns the transition and must finish it with
//     CompleteFailover or FailFailover
//   - false if a transition is already running or already succeeded
func (b *Binding) BeginFailover(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.record.Status == FailingOver || b.record.Status == FailedOver {
		return false
	}

	b.record.Status = FailingOver
	b.record.Since = now
	b.gate = true
	return true
}

// CompleteFailover finishes a successful promotion: the status moves to
// FailedOver, the promotion flag and duration are recorded, and the gate is
// lowered. Must only be called by the owner of a BeginFailover.
func (b *Binding) CompleteFailover(now time.Time, took time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record.Status = FailedOver
	b.record.Since = now
	b.record.Promoted = true
	b.record.LastDuration = took
	b.gate = false
}

// FailFailover aborts a promotion: the status moves to FailoverFailed and
// the gate is lowered so writes fail with an actionable error instead of
// stalling behind a gate nobody will clear. Must only be called by the
// owner of a BeginFailover.
func (b *Binding) FailFailover(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record.Status = FailoverFailed
	b.record.Since = now
	b.gate = false
}

// MarkRecovered records that the original primary has been re-integrated as
// a replica of the promoted endpoint. The promotion flag stays set: the
// topology does not fail back.
func (b *Binding) MarkRecovered(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record.Status = Recovered
	b.record.Since = now
}

// ResetFailover rearms the shard for a fresh failover attempt. Called when
// a shard that previously failed over (or failed to) is healthy again on
// its current primary, so a later outage can trigger a new promotion.
func (b *Binding) ResetFailover(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.record.Status == FailingOver {
		return
	}
	b.record.Status = NeverFailed
	b.record.Since = now
	b.record.Promoted = false
}

// Endpoints returns both endpoints of the binding in their current role
// order (write endpoint first). Used by shutdown and by the statistics
// aggregator, which needs to visit both sides.
func (b *Binding) Endpoints() (write, read *cluster.Endpoint) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.primary, b.replica
}
