// Package coordinator implements the routing core of the kotare cache.
// This file implements the failover manager: replica promotion on primary
// failure and re-integration of recovered primaries.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/kotare/internal/shard"
)

// FailoverMetrics is a snapshot of the failover counters.
type FailoverMetrics struct {
	Total                uint64 `json:"total"`
	Successful           uint64 `json:"successful"`
	Failed               uint64 `json:"failed"`
	CumulativeDurationMs int64  `json:"cumulative_duration_ms"`
	AverageDurationMs    int64  `json:"average_duration_ms"`
}

// FailoverManager executes role transitions on shard bindings. A transition
// is at-most-once per shard (guarded by the binding's failover record) and
// transitions for different shards proceed independently in parallel.
//
// The manager owns the failover counters; transition events are recorded in
// the shared history and in Prometheus.
type FailoverManager struct {
	bindings []*shard.Binding
	logger   *zap.Logger
	history  *History
	metrics  *metrics

	mu         sync.Mutex
	total      uint64
	successful uint64
	failed     uint64
	cumulative time.Duration
}

// NewFailoverManager creates the manager over the given bindings.
func NewFailoverManager(bindings []*shard.Binding, logger *zap.Logger, history *History, m *metrics) *FailoverManager {
	return &FailoverManager{
		bindings: bindings,
		logger:   logger,
		history:  history,
		metrics:  m,
	}
}

// FailoverToReplica promotes the replica of the given shard to primary.
//
// Sequence:
//  1. Atomically enter FAILING_OVER and raise the write gate. A shard
//     already failing over or failed over returns immediately, which makes
//     concurrent triggers collapse into one promotion.
//  2. Probe the replica. A dead replica aborts: there is nothing to promote
//     onto, and looping would not change that.
//  3. Promote the replica (read-only off, detach from master). Any command
//     error aborts.
//  4. Swap the binding's role pointers. The promoted replica is now the
//     write endpoint.
//  5. Lower the gate, mark FAILED_OVER, record duration and metrics.
//
// On any abort the record moves to FAILOVER_FAILED and the gate is lowered,
// so writes fail fast with a retryable error rather than stalling behind a
// gate nobody will clear. The monitor retries on its next failed probe.
func (f *FailoverManager) FailoverToReplica(ctx context.Context, shardID int) error {
	b, err := f.binding(shardID)
	if err != nil {
		return err
	}

	start := time.Now()
	if !b.BeginFailover(start) {
		f.logger.Debug("failover already in progress or completed, skipping",
			zap.Int("shard", shardID),
			zap.String("status", b.Record().Status.String()))
		return nil
	}

	f.history.Record(EventFailoverBegin, shardID, "promoting replica")
	f.logger.Warn("beginning failover",
		zap.Int("shard", shardID),
		zap.String("replica", b.ReadEndpoint().Addr()))

	replica := b.ReadEndpoint()

	if err := replica.Ping(ctx); err != nil {
		return f.abort(b, fmt.Errorf("replica unreachable: %w", err))
	}
	if err := replica.Promote(ctx); err != nil {
		return f.abort(b, fmt.Errorf("promotion commands failed: %w", err))
	}

	b.SwapRoles()

	took := time.Since(start)
	b.CompleteFailover(time.Now(), took)

	f.mu.Lock()
	f.total++
	f.successful++
	f.cumulative += took
	f.mu.Unlock()
	f.metrics.failovers.WithLabelValues("success").Inc()
	f.metrics.failoverDuration.Observe(took.Seconds())

	f.history.Record(EventFailoverSuccess, shardID,
		fmt.Sprintf("promoted %s in %s", b.WriteEndpoint().Addr(), took.Round(time.Millisecond)))
	f.logger.Info("failover complete",
		zap.Int("shard", shardID),
		zap.String("new_primary", b.WriteEndpoint().Addr()),
		zap.Duration("took", took))
	return nil
}

// abort finishes a failed transition: record, gate, counters, event.
func (f *FailoverManager) abort(b *shard.Binding, cause error) error {
	b.FailFailover(time.Now())

	f.mu.Lock()
	f.total++
	f.failed++
	f.mu.Unlock()
	f.metrics.failovers.WithLabelValues("failed").Inc()

	f.history.Record(EventFailoverFailed, b.ID, cause.Error())
	f.logger.Error("failover failed",
		zap.Int("shard", b.ID),
		zap.Error(cause))
	return fmt.Errorf("failover shard %d: %w", b.ID, cause)
}

// HandlePrimaryRecovery re-integrates a shard's original primary after it
// is observed alive again following a completed failover.
//
// The recovered endpoint occupies the binding's replica slot (roles were
// swapped during promotion). It is reconfigured as a replica of the
// promoted endpoint and roles are deliberately NOT swapped back: a second
// transition would risk serving the recovered endpoint's stale state, so
// the promoted replica stays primary.
func (f *FailoverManager) HandlePrimaryRecovery(ctx context.Context, shardID int) error {
	b, err := f.binding(shardID)
	if err != nil {
		return err
	}

	if status := b.Record().Status; status != shard.FailedOver {
		return fmt.Errorf("shard %d: recovery handling requires FAILED_OVER, shard is %s", shardID, status)
	}

	promoted := b.WriteEndpoint()
	recovered := b.ReadEndpoint()

	if err := recovered.Demote(ctx, promoted.Host, promoted.Port); err != nil {
		f.logger.Error("failed to re-integrate recovered primary",
			zap.Int("shard", shardID),
			zap.String("endpoint", recovered.Addr()),
			zap.Error(err))
		return fmt.Errorf("reintegrate shard %d primary: %w", shardID, err)
	}

	b.MarkRecovered(time.Now())
	f.history.Record(EventPrimaryRecovered, shardID,
		fmt.Sprintf("%s rejoined as replica of %s", recovered.Addr(), promoted.Addr()))
	f.logger.Info("original primary recovered, serving as replica",
		zap.Int("shard", shardID),
		zap.String("recovered", recovered.Addr()),
		zap.String("primary", promoted.Addr()))
	return nil
}

// Metrics returns a snapshot of the failover counters, with the average
// derived over successful transitions.
func (f *FailoverManager) Metrics() FailoverMetrics {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := FailoverMetrics{
		Total:                f.total,
		Successful:           f.successful,
		Failed:               f.failed,
		CumulativeDurationMs: f.cumulative.Milliseconds(),
	}
	if f.successful > 0 {
		snap.AverageDurationMs = f.cumulative.Milliseconds() / int64(f.successful)
	}
	return snap
}

func (f *FailoverManager) binding(shardID int) (*shard.Binding, error) {
	if shardID < 0 || shardID >= len(f.bindings) {
		return nil, fmt.Errorf("invalid shard id %d, must be in range [0, %d)", shardID, len(f.bindings))
	}
	return f.bindings[shardID], nil
}
