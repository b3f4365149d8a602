// Package coordinator implements the routing core of the kotare cache.
// This file implements active health monitoring of the shard fleet.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/kotare/internal/shard"
)

// HealthStatus is the monitor's per-shard state.
type HealthStatus int

const (
	// StatusHealthy means the shard's write endpoint answers probes.
	StatusHealthy HealthStatus = iota

	// StatusDegraded means recent probes failed but the failure threshold
	// has not been reached. Distinguishes transient glitches from sustained
	// outages.
	StatusDegraded

	// StatusFailed means the threshold was breached. Failover has been
	// attempted and did not (yet) succeed; the monitor retries.
	StatusFailed

	// StatusFailedOver means the replica was promoted and serves writes.
	// The monitor watches the original primary for recovery.
	StatusFailedOver
)

// String returns the summary spelling of the status.
func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "HEALTHY"
	case StatusDegraded:
		return "DEGRADED"
	case StatusFailed:
		return "FAILED"
	case StatusFailedOver:
		return "FAILED_OVER"
	default:
		return "UNKNOWN"
	}
}

// HealthRecord tracks one shard's probe state.
type HealthRecord struct {
	Status              HealthStatus
	ConsecutiveFailures int
	LastCheckAt         time.Time
	LastSuccessAt       time.Time
}

// HealthSummary is the externally visible health of one shard.
type HealthSummary struct {
	ShardID             int                  `json:"shard_id"`
	ShardName           string               `json:"shard_name"`
	Status              string               `json:"status"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	LastCheckAt         time.Time            `json:"last_check_at"`
	LastSuccessAt       time.Time            `json:"last_success_at"`
	WriteEndpoint       string               `json:"write_endpoint"`
	Failover            shard.FailoverRecord `json:"failover"`
}

// HealthMonitor probes every shard on a fixed interval and drives the
// per-shard state machine. Threshold breaches hand the shard to the
// failover manager; a recovered original primary is handed back for
// re-integration.
//
// Concurrency:
// Probes for different shards run in parallel. For a given shard at most
// one probe is in flight; a tick that finds the previous probe still
// running skips that shard. Stop is idempotent and waits for outstanding
// probes.
type HealthMonitor struct {
	bindings []*shard.Binding
	failover *FailoverManager
	logger   *zap.Logger
	metrics  *metrics
	history  *History

	interval  time.Duration
	timeout   time.Duration
	threshold int

	mu       sync.Mutex
	records  map[int]*HealthRecord
	inflight map[int]bool

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHealthMonitor creates a monitor over the given bindings.
//
// Parameters:
//   - bindings: the shard bindings to probe
//   - failover: manager invoked on threshold breach and recovery
//   - interval: probe period (default in config: 5s)
//   - timeout: per-probe deadline (default in config: 3s)
//   - threshold: consecutive failures before a shard is FAILED
func NewHealthMonitor(bindings []*shard.Binding, failover *FailoverManager, interval, timeout time.Duration, threshold int, logger *zap.Logger, m *metrics, history *History) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())

	records := make(map[int]*HealthRecord, len(bindings))
	for _, b := range bindings {
		records[b.ID] = &HealthRecord{Status: StatusHealthy}
	}

	return &HealthMonitor{
		bindings:  bindings,
		failover:  failover,
		logger:    logger,
		metrics:   m,
		history:   history,
		interval:  interval,
		timeout:   timeout,
		threshold: threshold,
		records:   records,
		inflight:  make(map[int]bool),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the probe loop in a background goroutine. An initial round
// of probes runs immediately so status is populated before the first tick.
func (h *HealthMonitor) Start() {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()

		h.logger.Info("health monitor started",
			zap.Duration("interval", h.interval),
			zap.Duration("timeout", h.timeout),
			zap.Int("threshold", h.threshold))

		h.probeAll()
		for {
			select {
			case <-ticker.C:
				h.probeAll()
			case <-h.ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the probe loop, cancels outstanding probe deadlines, and
// waits for in-flight probes to drain. Safe to call more than once.
func (h *HealthMonitor) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		h.wg.Wait()
		h.logger.Info("health monitor stopped")
	})
}

// probeAll launches one probe per shard, skipping shards whose previous
// probe is still in flight so slow shards never queue up probes.
func (h *HealthMonitor) probeAll() {
	for _, b := range h.bindings {
		h.mu.Lock()
		if h.inflight[b.ID] {
			h.mu.Unlock()
			continue
		}
		h.inflight[b.ID] = true
		h.mu.Unlock()

		h.wg.Add(1)
		go func(b *shard.Binding) {
			defer h.wg.Done()
			defer func() {
				h.mu.Lock()
				delete(h.inflight, b.ID)
				h.mu.Unlock()
			}()
			h.probeShard(b)
		}(b)
	}
}

// probeShard runs one probe cycle for one shard and applies the state
// machine transition for the outcome.
func (h *HealthMonitor) probeShard(b *shard.Binding) {
	status, _ := h.snapshot(b.ID)

	if status == StatusFailedOver {
		h.probeForRecovery(b)
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	err := b.WriteEndpoint().Ping(ctx)
	cancel()

	if err != nil {
		h.metrics.probes.WithLabelValues("fail").Inc()
		h.onProbeFailure(b, err)
		return
	}
	h.metrics.probes.WithLabelValues("ok").Inc()
	h.onProbeSuccess(b)
}

// probeForRecovery watches a failed-over shard's ORIGINAL primary. The
// write endpoint of such a shard is the promoted replica, which is healthy
// by construction; recovery of the old primary can only be observed by
// probing it by identity.
func (h *HealthMonitor) probeForRecovery(b *shard.Binding) {
	ctx, cancel := context.WithTimeout(h.ctx, h.timeout)
	err := b.OriginalPrimary().Ping(ctx)
	cancel()

	h.mu.Lock()
	rec := h.records[b.ID]
	rec.LastCheckAt = time.Now()
	h.mu.Unlock()

	if err != nil {
		// Still down. Stay FAILED_OVER.
		return
	}

	h.logger.Info("original primary answering again",
		zap.Int("shard", b.ID),
		zap.String("endpoint", b.OriginalPrimary().Addr()))

	if err := h.failover.HandlePrimaryRecovery(h.ctx, b.ID); err != nil {
		h.logger.Error("recovery handling failed, will retry",
			zap.Int("shard", b.ID),
			zap.Error(err))
		return
	}

	h.mu.Lock()
	rec = h.records[b.ID]
	rec.Status = StatusHealthy
	rec.ConsecutiveFailures = 0
	rec.LastSuccessAt = time.Now()
	h.mu.Unlock()
}

// onProbeSuccess applies the HEALTHY transition and, when the shard was
// FAILED without a completed promotion, records the primary's recovery.
func (h *HealthMonitor) onProbeSuccess(b *shard.Binding) {
	now := time.Now()

	h.mu.Lock()
	rec := h.records[b.ID]
	prev := rec.Status
	rec.Status = StatusHealthy
	rec.ConsecutiveFailures = 0
	rec.LastCheckAt = now
	rec.LastSuccessAt = now
	h.mu.Unlock()

	if prev == StatusFailed {
		// Primary came back before any promotion succeeded. Rearm failover
		// so a later outage starts a fresh transition.
		b.ResetFailover(now)
		h.history.Record(EventPrimaryRecovered, b.ID, "primary recovered without failover")
		h.logger.Info("shard recovered", zap.Int("shard", b.ID))
	}
}

// onProbeFailure counts the failure and, at the threshold, marks the shard
// FAILED and triggers failover. A shard already FAILED retries failover on
// every further failed probe.
func (h *HealthMonitor) onProbeFailure(b *shard.Binding, probeErr error) {
	now := time.Now()

	h.mu.Lock()
	rec := h.records[b.ID]
	rec.ConsecutiveFailures++
	rec.LastCheckAt = now
	fails := rec.ConsecutiveFailures
	prev := rec.Status

	var trigger bool
	switch prev {
	case StatusHealthy, StatusDegraded:
		if fails >= h.threshold {
			rec.Status = StatusFailed
			trigger = true
		} else {
			rec.Status = StatusDegraded
		}
	case StatusFailed:
		trigger = true
	}
	h.mu.Unlock()

	h.logger.Warn("health probe failed",
		zap.Int("shard", b.ID),
		zap.String("endpoint", b.WriteEndpoint().Addr()),
		zap.Int("consecutive", fails),
		zap.Int("threshold", h.threshold),
		zap.Error(probeErr))

	if !trigger {
		return
	}

	if prev != StatusFailed {
		h.history.Record(EventPrimaryFailed, b.ID,
			"threshold breached on "+b.WriteEndpoint().Addr())
	}

	if err := h.failover.FailoverToReplica(h.ctx, b.ID); err != nil {
		// Shard stays FAILED; next failed probe retries.
		return
	}

	if b.Record().Status == shard.FailedOver {
		h.mu.Lock()
		rec := h.records[b.ID]
		rec.Status = StatusFailedOver
		rec.ConsecutiveFailures = 0
		h.mu.Unlock()
	}
}

// snapshot returns a copy of a shard's record under the lock.
func (h *HealthMonitor) snapshot(shardID int) (HealthStatus, HealthRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.records[shardID]
	return rec.Status, *rec
}

// Summary returns the health of every shard ordered by shard id.
func (h *HealthMonitor) Summary() []HealthSummary {
	out := make([]HealthSummary, 0, len(h.bindings))
	for _, b := range h.bindings {
		_, rec := h.snapshot(b.ID)
		out = append(out, HealthSummary{
			ShardID:             b.ID,
			ShardName:           b.Name,
			Status:              rec.Status.String(),
			ConsecutiveFailures: rec.ConsecutiveFailures,
			LastCheckAt:         rec.LastCheckAt,
			LastSuccessAt:       rec.LastSuccessAt,
			WriteEndpoint:       b.WriteEndpoint().Addr(),
			Failover:            b.Record(),
		})
	}
	return out
}
