// Package coordinator contains tests for the health monitor's state
// machine, driven through real probes against shard simulators.
package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/kotare/internal/shard"
)

// summaryFor fetches one shard's health summary.
func summaryFor(c *Coordinator, shardID int) HealthSummary {
	for _, s := range c.monitor.Summary() {
		if s.ShardID == shardID {
			return s
		}
	}
	return HealthSummary{}
}

// TestMonitorKeepsHealthyShardsHealthy verifies steady state: probes
// succeed, status stays HEALTHY, and success timestamps advance.
func TestMonitorKeepsHealthyShardsHealthy(t *testing.T) {
	tc := newTestCluster(t, 2)
	tc.coord.Start()

	require.Eventually(t, func() bool {
		for _, s := range tc.coord.monitor.Summary() {
			if s.Status != "HEALTHY" || s.LastSuccessAt.IsZero() {
				return false
			}
		}
		return true
	}, 5*time.Second, 25*time.Millisecond)

	assert.Equal(t, 0, summaryFor(tc.coord, 0).ConsecutiveFailures)
}

// TestMonitorDegradesBeforeFailing verifies that failures below the
// threshold leave the shard DEGRADED, not FAILED.
func TestMonitorDegradesBeforeFailing(t *testing.T) {
	tc := newTestCluster(t, 1)
	b := tc.coord.bindings[0]

	tc.primaries[0].SetFailing(true)

	// Drive probes by hand so the count stays below the threshold.
	tc.coord.monitor.probeShard(b)
	tc.coord.monitor.probeShard(b)

	s := summaryFor(tc.coord, 0)
	assert.Equal(t, "DEGRADED", s.Status)
	assert.Equal(t, 2, s.ConsecutiveFailures)
	assert.Equal(t, shard.NeverFailed, b.Record().Status, "no failover below the threshold")

	// Recovery from DEGRADED is immediate on the next good probe.
	tc.primaries[0].SetFailing(false)
	require.Eventually(t, func() bool {
		tc.coord.monitor.probeShard(b)
		return summaryFor(tc.coord, 0).Status == "HEALTHY"
	}, 5*time.Second, 50*time.Millisecond)
	assert.Equal(t, 0, summaryFor(tc.coord, 0).ConsecutiveFailures)
}

// TestMonitorFailsOverAtThreshold verifies the full automatic path: a dead
// primary crosses the threshold, failover promotes the replica, and the
// shard reports FAILED_OVER.
func TestMonitorFailsOverAtThreshold(t *testing.T) {
	tc := newTestCluster(t, 3)
	tc.coord.Start()

	tc.primaries[1].SetFailing(true)

	require.Eventually(t, func() bool {
		return summaryFor(tc.coord, 1).Status == "FAILED_OVER"
	}, 10*time.Second, 50*time.Millisecond, "threshold breach must drive an automatic failover")

	assert.Equal(t, "master", tc.replicas[1].Role())
	assert.EqualValues(t, 1, tc.coord.GetFailoverMetrics().Successful)

	// Healthy shards are untouched.
	assert.Equal(t, "HEALTHY", summaryFor(tc.coord, 0).Status)
	assert.Equal(t, "HEALTHY", summaryFor(tc.coord, 2).Status)
}

// TestMonitorDetectsRecoveryOfOriginalPrimary verifies that a failed-over
// shard's original primary, once reachable again, is re-integrated as a
// replica of the promoted endpoint and the shard returns to HEALTHY. The
// write endpoint must not move back.
func TestMonitorDetectsRecoveryOfOriginalPrimary(t *testing.T) {
	tc := newTestCluster(t, 1)
	tc.coord.Start()

	tc.primaries[0].SetFailing(true)
	require.Eventually(t, func() bool {
		return summaryFor(tc.coord, 0).Status == "FAILED_OVER"
	}, 10*time.Second, 50*time.Millisecond)

	promotedAddr := tc.coord.bindings[0].WriteEndpoint().Addr()

	tc.primaries[0].SetFailing(false)
	require.Eventually(t, func() bool {
		return tc.coord.bindings[0].Record().Status == shard.Recovered
	}, 10*time.Second, 50*time.Millisecond, "the monitor must notice the original primary by identity")

	assert.Equal(t, "slave", tc.primaries[0].Role())
	assert.Equal(t, promotedAddr, tc.primaries[0].MasterAddr())
	assert.Equal(t, promotedAddr, tc.coord.bindings[0].WriteEndpoint().Addr(),
		"recovery must not fail back")
	assert.Equal(t, "HEALTHY", summaryFor(tc.coord, 0).Status)
}

// TestMonitorRecoveryWithoutPromotion verifies the FAILED path when the
// primary returns before any promotion succeeded: the shard goes back to
// HEALTHY and failover is rearmed.
func TestMonitorRecoveryWithoutPromotion(t *testing.T) {
	tc := newTestCluster(t, 1)
	b := tc.coord.bindings[0]

	// Kill both sides so the triggered failover aborts and the shard sits
	// in FAILED.
	tc.primaries[0].SetFailing(true)
	tc.replicas[0].SetFailing(true)
	for i := 0; i < 3; i++ {
		tc.coord.monitor.probeShard(b)
	}
	require.Equal(t, "FAILED", summaryFor(tc.coord, 0).Status)
	require.Equal(t, shard.FailoverFailed, b.Record().Status)

	tc.primaries[0].SetFailing(false)
	require.Eventually(t, func() bool {
		tc.coord.monitor.probeShard(b)
		return summaryFor(tc.coord, 0).Status == "HEALTHY"
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, shard.NeverFailed, b.Record().Status,
		"a recovery without promotion rearms failover")
}

// TestMonitorRetriesFailoverWhileFailed verifies that a shard stuck in
// FAILED retries promotion on subsequent probes once the replica answers.
func TestMonitorRetriesFailoverWhileFailed(t *testing.T) {
	tc := newTestCluster(t, 1)
	b := tc.coord.bindings[0]

	tc.primaries[0].SetFailing(true)
	tc.replicas[0].SetFailing(true)
	for i := 0; i < 3; i++ {
		tc.coord.monitor.probeShard(b)
	}
	require.Equal(t, shard.FailoverFailed, b.Record().Status)

	// Replica comes back; the next failed probe retries and succeeds.
	tc.replicas[0].SetFailing(false)
	require.Eventually(t, func() bool {
		tc.coord.monitor.probeShard(b)
		return b.Record().Status == shard.FailedOver
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, "FAILED_OVER", summaryFor(tc.coord, 0).Status)
}

// TestMonitorStopIdempotent verifies that Stop terminates the loop and can
// be called repeatedly.
func TestMonitorStopIdempotent(t *testing.T) {
	tc := newTestCluster(t, 1)
	tc.coord.Start()

	tc.coord.monitor.Stop()
	tc.coord.monitor.Stop()
}

// TestMonitorRecordsHistory verifies that transitions land in the bounded
// event history.
func TestMonitorRecordsHistory(t *testing.T) {
	tc := newTestCluster(t, 1)
	tc.coord.Start()

	tc.primaries[0].SetFailing(true)
	require.Eventually(t, func() bool {
		return summaryFor(tc.coord, 0).Status == "FAILED_OVER"
	}, 10*time.Second, 50*time.Millisecond)

	kinds := make(map[EventKind]bool)
	for _, e := range tc.coord.GetHealthSummary().Events {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[EventPrimaryFailed])
	assert.True(t, kinds[EventFailoverBegin])
	assert.True(t, kinds[EventFailoverSuccess])
}

// TestHistoryBounded verifies the 100-event cap with oldest-first
// eviction.
func TestHistoryBounded(t *testing.T) {
	h := NewHistory()

	for i := 0; i < 250; i++ {
		h.Record(EventPrimaryFailed, i, "")
	}

	events := h.Events()
	require.Len(t, events, 100)
	assert.Equal(t, 150, events[0].ShardID, "oldest events are evicted first")
	assert.Equal(t, 249, events[99].ShardID)
}
