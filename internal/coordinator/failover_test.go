// Package coordinator contains tests for the failover manager.
package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/kotare/internal/shard"
)

// TestFailoverPromotesReplica verifies the full promotion sequence: the
// replica becomes a writable master, role pointers swap, and subsequent
// writes land on the promoted endpoint.
func TestFailoverPromotesReplica(t *testing.T) {
	tc := newTestCluster(t, 1)
	ctx := context.Background()

	tc.primaries[0].SetFailing(true)

	require.NoError(t, tc.coord.TriggerFailover(ctx, 0))

	b := tc.coord.bindings[0]
	rec := b.Record()
	assert.Equal(t, shard.FailedOver, rec.Status)
	assert.True(t, rec.Promoted)
	assert.False(t, b.InFailover(), "gate lowers once the transition completes")

	// The promoted endpoint is the former replica, now a writable master.
	assert.Equal(t, tc.replicas[0].Addr(), b.WriteEndpoint().Addr())
	assert.Equal(t, "master", tc.replicas[0].Role())

	set := tc.coord.Set(ctx, "after-failover", "v", SetOptions{})
	require.True(t, set.OK, "writes must succeed against the promoted endpoint: %s", set.Detail)
	assert.Equal(t, "promoted_replica", set.Target)

	metrics := tc.coord.GetFailoverMetrics()
	assert.EqualValues(t, 1, metrics.Total)
	assert.EqualValues(t, 1, metrics.Successful)
	assert.EqualValues(t, 0, metrics.Failed)
}

// TestFailoverIdempotentUnderConcurrency verifies at-most-once promotion:
// many concurrent triggers for the same shard execute one sequence.
func TestFailoverIdempotentUnderConcurrency(t *testing.T) {
	tc := newTestCluster(t, 1)
	ctx := context.Background()

	tc.primaries[0].SetFailing(true)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tc.coord.TriggerFailover(ctx, 0)
		}()
	}
	wg.Wait()

	metrics := tc.coord.GetFailoverMetrics()
	assert.EqualValues(t, 1, metrics.Total, "concurrent triggers must collapse into one transition")
	assert.EqualValues(t, 1, metrics.Successful)
}

// TestFailoverFailsWhenReplicaDown verifies the abort path: with no live
// replica to promote onto, the transition records FAILOVER_FAILED and the
// gate comes down.
func TestFailoverFailsWhenReplicaDown(t *testing.T) {
	tc := newTestCluster(t, 1)
	ctx := context.Background()

	tc.primaries[0].SetFailing(true)
	tc.replicas[0].SetFailing(true)

	err := tc.coord.TriggerFailover(ctx, 0)
	require.Error(t, err)

	b := tc.coord.bindings[0]
	assert.Equal(t, shard.FailoverFailed, b.Record().Status)
	assert.False(t, b.InFailover(), "an aborted transition must lower the gate")

	metrics := tc.coord.GetFailoverMetrics()
	assert.EqualValues(t, 1, metrics.Total)
	assert.EqualValues(t, 1, metrics.Failed)

	// The failure is retryable: once the replica answers, a fresh trigger
	// succeeds.
	tc.replicas[0].SetFailing(false)
	require.Eventually(t, func() bool {
		return tc.coord.TriggerFailover(ctx, 0) == nil &&
			tc.coord.bindings[0].Record().Status == shard.FailedOver
	}, 5*time.Second, 100*time.Millisecond)
}

// TestFailoverIndependentAcrossShards verifies that one shard's transition
// does not gate or alter another shard.
func TestFailoverIndependentAcrossShards(t *testing.T) {
	tc := newTestCluster(t, 3)
	ctx := context.Background()

	tc.primaries[1].SetFailing(true)
	require.NoError(t, tc.coord.TriggerFailover(ctx, 1))

	assert.Equal(t, shard.FailedOver, tc.coord.bindings[1].Record().Status)
	for _, id := range []int{0, 2} {
		assert.Equal(t, shard.NeverFailed, tc.coord.bindings[id].Record().Status)
		assert.False(t, tc.coord.bindings[id].InFailover())
	}

	// The untouched shards keep serving.
	key := keyForShard(t, tc.coord, 0)
	assert.True(t, tc.coord.Set(ctx, key, "v", SetOptions{}).OK)
}

// TestHandlePrimaryRecovery verifies re-integration without failback: the
// recovered endpoint rejoins as a replica of the promoted one and the
// write endpoint does not move.
func TestHandlePrimaryRecovery(t *testing.T) {
	tc := newTestCluster(t, 1)
	ctx := context.Background()

	tc.primaries[0].SetFailing(true)
	require.NoError(t, tc.coord.TriggerFailover(ctx, 0))

	promoted := tc.coord.bindings[0].WriteEndpoint()

	tc.primaries[0].SetFailing(false)
	require.Eventually(t, func() bool {
		return tc.coord.failover.HandlePrimaryRecovery(ctx, 0) == nil
	}, 5*time.Second, 100*time.Millisecond)

	assert.Equal(t, "slave", tc.primaries[0].Role(), "recovered primary must serve as replica")
	assert.Equal(t, promoted.Addr(), tc.primaries[0].MasterAddr(),
		"recovered primary replicates from the promoted endpoint")

	b := tc.coord.bindings[0]
	assert.Equal(t, shard.Recovered, b.Record().Status)
	assert.Same(t, promoted, b.WriteEndpoint(), "no failback: the promoted endpoint stays primary")
}

// TestHandlePrimaryRecoveryRequiresFailedOver verifies the guard against
// recovery handling on a shard that never failed over.
func TestHandlePrimaryRecoveryRequiresFailedOver(t *testing.T) {
	tc := newTestCluster(t, 1)

	err := tc.coord.failover.HandlePrimaryRecovery(context.Background(), 0)
	assert.Error(t, err)
}

// TestFailoverInvalidShard verifies bounds checking on the trigger surface.
func TestFailoverInvalidShard(t *testing.T) {
	tc := newTestCluster(t, 1)

	assert.Error(t, tc.coord.TriggerFailover(context.Background(), -1))
	assert.Error(t, tc.coord.TriggerFailover(context.Background(), 7))
}

// TestFailoverMetricsAverage verifies the derived average over successful
// transitions.
func TestFailoverMetricsAverage(t *testing.T) {
	tc := newTestCluster(t, 2)
	ctx := context.Background()

	for id := 0; id < 2; id++ {
		tc.primaries[id].SetFailing(true)
		require.NoError(t, tc.coord.TriggerFailover(ctx, id))
	}

	m := tc.coord.GetFailoverMetrics()
	assert.EqualValues(t, 2, m.Successful)
	assert.GreaterOrEqual(t, m.CumulativeDurationMs, int64(0))
	assert.LessOrEqual(t, m.AverageDurationMs, m.CumulativeDurationMs)
}
