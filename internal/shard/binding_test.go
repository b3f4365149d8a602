// Package shard contains tests for the shard binding and its failover
// bookkeeping.
package shard

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/kotare/internal/cluster"
)

func testBinding(t *testing.T) *Binding {
	t.Helper()

	primary := cluster.NewEndpoint("127.0.0.1", 7000, cluster.RolePrimary)
	replica := cluster.NewEndpoint("127.0.0.1", 7100, cluster.RoleReplica)

	b, err := NewBinding(0, primary, replica)
	require.NoError(t, err)
	return b
}

// TestNewBindingRejectsSharedEndpoint verifies the primary != replica
// invariant is enforced at construction.
func TestNewBindingRejectsSharedEndpoint(t *testing.T) {
	e := cluster.NewEndpoint("127.0.0.1", 7000, cluster.RolePrimary)

	_, err := NewBinding(0, e, e)
	assert.Error(t, err)

	same := cluster.NewEndpoint("127.0.0.1", 7000, cluster.RoleReplica)
	_, err = NewBinding(0, e, same)
	assert.Error(t, err, "distinct objects with the same address are still one server")

	_, err = NewBinding(0, e, nil)
	assert.Error(t, err)
}

// TestBindingName verifies the stable shard naming scheme the ring derives
// positions from.
func TestBindingName(t *testing.T) {
	b := testBinding(t)
	assert.Equal(t, "cache_node_0", b.Name)
}

// TestSwapRoles verifies that a swap exchanges the role pointers while the
// endpoint pair and the original-primary identity stay fixed.
func TestSwapRoles(t *testing.T) {
	b := testBinding(t)

	origWrite := b.WriteEndpoint()
	origRead := b.ReadEndpoint()
	require.NotSame(t, origWrite, origRead)

	b.SwapRoles()

	assert.Same(t, origRead, b.WriteEndpoint(), "replica becomes the write endpoint")
	assert.Same(t, origWrite, b.ReadEndpoint(), "former primary moves to the replica slot")
	assert.Same(t, origWrite, b.OriginalPrimary(), "original identity is not affected by swaps")

	// Pointers never alias, before or after.
	assert.NotSame(t, b.WriteEndpoint(), b.ReadEndpoint())
}

// TestBeginFailoverAtMostOnce verifies that concurrent failover triggers
// collapse into a single owned transition.
func TestBeginFailoverAtMostOnce(t *testing.T) {
	b := testBinding(t)

	const attempts = 50
	var owners int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.BeginFailover(time.Now()) {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, owners, "exactly one caller may own the transition")
	assert.Equal(t, FailingOver, b.Record().Status)
	assert.True(t, b.InFailover(), "gate must be raised while the transition runs")
}

// TestFailoverLifecycle verifies the record transitions and gate behavior
// through a successful transition and a later recovery.
func TestFailoverLifecycle(t *testing.T) {
	b := testBinding(t)
	assert.Equal(t, NeverFailed, b.Record().Status)
	assert.False(t, b.InFailover())

	require.True(t, b.BeginFailover(time.Now()))
	assert.True(t, b.InFailover())

	// A completed transition lowers the gate and records the promotion.
	b.CompleteFailover(time.Now(), 42*time.Millisecond)
	rec := b.Record()
	assert.Equal(t, FailedOver, rec.Status)
	assert.True(t, rec.Promoted)
	assert.Equal(t, 42*time.Millisecond, rec.LastDuration)
	assert.False(t, b.InFailover())

	// Re-triggering against a failed-over shard is a no-op.
	assert.False(t, b.BeginFailover(time.Now()))

	b.MarkRecovered(time.Now())
	rec = b.Record()
	assert.Equal(t, Recovered, rec.Status)
	assert.True(t, rec.Promoted, "recovery does not fail back, promotion stands")

	// After recovery a fresh outage may start a new transition.
	assert.True(t, b.BeginFailover(time.Now()))
}

// TestFailFailoverLowersGate verifies the aborted-transition path: status
// FAILOVER_FAILED with the gate down, so writes fail fast instead of
// stalling forever.
func TestFailFailoverLowersGate(t *testing.T) {
	b := testBinding(t)

	require.True(t, b.BeginFailover(time.Now()))
	b.FailFailover(time.Now())

	assert.Equal(t, FailoverFailed, b.Record().Status)
	assert.False(t, b.InFailover(), "a failed transition must not leave the gate raised")
	assert.False(t, b.Record().Promoted)

	// The monitor retries by starting a new transition.
	assert.True(t, b.BeginFailover(time.Now()))
}

// TestResetFailover verifies rearming after a primary recovers without a
// completed promotion.
func TestResetFailover(t *testing.T) {
	b := testBinding(t)

	require.True(t, b.BeginFailover(time.Now()))
	b.FailFailover(time.Now())
	b.ResetFailover(time.Now())

	rec := b.Record()
	assert.Equal(t, NeverFailed, rec.Status)
	assert.False(t, rec.Promoted)

	// Reset never interrupts a running transition.
	require.True(t, b.BeginFailover(time.Now()))
	b.ResetFailover(time.Now())
	assert.Equal(t, FailingOver, b.Record().Status)
}

// TestRolePointerSafetyUnderConcurrency hammers swaps against concurrent
// reads and asserts the invariant that the two accessors never return the
// same endpoint.
func TestRolePointerSafetyUnderConcurrency(t *testing.T) {
	b := testBinding(t)

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				b.SwapRoles()
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10000; j++ {
				write, read := b.Endpoints()
				if write == read {
					t.Error("write and read endpoints must never alias")
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(done)
	wg.Wait()
}
