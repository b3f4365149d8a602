// Package coordinator implements the routing core of the kotare cache.
// This file implements the statistics aggregator over the shards' textual
// INFO output.
package coordinator

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/kotare/internal/cluster"
	"github.com/dreamware/kotare/internal/shard"
)

// EndpointStats summarizes one endpoint's keyspace and stats sections. A
// failed collection carries the error string and zero counters.
type EndpointStats struct {
	Addr   string `json:"addr"`
	Keys   int64  `json:"keys"`
	Hits   int64  `json:"hits"`
	Misses int64  `json:"misses"`
	Error  string `json:"error,omitempty"`
}

// ShardStats is the per-shard slice of the cluster statistics.
type ShardStats struct {
	ShardID   int           `json:"shard_id"`
	ShardName string        `json:"shard_name"`
	Primary   EndpointStats `json:"primary"`
	Replica   EndpointStats `json:"replica"`
	HitRate   float64       `json:"hit_rate"`
}

// ClusterStats aggregates every shard plus cluster-wide totals. Hit rate is
// aggregated across primaries only; replicas answer fallback reads and
// would double-count.
type ClusterStats struct {
	Shards         []ShardStats `json:"shards"`
	TotalKeys      int64        `json:"total_keys"`
	OverallHitRate float64      `json:"overall_hit_rate"`
}

// ReplicationStatus is one shard's replication lag report.
type ReplicationStatus struct {
	ShardID           int    `json:"shard_id"`
	ShardName         string `json:"shard_name"`
	PrimaryOffset     int64  `json:"primary_offset"`
	ReplicaOffset     int64  `json:"replica_offset"`
	Lag               int64  `json:"lag"`
	Synced            bool   `json:"synced"`
	ConnectedReplicas int    `json:"connected_replicas"`
	Error             string `json:"error,omitempty"`
}

// collectStats gathers keyspace and hit counters from both endpoints of
// every shard in parallel. An endpoint that fails to answer contributes an
// error entry; it never fails the aggregate.
func collectStats(ctx context.Context, bindings []*shard.Binding) ClusterStats {
	stats := ClusterStats{Shards: make([]ShardStats, len(bindings))}

	var g errgroup.Group
	for i, b := range bindings {
		i, b := i, b
		g.Go(func() error {
			write, read := b.Endpoints()
			stats.Shards[i] = ShardStats{
				ShardID:   b.ID,
				ShardName: b.Name,
				Primary:   endpointStats(ctx, write),
				Replica:   endpointStats(ctx, read),
			}
			if total := stats.Shards[i].Primary.Hits + stats.Shards[i].Primary.Misses; total > 0 {
				stats.Shards[i].HitRate = float64(stats.Shards[i].Primary.Hits) / float64(total)
			}
			return nil
		})
	}
	g.Wait()

	var hits, misses int64
	for _, s := range stats.Shards {
		stats.TotalKeys += s.Primary.Keys
		hits += s.Primary.Hits
		misses += s.Primary.Misses
	}
	if total := hits + misses; total > 0 {
		stats.OverallHitRate = float64(hits) / float64(total)
	}
	return stats
}

// endpointStats fetches and parses one endpoint's keyspace and stats
// sections.
func endpointStats(ctx context.Context, e *cluster.Endpoint) EndpointStats {
	out := EndpointStats{Addr: e.Addr()}

	keyspace, err := e.Info(ctx, "keyspace")
	if err != nil {
		out.Error = err.Error()
		return out
	}
	statsInfo, err := e.Info(ctx, "stats")
	if err != nil {
		out.Error = err.Error()
		return out
	}

	out.Keys = parseKeyspaceKeys(keyspace)
	out.Hits = parseInfoInt(statsInfo, "keyspace_hits")
	out.Misses = parseInfoInt(statsInfo, "keyspace_misses")
	return out
}

// collectReplicationLag computes per-shard replication backlog from the
// replication sections of both endpoints, floored at zero. A shard is
// synced iff its lag is zero.
func collectReplicationLag(ctx context.Context, bindings []*shard.Binding, m *metrics) []ReplicationStatus {
	out := make([]ReplicationStatus, len(bindings))

	var g errgroup.Group
	for i, b := range bindings {
		i, b := i, b
		g.Go(func() error {
			out[i] = shardReplicationStatus(ctx, b)
			m.replicationLag.WithLabelValues(b.Name).Set(float64(out[i].Lag))
			return nil
		})
	}
	g.Wait()
	return out
}

func shardReplicationStatus(ctx context.Context, b *shard.Binding) ReplicationStatus {
	status := ReplicationStatus{ShardID: b.ID, ShardName: b.Name}
	write, read := b.Endpoints()

	primaryInfo, err := write.Info(ctx, "replication")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.PrimaryOffset = parseInfoInt(primaryInfo, "master_repl_offset")
	status.ConnectedReplicas = int(parseInfoInt(primaryInfo, "connected_slaves"))

	replicaInfo, err := read.Info(ctx, "replication")
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.ReplicaOffset = parseInfoInt(replicaInfo, "master_repl_offset")

	if lag := status.PrimaryOffset - status.ReplicaOffset; lag > 0 {
		status.Lag = lag
	}
	status.Synced = status.Lag == 0
	return status
}

// parseInfoInt extracts an integer "field:value" line from an INFO section.
// Unrecognized lines are ignored; a missing field reads as zero.
func parseInfoInt(info, field string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimRight(line, "\r")
		value, found := strings.CutPrefix(line, field+":")
		if !found {
			continue
		}
		n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return 0
}

// parseKeyspaceKeys extracts the key count from the keyspace section's
// "db0:keys=<n>,..." line. An empty keyspace has no db0 line and reads as
// zero.
func parseKeyspaceKeys(info string) int64 {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimRight(line, "\r")
		rest, found := strings.CutPrefix(line, "db0:")
		if !found {
			continue
		}
		for _, part := range strings.Split(rest, ",") {
			if value, ok := strings.CutPrefix(part, "keys="); ok {
				n, err := strconv.ParseInt(value, 10, 64)
				if err != nil {
					return 0
				}
				return n
			}
		}
	}
	return 0
}
