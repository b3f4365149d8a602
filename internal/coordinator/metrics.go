// Package coordinator implements the routing core of the kotare cache.
// This file wires the coordinator's Prometheus instrumentation.
package coordinator

import "github.com/prometheus/client_golang/prometheus"

// metrics bundles the coordinator's Prometheus collectors. When no registry
// is supplied the collectors still exist but are never scraped, so the hot
// path does not branch on whether metrics are enabled.
type metrics struct {
	ops              *prometheus.CounterVec
	probes           *prometheus.CounterVec
	failovers        *prometheus.CounterVec
	failoverDuration prometheus.Histogram
	replicationLag   *prometheus.GaugeVec
}

// newMetrics builds the collectors and registers them with reg when reg is
// non-nil.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kotare",
			Name:      "cache_operations_total",
			Help:      "Cache operations by op and outcome.",
		}, []string{"op", "outcome"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kotare",
			Name:      "health_probes_total",
			Help:      "Health probes by outcome.",
		}, []string{"outcome"}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kotare",
			Name:      "failovers_total",
			Help:      "Failover attempts by outcome.",
		}, []string{"outcome"}),
		failoverDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kotare",
			Name:      "failover_duration_seconds",
			Help:      "Duration of successful failover transitions.",
			Buckets:   prometheus.DefBuckets,
		}),
		replicationLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kotare",
			Name:      "replication_lag_bytes",
			Help:      "Replication backlog per shard at last aggregation.",
		}, []string{"shard"}),
	}

	if reg != nil {
		reg.MustRegister(m.ops, m.probes, m.failovers, m.failoverDuration, m.replicationLag)
	}
	return m
}
