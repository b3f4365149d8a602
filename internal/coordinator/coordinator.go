// Package coordinator implements the routing core of the kotare cache.
// This file implements the Coordinator: construction, the cache operations,
// and the control surface consumed by front-ends.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dreamware/kotare/internal/cluster"
	"github.com/dreamware/kotare/internal/config"
	"github.com/dreamware/kotare/internal/ring"
	"github.com/dreamware/kotare/internal/shard"
)

// Error kinds surfaced to front-ends. These are stable wire strings, not Go
// error types: the coordinator reduces storage I/O failures to one of these
// plus a diagnostic detail.
const (
	KindKeyNotFound     = "KEY_NOT_FOUND"
	KindNodeInFailover  = "NODE_IN_FAILOVER"
	KindNodeUnavailable = "NODE_UNAVAILABLE"
	KindEmptyRing       = "EMPTY_RING"
)

// failoverRetryAfter is the retry delay suggested to clients that hit the
// write gate mid-promotion.
const failoverRetryAfter = 5000 * time.Millisecond

// drainWindow bounds how long Close waits for in-flight work.
const drainWindow = 10 * time.Second

// ReplicationResult reports how a synchronous write's confirmation went.
type ReplicationResult struct {
	Mode     string `json:"mode"`
	Replicas int    `json:"replicas"`
	Status   string `json:"status"` // "confirmed" or "timeout"
}

// SetResult is the outcome of a Set.
type SetResult struct {
	OK           bool               `json:"ok"`
	Error        string             `json:"error,omitempty"`
	Detail       string             `json:"detail,omitempty"`
	RetryAfterMs int64              `json:"retry_after_ms,omitempty"`
	ShardID      int                `json:"shard_id"`
	ShardName    string             `json:"shard_name"`
	Hash         uint32             `json:"hash"`
	Target       string             `json:"target,omitempty"` // "primary" or "promoted_replica"
	Replication  *ReplicationResult `json:"replication,omitempty"`
	LatencyMs    float64            `json:"latency_ms"`
}

// GetResult is the outcome of a Get.
type GetResult struct {
	OK        bool   `json:"ok"`
	Value     any    `json:"value,omitempty"`
	Reason    string `json:"reason,omitempty"` // KEY_NOT_FOUND
	Error     string `json:"error,omitempty"`
	Detail    string `json:"detail,omitempty"`
	ShardID   int    `json:"shard_id"`
	ShardName string `json:"shard_name"`
	Source    string `json:"source,omitempty"` // "primary" or "replica"
	Failover  bool   `json:"failover,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// DeleteResult is the outcome of a Delete.
type DeleteResult struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	Detail       string `json:"detail,omitempty"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
	ShardID      int    `json:"shard_id"`
	ShardName    string `json:"shard_name"`
}

// SetOptions carries the optional parameters of a Set.
type SetOptions struct {
	// TTL expires the key after the given duration. Zero stores without
	// expiry.
	TTL time.Duration

	// Mode overrides the coordinator's default replication mode for this
	// write. Nil selects the default.
	Mode *cluster.ReplicationMode
}

// HealthReport is the full health view: per-shard summaries plus the
// recent transition history.
type HealthReport struct {
	Shards []HealthSummary `json:"shards"`
	Events []Event         `json:"events"`
}

// Option customizes coordinator construction.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	registry prometheus.Registerer
}

// WithLogger plugs an external zap logger. Without it the coordinator is
// silent.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry enables Prometheus metrics on the given registerer.
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// Coordinator is the stateless routing layer between front-ends and the
// shard fleet. It owns the ring, the shard bindings, the health monitor,
// and the failover manager; all of its state is rebuilt from configuration
// at startup.
type Coordinator struct {
	ring        *ring.Ring
	bindings    []*shard.Binding
	endpoints   []*cluster.Endpoint
	defaultMode cluster.ReplicationMode
	logger      *zap.Logger

	metrics  *metrics
	history  *History
	failover *FailoverManager
	monitor  *HealthMonitor
}

// New builds a coordinator from validated configuration: endpoints and
// bindings first, then the ring, then the monitor and failover manager
// over the shared bindings. Nothing touches the network until Start.
func New(cfg config.Config, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	mode, ok := cluster.ParseReplicationMode(cfg.ReplicationMode)
	if !ok {
		return nil, fmt.Errorf("config: unknown replication mode %q", cfg.ReplicationMode)
	}

	c := &Coordinator{
		defaultMode: mode,
		logger:      o.logger,
		metrics:     newMetrics(o.registry),
		history:     NewHistory(),
	}

	for i := range cfg.PrimaryEndpoints {
		primary, err := config.ParseEndpoint(cfg.PrimaryEndpoints[i])
		if err != nil {
			c.closeEndpoints()
			return nil, err
		}
		replica, err := config.ParseEndpoint(cfg.ReplicaEndpoints[i])
		if err != nil {
			c.closeEndpoints()
			return nil, err
		}

		pe := cluster.NewEndpoint(primary.Host, primary.Port, cluster.RolePrimary)
		re := cluster.NewEndpoint(replica.Host, replica.Port, cluster.RoleReplica)
		c.endpoints = append(c.endpoints, pe, re)

		b, err := shard.NewBinding(i, pe, re)
		if err != nil {
			c.closeEndpoints()
			return nil, err
		}
		c.bindings = append(c.bindings, b)
	}

	r, err := ring.New(c.bindings, cfg.VirtualNodes)
	if err != nil {
		c.closeEndpoints()
		return nil, err
	}
	c.ring = r

	c.failover = NewFailoverManager(c.bindings, o.logger, c.history, c.metrics)
	c.monitor = NewHealthMonitor(c.bindings, c.failover,
		cfg.ProbeInterval, cfg.ProbeTimeout, cfg.FailureThreshold,
		o.logger, c.metrics, c.history)

	c.logger.Info("coordinator built",
		zap.Int("shards", len(c.bindings)),
		zap.Int("virtual_nodes", r.VirtualNodes()),
		zap.Int("ring_positions", r.Size()),
		zap.String("replication_mode", mode.String()))
	return c, nil
}

// Start launches the background health monitor.
func (c *Coordinator) Start() {
	c.monitor.Start()
}

// Close shuts the coordinator down: the monitor stops (cancelling
// outstanding probes and waiting for any failover a probe started), then
// every endpoint connection is closed. The drain window bounds only the wait
// for the monitor; cache requests still in flight are not tracked and lose
// their connections when the endpoints close.
func (c *Coordinator) Close() error {
	done := make(chan struct{})
	go func() {
		c.monitor.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainWindow):
		c.logger.Warn("drain window elapsed before monitor stopped")
	}

	err := c.closeEndpoints()
	c.logger.Info("coordinator closed")
	return err
}

func (c *Coordinator) closeEndpoints() error {
	var errs []error
	for _, e := range c.endpoints {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Set writes a value to the shard owning key.
//
// Behavior:
//   - A shard mid-failover rejects the write with NODE_IN_FAILOVER and a
//     suggested retry delay; no command is sent to either endpoint.
//   - The value is stored as-is when it is a string, otherwise JSON
//     encoded.
//   - In sync mode a WAIT for one replica follows on the same connection;
//     the result reports "confirmed" or "timeout". A timeout is not a
//     failure: the primary holds the data.
func (c *Coordinator) Set(ctx context.Context, key string, value any, opts SetOptions) SetResult {
	start := time.Now()

	hash := ring.Hash(key)
	b, err := c.ring.LookupPosition(hash)
	if err != nil {
		c.metrics.ops.WithLabelValues("set", "error").Inc()
		return SetResult{Error: KindEmptyRing, Detail: err.Error(), Hash: hash}
	}

	res := SetResult{ShardID: b.ID, ShardName: b.Name, Hash: hash}

	if b.InFailover() {
		c.metrics.ops.WithLabelValues("set", "gated").Inc()
		res.Error = KindNodeInFailover
		res.Detail = "shard is failing over, retry shortly"
		res.RetryAfterMs = failoverRetryAfter.Milliseconds()
		return res
	}

	payload, encErr := encodeValue(value)
	if encErr != nil {
		c.metrics.ops.WithLabelValues("set", "error").Inc()
		res.Error = KindNodeUnavailable
		res.Detail = encErr.Error()
		return res
	}

	ep := b.WriteEndpoint()
	cmdCtx, cancel := context.WithTimeout(ctx, cluster.DefaultCommandTimeout)
	defer cancel()

	if opts.TTL > 0 {
		err = ep.Client().SetEx(cmdCtx, key, payload, opts.TTL).Err()
	} else {
		err = ep.Client().Set(cmdCtx, key, payload, 0).Err()
	}
	if err != nil {
		c.metrics.ops.WithLabelValues("set", "error").Inc()
		c.logger.Error("set failed",
			zap.String("key", key),
			zap.Int("shard", b.ID),
			zap.String("endpoint", ep.Addr()),
			zap.Error(err))
		res.Error = KindNodeUnavailable
		res.Detail = err.Error()
		return res
	}

	res.OK = true
	res.Target = "primary"
	if b.Record().Promoted {
		res.Target = "promoted_replica"
	}

	mode := c.defaultMode
	if opts.Mode != nil {
		mode = *opts.Mode
	}
	if mode == cluster.ModeSync {
		res.Replication = c.confirmReplication(ctx, ep)
	}

	res.LatencyMs = float64(time.Since(start).Microseconds()) / 1000
	c.metrics.ops.WithLabelValues("set", "ok").Inc()
	return res
}

// confirmReplication issues WAIT 1 on the write connection and classifies
// the outcome. WAIT runs after the write on the same endpoint, so a
// confirmation really covers the key just written.
func (c *Coordinator) confirmReplication(ctx context.Context, ep *cluster.Endpoint) *ReplicationResult {
	out := &ReplicationResult{Mode: "sync", Status: "timeout"}

	n, err := ep.WaitReplicas(ctx, 1, cluster.DefaultWaitTimeout)
	if err != nil {
		c.logger.Warn("replication confirmation failed",
			zap.String("endpoint", ep.Addr()),
			zap.Error(err))
		return out
	}

	out.Replicas = n
	if n >= 1 {
		out.Status = "confirmed"
	}
	return out
}

// Get reads the value stored under key.
//
// The primary (write endpoint) is tried first, preserving read-your-writes
// under asynchronous replication. On a network or protocol error the other
// endpoint is tried; success there is flagged as a fallback read. A missing
// key is a normal outcome, not an error.
func (c *Coordinator) Get(ctx context.Context, key string) GetResult {
	b, err := c.ring.Lookup(key)
	if err != nil {
		c.metrics.ops.WithLabelValues("get", "error").Inc()
		return GetResult{Error: KindEmptyRing, Detail: err.Error()}
	}

	res := GetResult{ShardID: b.ID, ShardName: b.Name}

	value, err := c.fetch(ctx, b.WriteEndpoint(), key)
	switch {
	case err == nil:
		res.OK = true
		res.Value = decodeValue(value)
		res.Source = "primary"
		c.metrics.ops.WithLabelValues("get", "ok").Inc()
		return res

	case errors.Is(err, redis.Nil):
		res.Reason = KindKeyNotFound
		c.metrics.ops.WithLabelValues("get", "miss").Inc()
		return res
	}

	// Primary unreachable; try the other endpoint for availability.
	fallback := b.ReadEndpoint()
	c.logger.Warn("primary read failed, falling back to replica",
		zap.String("key", key),
		zap.Int("shard", b.ID),
		zap.String("replica", fallback.Addr()),
		zap.Error(err))

	value, ferr := c.fetch(ctx, fallback, key)
	switch {
	case ferr == nil:
		res.OK = true
		res.Value = decodeValue(value)
		res.Source = "replica"
		res.Failover = true
		res.Warning = "Primary unavailable, reading from replica"
		c.metrics.ops.WithLabelValues("get", "fallback").Inc()
		return res

	case errors.Is(ferr, redis.Nil):
		res.Reason = KindKeyNotFound
		res.Source = "replica"
		res.Failover = true
		c.metrics.ops.WithLabelValues("get", "miss").Inc()
		return res
	}

	c.metrics.ops.WithLabelValues("get", "error").Inc()
	res.Error = KindNodeUnavailable
	res.Detail = fmt.Sprintf("primary: %v; replica: %v", err, ferr)
	return res
}

func (c *Coordinator) fetch(ctx context.Context, ep *cluster.Endpoint, key string) (string, error) {
	cmdCtx, cancel := context.WithTimeout(ctx, cluster.DefaultCommandTimeout)
	defer cancel()
	return ep.Client().Get(cmdCtx, key).Result()
}

// Delete removes key from its owning shard. OK reports whether a key was
// actually removed (DEL returned 1).
func (c *Coordinator) Delete(ctx context.Context, key string) DeleteResult {
	b, err := c.ring.Lookup(key)
	if err != nil {
		c.metrics.ops.WithLabelValues("delete", "error").Inc()
		return DeleteResult{Error: KindEmptyRing, Detail: err.Error()}
	}

	res := DeleteResult{ShardID: b.ID, ShardName: b.Name}

	if b.InFailover() {
		c.metrics.ops.WithLabelValues("delete", "gated").Inc()
		res.Error = KindNodeInFailover
		res.Detail = "shard is failing over, retry shortly"
		res.RetryAfterMs = failoverRetryAfter.Milliseconds()
		return res
	}

	cmdCtx, cancel := context.WithTimeout(ctx, cluster.DefaultCommandTimeout)
	defer cancel()

	n, err := b.WriteEndpoint().Client().Del(cmdCtx, key).Result()
	if err != nil {
		c.metrics.ops.WithLabelValues("delete", "error").Inc()
		res.Error = KindNodeUnavailable
		res.Detail = err.Error()
		return res
	}

	res.OK = n == 1
	c.metrics.ops.WithLabelValues("delete", "ok").Inc()
	return res
}

// DescribeRing reports each shard's arc share of the hash space.
func (c *Coordinator) DescribeRing() []ring.ShardArc {
	return c.ring.Describe()
}

// GetAllStats aggregates keyspace and hit-rate statistics across the fleet.
func (c *Coordinator) GetAllStats(ctx context.Context) ClusterStats {
	return collectStats(ctx, c.bindings)
}

// GetReplicationLag reports per-shard replication backlog.
func (c *Coordinator) GetReplicationLag(ctx context.Context) []ReplicationStatus {
	return collectReplicationLag(ctx, c.bindings, c.metrics)
}

// GetHealthSummary reports per-shard health plus the recent transition
// history.
func (c *Coordinator) GetHealthSummary() HealthReport {
	return HealthReport{
		Shards: c.monitor.Summary(),
		Events: c.history.Events(),
	}
}

// GetFailoverMetrics reports the failover counters.
func (c *Coordinator) GetFailoverMetrics() FailoverMetrics {
	return c.failover.Metrics()
}

// TriggerFailover forces a failover of the given shard, as if the monitor
// had breached its threshold. Exposed for operational testing.
func (c *Coordinator) TriggerFailover(ctx context.Context, shardID int) error {
	return c.failover.FailoverToReplica(ctx, shardID)
}

// Ring exposes the hash ring for callers that need raw placement, such as
// distribution tooling.
func (c *Coordinator) Ring() *ring.Ring {
	return c.ring
}

// encodeValue serializes a value for storage: strings and byte slices pass
// through as UTF-8, everything else is JSON encoded.
func encodeValue(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode value: %w", err)
		}
		return string(data), nil
	}
}

// decodeValue parses a stored value back: valid JSON decodes to its
// structured form, anything else returns as the raw string.
func decodeValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
