// Package config loads and validates the coordinator's process-wide
// configuration from a YAML file and environment overrides.
//
// Configuration is init-only: it is read once at startup, validated, and
// never mutated afterwards. Endpoint lists define the cluster topology; a
// malformed or mismatched topology is a fatal startup error, never a
// runtime one.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither the file nor the environment sets a value.
const (
	DefaultVirtualNodes     = 150
	DefaultReplicationMode  = "async"
	DefaultProbeInterval    = 5000 * time.Millisecond
	DefaultProbeTimeout     = 3000 * time.Millisecond
	DefaultFailureThreshold = 3
	DefaultListenAddr       = ":8080"
)

// Config is the complete coordinator configuration.
type Config struct {
	// PrimaryEndpoints lists the shard primaries as "host:port", one per
	// shard. Order defines shard ordinals.
	PrimaryEndpoints []string `yaml:"primary_endpoints"`

	// ReplicaEndpoints lists the shard replicas, same cardinality and order
	// as PrimaryEndpoints.
	ReplicaEndpoints []string `yaml:"replica_endpoints"`

	// VirtualNodes is the per-shard virtual node count V.
	VirtualNodes int `yaml:"virtual_nodes"`

	// ReplicationMode is the default write mode, "async" or "sync".
	ReplicationMode string `yaml:"replication_mode"`

	// ProbeInterval is the health-check period.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// ProbeTimeout is the per-probe deadline.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// FailureThreshold is the consecutive-failure count that marks a shard
	// FAILED and triggers failover.
	FailureThreshold int `yaml:"failure_threshold"`

	// ListenAddr is the control-surface listen address.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a Config with every tunable at its default and no
// endpoints. Endpoints have no default; they must come from the file or the
// environment.
func Default() Config {
	return Config{
		VirtualNodes:     DefaultVirtualNodes,
		ReplicationMode:  DefaultReplicationMode,
		ProbeInterval:    DefaultProbeInterval,
		ProbeTimeout:     DefaultProbeTimeout,
		FailureThreshold: DefaultFailureThreshold,
		ListenAddr:       DefaultListenAddr,
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then KOTARE_* environment overrides,
// then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays KOTARE_* environment variables onto the config.
// Endpoint lists are comma-separated; durations accept Go duration syntax
// or a bare millisecond count.
func (c *Config) applyEnv() {
	if v := os.Getenv("KOTARE_PRIMARY_ENDPOINTS"); v != "" {
		c.PrimaryEndpoints = splitList(v)
	}
	if v := os.Getenv("KOTARE_REPLICA_ENDPOINTS"); v != "" {
		c.ReplicaEndpoints = splitList(v)
	}
	if v := os.Getenv("KOTARE_VIRTUAL_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.VirtualNodes = n
		}
	}
	if v := os.Getenv("KOTARE_REPLICATION_MODE"); v != "" {
		c.ReplicationMode = v
	}
	if v := os.Getenv("KOTARE_PROBE_INTERVAL"); v != "" {
		if d, ok := parseDuration(v); ok {
			c.ProbeInterval = d
		}
	}
	if v := os.Getenv("KOTARE_PROBE_TIMEOUT"); v != "" {
		if d, ok := parseDuration(v); ok {
			c.ProbeTimeout = d
		}
	}
	if v := os.Getenv("KOTARE_FAILURE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.FailureThreshold = n
		}
	}
	if v := os.Getenv("KOTARE_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

// Validate checks the configuration for the fatal startup errors: missing
// or mismatched endpoint lists, malformed addresses, and out-of-range
// tunables.
func (c *Config) Validate() error {
	if len(c.PrimaryEndpoints) == 0 {
		return fmt.Errorf("config: at least one primary endpoint is required")
	}
	if len(c.ReplicaEndpoints) != len(c.PrimaryEndpoints) {
		return fmt.Errorf("config: %d replica endpoints for %d primaries, counts must match",
			len(c.ReplicaEndpoints), len(c.PrimaryEndpoints))
	}

	for _, list := range [][]string{c.PrimaryEndpoints, c.ReplicaEndpoints} {
		for _, addr := range list {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return fmt.Errorf("config: malformed endpoint %q: %w", addr, err)
			}
			if host == "" {
				return fmt.Errorf("config: endpoint %q has no host", addr)
			}
			if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
				return fmt.Errorf("config: endpoint %q has invalid port", addr)
			}
		}
	}

	if c.ReplicationMode != "async" && c.ReplicationMode != "sync" {
		return fmt.Errorf("config: replication mode must be async or sync, got %q", c.ReplicationMode)
	}
	if c.VirtualNodes <= 0 {
		return fmt.Errorf("config: virtual nodes must be positive, got %d", c.VirtualNodes)
	}
	if c.ProbeInterval <= 0 || c.ProbeTimeout <= 0 {
		return fmt.Errorf("config: probe interval and timeout must be positive")
	}
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("config: failure threshold must be positive, got %d", c.FailureThreshold)
	}
	return nil
}

// Endpoint is one parsed "host:port" address.
type Endpoint struct {
	Host string
	Port int
}

// ParseEndpoint splits a validated "host:port" string.
func ParseEndpoint(addr string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("malformed endpoint %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("malformed endpoint port %q: %w", addr, err)
	}
	return Endpoint{Host: host, Port: port}, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDuration accepts Go duration syntax ("5s") or bare milliseconds
// ("5000"), matching how deployments have historically set these knobs.
func parseDuration(s string) (time.Duration, bool) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, true
	}
	if ms, err := strconv.Atoi(s); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}
