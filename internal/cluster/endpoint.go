// Package cluster provides the core shared types for the kotare coordinator.
// This file implements the Endpoint handle over a single storage shard server.
package cluster

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Endpoint is the coordinator's handle on one storage shard server: a stable
// network address, the role it was configured with at startup, and one
// long-lived client connection speaking the shard wire protocol.
//
// Endpoints are created during coordinator startup and closed during
// shutdown. The connection is shared by all concurrent requests; the
// underlying client serializes commands over a small internal pool.
//
// Thread Safety:
// All methods are safe for concurrent use. The address and original role are
// immutable after construction.
type Endpoint struct {
	// Host is the shard server's hostname or IP, fixed at construction.
	Host string

	// Port is the shard server's TCP port, fixed at construction.
	Port int

	// client is the long-lived connection to the server. Never replaced
	// after construction; Close tears it down at shutdown.
	client *redis.Client

	// originalRole records which side of the pair this endpoint was
	// configured as. Failover swaps live role pointers in the binding but
	// never touches this identity.
	originalRole Role
}

// NewEndpoint creates an endpoint for the given address with one pooled
// client connection. The connection is established lazily on first use, so
// construction never blocks on the network.
//
// Parameters:
//   - host: shard server hostname or IP
//   - port: shard server TCP port
//   - role: the role this endpoint is configured as at startup
//
// Returns:
//   - *Endpoint ready for commands
func NewEndpoint(host string, port int, role Role) *Endpoint {
	return &Endpoint{
		Host: host,
		Port: port,
		client: redis.NewClient(&redis.Options{
			Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
			DialTimeout:  DefaultProbeTimeout,
			ReadTimeout:  DefaultCommandTimeout,
			WriteTimeout: DefaultCommandTimeout,
		}),
		originalRole: role,
	}
}

// Addr returns the endpoint's "host:port" address.
func (e *Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// OriginalRole reports the role this endpoint was configured with at
// startup, independent of any role swaps performed since.
func (e *Endpoint) OriginalRole() Role {
	return e.originalRole
}

// Client exposes the underlying shard connection for data commands. Callers
// must bound every call with a context deadline.
func (e *Endpoint) Client() *redis.Client {
	return e.client
}

// Ping probes the server for liveness within the probe deadline. A nil
// return means the server answered PONG in time.
func (e *Endpoint) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
	defer cancel()

	if err := e.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping %s: %w", e.Addr(), err)
	}
	return nil
}

// Info fetches one textual INFO section from the server within the command
// deadline. The raw key=value text is returned for the caller to parse.
func (e *Endpoint) Info(ctx context.Context, section string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultCommandTimeout)
	defer cancel()

	out, err := e.client.Info(ctx, section).Result()
	if err != nil {
		return "", fmt.Errorf("info %s %s: %w", section, e.Addr(), err)
	}
	return out, nil
}

// Promote reconfigures the server as a standalone writable node: read-only
// mode is switched off, then replication from its former master is severed.
// Both commands must succeed for the promotion to count.
func (e *Endpoint) Promote(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultCommandTimeout)
	defer cancel()

	if err := e.client.ConfigSet(ctx, "replica-read-only", "no").Err(); err != nil {
		return fmt.Errorf("disable read-only on %s: %w", e.Addr(), err)
	}
	if err := e.client.SlaveOf(ctx, "NO", "ONE").Err(); err != nil {
		return fmt.Errorf("detach %s from master: %w", e.Addr(), err)
	}
	return nil
}

// Demote reconfigures the server as a read-only replica of the given master.
// Used to re-integrate a recovered primary behind the endpoint promoted in
// its place.
func (e *Endpoint) Demote(ctx context.Context, masterHost string, masterPort int) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultCommandTimeout)
	defer cancel()

	if err := e.client.SlaveOf(ctx, masterHost, strconv.Itoa(masterPort)).Err(); err != nil {
		return fmt.Errorf("attach %s to %s:%d: %w", e.Addr(), masterHost, masterPort, err)
	}
	if err := e.client.ConfigSet(ctx, "replica-read-only", "yes").Err(); err != nil {
		return fmt.Errorf("enable read-only on %s: %w", e.Addr(), err)
	}
	return nil
}

// WaitReplicas blocks until the server reports the write stream reached at
// least numReplicas replicas, or the server-side timeout elapses. Returns
// the number of replicas that acknowledged.
func (e *Endpoint) WaitReplicas(ctx context.Context, numReplicas int, timeout time.Duration) (int, error) {
	// Client deadline slightly wider than the server-side WAIT timeout so a
	// slow-but-answering server is not misread as a network failure.
	ctx, cancel := context.WithTimeout(ctx, timeout+DefaultWaitTimeout)
	defer cancel()

	n, err := e.client.Wait(ctx, numReplicas, timeout).Result()
	if err != nil {
		return 0, fmt.Errorf("wait on %s: %w", e.Addr(), err)
	}
	return int(n), nil
}

// Close tears down the endpoint's connection. Called once at coordinator
// shutdown; the endpoint is unusable afterwards.
func (e *Endpoint) Close() error {
	return e.client.Close()
}
