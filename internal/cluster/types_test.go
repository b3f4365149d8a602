// Package cluster contains tests for the shared cluster types.
package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestRoleString verifies the wire spellings of the role identities.
func TestRoleString(t *testing.T) {
	assert.Equal(t, "primary", RolePrimary.String())
	assert.Equal(t, "replica", RoleReplica.String())
	assert.Equal(t, "unknown", Role(99).String())
}

// TestParseReplicationMode verifies mode parsing, including the default
// selected by the empty string.
func TestParseReplicationMode(t *testing.T) {
	mode, ok := ParseReplicationMode("")
	assert.True(t, ok)
	assert.Equal(t, ModeAsync, mode)

	mode, ok = ParseReplicationMode("async")
	assert.True(t, ok)
	assert.Equal(t, ModeAsync, mode)

	mode, ok = ParseReplicationMode("sync")
	assert.True(t, ok)
	assert.Equal(t, ModeSync, mode)

	_, ok = ParseReplicationMode("quorum")
	assert.False(t, ok)
}

// TestEndpointIdentity verifies the address formatting and that the
// original role survives independent of any later role churn elsewhere.
func TestEndpointIdentity(t *testing.T) {
	e := NewEndpoint("10.0.0.5", 6379, RolePrimary)
	defer e.Close()

	assert.Equal(t, "10.0.0.5:6379", e.Addr())
	assert.Equal(t, RolePrimary, e.OriginalRole())
	assert.NotNil(t, e.Client())
}
