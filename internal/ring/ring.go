// Package ring implements consistent hashing with virtual nodes.
// See doc.go for complete package documentation.
package ring

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/kotare/internal/shard"
)

// DefaultVirtualNodes is the per-shard virtual node count used when the
// configuration does not override it. 150 keeps per-shard load within a few
// percent of 1/N for small clusters without bloating the position table.
const DefaultVirtualNodes = 150

// ErrEmptyRing is returned by Lookup when the ring holds no virtual nodes.
// This is a fatal misconfiguration: a coordinator without shards cannot
// place any key.
var ErrEmptyRing = errors.New("hash ring is empty")

// ringSize is the size of the hash space, 2^32.
const ringSize = uint64(1) << 32

// Hash maps an arbitrary key to its ring position: the first 32 bits of the
// key's SHA-256 digest, interpreted as an unsigned big-endian integer.
//
// The function is part of the placement contract. Changing it remaps every
// key in every deployment, so it is deliberately pinned here rather than
// made configurable.
func Hash(key string) uint32 {
	sum := sha256.Sum256([]byte(key))
	return binary.BigEndian.Uint32(sum[:4])
}

// Ring is the immutable consistent-hash ring over a fixed set of shard
// bindings.
//
// Construction computes every virtual node position, resolves collisions,
// and sorts the position table; after that the ring is read-only and all
// methods are safe for unsynchronized concurrent use.
type Ring struct {
	// positions holds every virtual node position, sorted ascending.
	positions []uint32

	// owners maps a position back to the owning shard ordinal.
	owners map[uint32]int

	// bindings indexes shard bindings by ordinal.
	bindings []*shard.Binding

	// virtualNodes is the per-shard virtual node count V.
	virtualNodes int
}

// New builds the ring over the given bindings with virtualNodes positions
// per shard.
//
// For shard i and virtual node j the position is
// Hash("cache_node_<i>:vnode<j>"). Position collisions are resolved by
// probing successive positions (+1 mod 2^32) until a free slot is found, so
// the ring always contains exactly len(bindings)*virtualNodes entries.
//
// Parameters:
//   - bindings: shard bindings ordered by ordinal
//   - virtualNodes: positions per shard; 0 selects DefaultVirtualNodes
//
// Returns:
//   - *Ring ready for lookups
//   - error if no bindings are supplied
func New(bindings []*shard.Binding, virtualNodes int) (*Ring, error) {
	if len(bindings) == 0 {
		return nil, errors.New("ring requires at least one shard binding")
	}
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}

	r := &Ring{
		positions:    make([]uint32, 0, len(bindings)*virtualNodes),
		owners:       make(map[uint32]int, len(bindings)*virtualNodes),
		bindings:     bindings,
		virtualNodes: virtualNodes,
	}

	for _, b := range bindings {
		for j := 0; j < virtualNodes; j++ {
			pos := Hash(fmt.Sprintf("%s:vnode%d", b.Name, j))

			// Linear probing keeps positions unique so the reverse map
			// stays unambiguous.
			for {
				if _, taken := r.owners[pos]; !taken {
					break
				}
				pos++
			}

			r.owners[pos] = b.ID
			r.positions = append(r.positions, pos)
		}
	}

	slices.Sort(r.positions)
	return r, nil
}

// Lookup resolves a key to its owning shard binding: the shard whose
// virtual node is first at or clockwise after Hash(key), wrapping to the
// smallest position past the seam. A key hashing exactly onto a position is
// owned by that position.
//
// The search is a binary search over the sorted position table, O(log NV).
//
// Returns:
//   - the owning shard binding
//   - ErrEmptyRing if the ring holds no positions
func (r *Ring) Lookup(key string) (*shard.Binding, error) {
	return r.LookupPosition(Hash(key))
}

// LookupPosition resolves a precomputed ring position to its owning shard
// binding. Exposed separately so callers that already hashed the key (to
// report the hash back to clients) do not hash twice.
func (r *Ring) LookupPosition(pos uint32) (*shard.Binding, error) {
	if len(r.positions) == 0 {
		return nil, ErrEmptyRing
	}

	// First position >= pos; equality selects the exact match.
	idx, _ := slices.BinarySearch(r.positions, pos)
	if idx == len(r.positions) {
		idx = 0
	}

	return r.bindings[r.owners[r.positions[idx]]], nil
}

// Size returns the total number of virtual node positions on the ring.
func (r *Ring) Size() int {
	return len(r.positions)
}

// VirtualNodes returns the per-shard virtual node count V.
func (r *Ring) VirtualNodes() int {
	return r.virtualNodes
}

// Bindings returns the shard bindings indexed by ordinal. The slice is the
// ring's own; callers must not modify it.
func (r *Ring) Bindings() []*shard.Binding {
	return r.bindings
}

// ShardArc summarizes one shard's share of the ring for observability.
type ShardArc struct {
	ShardID      int     `json:"shard_id"`
	ShardName    string  `json:"shard_name"`
	VirtualNodes int     `json:"virtual_nodes"`
	ArcSpan      uint64  `json:"arc_span"`
	Percent      float64 `json:"percent"`
}

// Describe reports each shard's aggregate arc length and percentage of the
// hash space.
//
// Each position owns the arc from the previous position up to itself, the
// same ownership Lookup applies; the first position's arc wraps across the
// seam from the last. Arc lengths are attributed to the owning shard and
// summed. The percentages always total
// 100 because the arcs tile the full space.
func (r *Ring) Describe() []ShardArc {
	arcs := make([]ShardArc, len(r.bindings))
	for i, b := range r.bindings {
		arcs[i] = ShardArc{ShardID: b.ID, ShardName: b.Name}
	}

	for i, pos := range r.positions {
		var span uint64
		if i == 0 {
			// Wrap-around arc across the seam.
			span = (ringSize - uint64(r.positions[len(r.positions)-1])) + uint64(pos)
		} else {
			span = uint64(pos) - uint64(r.positions[i-1])
		}

		owner := r.owners[pos]
		arcs[owner].VirtualNodes++
		arcs[owner].ArcSpan += span
	}

	for i := range arcs {
		arcs[i].Percent = float64(arcs[i].ArcSpan) / float64(ringSize) * 100
	}
	return arcs
}
