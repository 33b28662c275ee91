package merkletree

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jasonsutter87/veilchain/internal/ledger/hashing"
	"github.com/jasonsutter87/veilchain/internal/verrors"
)

// batchProofWireVersion tags the JSON wire form spec §6 defines for batch
// proofs: {v, l:[leaves], i:[indices], p:[nodes], m:[[int]], d:[[0|1]], r}.
const batchProofWireVersion = 1

// BatchProof proves inclusion of a set of leaves at once: the requested
// leaves with their indices (sorted ascending), the union of the per-leaf
// audit-path sibling hashes with duplicate hash values stored once, and, per
// requested leaf (in Indices order), the ordered positions into Nodes and
// per-position fold direction a verifier needs to recompute the root from
// that leaf alone.
//
// There is no direct precedent for this shape in the example corpus; it is
// built from repeated application of the single-leaf auditPath recursion,
// deduplicating siblings shared across paths (see DESIGN.md).
type BatchProof struct {
	Leaves      []string
	Indices     []int
	Nodes       []string
	Consumption [][]int       // parallel to Indices: ordered positions into Nodes
	Directions  [][]Direction // parallel to Indices: fold direction per consumed node
	Root        string
}

// BatchProof returns the sibling hashes needed to recompute the root given
// the leaves at indices, without revealing the other leaves. Nodes holds
// every audit-path sibling of every requested leaf, each distinct hash once;
// a sibling that could be derived from other requested leaves is still
// included, so Nodes is not the minimum set.
func (t *Tree) BatchProof(indices []int) (*BatchProof, error) {
	n := len(t.leaves)
	unique := dedupeSorted(indices)
	for _, idx := range unique {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("merkletree: %w: index %d, size %d", verrors.ErrIndexOutOfRange, idx, n)
		}
	}

	nodeIndex := make(map[string]int) // hash -> position in Nodes
	var nodes []string
	consumption := make([][]int, len(unique))
	directions := make([][]Direction, len(unique))

	for i, idx := range unique {
		siblings, dirs := auditPath(t.algo, t.leaves, idx)
		positions := make([]int, len(siblings))
		for j, sibHash := range siblings {
			pos, ok := nodeIndex[sibHash]
			if !ok {
				pos = len(nodes)
				nodes = append(nodes, sibHash)
				nodeIndex[sibHash] = pos
			}
			positions[j] = pos
		}
		consumption[i] = positions
		directions[i] = dirs
	}

	leaves := make([]string, len(unique))
	for i, idx := range unique {
		leaves[i] = t.leaves[idx]
	}

	return &BatchProof{
		Leaves:      leaves,
		Indices:     unique,
		Nodes:       nodes,
		Consumption: consumption,
		Directions:  directions,
		Root:        t.Root(),
	}, nil
}

func dedupeSorted(indices []int) []int {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// batchProofWire is the bit-exact JSON shape spec §6 specifies for batch
// proofs.
type batchProofWire struct {
	V int      `json:"v"`
	L []string `json:"l"`
	I []int    `json:"i"`
	P []string `json:"p"`
	M [][]int  `json:"m"`
	D [][]int  `json:"d"`
	R string   `json:"r"`
}

// MarshalJSON encodes p in spec §6's bit-exact batch proof wire form.
func (p *BatchProof) MarshalJSON() ([]byte, error) {
	if len(p.Leaves) != len(p.Indices) || len(p.Consumption) != len(p.Indices) || len(p.Directions) != len(p.Indices) {
		return nil, fmt.Errorf("merkletree: malformed batch proof: array length mismatch")
	}
	d := make([][]int, len(p.Indices))
	for i, dirs := range p.Directions {
		bits := make([]int, len(dirs))
		for j, dir := range dirs {
			bit, err := directionBit(dir)
			if err != nil {
				return nil, err
			}
			bits[j] = bit
		}
		d[i] = bits
	}
	return json.Marshal(batchProofWire{
		V: batchProofWireVersion,
		L: p.Leaves,
		I: p.Indices,
		P: p.Nodes,
		M: p.Consumption,
		D: d,
		R: p.Root,
	})
}

// UnmarshalJSON decodes p from spec §6's bit-exact batch proof wire form.
func (p *BatchProof) UnmarshalJSON(data []byte) error {
	var wire batchProofWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.V != batchProofWireVersion {
		return fmt.Errorf("merkletree: unsupported batch proof version %d", wire.V)
	}
	if len(wire.L) != len(wire.I) || len(wire.M) != len(wire.I) || len(wire.D) != len(wire.I) {
		return fmt.Errorf("merkletree: malformed batch proof: array length mismatch")
	}
	directions := make([][]Direction, len(wire.I))
	for i, bits := range wire.D {
		dirs := make([]Direction, len(bits))
		for j, bit := range bits {
			dir, err := directionFromBit(bit)
			if err != nil {
				return fmt.Errorf("merkletree: batch proof leaf %d: %w", i, err)
			}
			dirs[j] = dir
		}
		directions[i] = dirs
	}

	p.Leaves = wire.L
	p.Indices = wire.I
	p.Nodes = wire.P
	p.Consumption = wire.M
	p.Directions = directions
	p.Root = wire.R
	return nil
}

// VerifyBatchProof reconstructs the root from the supplied leaves and
// shared nodes, rejecting on any mismatch, malformed array, or length
// disagreement.
func VerifyBatchProof(algo hashing.Algorithm, proof *BatchProof) bool {
	if proof == nil {
		return false
	}
	if len(proof.Leaves) != len(proof.Indices) {
		return false
	}
	if len(proof.Consumption) != len(proof.Indices) || len(proof.Directions) != len(proof.Indices) {
		return false
	}
	if !hashing.IsValidHash(proof.Root) {
		return false
	}
	for i := range proof.Indices {
		if !hashing.IsValidHash(proof.Leaves[i]) {
			return false
		}
	}
	for _, node := range proof.Nodes {
		if !hashing.IsValidHash(node) {
			return false
		}
	}

	for i := range proof.Indices {
		positions := proof.Consumption[i]
		dirs := proof.Directions[i]
		if len(dirs) != len(positions) {
			return false
		}
		current := proof.Leaves[i]
		for j, nodePos := range positions {
			if nodePos < 0 || nodePos >= len(proof.Nodes) {
				return false
			}
			sibling := proof.Nodes[nodePos]
			var combined string
			var ok bool
			switch dirs[j] {
			case DirectionLeft:
				combined, ok = hashing.HashPair(algo, sibling, current)
			case DirectionRight:
				combined, ok = hashing.HashPair(algo, current, sibling)
			default:
				return false
			}
			if !ok {
				return false
			}
			current = combined
		}
		if current != proof.Root {
			return false
		}
	}
	return true
}
