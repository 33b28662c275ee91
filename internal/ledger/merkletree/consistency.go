package merkletree

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jasonsutter87/veilchain/internal/ledger/canon"
	"github.com/jasonsutter87/veilchain/internal/ledger/hashing"
)

// consistencyProofWireVersion tags the JSON wire form spec §6 defines for
// consistency proofs: {v, or, os, nr, ns, p, ts}.
const consistencyProofWireVersion = 1

// ConsistencyProof proves that a size-n tree is a strict append-only
// extension of a previously-published size-m tree (spec §4.3): the old and
// new roots, and the node hashes sufficient to recompute both from the
// current (size-n) leaf list.
type ConsistencyProof struct {
	OldSize     int
	NewSize     int
	OldRoot     string
	NewRoot     string
	Nodes       []string
	GeneratedAt time.Time
}

// ConsistencyProof returns the proof that the first oldSize leaves of the
// current (size newSize) tree hash to oldRoot while the full newSize
// leaves hash to the current root. Requires 0 <= oldSize <= newSize <=
// t.Size().
//
// Grounded on the recursive SUBPROOF(m, D[n], b) construction of RFC 6962
// §2.1.2, vendored here as the arriqaaq/merkletree example's subProof.
func (t *Tree) ConsistencyProof(oldSize, newSize int) (*ConsistencyProof, error) {
	if oldSize < 0 || newSize < oldSize || newSize > t.Size() {
		return nil, fmt.Errorf("merkletree: invalid consistency proof range: old=%d new=%d size=%d", oldSize, newSize, t.Size())
	}

	leaves := t.leaves[:newSize]
	var nodes []string
	if oldSize > 0 && oldSize < newSize {
		nodes = subProof(t.algo, oldSize, leaves, true)
	}

	return &ConsistencyProof{
		OldSize:     oldSize,
		NewSize:     newSize,
		OldRoot:     mth(t.algo, t.leaves[:oldSize]),
		NewRoot:     mth(t.algo, leaves),
		Nodes:       nodes,
		GeneratedAt: time.Now(),
	}, nil
}

// consistencyProofWire is the bit-exact JSON shape spec §6 specifies for
// consistency proofs: {v, or, os, nr, ns, p, ts}.
type consistencyProofWire struct {
	V  int      `json:"v"`
	Or string   `json:"or"`
	Os int      `json:"os"`
	Nr string   `json:"nr"`
	Ns int      `json:"ns"`
	P  []string `json:"p"`
	Ts string   `json:"ts"`
}

// MarshalJSON encodes p in spec §6's bit-exact consistency proof wire form.
func (p *ConsistencyProof) MarshalJSON() ([]byte, error) {
	return json.Marshal(consistencyProofWire{
		V:  consistencyProofWireVersion,
		Or: p.OldRoot,
		Os: p.OldSize,
		Nr: p.NewRoot,
		Ns: p.NewSize,
		P:  p.Nodes,
		Ts: canon.FormatTimestamp(p.GeneratedAt),
	})
}

// UnmarshalJSON decodes p from spec §6's bit-exact consistency proof wire
// form.
func (p *ConsistencyProof) UnmarshalJSON(data []byte) error {
	var wire consistencyProofWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.V != consistencyProofWireVersion {
		return fmt.Errorf("merkletree: unsupported consistency proof version %d", wire.V)
	}
	ts, err := time.Parse("2006-01-02T15:04:05.000Z", wire.Ts)
	if err != nil {
		return fmt.Errorf("merkletree: decode consistency proof timestamp: %w", err)
	}
	p.OldRoot = wire.Or
	p.OldSize = wire.Os
	p.NewRoot = wire.Nr
	p.NewSize = wire.Ns
	p.Nodes = wire.P
	p.GeneratedAt = ts
	return nil
}

// subProof implements RFC 6962's SUBPROOF(m, D, b): b is true while the
// subtree being recursed into is the one whose root (MTH(D[0:m])) the
// caller already knows and need not re-derive.
func subProof(algo hashing.Algorithm, m int, leaves []string, b bool) []string {
	n := len(leaves)
	if m == n {
		if !b {
			return []string{mth(algo, leaves)}
		}
		return nil
	}
	k := largestPowerOfTwoLessThan(n)
	if m <= k {
		path := subProof(algo, m, leaves[:k], b)
		return append(path, mth(algo, leaves[k:]))
	}
	path := subProof(algo, m-k, leaves[k:], false)
	return append(path, mth(algo, leaves[:k]))
}

// VerifyConsistencyProof recomputes both roots from proof.Nodes and the
// two claimed sizes, returning false on any divergence, malformed size
// relationship, or hash mismatch.
func VerifyConsistencyProof(algo hashing.Algorithm, proof *ConsistencyProof) bool {
	if proof == nil {
		return false
	}
	if proof.OldSize < 0 || proof.NewSize < proof.OldSize {
		return false
	}
	if !hashing.IsValidHash(proof.OldRoot) || !hashing.IsValidHash(proof.NewRoot) {
		return false
	}
	if proof.OldSize == proof.NewSize {
		return len(proof.Nodes) == 0 && proof.OldRoot == proof.NewRoot
	}
	if proof.OldSize == 0 {
		// Any size is consistent with an empty tree; there's nothing to
		// re-derive, so the proof carries no nodes, and the old root must
		// be the genesis sentinel.
		return len(proof.Nodes) == 0 && proof.OldRoot == hashing.GenesisHash
	}
	for _, n := range proof.Nodes {
		if !hashing.IsValidHash(n) {
			return false
		}
	}

	nodes := proof.Nodes
	if proof.OldSize&(proof.OldSize-1) == 0 {
		// A power-of-two old tree is a complete left subtree of the new one;
		// subProof leaves its root out because the verifier holds it as
		// OldRoot, so it is placed in front of the node stream here.
		nodes = append([]string{proof.OldRoot}, nodes...)
	}

	oldRoot, newRoot, ok := recomputeConsistency(algo, proof.OldSize, proof.NewSize, nodes)
	if !ok {
		return false
	}
	return oldRoot == proof.OldRoot && newRoot == proof.NewRoot
}

// recomputeConsistency walks the same decomposition subProof uses, folding
// the supplied node list to recompute both the size-m and size-n roots. It
// doesn't have the original leaves, only the proof nodes, so it rebuilds
// the two roots directly from the SUBPROOF recursion's node order.
func recomputeConsistency(algo hashing.Algorithm, m, n int, nodes []string) (oldRoot, newRoot string, ok bool) {
	oldRoot, newRoot, rest, ok := recomputeSubProof(algo, m, n, nodes, true)
	if !ok || len(rest) != 0 {
		return "", "", false
	}
	return oldRoot, newRoot, true
}

// recomputeSubProof mirrors subProof's recursion but, lacking the original
// leaves, derives both the "known" root (oldRoot, threaded through as b)
// and the full root purely from the proof node stream, consuming nodes in
// the same order subProof produced them (post-order: children before the
// node appended at this level). Where subProof emits nothing for a known
// subtree (m == n with b set), VerifyConsistencyProof has already put the
// old root in front of the stream, so every m == n step consumes one node.
func recomputeSubProof(algo hashing.Algorithm, m, n int, nodes []string, b bool) (oldRoot, newRoot string, rest []string, ok bool) {
	if m == n {
		if len(nodes) == 0 {
			return "", "", nil, false
		}
		h := nodes[0]
		return h, h, nodes[1:], true
	}
	k := largestPowerOfTwoLessThan(n)
	if m <= k {
		lOld, lNew, rest, ok := recomputeSubProof(algo, m, k, nodes, b)
		if !ok || len(rest) == 0 {
			return "", "", nil, false
		}
		rightHash := rest[0]
		rest = rest[1:]
		newCombined, combOK := hashing.HashPair(algo, lNew, rightHash)
		if !combOK {
			return "", "", nil, false
		}
		// Old root for this level is the left half's old root (lOld), since
		// the left half wholly contains [0,m).
		return lOld, newCombined, rest, true
	}
	rOld, rNew, rest, ok := recomputeSubProof(algo, m-k, n-k, nodes, false)
	if !ok || len(rest) == 0 {
		return "", "", nil, false
	}
	leftHash := rest[0]
	rest = rest[1:]
	newCombined, combOK := hashing.HashPair(algo, leftHash, rNew)
	if !combOK {
		return "", "", nil, false
	}
	oldCombined, combOK := hashing.HashPair(algo, leftHash, rOld)
	if !combOK {
		return "", "", nil, false
	}
	_ = rOld
	if b {
		// The left half [0,k) is identical across both trees and is
		// exactly the m-subtree's complement contribution; old root for
		// the *overall* m-sized prefix is oldCombined.
		return oldCombined, newCombined, rest, true
	}
	return oldCombined, newCombined, rest, true
}
