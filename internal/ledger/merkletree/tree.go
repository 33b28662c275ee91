// Package merkletree implements the binary Merkle tree described in spec
// §4.3: RFC6962-style recursion with no leaf/node domain-separation prefix
// (the spec's hashPair is a bare hash of the concatenation, and a
// single-leaf tree's root is the leaf itself, unwrapped).
//
// Grounded on the recursive MTH/PATH/PROOF/SUBPROOF construction from the
// vendored arriqaaq/merkletree reference implementation of RFC 6962 §2.1,
// adapted to the spec's unprefixed hash combination.
package merkletree

import (
	"fmt"

	"github.com/jasonsutter87/veilchain/internal/ledger/hashing"
	"github.com/jasonsutter87/veilchain/internal/verrors"
)

// Tree is an append-only binary Merkle tree over an ordered list of leaf
// hashes. It is a pure function of its leaves; the zero value is an empty
// tree. Trees are not safe for concurrent use — callers serialize access
// (spec §5 assigns that responsibility to the ledger service's per-ledger
// lock).
type Tree struct {
	algo   hashing.Algorithm
	leaves []string // hex-encoded leaf hashes, append order
}

// New returns an empty tree using algo for internal node hashing.
func New(algo hashing.Algorithm) *Tree {
	if algo == nil {
		algo = hashing.SHA256Algorithm{}
	}
	return &Tree{algo: algo}
}

// Import deterministically builds a tree from an ordered leaf list. Used
// for reconstruction on service restart or cache eviction (spec §4.3).
func Import(algo hashing.Algorithm, leaves []string) *Tree {
	t := New(algo)
	t.leaves = append(t.leaves, leaves...)
	return t
}

// Size returns the number of leaves in the tree.
func (t *Tree) Size() int {
	return len(t.leaves)
}

// Leaves returns a copy of the tree's leaf hashes, in append order.
func (t *Tree) Leaves() []string {
	out := make([]string, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// Append pushes a new leaf hash and returns its zero-based index.
func (t *Tree) Append(leafHashHex string) int {
	t.leaves = append(t.leaves, leafHashHex)
	return len(t.leaves) - 1
}

// Root computes the current root hash. An empty tree's root is the fixed
// genesis sentinel; a single-leaf tree's root is that leaf, unwrapped.
func (t *Tree) Root() string {
	return mth(t.algo, t.leaves)
}

// largestPowerOfTwoLessThan returns the largest k such that k is a power of
// two and k < n. Defined for n >= 1.
func largestPowerOfTwoLessThan(n int) int {
	k := 1
	for k*2 < n {
		k *= 2
	}
	return k
}

// mth is the Merkle Tree Hash of an ordered leaf-hash list, per spec §4.3:
//
//	root(0)   = GENESIS_HASH
//	root([x]) = x
//	root(L)   = hashPair(root(L[0:k]), root(L[k:]))   where k = largest power of two < len(L)
func mth(algo hashing.Algorithm, leaves []string) string {
	n := len(leaves)
	if n == 0 {
		return hashing.GenesisHash
	}
	if n == 1 {
		return leaves[0]
	}
	k := largestPowerOfTwoLessThan(n)
	left := mth(algo, leaves[:k])
	right := mth(algo, leaves[k:])
	combined, ok := hashing.HashPair(algo, left, right)
	if !ok {
		// left/right are always algorithm output or prior leaves, both
		// well-formed 32-byte hex by construction; this would indicate a
		// corrupted leaf was appended upstream.
		panic(fmt.Sprintf("merkletree: malformed subtree hash %q/%q", left, right))
	}
	return combined
}

// Direction indicates which side of the current node a sibling hash sits
// on while folding an inclusion proof from leaf to root.
type Direction string

const (
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Proof is an inclusion proof: the sibling path from a leaf to the root,
// bottom to top, with the direction of each sibling.
type Proof struct {
	Leaf       string      `json:"leaf"`
	Index      int         `json:"index"`
	Siblings   []string    `json:"proof"`
	Directions []Direction `json:"directions"`
	Root       string      `json:"root"`
}

// Proof returns the sibling path from index to the current root.
func (t *Tree) Proof(index int) (*Proof, error) {
	if index < 0 || index >= len(t.leaves) {
		return nil, fmt.Errorf("merkletree: %w: index %d, size %d", verrors.ErrIndexOutOfRange, index, len(t.leaves))
	}
	siblings, directions := auditPath(t.algo, t.leaves, index)
	return &Proof{
		Leaf:       t.leaves[index],
		Index:      index,
		Siblings:   siblings,
		Directions: directions,
		Root:       t.Root(),
	}, nil
}

// auditPath computes the sibling hashes and per-level directions for the
// leaf at index within leaves, grounded on the recursive PATH(m, D)
// definition of RFC 6962 §2.1.2: at each level, the sibling is the hash of
// whichever half of the current subtree does not contain index. Siblings
// are returned bottom-to-top (the order Verify expects to fold them in).
func auditPath(algo hashing.Algorithm, leaves []string, index int) ([]string, []Direction) {
	n := len(leaves)
	if n == 1 {
		return []string{}, []Direction{}
	}
	k := largestPowerOfTwoLessThan(n)
	if index < k {
		siblings, directions := auditPath(algo, leaves[:k], index)
		return append(siblings, mth(algo, leaves[k:])), append(directions, DirectionRight)
	}
	siblings, directions := auditPath(algo, leaves[k:], index-k)
	return append(siblings, mth(algo, leaves[:k])), append(directions, DirectionLeft)
}

// Verify folds proof.Leaf up through proof.Siblings/Directions and checks
// the result against proof.Root. It also rejects structurally malformed
// proofs (length mismatch, ill-formed hex) per spec §4.3.
func Verify(algo hashing.Algorithm, proof *Proof) bool {
	if proof == nil {
		return false
	}
	if len(proof.Siblings) != len(proof.Directions) {
		return false
	}
	if !hashing.IsValidHash(proof.Leaf) || !hashing.IsValidHash(proof.Root) {
		return false
	}
	current := proof.Leaf
	for i, sibling := range proof.Siblings {
		if !hashing.IsValidHash(sibling) {
			return false
		}
		var combined string
		var ok bool
		switch proof.Directions[i] {
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
	return current == proof.Root
}
