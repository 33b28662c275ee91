package merkletree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonsutter87/veilchain/internal/ledger/hashing"
)

func buildTree(n int) *Tree {
	algo := hashing.SHA256Algorithm{}
	tree := New(algo)
	for i := 0; i < n; i++ {
		tree.Append(leafHash(string(rune('a' + i))))
	}
	return tree
}

func TestBatchProofVerifiesForVariousSubsets(t *testing.T) {
	algo := hashing.SHA256Algorithm{}
	tree := buildTree(8)

	cases := [][]int{
		{0},
		{0, 1},
		{0, 7},
		{1, 3, 5},
		{0, 1, 2, 3, 4, 5, 6, 7},
	}
	for _, indices := range cases {
		proof, err := tree.BatchProof(indices)
		require.NoError(t, err)
		assert.True(t, VerifyBatchProof(algo, proof), "batch proof for %v should verify", indices)
	}
}

func TestBatchProofDeduplicatesIndices(t *testing.T) {
	tree := buildTree(5)
	proof, err := tree.BatchProof([]int{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2}, proof.Indices)
}

func TestBatchProofRejectsOutOfRangeIndex(t *testing.T) {
	tree := buildTree(4)
	_, err := tree.BatchProof([]int{10})
	assert.Error(t, err)
}

func TestVerifyBatchProofRejectsTamperedLeaf(t *testing.T) {
	algo := hashing.SHA256Algorithm{}
	tree := buildTree(6)
	proof, err := tree.BatchProof([]int{1, 4})
	require.NoError(t, err)
	proof.Leaves[0] = leafHash("tampered")
	assert.False(t, VerifyBatchProof(algo, proof))
}

func TestBatchProofSingleLeafTreeMatchesInclusionProof(t *testing.T) {
	algo := hashing.SHA256Algorithm{}
	tree := buildTree(1)
	batch, err := tree.BatchProof([]int{0})
	require.NoError(t, err)
	assert.True(t, VerifyBatchProof(algo, batch))
	assert.Empty(t, batch.Nodes)
}

func TestVerifyBatchProofRejectsTamperedSharedNode(t *testing.T) {
	algo := hashing.SHA256Algorithm{}
	tree := buildTree(8)
	proof, err := tree.BatchProof([]int{1, 4})
	require.NoError(t, err)
	require.NotEmpty(t, proof.Nodes)
	proof.Nodes[0] = leafHash("tampered-node")
	assert.False(t, VerifyBatchProof(algo, proof))
}

func TestVerifyBatchProofRejectsTamperedRoot(t *testing.T) {
	algo := hashing.SHA256Algorithm{}
	tree := buildTree(8)
	proof, err := tree.BatchProof([]int{1, 4})
	require.NoError(t, err)
	proof.Root = leafHash("tampered-root")
	assert.False(t, VerifyBatchProof(algo, proof))
}

func TestBatchProofJSONRoundTripMatchesWireForm(t *testing.T) {
	tree := buildTree(8)
	proof, err := tree.BatchProof([]int{1, 3, 6})
	require.NoError(t, err)

	data, err := json.Marshal(proof)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	for _, key := range []string{"v", "l", "i", "p", "m", "d", "r"} {
		assert.Contains(t, wire, key, "batch proof wire form must carry key %q", key)
	}
	assert.Equal(t, float64(1), wire["v"])

	var roundTripped BatchProof
	require.NoError(t, json.Unmarshal(data, &roundTripped))
	algo := hashing.SHA256Algorithm{}
	assert.True(t, VerifyBatchProof(algo, &roundTripped))
	assert.Equal(t, proof.Indices, roundTripped.Indices)
	assert.Equal(t, proof.Nodes, roundTripped.Nodes)
}
