package merkletree

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonsutter87/veilchain/internal/ledger/hashing"
)

func TestCreateCompactProofRoundTripsForEveryLeaf(t *testing.T) {
	algo := hashing.SHA256Algorithm{}
	tree := buildTree(8)

	for i := 0; i < tree.Size(); i++ {
		proof, err := tree.Proof(i)
		require.NoError(t, err)

		encoded, err := CreateCompactProof(proof)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(encoded, compactProofPrefix))

		decoded, err := ParseCompactProof(encoded)
		require.NoError(t, err)
		assert.Equal(t, proof, decoded)
		assert.True(t, Verify(algo, decoded))
	}
}

func TestCreateCompactProofSingleLeafTree(t *testing.T) {
	tree := buildTree(1)
	proof, err := tree.Proof(0)
	require.NoError(t, err)

	encoded, err := CreateCompactProof(proof)
	require.NoError(t, err)
	decoded, err := ParseCompactProof(encoded)
	require.NoError(t, err)
	assert.Equal(t, proof, decoded)
}

func TestParseCompactProofRejectsMissingPrefix(t *testing.T) {
	_, err := ParseCompactProof("not-a-compact-proof")
	assert.Error(t, err)
}

func TestParseCompactProofRejectsGarbageBase64(t *testing.T) {
	_, err := ParseCompactProof(compactProofPrefix + "!!!not-base64!!!")
	assert.Error(t, err)
}

func TestCreateCompactProofRejectsNil(t *testing.T) {
	_, err := CreateCompactProof(nil)
	assert.Error(t, err)
}
