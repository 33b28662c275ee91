package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidHash(t *testing.T) {
	assert.True(t, IsValidHash(GenesisHash))
	assert.False(t, IsValidHash("not-a-hash"))
	assert.False(t, IsValidHash(""))
	assert.False(t, IsValidHash("ABCDEF0000000000000000000000000000000000000000000000000000000"))
}

func TestByNameDefaultsToSHA256(t *testing.T) {
	assert.Equal(t, "sha256", ByName("").Name())
	assert.Equal(t, "sha256", ByName("unknown-algo").Name())
	assert.Equal(t, "blake2b-256", ByName("blake2b-256").Name())
}

func TestHashPairDeterministic(t *testing.T) {
	algo := SHA256Algorithm{}
	left := Hex(algo.Sum([]byte("left")))
	right := Hex(algo.Sum([]byte("right")))

	h1, ok1 := HashPair(algo, left, right)
	h2, ok2 := HashPair(algo, left, right)
	require.True(t, ok1)
	require.True(t, ok2)
	assert.Equal(t, h1, h2)

	reversed, ok := HashPair(algo, right, left)
	require.True(t, ok)
	assert.NotEqual(t, h1, reversed, "hashPair must not be commutative")
}

func TestHashPairRejectsMalformedInput(t *testing.T) {
	_, ok := HashPair(SHA256Algorithm{}, "short", GenesisHash)
	assert.False(t, ok)
}

func TestHashEntryVariesWithPosition(t *testing.T) {
	algo := SHA256Algorithm{}
	data := []byte(`{"k":"v"}`)

	h0 := HashEntry(algo, data, 0)
	h1 := HashEntry(algo, data, 1)
	assert.NotEqual(t, h0, h1, "position is part of the hash input")
	assert.True(t, IsValidHash(h0))
}

func TestEntryIDDerivesFromLeafHash(t *testing.T) {
	leaf := Hex(SHA256Algorithm{}.Sum([]byte("entry")))
	id := EntryID(leaf)
	assert.Equal(t, "ent_"+leaf[:32], id)
}

func TestBlake2bDiffersFromSHA256(t *testing.T) {
	data := []byte("same input")
	sha := Hex(SHA256Algorithm{}.Sum(data))
	blake := Hex(BLAKE2b256Algorithm{}.Sum(data))
	assert.NotEqual(t, sha, blake)
}
