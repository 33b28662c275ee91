// Package hashing provides the byte-in/hex-out hash primitives the ledger
// core is built on: leaf hashing, pair hashing (plain concatenation, with
// no domain-separation prefix), and the genesis sentinel.
package hashing

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"regexp"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the width in bytes of every hash this package produces.
const HashSize = 32

// GenesisHash is the fixed all-zero parent hash used for the first entry in
// a ledger.
var GenesisHash = strings.Repeat("0", 64)

var hexPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// IsValidHash reports whether s is a well-formed 64-character lowercase hex
// hash.
func IsValidHash(s string) bool {
	return hexPattern.MatchString(s)
}

// Algorithm names a ledger's chosen hash function. The choice is made at
// ledger-creation time and is immutable thereafter; no proof carries an
// algorithm tag, it's implied by the owning ledger's metadata.
type Algorithm interface {
	Name() string
	Sum(data []byte) [HashSize]byte
}

// SHA256Algorithm is the default ledger hash algorithm.
type SHA256Algorithm struct{}

func (SHA256Algorithm) Name() string { return "sha256" }

func (SHA256Algorithm) Sum(data []byte) [HashSize]byte {
	return sha256.Sum256(data)
}

// BLAKE2b256Algorithm is the alternate algorithm a ledger may select at
// creation time. True BLAKE3 has no implementation in the example corpus;
// golang.org/x/crypto's BLAKE2b-256 is the real dependency that stands in
// for it (see DESIGN.md).
type BLAKE2b256Algorithm struct{}

func (BLAKE2b256Algorithm) Name() string { return "blake2b-256" }

func (BLAKE2b256Algorithm) Sum(data []byte) [HashSize]byte {
	sum := blake2b.Sum256(data)
	return sum
}

// ByName resolves the algorithm identifier stored on ledger metadata. An
// unrecognized name falls back to SHA-256; callers that must reject unknown
// algorithms should check Name() against the requested value themselves.
func ByName(name string) Algorithm {
	switch name {
	case "blake2b-256":
		return BLAKE2b256Algorithm{}
	default:
		return SHA256Algorithm{}
	}
}

// Hex renders a raw hash as lowercase hex.
func Hex(sum [HashSize]byte) string {
	return hex.EncodeToString(sum[:])
}

// DecodeHex parses a hex-encoded hash, validating length and character set.
func DecodeHex(s string) ([HashSize]byte, bool) {
	var out [HashSize]byte
	if !IsValidHash(s) {
		return out, false
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != HashSize {
		return out, false
	}
	copy(out[:], b)
	return out, true
}

// HashPair computes hashPair(left, right): decode two 32-byte hex hashes,
// concatenate left||right, hash with algo. No domain separation byte is
// prepended — the spec's hashPair is a bare hash of the concatenation.
func HashPair(algo Algorithm, leftHex, rightHex string) (string, bool) {
	left, ok := DecodeHex(leftHex)
	if !ok {
		return "", false
	}
	right, ok := DecodeHex(rightHex)
	if !ok {
		return "", false
	}
	buf := make([]byte, 0, HashSize*2)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	sum := algo.Sum(buf)
	return Hex(sum), true
}

// HashEntry computes hashEntry(data, position): algo(canonicalData ||
// bigEndianUint64(position)). canonicalData is the caller-supplied canonical
// JSON byte image of the entry's data (see package canon); position is
// appended as a fixed 8-byte big-endian unsigned integer, per spec §9 open
// question 1.
func HashEntry(algo Algorithm, canonicalData []byte, position uint64) string {
	buf := make([]byte, len(canonicalData)+8)
	copy(buf, canonicalData)
	binary.BigEndian.PutUint64(buf[len(canonicalData):], position)
	sum := algo.Sum(buf)
	return Hex(sum)
}

// EntryID derives the deterministic entry identifier from a leaf hash: the
// "ent_" prefix followed by the first 32 hex characters of the hash.
func EntryID(leafHashHex string) string {
	if len(leafHashHex) < 32 {
		return "ent_" + leafHashHex
	}
	return "ent_" + leafHashHex[:32]
}
