package merkletree

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/jasonsutter87/veilchain/internal/ledger/canon"
	"github.com/jasonsutter87/veilchain/internal/ledger/hashing"
)

// compactProofPrefix tags the wire form spec §6 defines for QR/URL transport:
// VP1:<base64(deterministic_CBOR({v,l,i,p,d,r}))>.
const compactProofPrefix = "VP1:"

const compactProofVersion = 1

// compactProofWire is the CBOR-level shape of a compact proof: l/p/r carry
// raw hash bytes rather than hex text to keep the encoded form small, and d
// is the bit string spec §6 specifies ('0' = left, '1' = right), one
// character per sibling in proof.Siblings/Directions order.
type compactProofWire struct {
	V int    `cbor:"v"`
	L []byte `cbor:"l"`
	I int    `cbor:"i"`
	P []byte `cbor:"p"`
	D string `cbor:"d"`
	R []byte `cbor:"r"`
}

// CreateCompactProof encodes an inclusion proof into the VP1 compact wire
// form for QR/URL transport (spec §6).
func CreateCompactProof(proof *Proof) (string, error) {
	if proof == nil {
		return "", fmt.Errorf("merkletree: cannot encode a nil proof")
	}
	if len(proof.Siblings) != len(proof.Directions) {
		return "", fmt.Errorf("merkletree: proof siblings/directions length mismatch")
	}

	leaf, err := hex.DecodeString(proof.Leaf)
	if err != nil {
		return "", fmt.Errorf("merkletree: decode leaf hash: %w", err)
	}
	root, err := hex.DecodeString(proof.Root)
	if err != nil {
		return "", fmt.Errorf("merkletree: decode root hash: %w", err)
	}

	var path bytes.Buffer
	bits := make([]byte, len(proof.Siblings))
	for i, sibling := range proof.Siblings {
		sibBytes, err := hex.DecodeString(sibling)
		if err != nil {
			return "", fmt.Errorf("merkletree: decode sibling %d: %w", i, err)
		}
		path.Write(sibBytes)
		bit, err := directionBit(proof.Directions[i])
		if err != nil {
			return "", err
		}
		bits[i] = byte('0' + bit)
	}

	wire := compactProofWire{
		V: compactProofVersion,
		L: leaf,
		I: proof.Index,
		P: path.Bytes(),
		D: string(bits),
		R: root,
	}
	data, err := canon.MarshalCBOR(wire)
	if err != nil {
		return "", fmt.Errorf("merkletree: encode compact proof: %w", err)
	}
	return compactProofPrefix + base64.StdEncoding.EncodeToString(data), nil
}

// ParseCompactProof decodes a VP1 compact proof string back into a Proof.
func ParseCompactProof(s string) (*Proof, error) {
	rest := strings.TrimPrefix(s, compactProofPrefix)
	if rest == s {
		return nil, fmt.Errorf("merkletree: compact proof missing %q prefix", compactProofPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, fmt.Errorf("merkletree: decode compact proof base64: %w", err)
	}

	var wire compactProofWire
	if err := canon.UnmarshalCBOR(data, &wire); err != nil {
		return nil, fmt.Errorf("merkletree: decode compact proof cbor: %w", err)
	}
	if wire.V != compactProofVersion {
		return nil, fmt.Errorf("merkletree: unsupported compact proof version %d", wire.V)
	}
	if len(wire.P)%hashing.HashSize != 0 {
		return nil, fmt.Errorf("merkletree: malformed compact proof node path")
	}
	numSiblings := len(wire.P) / hashing.HashSize
	if len(wire.D) != numSiblings {
		return nil, fmt.Errorf("merkletree: compact proof direction bit count mismatch")
	}

	siblings := make([]string, numSiblings)
	directions := make([]Direction, numSiblings)
	for i := 0; i < numSiblings; i++ {
		siblings[i] = hex.EncodeToString(wire.P[i*hashing.HashSize : (i+1)*hashing.HashSize])
		dir, err := directionFromBit(int(wire.D[i] - '0'))
		if err != nil {
			return nil, fmt.Errorf("merkletree: compact proof direction %d: %w", i, err)
		}
		directions[i] = dir
	}

	return &Proof{
		Leaf:       hex.EncodeToString(wire.L),
		Index:      wire.I,
		Siblings:   siblings,
		Directions: directions,
		Root:       hex.EncodeToString(wire.R),
	}, nil
}

// directionBit and directionFromBit give the batch-proof and compact-proof
// wire forms a shared 0|1 encoding for Direction ('0' =
// left, '1' = right, per spec §6's bit-string convention).
func directionBit(d Direction) (int, error) {
	switch d {
	case DirectionLeft:
		return 0, nil
	case DirectionRight:
		return 1, nil
	default:
		return 0, fmt.Errorf("merkletree: invalid direction %q", d)
	}
}

func directionFromBit(bit int) (Direction, error) {
	switch bit {
	case 0:
		return DirectionLeft, nil
	case 1:
		return DirectionRight, nil
	default:
		return "", fmt.Errorf("merkletree: invalid direction bit %d", bit)
	}
}
