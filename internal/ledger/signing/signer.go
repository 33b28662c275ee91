// Package signing provides the Ed25519/P-256 signer used by the root
// publisher (spec §4.8), adapted from internal/transparency/signing.go's
// Signer: PEM key loading, fingerprinting, and algorithm dispatch are kept
// verbatim in spirit, generalized from signing a fixed SignedTreeHead
// struct to signing an arbitrary byte payload — here, `rootHash || ":" ||
// entryCount`.
package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
)

// Signer signs and verifies arbitrary byte payloads with an Ed25519 or
// P-256 ECDSA key loaded from PEM.
type Signer struct {
	privateKey  crypto.PrivateKey
	publicKey   crypto.PublicKey
	algorithm   string
	fingerprint string
}

// New parses a PEM-encoded private key (PKCS#8, raw Ed25519, or SEC1 EC)
// and returns a Signer.
func New(privateKeyPEM []byte) (*Signer, error) {
	block, _ := pem.Decode(privateKeyPEM)
	if block == nil {
		return nil, fmt.Errorf("signing: failed to parse PEM block")
	}

	var privateKey crypto.PrivateKey
	var publicKey crypto.PublicKey
	var algorithm string

	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse PKCS#8 key: %w", err)
		}
		privateKey = key
		switch k := key.(type) {
		case ed25519.PrivateKey:
			algorithm = "ed25519"
			publicKey = k.Public()
		case *ecdsa.PrivateKey:
			if k.Curve != elliptic.P256() {
				return nil, fmt.Errorf("signing: unsupported ECDSA curve: only P-256 is supported")
			}
			algorithm = "p256"
			publicKey = &k.PublicKey
		default:
			return nil, fmt.Errorf("signing: unsupported key type: %T", key)
		}

	case "ED25519 PRIVATE KEY":
		if len(block.Bytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signing: invalid Ed25519 private key size")
		}
		privateKey = ed25519.PrivateKey(block.Bytes)
		publicKey = privateKey.(ed25519.PrivateKey).Public()
		algorithm = "ed25519"

	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signing: parse EC key: %w", err)
		}
		if key.Curve != elliptic.P256() {
			return nil, fmt.Errorf("signing: unsupported ECDSA curve: only P-256 is supported")
		}
		privateKey = key
		publicKey = &key.PublicKey
		algorithm = "p256"

	default:
		return nil, fmt.Errorf("signing: unsupported PEM block type: %s", block.Type)
	}

	fingerprint, err := fingerprintOf(publicKey, algorithm)
	if err != nil {
		return nil, fmt.Errorf("signing: fingerprint: %w", err)
	}

	return &Signer{
		privateKey:  privateKey,
		publicKey:   publicKey,
		algorithm:   algorithm,
		fingerprint: fingerprint,
	}, nil
}

// NewFromFile loads a signer from a PEM file.
func NewFromFile(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signing: read key file: %w", err)
	}
	return New(data)
}

// NewFromEnv loads a signer from the VEILCHAIN_SIGNING_KEY environment
// variable, which may name either a file path or a PEM blob directly.
func NewFromEnv() (*Signer, error) {
	keyData := os.Getenv("VEILCHAIN_SIGNING_KEY")
	if keyData == "" {
		return nil, fmt.Errorf("signing: VEILCHAIN_SIGNING_KEY not set")
	}
	if _, err := os.Stat(keyData); err == nil {
		return NewFromFile(keyData)
	}
	return New([]byte(keyData))
}

// GenerateEd25519Key generates a new Ed25519 key pair, PEM-encoded.
func GenerateEd25519Key() ([]byte, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signing: generate key: %w", err)
	}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signing: marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}), nil
}

// Sign signs payload and returns the raw signature bytes.
func (s *Signer) Sign(payload []byte) ([]byte, error) {
	switch s.algorithm {
	case "ed25519":
		return ed25519.Sign(s.privateKey.(ed25519.PrivateKey), payload), nil
	case "p256":
		hash := sha256.Sum256(payload)
		return ecdsa.SignASN1(rand.Reader, s.privateKey.(*ecdsa.PrivateKey), hash[:])
	default:
		return nil, fmt.Errorf("signing: unsupported algorithm: %s", s.algorithm)
	}
}

// Verify checks sig against payload.
func (s *Signer) Verify(payload, sig []byte) bool {
	switch s.algorithm {
	case "ed25519":
		return ed25519.Verify(s.publicKey.(ed25519.PublicKey), payload, sig)
	case "p256":
		hash := sha256.Sum256(payload)
		return ecdsa.VerifyASN1(s.publicKey.(*ecdsa.PublicKey), hash[:], sig)
	default:
		return false
	}
}

func (s *Signer) Algorithm() string   { return s.algorithm }
func (s *Signer) Fingerprint() string { return s.fingerprint }

func fingerprintOf(publicKey crypto.PublicKey, algorithm string) (string, error) {
	var keyBytes []byte
	switch algorithm {
	case "ed25519":
		keyBytes = []byte(publicKey.(ed25519.PublicKey))
	case "p256":
		pk := publicKey.(*ecdsa.PublicKey)
		keyBytes = elliptic.Marshal(pk.Curve, pk.X, pk.Y)
	default:
		return "", fmt.Errorf("unsupported algorithm: %s", algorithm)
	}
	sum := sha256.Sum256(keyBytes)
	return hex.EncodeToString(sum[:16]), nil
}
