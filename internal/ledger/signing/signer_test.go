package signing

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEd25519PEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "ED25519 PRIVATE KEY", Bytes: priv})
}

func ed25519PEM(t *testing.T) []byte {
	t.Helper()
	keyPEM, err := GenerateEd25519Key()
	require.NoError(t, err)
	return keyPEM
}

func p256PKCS8PEM(t *testing.T) []byte {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func p256SEC1PEM(t *testing.T) []byte {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalECPrivateKey(priv)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func TestNewParsesPKCS8Ed25519Key(t *testing.T) {
	s, err := New(ed25519PEM(t))
	require.NoError(t, err)
	assert.Equal(t, "ed25519", s.Algorithm())
	assert.NotEmpty(t, s.Fingerprint())
}

func TestNewParsesRawEd25519PrivateKeyBlock(t *testing.T) {
	s, err := New(rawEd25519PEM(t))
	require.NoError(t, err)
	assert.Equal(t, "ed25519", s.Algorithm())

	payload := []byte("payload")
	sig, err := s.Sign(payload)
	require.NoError(t, err)
	assert.True(t, s.Verify(payload, sig))
}

func TestNewParsesPKCS8P256Key(t *testing.T) {
	s, err := New(p256PKCS8PEM(t))
	require.NoError(t, err)
	assert.Equal(t, "p256", s.Algorithm())
}

func TestNewParsesSEC1P256Key(t *testing.T) {
	s, err := New(p256SEC1PEM(t))
	require.NoError(t, err)
	assert.Equal(t, "p256", s.Algorithm())
}

func TestNewRejectsMalformedPEM(t *testing.T) {
	_, err := New([]byte("not pem data"))
	assert.Error(t, err)
}

func TestNewRejectsUnknownBlockType(t *testing.T) {
	_, err := New(pem.EncodeToMemory(&pem.Block{Type: "MYSTERY KEY", Bytes: []byte("x")}))
	assert.Error(t, err)
}

func TestSignVerifyRoundTripEd25519(t *testing.T) {
	s, err := New(ed25519PEM(t))
	require.NoError(t, err)

	payload := []byte("root-hash:42")
	sig, err := s.Sign(payload)
	require.NoError(t, err)
	assert.True(t, s.Verify(payload, sig))
}

func TestSignVerifyRoundTripP256(t *testing.T) {
	s, err := New(p256PKCS8PEM(t))
	require.NoError(t, err)

	payload := []byte("root-hash:42")
	sig, err := s.Sign(payload)
	require.NoError(t, err)
	assert.True(t, s.Verify(payload, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	s, err := New(ed25519PEM(t))
	require.NoError(t, err)

	sig, err := s.Sign([]byte("original"))
	require.NoError(t, err)
	assert.False(t, s.Verify([]byte("tampered"), sig))
}

func TestVerifyRejectsSignatureFromDifferentKey(t *testing.T) {
	s1, err := New(ed25519PEM(t))
	require.NoError(t, err)
	s2, err := New(ed25519PEM(t))
	require.NoError(t, err)

	payload := []byte("root-hash:42")
	sig, err := s1.Sign(payload)
	require.NoError(t, err)
	assert.False(t, s2.Verify(payload, sig))
}

func TestFingerprintIsDeterministicForSameKey(t *testing.T) {
	keyPEM := ed25519PEM(t)
	s1, err := New(keyPEM)
	require.NoError(t, err)
	s2, err := New(keyPEM)
	require.NoError(t, err)
	assert.Equal(t, s1.Fingerprint(), s2.Fingerprint())
}

func TestFingerprintDiffersAcrossKeys(t *testing.T) {
	s1, err := New(ed25519PEM(t))
	require.NoError(t, err)
	s2, err := New(ed25519PEM(t))
	require.NoError(t, err)
	assert.NotEqual(t, s1.Fingerprint(), s2.Fingerprint())
}

func TestNewFromFileReadsKeyFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/key.pem"
	require.NoError(t, os.WriteFile(path, ed25519PEM(t), 0o600))

	s, err := NewFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "ed25519", s.Algorithm())
}

func TestNewFromFileMissingFileFails(t *testing.T) {
	_, err := NewFromFile("/nonexistent/path/key.pem")
	assert.Error(t, err)
}
