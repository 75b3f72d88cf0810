package hostkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richardjennings/sshkit/internal/wire"
)

func TestEd25519ParseMarshalRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	blob := Marshal(AlgoED25519, pub)
	key, err := Parse(blob)
	require.NoError(t, err)
	require.Equal(t, AlgoED25519, key.Algo)

	msg := []byte("session-id-and-request")
	sig := ed25519.Sign(priv, msg)
	sigBlob := wire.PutBytes(wire.PutString(nil, AlgoED25519), sig)

	ok, err := key.Verify(msg, sigBlob)
	require.NoError(t, err)
	require.True(t, ok, "expected signature to verify")

	ok, _ = key.Verify([]byte("tampered"), sigBlob)
	require.False(t, ok, "expected signature over different data to fail")
}

func TestRSAParseMarshalRoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	blob := Marshal(AlgoRSA, &priv.PublicKey)
	key, err := Parse(blob)
	require.NoError(t, err)
	rsaPub, ok := key.Pub.(*rsa.PublicKey)
	require.True(t, ok, "expected *rsa.PublicKey, got %T", key.Pub)
	require.Zero(t, rsaPub.N.Cmp(priv.PublicKey.N), "modulus mismatch after round-trip")
}

func TestFingerprintStable(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	blob := Marshal(AlgoED25519, pub)
	a := Fingerprint(blob)
	b := Fingerprint(blob)
	require.Equal(t, a, b, "fingerprint not stable")
	require.Regexp(t, "^SHA256:", a)
}
