package keyformat

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richardjennings/sshkit/hostkey"
)

func bigFromInt(n int64) *big.Int { return big.NewInt(n) }

func TestParsePEMRSAUnencrypted(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	signer, err := ParsePEM(pem.EncodeToMemory(block), nil)
	require.NoError(t, err)
	require.Equal(t, hostkey.AlgoRSA, signer.PublicKeyAlgo())

	sigAlgo, sig, err := signer.SignWithAlgo([]byte("hello"), hostkey.AlgoRSASHA256)
	require.NoError(t, err)
	require.Equal(t, hostkey.AlgoRSASHA256, sigAlgo)
	require.NotEmpty(t, sig)

	parsed, err := hostkey.Parse(signer.PublicKeyBlob())
	require.NoError(t, err)
	ok, err := parsed.Verify([]byte("hello"), append(pack(sigAlgo), sig...))
	require.NoError(t, err)
	require.True(t, ok, "signature produced by SignWithAlgo should verify against the matching public key blob")
}

func pack(s string) []byte {
	b := make([]byte, 4+len(s))
	b[0] = byte(len(s) >> 24)
	b[1] = byte(len(s) >> 16)
	b[2] = byte(len(s) >> 8)
	b[3] = byte(len(s))
	copy(b[4:], s)
	return b
}

func TestParsePEMEd25519Unencrypted(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	signer, err := ParsePEM(pem.EncodeToMemory(block), nil)
	require.NoError(t, err)
	require.Equal(t, hostkey.AlgoED25519, signer.PublicKeyAlgo())

	_, sig, err := signer.Sign([]byte("hello"))
	require.NoError(t, err)
	require.Len(t, sig, ed25519.SignatureSize)
}

func TestPPKV2KeyDerivationLength(t *testing.T) {
	k := ppkV2DeriveKey([]byte("passphrase"))
	require.Len(t, k, 32)
}

func TestDSASignatureBlobFixedWidth(t *testing.T) {
	b := dsaSignatureBlob(bigFromInt(1), bigFromInt(2))
	require.Len(t, b, 40)
}
