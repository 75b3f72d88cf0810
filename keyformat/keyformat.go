// Package keyformat loads private keys from the formats spec section 6
// must accept for publickey authentication: PKCS#1/PKCS#8 PEM, the
// OpenSSH "new format" private key, and PuTTY's .ppk. Grounded in
// usftp's ssh.go, which loads a private key file via
// golang.org/x/crypto/ssh before dialing; this package keeps using that
// library for PEM/OpenSSH parsing rather than reimplementing ASN.1 and
// bcrypt_pbkdf by hand, and adapts the result into this module's own
// userauth.Signer instead of x/crypto/ssh's ssh.Signer.
package keyformat

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha1"
	"fmt"
	"math/big"

	"golang.org/x/crypto/ssh"

	"github.com/richardjennings/sshkit/errs"
	"github.com/richardjennings/sshkit/hostkey"
)

// Signer adapts a parsed private key (rsa/ecdsa/ed25519's crypto.Signer
// implementations, or crypto/dsa.PrivateKey which implements no standard
// signing interface) to userauth.Signer without importing userauth,
// avoiding a keyformat<->userauth import cycle; userauth.Signer is a
// structural interface so this satisfies it without saying so.
type Signer struct {
	algo string
	blob []byte
	key  any
}

// PublicKeyAlgo returns the SSH public-key algorithm name for this key.
func (s *Signer) PublicKeyAlgo() string { return s.algo }

// PublicKeyBlob returns the SSH wire-format public key blob.
func (s *Signer) PublicKeyBlob() []byte { return s.blob }

// Sign produces a signature over data using the key's natural algorithm
// (ssh-rsa for RSA keys; callers that want rsa-sha2-256/512 use SignWithAlgo).
func (s *Signer) Sign(data []byte) (string, []byte, error) {
	return s.SignWithAlgo(data, s.algo)
}

// SignWithAlgo signs data, using sigAlgo to pick the hash for RSA keys
// (RFC 8332's rsa-sha2-256/512 vs. the legacy ssh-rsa SHA-1 scheme).
// Non-RSA keys ignore sigAlgo since they have exactly one signing scheme.
func (s *Signer) SignWithAlgo(data []byte, sigAlgo string) (string, []byte, error) {
	switch k := s.key.(type) {
	case *rsa.PrivateKey:
		h := hashForRSASigAlgo(sigAlgo)
		digest := h.New()
		digest.Write(data)
		sig, err := rsa.SignPKCS1v15(nil, k, h, digest.Sum(nil))
		if err != nil {
			return "", nil, errs.NewError(errs.KindInvalidArgument, "keyformat.Sign", err)
		}
		return sigAlgo, sig, nil
	case crypto.Signer:
		sig, err := k.Sign(nil, data, crypto.Hash(0))
		if err != nil {
			return "", nil, errs.NewError(errs.KindInvalidArgument, "keyformat.Sign", err)
		}
		return s.algo, encodeNonRSASignature(k, sig), nil
	case *dsa.PrivateKey:
		digest := sha1.Sum(data)
		r, sVal, err := dsa.Sign(nil, k, digest[:])
		if err != nil {
			return "", nil, errs.NewError(errs.KindInvalidArgument, "keyformat.Sign", err)
		}
		return s.algo, dsaSignatureBlob(r, sVal), nil
	default:
		return "", nil, errs.NewError(errs.KindUnsupportedAlgorithm, "keyformat.Sign", fmt.Errorf("unsupported key type %T", s.key))
	}
}

// dsaSignatureBlob packs (r, s) into the 40-byte fixed-width form RFC
// 4253 section 6.6 specifies for ssh-dss, matching hostkey.Key.Verify's
// expectation of exactly two 20-byte big-endian integers.
func dsaSignatureBlob(r, s *big.Int) []byte {
	out := make([]byte, 40)
	r.FillBytes(out[:20])
	s.FillBytes(out[20:])
	return out
}

func hashForRSASigAlgo(algo string) crypto.Hash {
	switch algo {
	case hostkey.AlgoRSASHA256:
		return crypto.SHA256
	case hostkey.AlgoRSASHA512:
		return crypto.SHA512
	default:
		return crypto.SHA1
	}
}

// encodeNonRSASignature wraps ecdsa/ed25519 raw signatures into the
// algo-tagged blob format RFC 4253 section 6.6 specifies for
// SSH_MSG_USERAUTH_REQUEST's signature field, matching hostkey.Key.Verify's
// expected input.
func encodeNonRSASignature(key crypto.Signer, sig []byte) []byte {
	switch key.(type) {
	case ed25519.PrivateKey:
		return sig // raw 64-byte signature, no further ASN.1 wrapping
	default:
		// ecdsa.PrivateKey.Sign returns an ASN.1 DER sequence of (r, s);
		// re-encode as the two SSH mpints the wire format wants.
		return asn1ECDSAToMPInts(sig)
	}
}

// ParsePEM parses a PKCS#1, PKCS#8, or OpenSSH "new format" PEM-encoded
// private key, decrypting with passphrase if it is protected. Delegates
// entirely to golang.org/x/crypto/ssh, which already implements
// bcrypt_pbkdf + AES-CTR/CBC decryption for the OpenSSH format.
func ParsePEM(pemBytes, passphrase []byte) (*Signer, error) {
	var raw any
	var err error
	if len(passphrase) > 0 {
		raw, err = ssh.ParseRawPrivateKeyWithPassphrase(pemBytes, passphrase)
	} else {
		raw, err = ssh.ParseRawPrivateKey(pemBytes)
	}
	if err != nil {
		return nil, errs.NewError(errs.KindInvalidArgument, "keyformat.ParsePEM", err)
	}
	return fromCryptoKey(raw)
}

func fromCryptoKey(raw any) (*Signer, error) {
	switch k := raw.(type) {
	case *rsa.PrivateKey:
		return &Signer{algo: hostkey.AlgoRSA, blob: hostkey.Marshal(hostkey.AlgoRSA, &k.PublicKey), key: k}, nil
	case *ecdsa.PrivateKey:
		algo := ecdsaAlgoForCurve(k.Curve)
		return &Signer{algo: algo, blob: hostkey.Marshal(algo, &k.PublicKey), key: k}, nil
	case ed25519.PrivateKey:
		pub := k.Public().(ed25519.PublicKey)
		return &Signer{algo: hostkey.AlgoED25519, blob: hostkey.Marshal(hostkey.AlgoED25519, pub), key: k}, nil
	default:
		return nil, errs.NewError(errs.KindUnsupportedAlgorithm, "keyformat.fromCryptoKey", fmt.Errorf("unsupported key type %T", raw))
	}
}

func ecdsaAlgoForCurve(curve elliptic.Curve) string {
	switch curve.Params().BitSize {
	case 256:
		return hostkey.AlgoECDSA256
	case 384:
		return hostkey.AlgoECDSA384
	default:
		return hostkey.AlgoECDSA521
	}
}
