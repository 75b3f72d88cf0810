// Package hostkey implements the "asymmetric signature" and "host-key
// record" collaborators from spec section 6: parsing a wire-format public
// key blob, verifying a signature over the exchange hash, and computing
// the fingerprint a caller uses to make a trust decision. It deliberately
// does not re-specify RSA/DSA/ECDSA/Ed25519 math (non-goal); it dispatches
// to the standard library the way massiveart-go.crypto/ssh's certs.go
// dispatches by algorithm name instead of by reflection.
package hostkey

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"math/big"

	"github.com/richardjennings/sshkit/internal/wire"
)

// Algorithm name constants, RFC 4253/8332/5656/8709.
const (
	AlgoRSA       = "ssh-rsa"
	AlgoRSASHA256 = "rsa-sha2-256"
	AlgoRSASHA512 = "rsa-sha2-512"
	AlgoDSA       = "ssh-dss"
	AlgoECDSA256  = "ecdsa-sha2-nistp256"
	AlgoECDSA384  = "ecdsa-sha2-nistp384"
	AlgoECDSA521  = "ecdsa-sha2-nistp521"
	AlgoED25519   = "ssh-ed25519"
)

// Key is a parsed SSH public key together with its wire-format blob and
// the algorithm name under which it was parsed.
type Key struct {
	Algo string
	Blob []byte
	Pub  crypto.PublicKey
}

// Parse decodes a raw SSH public-key blob (RFC 4253 section 6.6) into a Key.
func Parse(blob []byte) (*Key, error) {
	if len(blob) == 0 {
		return nil, errors.New("hostkey: empty blob")
	}
	algo, rest := wire.String(blob)
	var pub crypto.PublicKey
	var err error
	switch algo {
	case AlgoRSA:
		pub, err = parseRSA(rest)
	case AlgoDSA:
		pub, err = parseDSA(rest)
	case AlgoECDSA256, AlgoECDSA384, AlgoECDSA521:
		pub, err = parseECDSA(algo, rest)
	case AlgoED25519:
		pub, err = parseED25519(rest)
	default:
		if len(algo) > len("x509v3-") && algo[:len("x509v3-")] == "x509v3-" {
			der, _ := wire.Bytes(rest)
			pub, err = x509Fallback(der)
			break
		}
		return nil, errors.New("hostkey: unsupported key algorithm " + algo)
	}
	if err != nil {
		return nil, err
	}
	return &Key{Algo: algo, Blob: blob, Pub: pub}, nil
}

func parseRSA(b []byte) (*rsa.PublicKey, error) {
	e, b := wire.MPInt(b)
	n, _ := wire.MPInt(b)
	return &rsa.PublicKey{E: int(e.Int64()), N: n}, nil
}

func parseDSA(b []byte) (*dsa.PublicKey, error) {
	p, b := wire.MPInt(b)
	q, b := wire.MPInt(b)
	g, b := wire.MPInt(b)
	y, _ := wire.MPInt(b)
	return &dsa.PublicKey{
		Parameters: dsa.Parameters{P: p, Q: q, G: g},
		Y:          y,
	}, nil
}

func curveForAlgo(algo string) (x509CurveName string, byteLen int) {
	switch algo {
	case AlgoECDSA256:
		return "nistp256", 32
	case AlgoECDSA384:
		return "nistp384", 48
	case AlgoECDSA521:
		return "nistp521", 66
	}
	return "", 0
}

func parseECDSA(algo string, b []byte) (*ecdsa.PublicKey, error) {
	_, b = wire.String(b) // curve identifier, redundant with algo
	point, _ := wire.Bytes(b)
	curve := ellipticCurve(algo)
	if curve == nil {
		return nil, errors.New("hostkey: unknown ecdsa curve for " + algo)
	}
	x, y := unmarshalPoint(curve, point)
	if x == nil {
		return nil, errors.New("hostkey: invalid ecdsa point")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

func parseED25519(b []byte) (ed25519.PublicKey, error) {
	raw, _ := wire.Bytes(b)
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("hostkey: bad ed25519 key length")
	}
	return ed25519.PublicKey(raw), nil
}

// Marshal re-encodes a Key back into its wire-format blob, used when
// building outbound publickey auth requests from freshly generated keys.
func Marshal(algo string, pub crypto.PublicKey) []byte {
	var body []byte
	switch k := pub.(type) {
	case *rsa.PublicKey:
		body = wire.PutMPInt(wire.PutMPInt(nil, big.NewInt(int64(k.E))), k.N)
	case *dsa.PublicKey:
		body = wire.PutMPInt(nil, k.P)
		body = wire.PutMPInt(body, k.Q)
		body = wire.PutMPInt(body, k.G)
		body = wire.PutMPInt(body, k.Y)
	case *ecdsa.PublicKey:
		name, _ := curveForAlgo(algo)
		body = wire.PutString(nil, name)
		body = wire.PutBytes(body, marshalPoint(k))
	case ed25519.PublicKey:
		body = wire.PutBytes(nil, k)
	}
	return wire.PutBytes(wire.PutString(nil, algo), body)
}

// Verify checks sig (an SSH signature blob: algo-name + raw signature)
// over data using this key. For RSA keys the signature's embedded
// algorithm name picks the hash (rsa-sha2-256/512 per RFC 8332, SHA-1
// otherwise); it is not checked against any expected algorithm.
func (k *Key) Verify(data, sigBlob []byte) (bool, error) {
	sigAlgo, rest := wire.String(sigBlob)
	sig, _ := wire.Bytes(rest)
	switch pub := k.Pub.(type) {
	case *rsa.PublicKey:
		hashID := hashForSigAlgo(sigAlgo)
		hh := hashID.New()
		hh.Write(data)
		err := rsa.VerifyPKCS1v15(pub, hashID, hh.Sum(nil), sig)
		return err == nil, nil
	case *dsa.PublicKey:
		if len(sig) != 40 {
			return false, errors.New("hostkey: malformed dsa signature")
		}
		r := new(big.Int).SetBytes(sig[:20])
		s := new(big.Int).SetBytes(sig[20:])
		digest := sha1Sum(data)
		return dsa.Verify(pub, digest, r, s), nil
	case *ecdsa.PublicKey:
		r, rest := wire.MPInt(sig)
		s, _ := wire.MPInt(rest)
		digest := ecdsaDigest(pub.Curve, data)
		return ecdsa.Verify(pub, digest, r, s), nil
	case ed25519.PublicKey:
		return ed25519.Verify(pub, data, sig), nil
	default:
		return false, errors.New("hostkey: unsupported key type for verify")
	}
}

func hashForSigAlgo(algo string) crypto.Hash {
	switch algo {
	case AlgoRSASHA256:
		return crypto.SHA256
	case AlgoRSASHA512:
		return crypto.SHA512
	default:
		return crypto.SHA1
	}
}

func sha1Sum(b []byte) []byte {
	h := crypto.SHA1.New()
	h.Write(b)
	return h.Sum(nil)
}

func ecdsaDigest(curve elliptic.Curve, data []byte) []byte {
	switch curve.Params().BitSize {
	case 256:
		h := sha256.Sum256(data)
		return h[:]
	case 384:
		h := sha512.Sum384(data)
		return h[:]
	default:
		h := sha512.Sum512(data)
		return h[:]
	}
}

// Fingerprint computes the SHA256-base64 fingerprint used for the
// caller-supplied trust decision (spec section 3, "host-key record").
func Fingerprint(blob []byte) string {
	sum := sha256.Sum256(blob)
	return "SHA256:" + base64.RawStdEncoding.EncodeToString(sum[:])
}

// x509Fallback handles the rare case of a host presenting an X.509
// certificate-wrapped key; used only when algo is one of the
// "x509v3-..." names. Path validation is explicitly a non-goal (spec
// section 1); this only extracts the leaf public key.
func x509Fallback(der []byte) (crypto.PublicKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return cert.PublicKey, nil
}
