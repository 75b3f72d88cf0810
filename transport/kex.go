package transport

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
	"io"
	"math/big"

	"golang.org/x/crypto/curve25519"

	"github.com/richardjennings/sshkit/internal/wire"
)

const (
	kexCurve25519SHA256       = "curve25519-sha256"
	kexCurve25519SHA256LibSSH = "curve25519-sha256@libssh.org"
	kexECDHSHA2NistP256       = "ecdh-sha2-nistp256"
	kexECDHSHA2NistP384       = "ecdh-sha2-nistp384"
	kexECDHSHA2NistP521       = "ecdh-sha2-nistp521"
	kexDHGroup14SHA256        = "diffie-hellman-group14-sha256"
	kexDHGroup16SHA512        = "diffie-hellman-group16-sha512"
)

// kexResult is the outcome of a single key exchange round: the shared
// secret K, the exchange hash H, and the server's host key + its
// signature over H (spec section 3, "Key material").
type kexResult struct {
	K         *big.Int
	H         []byte
	HostKey   []byte
	Signature []byte
	HashFunc  crypto.Hash
}

// handshakeMagics bundles the fields that feed every KEX family's
// exchange-hash computation, grounded in massiveart-go.crypto/ssh's
// handshakeMagics.
type handshakeMagics struct {
	clientVersion, serverVersion []byte
	clientKexInit, serverKexInit []byte
}

// runKex dispatches to the family implied by algo and returns the shared
// result used to derive session keys (spec section 3, "Key material").
func (t *Transport) runKex(algo string, magics *handshakeMagics) (*kexResult, error) {
	switch algo {
	case kexCurve25519SHA256, kexCurve25519SHA256LibSSH:
		return t.kexCurve25519(magics)
	case kexECDHSHA2NistP256:
		return t.kexECDH(elliptic.P256(), crypto.SHA256, magics)
	case kexECDHSHA2NistP384:
		return t.kexECDH(elliptic.P384(), crypto.SHA384, magics)
	case kexECDHSHA2NistP521:
		return t.kexECDH(elliptic.P521(), crypto.SHA512, magics)
	case kexDHGroup14SHA256:
		return t.kexDH(dhGroup14(), crypto.SHA256, magics)
	case kexDHGroup16SHA512:
		return t.kexDH(dhGroup16(), crypto.SHA512, magics)
	default:
		return nil, errors.New("transport: unsupported kex algorithm " + algo)
	}
}

// kexCurve25519 implements RFC 8731: client generates an ephemeral X25519
// keypair, sends the public value in a kexECDHInitMsg, and the exchange
// hash is computed the same way as the NIST-curve ECDH KEX.
func (t *Transport) kexCurve25519(magics *handshakeMagics) (*kexResult, error) {
	var priv [32]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	init := &kexECDHInitMsg{ClientPubKey: pub}
	if err := t.sendPacket(init.marshal()); err != nil {
		return nil, err
	}
	packet, err := t.recvPacket()
	if err != nil {
		return nil, err
	}
	reply := parseKexECDHReplyMsg(packet)

	secret, err := curve25519.X25519(priv[:], reply.EphemeralPubKey)
	if err != nil {
		return nil, err
	}
	K := new(big.Int).SetBytes(secret)

	h := sha256.New()
	writeKexHashFields(h, magics, reply.HostKey, pub, reply.EphemeralPubKey, K)

	return &kexResult{
		K: K, H: h.Sum(nil), HostKey: reply.HostKey,
		Signature: reply.Signature, HashFunc: crypto.SHA256,
	}, nil
}

// kexECDH implements RFC 5656 ECDH key exchange over a NIST curve.
func (t *Transport) kexECDH(curve elliptic.Curve, hashID crypto.Hash, magics *handshakeMagics) (*kexResult, error) {
	ephKey, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return nil, err
	}
	clientPub := elliptic.Marshal(curve, ephKey.PublicKey.X, ephKey.PublicKey.Y)

	init := &kexECDHInitMsg{ClientPubKey: clientPub}
	if err := t.sendPacket(init.marshal()); err != nil {
		return nil, err
	}
	packet, err := t.recvPacket()
	if err != nil {
		return nil, err
	}
	reply := parseKexECDHReplyMsg(packet)

	x, y := elliptic.Unmarshal(curve, reply.EphemeralPubKey)
	if x == nil {
		return nil, errors.New("transport: invalid server ephemeral point")
	}
	if !curve.IsOnCurve(x, y) {
		return nil, errors.New("transport: server ephemeral point not on curve")
	}
	secretX, _ := curve.ScalarMult(x, y, ephKey.D.Bytes())
	K := secretX

	h := newHash(hashID)
	writeKexHashFields(h, magics, reply.HostKey, clientPub, reply.EphemeralPubKey, K)

	return &kexResult{
		K: K, H: h.Sum(nil), HostKey: reply.HostKey,
		Signature: reply.Signature, HashFunc: hashID,
	}, nil
}

// kexDH implements RFC 4253 section 8 finite-field Diffie-Hellman.
func (t *Transport) kexDH(group *dhGroup, hashID crypto.Hash, magics *handshakeMagics) (*kexResult, error) {
	x, err := rand.Int(rand.Reader, group.p)
	if err != nil {
		return nil, err
	}
	X := new(big.Int).Exp(group.g, x, group.p)

	if err := t.sendPacket((&kexDHInitMsg{X: X}).marshal()); err != nil {
		return nil, err
	}
	packet, err := t.recvPacket()
	if err != nil {
		return nil, err
	}
	reply := parseKexDHReplyMsg(packet)

	K, err := group.diffieHellman(reply.Y, x)
	if err != nil {
		return nil, err
	}

	h := newHash(hashID)
	write := func(b []byte) { h.Write(wire.PutBytes(nil, b)) }
	write(magics.clientVersion)
	write(magics.serverVersion)
	write(magics.clientKexInit)
	write(magics.serverKexInit)
	write(reply.HostKey)
	h.Write(wire.PutMPInt(nil, X))
	h.Write(wire.PutMPInt(nil, reply.Y))
	h.Write(wire.PutMPInt(nil, K))

	return &kexResult{
		K: K, H: h.Sum(nil), HostKey: reply.HostKey,
		Signature: reply.Signature, HashFunc: hashID,
	}, nil
}

func newHash(id crypto.Hash) hash.Hash {
	switch id {
	case crypto.SHA256:
		return sha256.New()
	case crypto.SHA384:
		return sha512.New384()
	default:
		return sha512.New()
	}
}

func writeKexHashFields(h hash.Hash, magics *handshakeMagics, hostKey, clientPub, serverPub []byte, K *big.Int) {
	write := func(b []byte) { h.Write(wire.PutBytes(nil, b)) }
	write(magics.clientVersion)
	write(magics.serverVersion)
	write(magics.clientKexInit)
	write(magics.serverKexInit)
	write(hostKey)
	write(clientPub)
	write(serverPub)
	h.Write(wire.PutMPInt(nil, K))
}

// dhGroup is a multiplicative group for finite-field Diffie-Hellman,
// grounded in massiveart-go.crypto/ssh/common.go's dhGroup.
type dhGroup struct {
	g, p *big.Int
}

func (grp *dhGroup) diffieHellman(theirPublic, myPrivate *big.Int) (*big.Int, error) {
	if theirPublic.Sign() <= 0 || theirPublic.Cmp(grp.p) >= 0 {
		return nil, errors.New("transport: dh parameter out of bounds")
	}
	return new(big.Int).Exp(theirPublic, myPrivate, grp.p), nil
}

// dhGroup14 is Oakley Group 14 (RFC 3526 section 3), used with SHA-256.
func dhGroup14() *dhGroup {
	p, _ := new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF", 16)
	return &dhGroup{g: big.NewInt(2), p: p}
}

// dhGroup16 is Oakley Group 16 (RFC 3526 section 5), used with SHA-512.
func dhGroup16() *dhGroup {
	p, _ := new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF", 16)
	return &dhGroup{g: big.NewInt(2), p: p}
}
