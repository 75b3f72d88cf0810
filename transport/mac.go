package transport

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"errors"
	"hash"

	"github.com/richardjennings/sshkit/internal/wire"
)

const (
	macHMACSHA1       = "hmac-sha1"
	macHMACSHA2256    = "hmac-sha2-256"
	macHMACSHA2256ETM = "hmac-sha2-256-etm@openssh.com"
)

// messageAuth is the "MAC" collaborator from spec section 6: init with a
// key, then compute a tag over the sequence number and packet bytes.
type messageAuth struct {
	key    []byte
	hashFn func() hash.Hash
	etm    bool
}

func newMAC(name string, key []byte) (*messageAuth, error) {
	switch name {
	case macHMACSHA1:
		return &messageAuth{key: key, hashFn: sha1.New}, nil
	case macHMACSHA2256:
		return &messageAuth{key: key, hashFn: sha256.New}, nil
	case macHMACSHA2256ETM:
		return &messageAuth{key: key, hashFn: sha256.New, etm: true}, nil
	default:
		return nil, errors.New("transport: unsupported mac " + name)
	}
}

func macKeySize(name string) int {
	switch name {
	case macHMACSHA1:
		return 20
	case macHMACSHA2256, macHMACSHA2256ETM:
		return 32
	default:
		return 0
	}
}

func macIsETM(name string) bool {
	return name == macHMACSHA2256ETM
}

// sign computes the MAC over seqNum || data, per RFC 4253 section 6.4.
func (m *messageAuth) sign(seqNum uint32, data []byte) []byte {
	h := hmac.New(m.hashFn, m.key)
	h.Write(wire.PutUint32(nil, seqNum))
	h.Write(data)
	return h.Sum(nil)
}

func (m *messageAuth) size() int {
	return m.hashFn().Size()
}
