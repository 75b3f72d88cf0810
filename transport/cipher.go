package transport

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// Algorithm name constants for the cipher/MAC/compression/KEX categories,
// RFC 4253 section 6.3/6.4/6.2 plus the OpenSSH AEAD extensions.
const (
	cipherAES128CTR        = "aes128-ctr"
	cipherAES192CTR        = "aes192-ctr"
	cipherAES256CTR        = "aes256-ctr"
	cipherAES256GCM        = "aes256-gcm@openssh.com"
	cipherChaCha20Poly1305 = "chacha20-poly1305@openssh.com"
)

// streamCipher is the "Symmetric cipher" collaborator from spec section 6:
// init with key+IV, then encrypt/decrypt in a streaming mode. AEAD modes
// additionally seal/open with the packet length as associated data.
type streamCipher interface {
	// blockSize is the cipher's block size for padding-length math;
	// stream ciphers like CTR report the underlying block cipher's size.
	blockSize() int
	// ivSize and keySize report the key-derivation lengths this cipher needs.
	ivSize() int
	keySize() int
	// aead reports whether this cipher supersedes a separate MAC.
	aead() bool
	// xorKeyStream advances the stream and encrypts/decrypts data in place
	// (used only by non-AEAD ciphers).
	xorKeyStream(dst, src []byte)
	// seal/open are used only by AEAD ciphers; seqNum selects the nonce.
	seal(seqNum uint32, plaintext, associatedData []byte) []byte
	open(seqNum uint32, ciphertext, associatedData []byte) ([]byte, error)
}

func newCipher(name string, key, iv []byte) (streamCipher, error) {
	switch name {
	case cipherAES128CTR, cipherAES192CTR, cipherAES256CTR:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		stream := cipher.NewCTR(block, iv)
		return &ctrCipher{stream: stream, block: block}, nil
	case cipherAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, err
		}
		return &aeadCipher{aead: aead, fixedIV: iv, block: 16}, nil
	case cipherChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key[:chacha20poly1305.KeySize])
		if err != nil {
			return nil, err
		}
		return &aeadCipher{aead: aead, fixedIV: iv, block: 8}, nil
	default:
		return nil, errors.New("transport: unsupported cipher " + name)
	}
}

func cipherKeySize(name string) int {
	switch name {
	case cipherAES128CTR:
		return 16
	case cipherAES192CTR:
		return 24
	case cipherAES256CTR, cipherAES256GCM:
		return 32
	case cipherChaCha20Poly1305:
		return 64 // two chacha20 keys: main + length-field
	default:
		return 0
	}
}

func cipherIVSize(name string) int {
	switch name {
	case cipherAES128CTR, cipherAES192CTR, cipherAES256CTR:
		return aes.BlockSize
	case cipherAES256GCM:
		return 12
	case cipherChaCha20Poly1305:
		return 0
	default:
		return 0
	}
}

type ctrCipher struct {
	stream cipher.Stream
	block  cipher.Block
}

func (c *ctrCipher) blockSize() int { return c.block.BlockSize() }
func (c *ctrCipher) ivSize() int    { return c.block.BlockSize() }
func (c *ctrCipher) keySize() int   { return 0 }
func (c *ctrCipher) aead() bool     { return false }
func (c *ctrCipher) xorKeyStream(dst, src []byte) {
	c.stream.XorKeyStream(dst, src)
}
func (c *ctrCipher) seal(uint32, []byte, []byte) []byte            { panic("transport: seal on non-AEAD cipher") }
func (c *ctrCipher) open(uint32, []byte, []byte) ([]byte, error) { panic("transport: open on non-AEAD cipher") }

// aeadCipher wraps an AEAD (GCM or ChaCha20-Poly1305) whose nonce is the
// fixed IV with the low 32 or 64 bits replaced by the sequence number, per
// RFC 5647 / the OpenSSH AEAD extension.
type aeadCipher struct {
	aead    cipher.AEAD
	fixedIV []byte
	block   int
}

func (c *aeadCipher) blockSize() int { return c.block }
func (c *aeadCipher) ivSize() int    { return len(c.fixedIV) }
func (c *aeadCipher) keySize() int   { return 0 }
func (c *aeadCipher) aead() bool     { return true }
func (c *aeadCipher) xorKeyStream([]byte, []byte) {
	panic("transport: xorKeyStream on AEAD cipher")
}

func (c *aeadCipher) nonce(seqNum uint32) []byte {
	nonce := make([]byte, len(c.fixedIV))
	copy(nonce, c.fixedIV)
	n := len(nonce)
	nonce[n-4] ^= byte(seqNum >> 24)
	nonce[n-3] ^= byte(seqNum >> 16)
	nonce[n-2] ^= byte(seqNum >> 8)
	nonce[n-1] ^= byte(seqNum)
	return nonce
}

func (c *aeadCipher) seal(seqNum uint32, plaintext, associatedData []byte) []byte {
	return c.aead.Seal(nil, c.nonce(seqNum), plaintext, associatedData)
}

func (c *aeadCipher) open(seqNum uint32, ciphertext, associatedData []byte) ([]byte, error) {
	return c.aead.Open(nil, c.nonce(seqNum), ciphertext, associatedData)
}
