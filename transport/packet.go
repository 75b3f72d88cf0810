package transport

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"github.com/richardjennings/sshkit/errs"
)

// defaultMaxPacketLength is the default ceiling on a declared packet length
// (spec section 4.1, "binary packet protocol"); Transport.SetMaxPacketLength
// overrides it, e.g. for SFTP transfers with large buffer sizes.
const defaultMaxPacketLength = 256 * 1024

const minPaddingLength = 4

// direction holds the per-direction mutable crypto/sequence state. Spec
// section 5, "Shared resource policy": this state is exclusively owned by
// the transport and mutated only on send/recv/rekey-complete, which in
// this implementation means only direction.sendPacket and
// direction.recvPacket change it, and Transport.installKeys replaces it
// with a fresh direction once a key exchange completes.
type direction struct {
	seqNum     uint32
	cipher     streamCipher
	mac        *messageAuth
	compressor compressor
	etm        bool
}

func newDirection() *direction {
	return &direction{compressor: noneCompressor{}}
}

func (d *direction) blockSize() int {
	if d.cipher == nil {
		return 8
	}
	bs := d.cipher.blockSize()
	if bs < 8 {
		return 8
	}
	return bs
}

// sendPacket frames payload into a binary packet and writes it to w,
// encrypting/MACing according to this direction's negotiated algorithms,
// then increments the sequence number. Spec invariant: every outbound
// logical packet is covered by exactly one MAC/tag and sequence number.
func (d *direction) sendPacket(w io.Writer, payload []byte) error {
	payload, err := d.compressor.compress(payload)
	if err != nil {
		return errs.NewError(errs.KindProtocolError, "transport.sendPacket", err)
	}

	blockSize := d.blockSize()
	// 4 (length) + 1 (padding length) + payload + padding must be a
	// multiple of blockSize, with padding >= minPaddingLength.
	padLen := blockSize - (5+len(payload))%blockSize
	if padLen < minPaddingLength {
		padLen += blockSize
	}
	padding := make([]byte, padLen)
	if _, err := rand.Read(padding); err != nil {
		return errs.NewError(errs.KindIO, "transport.sendPacket", err)
	}

	packetLen := uint32(1 + len(payload) + padLen)
	lengthField := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthField, packetLen)

	plaintext := append([]byte{}, lengthField...)
	plaintext = append(plaintext, byte(padLen))
	plaintext = append(plaintext, payload...)
	plaintext = append(plaintext, padding...)

	if d.cipher == nil {
		if _, err := w.Write(plaintext); err != nil {
			return errs.NewError(errs.KindIO, "transport.sendPacket", err)
		}
		d.seqNum++
		return nil
	}

	if d.cipher.aead() {
		sealed := d.cipher.seal(d.seqNum, plaintext[4:], lengthField)
		out := append(append([]byte{}, lengthField...), sealed...)
		if _, err := w.Write(out); err != nil {
			return errs.NewError(errs.KindIO, "transport.sendPacket", err)
		}
		d.seqNum++
		return nil
	}

	if d.etm {
		// Encrypt-then-MAC: length field travels in clear, MAC covers
		// seqnum || length || ciphertext.
		ciphertext := make([]byte, len(plaintext)-4)
		d.cipher.xorKeyStream(ciphertext, plaintext[4:])
		tag := d.mac.sign(d.seqNum, append(append([]byte{}, lengthField...), ciphertext...))
		out := append(append([]byte{}, lengthField...), ciphertext...)
		out = append(out, tag...)
		if _, err := w.Write(out); err != nil {
			return errs.NewError(errs.KindIO, "transport.sendPacket", err)
		}
		d.seqNum++
		return nil
	}

	// MAC-then-encrypt (legacy): MAC over plaintext, then encrypt the
	// whole block stream including the length field.
	var tag []byte
	if d.mac != nil {
		tag = d.mac.sign(d.seqNum, plaintext)
	}
	ciphertext := make([]byte, len(plaintext))
	d.cipher.xorKeyStream(ciphertext, plaintext)
	out := append(ciphertext, tag...)
	if _, err := w.Write(out); err != nil {
		return errs.NewError(errs.KindIO, "transport.sendPacket", err)
	}
	d.seqNum++
	return nil
}

// recvPacket reads and decrypts one logical packet from r, verifying its
// MAC/tag, stripping padding, decompressing, and returning the payload.
func (d *direction) recvPacket(r io.Reader, maxLen uint32) ([]byte, error) {
	if d.cipher != nil && d.cipher.aead() {
		return d.recvAEAD(r, maxLen)
	}
	if d.etm {
		return d.recvETM(r, maxLen)
	}
	return d.recvLegacy(r, maxLen)
}

func (d *direction) recvAEAD(r io.Reader, maxLen uint32) ([]byte, error) {
	lengthField := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthField); err != nil {
		return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
	}
	packetLen := binary.BigEndian.Uint32(lengthField)
	if packetLen > maxLen {
		return nil, errs.NewError(errs.KindInvalidPacketLength, "transport.recvPacket", nil)
	}
	tagSize := 16
	body := make([]byte, int(packetLen)+tagSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
	}
	plain, err := d.cipher.open(d.seqNum, body, lengthField)
	if err != nil {
		return nil, errs.NewError(errs.KindMacError, "transport.recvPacket", err)
	}
	d.seqNum++
	return d.finishPayload(plain)
}

func (d *direction) recvETM(r io.Reader, maxLen uint32) ([]byte, error) {
	lengthField := make([]byte, 4)
	if _, err := io.ReadFull(r, lengthField); err != nil {
		return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
	}
	packetLen := binary.BigEndian.Uint32(lengthField)
	if packetLen > maxLen {
		return nil, errs.NewError(errs.KindInvalidPacketLength, "transport.recvPacket", nil)
	}
	ciphertext := make([]byte, packetLen)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
	}
	tag := make([]byte, d.mac.size())
	if _, err := io.ReadFull(r, tag); err != nil {
		return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
	}
	expected := d.mac.sign(d.seqNum, append(append([]byte{}, lengthField...), ciphertext...))
	if !hmacEqual(expected, tag) {
		return nil, errs.NewError(errs.KindMacError, "transport.recvPacket", nil)
	}
	plain := make([]byte, len(ciphertext))
	d.cipher.xorKeyStream(plain, ciphertext)
	d.seqNum++
	return d.finishPayload(plain)
}

func (d *direction) recvLegacy(r io.Reader, maxLen uint32) ([]byte, error) {
	blockSize := d.blockSize()
	firstBlock := make([]byte, blockSize)
	if _, err := io.ReadFull(r, firstBlock); err != nil {
		return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
	}
	if d.cipher != nil {
		d.cipher.xorKeyStream(firstBlock, firstBlock)
	}
	packetLen := binary.BigEndian.Uint32(firstBlock[:4])
	if packetLen > maxLen {
		return nil, errs.NewError(errs.KindInvalidPacketLength, "transport.recvPacket", nil)
	}
	rest := make([]byte, int(packetLen)-(blockSize-4))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
	}
	if d.cipher != nil {
		d.cipher.xorKeyStream(rest, rest)
	}
	plain := append(firstBlock[4:], rest...)

	if d.mac != nil {
		tag := make([]byte, d.mac.size())
		if _, err := io.ReadFull(r, tag); err != nil {
			return nil, errs.NewError(errs.KindConnectionClosed, "transport.recvPacket", err)
		}
		expected := d.mac.sign(d.seqNum, append(append([]byte{}, firstBlock[:4]...), plain...))
		if !hmacEqual(expected, tag) {
			return nil, errs.NewError(errs.KindMacError, "transport.recvPacket", nil)
		}
	}
	d.seqNum++
	return d.finishPayload(plain)
}

func (d *direction) finishPayload(plain []byte) ([]byte, error) {
	if len(plain) < 1 {
		return nil, errs.NewError(errs.KindProtocolError, "transport.recvPacket", errors.New("short packet"))
	}
	padLen := int(plain[0])
	if padLen < minPaddingLength || padLen+1 > len(plain) {
		return nil, errs.NewError(errs.KindProtocolError, "transport.recvPacket", errors.New("bad padding length"))
	}
	payload := plain[1 : len(plain)-padLen]
	return d.compressor.decompress(payload)
}

func hmacEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}
