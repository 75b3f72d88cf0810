package transport

import (
	"bytes"
	"testing"
)

func TestDirectionPlaintextRoundTrip(t *testing.T) {
	w := newDirection()
	var buf bytes.Buffer
	payload := []byte("hello kexinit")
	if err := w.sendPacket(&buf, payload); err != nil {
		t.Fatal(err)
	}
	r := newDirection()
	got, err := r.recvPacket(&buf, defaultMaxPacketLength)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
	if w.seqNum != 1 || r.seqNum != 1 {
		t.Fatalf("expected sequence numbers to advance, got write=%d read=%d", w.seqNum, r.seqNum)
	}
}

func TestDirectionCTRWithMACRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	iv := bytes.Repeat([]byte{0x22}, 16)
	macKey := bytes.Repeat([]byte{0x33}, 32)

	newSide := func() *direction {
		c, err := newCipher(cipherAES256CTR, key, iv)
		if err != nil {
			t.Fatal(err)
		}
		m, err := newMAC(macHMACSHA2256, macKey)
		if err != nil {
			t.Fatal(err)
		}
		d := newDirection()
		d.cipher = c
		d.mac = m
		return d
	}

	w := newSide()
	r := newSide()

	var buf bytes.Buffer
	for i, payload := range [][]byte{[]byte("packet one"), []byte("packet two, a bit longer this time")} {
		if err := w.sendPacket(&buf, payload); err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		got, err := r.recvPacket(&buf, defaultMaxPacketLength)
		if err != nil {
			t.Fatalf("packet %d: %v", i, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("packet %d: got %q want %q", i, got, payload)
		}
	}
}

func TestDirectionAEADRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x44}, 32)
	iv := bytes.Repeat([]byte{0x55}, 12)

	newSide := func() *direction {
		c, err := newCipher(cipherAES256GCM, key, iv)
		if err != nil {
			t.Fatal(err)
		}
		d := newDirection()
		d.cipher = c
		return d
	}

	w := newSide()
	r := newSide()
	var buf bytes.Buffer
	payload := []byte("sftp data chunk")
	if err := w.sendPacket(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := r.recvPacket(&buf, defaultMaxPacketLength)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestDirectionETMRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x66}, 32)
	iv := bytes.Repeat([]byte{0x77}, 16)
	macKey := bytes.Repeat([]byte{0x88}, 32)

	newSide := func() *direction {
		c, err := newCipher(cipherAES256CTR, key, iv)
		if err != nil {
			t.Fatal(err)
		}
		m, err := newMAC(macHMACSHA2256ETM, macKey)
		if err != nil {
			t.Fatal(err)
		}
		d := newDirection()
		d.cipher = c
		d.mac = m
		d.etm = true
		return d
	}

	w := newSide()
	r := newSide()
	var buf bytes.Buffer
	payload := []byte("etm covers the ciphertext, not the plaintext")
	if err := w.sendPacket(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := r.recvPacket(&buf, defaultMaxPacketLength)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestRecvPacketRejectsOversizeLength(t *testing.T) {
	w := newDirection()
	var buf bytes.Buffer
	if err := w.sendPacket(&buf, bytes.Repeat([]byte{'x'}, 100)); err != nil {
		t.Fatal(err)
	}
	r := newDirection()
	if _, err := r.recvPacket(&buf, 16); err == nil {
		t.Fatal("expected oversize packet to be rejected")
	}
}
