package muxchannel

import (
	"io"
	"testing"

	"github.com/richardjennings/sshkit/internal/wire"
)

// fakeSender is an in-process stand-in for *transport.Transport: sent
// packets are appended to a queue a test "server" goroutine drains and
// responds to by queuing replies for Recv.
type fakeSender struct {
	toServer chan []byte
	toClient chan []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{toServer: make(chan []byte, 16), toClient: make(chan []byte, 16)}
}

func (f *fakeSender) Send(b []byte) error {
	cp := append([]byte{}, b...)
	f.toServer <- cp
	return nil
}

func (f *fakeSender) Recv() ([]byte, error) {
	b, ok := <-f.toClient
	if !ok {
		return nil, io.EOF
	}
	return b, nil
}

func TestOpenChannelConfirm(t *testing.T) {
	f := newFakeSender()
	m := NewMux(f)
	go m.Serve()

	// Drive the server side by hand: read the CHANNEL_OPEN, reply with
	// CHANNEL_OPEN_CONFIRMATION using the local id the client sent.
	go func() {
		raw := <-f.toServer
		_, rest := wire.String(raw[1:]) // chan type
		localID, _ := wire.Uint32(rest)
		reply := []byte{msgChannelOpenConfirm}
		reply = wire.PutUint32(reply, localID)
		reply = wire.PutUint32(reply, 42) // remote id
		reply = wire.PutUint32(reply, 1<<20)
		reply = wire.PutUint32(reply, 32768)
		f.toClient <- reply
	}()

	ch, err := m.OpenChannel("session", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ch.remoteID != 42 {
		t.Fatalf("got remote id %d", ch.remoteID)
	}
	if ch.State() != StateOpen {
		t.Fatalf("got state %v", ch.State())
	}
}

func TestOpenChannelFailure(t *testing.T) {
	f := newFakeSender()
	m := NewMux(f)
	go m.Serve()

	go func() {
		raw := <-f.toServer
		_, rest := wire.String(raw[1:])
		localID, _ := wire.Uint32(rest)
		reply := []byte{msgChannelOpenFailure}
		reply = wire.PutUint32(reply, localID)
		reply = wire.PutUint32(reply, OpenFailureUnknownChannelType)
		reply = wire.PutString(reply, "nope")
		reply = wire.PutString(reply, "")
		f.toClient <- reply
	}()

	_, err := m.OpenChannel("session", nil)
	if err == nil {
		t.Fatal("expected channel open failure")
	}
}

func TestChannelDataDeliveredInOrder(t *testing.T) {
	f := newFakeSender()
	m := NewMux(f)
	go m.Serve()

	go func() {
		raw := <-f.toServer
		_, rest := wire.String(raw[1:])
		localID, _ := wire.Uint32(rest)
		reply := []byte{msgChannelOpenConfirm}
		reply = wire.PutUint32(reply, localID)
		reply = wire.PutUint32(reply, 7)
		reply = wire.PutUint32(reply, 1<<20)
		reply = wire.PutUint32(reply, 32768)
		f.toClient <- reply

		for _, chunk := range []string{"hello ", "world"} {
			data := []byte{msgChannelData}
			data = wire.PutUint32(data, localID)
			data = wire.PutBytes(data, []byte(chunk))
			f.toClient <- data
		}
	}()

	ch, err := m.OpenChannel("session", nil)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len("hello world"))
	if _, err := io.ReadFull(ch.Stdout(), buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "hello world" {
		t.Fatalf("got %q", buf)
	}
}
