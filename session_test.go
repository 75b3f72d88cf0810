package sshkit

import (
	"io"
	"testing"

	"github.com/richardjennings/sshkit/internal/wire"
	"github.com/richardjennings/sshkit/muxchannel"
)

// fakeSender is an in-process sender for muxchannel.NewMux, mirrored
// after muxchannel's own test double since that one is unexported.
type fakeSender struct {
	toServer chan []byte
	toClient chan []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{toServer: make(chan []byte, 16), toClient: make(chan []byte, 16)}
}

func (f *fakeSender) Send(b []byte) error {
	f.toServer <- append([]byte{}, b...)
	return nil
}

func (f *fakeSender) Recv() ([]byte, error) {
	b, ok := <-f.toClient
	if !ok {
		return nil, io.EOF
	}
	return b, nil
}

func openTestSession(t *testing.T) (*Session, *fakeSender) {
	t.Helper()
	f := newFakeSender()
	m := muxchannel.NewMux(f)
	go m.Serve()

	go func() {
		raw := <-f.toServer
		_, rest := wire.String(raw[1:])
		localID, _ := wire.Uint32(rest)
		reply := []byte{91} // SSH_MSG_CHANNEL_OPEN_CONFIRMATION
		reply = wire.PutUint32(reply, localID)
		reply = wire.PutUint32(reply, 1)
		reply = wire.PutUint32(reply, 1<<20)
		reply = wire.PutUint32(reply, 32768)
		f.toClient <- reply
	}()

	ch, err := m.OpenChannel("session", nil)
	if err != nil {
		t.Fatal(err)
	}
	return &Session{ch: ch}, f
}

func TestSessionExecRequestsExec(t *testing.T) {
	s, f := openTestSession(t)
	go func() {
		raw := <-f.toServer
		if raw[0] != 98 { // SSH_MSG_CHANNEL_REQUEST
			t.Errorf("got msg type %d", raw[0])
		}
		_, rest := wire.Uint32(raw[1:])
		reqType, _ := wire.String(rest)
		if reqType != "exec" {
			t.Errorf("got request type %q", reqType)
		}
		reply := []byte{99} // SSH_MSG_CHANNEL_SUCCESS
		reply = wire.PutUint32(reply, 0)
		f.toClient <- reply
	}()
	if err := s.Exec("ls -la"); err != nil {
		t.Fatalf("expected exec to be accepted: %v", err)
	}
}

func TestSessionSetEnvQuietModeSuppressesRefusal(t *testing.T) {
	s, f := openTestSession(t)
	s.EnableQuietMode(true)
	go func() {
		<-f.toServer
		reply := []byte{100} // SSH_MSG_CHANNEL_FAILURE
		reply = wire.PutUint32(reply, 0)
		f.toClient <- reply
	}()
	if err := s.SetEnv("LANG", "C"); err != nil {
		t.Fatalf("quiet mode should suppress refusal error: %v", err)
	}
}
