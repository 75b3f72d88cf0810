package sshkit

import (
	"testing"

	"github.com/richardjennings/sshkit/internal/wire"
	"github.com/richardjennings/sshkit/muxchannel"
)

// acceptChannelOpen reads one CHANNEL_OPEN off f.toServer and replies
// CHANNEL_OPEN_CONFIRMATION, echoing back the client's local id.
func acceptChannelOpen(f *fakeSender) {
	raw := <-f.toServer
	_, rest := wire.String(raw[1:])
	localID, _ := wire.Uint32(rest)
	reply := []byte{91} // SSH_MSG_CHANNEL_OPEN_CONFIRMATION
	reply = wire.PutUint32(reply, localID)
	reply = wire.PutUint32(reply, localID+1)
	reply = wire.PutUint32(reply, 1<<20)
	reply = wire.PutUint32(reply, 32768)
	f.toClient <- reply
}

// acceptExecRequest reads one CHANNEL_REQUEST off f.toServer without
// inspecting it, and replies CHANNEL_SUCCESS against localID.
func acceptExecRequest(f *fakeSender, localID uint32) {
	<-f.toServer
	reply := []byte{99} // SSH_MSG_CHANNEL_SUCCESS
	reply = wire.PutUint32(reply, localID)
	f.toClient <- reply
}

func sendChannelData(f *fakeSender, localID uint32, data []byte) {
	b := []byte{94} // SSH_MSG_CHANNEL_DATA
	b = wire.PutUint32(b, localID)
	b = wire.PutBytes(b, data)
	f.toClient <- b
}

func sendExitStatus(f *fakeSender, localID uint32, status uint32) {
	b := []byte{98} // SSH_MSG_CHANNEL_REQUEST
	b = wire.PutUint32(b, localID)
	b = wire.PutString(b, "exit-status")
	b = wire.PutBool(b, false)
	b = wire.PutUint32(b, status)
	f.toClient <- b
}

func sendChannelEOFAndClose(f *fakeSender, localID uint32) {
	eof := []byte{96} // SSH_MSG_CHANNEL_EOF
	eof = wire.PutUint32(eof, localID)
	f.toClient <- eof
	closeMsg := []byte{97} // SSH_MSG_CHANNEL_CLOSE
	closeMsg = wire.PutUint32(closeMsg, localID)
	f.toClient <- closeMsg
}

func newTestClientOverMux(f *fakeSender) *Client {
	m := muxchannel.NewMux(f)
	go m.Serve()
	return &Client{mux: m}
}

// TestClientExecReturnsNilExitStatusOnUnexpectedClose exercises spec
// section 8 scenario 6: the server closes the exec channel mid-stream,
// without ever sending exit-status.
func TestClientExecReturnsNilExitStatusOnUnexpectedClose(t *testing.T) {
	f := newFakeSender()
	c := newTestClientOverMux(f)

	go func() {
		acceptChannelOpen(f)
		acceptExecRequest(f, 0)
		sendChannelData(f, 0, []byte("partial output"))
		sendChannelEOFAndClose(f, 0)
	}()

	res, err := c.Exec("tail -f /var/log/x")
	if err != nil {
		t.Fatalf("expected Exec to succeed despite unexpected close: %v", err)
	}
	if string(res.Stdout) != "partial output" {
		t.Fatalf("got stdout %q", res.Stdout)
	}
	if res.ExitStatus != nil {
		t.Fatalf("expected nil exit status on unexpected close, got %v", *res.ExitStatus)
	}
}

// TestClientExecReopensAfterPriorUnexpectedClose exercises the second
// half of scenario 6: a subsequent Exec call transparently opens a new
// channel and behaves normally, unaffected by the previous call's close.
func TestClientExecReopensAfterPriorUnexpectedClose(t *testing.T) {
	f := newFakeSender()
	c := newTestClientOverMux(f)

	go func() {
		acceptChannelOpen(f)
		acceptExecRequest(f, 0)
		sendChannelEOFAndClose(f, 0)
	}()
	if _, err := c.Exec("first"); err != nil {
		t.Fatalf("first exec: %v", err)
	}
	<-f.toServer // drain the CHANNEL_CLOSE Exec's deferred sess.Close() sent

	go func() {
		acceptChannelOpen(f)
		acceptExecRequest(f, 1)
		sendChannelData(f, 1, []byte("ok\n"))
		sendExitStatus(f, 1, 0)
		sendChannelEOFAndClose(f, 1)
	}()
	res, err := c.Exec("second")
	if err != nil {
		t.Fatalf("second exec: %v", err)
	}
	if string(res.Stdout) != "ok\n" {
		t.Fatalf("got stdout %q", res.Stdout)
	}
	if res.ExitStatus == nil || *res.ExitStatus != 0 {
		t.Fatalf("got exit status %v", res.ExitStatus)
	}
}
