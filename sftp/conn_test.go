package sftp

import (
	"bytes"
	"io"
	"testing"
)

// testServer is a minimal in-process SFTP server speaking just enough of
// the wire protocol to drive Client against, without a real transport or
// muxchannel.Channel (mirrored after the fakeSender pattern already used
// in muxchannel's tests).
type testServer struct {
	fromClient io.Reader
	toClient   io.Writer
}

func newTestClient(t *testing.T) (*Client, *testServer) {
	t.Helper()
	cr, cw := io.Pipe() // client writes here, server reads
	sr, sw := io.Pipe() // server writes here, client reads

	c := &Client{
		w:          cw,
		r:          sr,
		pending:    make(map[uint32]chan Msg),
		extensions: make(map[string]string),
		done:       make(chan struct{}),
		cwd:        ".",
		cache:      newStatCache(),
	}
	versionCh := make(chan Msg, 1)
	c.pendingMu.Lock()
	c.pending[0] = versionCh
	c.pendingMu.Unlock()

	srv := &testServer{fromClient: cr, toClient: sw}

	go c.readLoop()

	go func() {
		msg, err := readPacket(srv.fromClient)
		if err != nil {
			return
		}
		if _, ok := msg.(*initReq); !ok {
			return
		}
		writePacket(srv.toClient, &versionResp{Version: maxClientVersion})
	}()

	if err := c.send(&initReq{Version: maxClientVersion}); err != nil {
		t.Fatal(err)
	}
	msg, err := c.await(versionCh)
	if err != nil {
		t.Fatal(err)
	}
	vr := msg.(*versionResp)
	c.version = vr.Version

	return c, srv
}

// respond runs fn against the next client request, replying as fn directs.
func (s *testServer) respond(t *testing.T, fn func(msg Msg) Msg) {
	t.Helper()
	go func() {
		msg, err := readPacket(s.fromClient)
		if err != nil {
			return
		}
		reply := fn(msg)
		if reply != nil {
			writePacket(s.toClient, reply)
		}
	}()
}

func TestClientStatRoundTrip(t *testing.T) {
	c, srv := newTestClient(t)
	srv.respond(t, func(msg Msg) Msg {
		req := msg.(*statReq)
		if req.Path != "/tmp/foo" {
			t.Fatalf("got path %q", req.Path)
		}
		return &attrsResp{Header: Header{ID: req.ID}, Attrs: Attrs{HaveSize: true, Size: 42}}
	})
	a, err := c.Stat("/tmp/foo")
	if err != nil {
		t.Fatal(err)
	}
	if a.Size != 42 {
		t.Fatalf("got size %d", a.Size)
	}
}

func TestClientStatDoesNotCacheWithoutListing(t *testing.T) {
	c, srv := newTestClient(t)
	calls := 0
	for i := 0; i < 2; i++ {
		srv.respond(t, func(msg Msg) Msg {
			calls++
			req := msg.(*statReq)
			return &attrsResp{Header: Header{ID: req.ID}, Attrs: Attrs{HaveSize: true, Size: 7}}
		})
		if _, err := c.Stat("/a"); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected every bare Stat to hit the wire, got %d calls", calls)
	}
}

func TestClientStatCachesAfterRawList(t *testing.T) {
	c, srv := newTestClient(t)
	srv.respond(t, func(msg Msg) Msg {
		req := msg.(*opendirReq)
		return &handleResp{Header: Header{ID: req.ID}, Handle: "d1"}
	})
	go func() {
		msg, err := readPacket(srv.fromClient)
		if err != nil {
			return
		}
		req := msg.(*readdirReq)
		writePacket(srv.toClient, &nameResp{Header: Header{ID: req.ID}, Entries: []nameEntry{
			{Filename: "a", Attrs: Attrs{HaveSize: true, Size: 7}},
		}})
		msg, err = readPacket(srv.fromClient)
		if err != nil {
			return
		}
		req = msg.(*readdirReq)
		writePacket(srv.toClient, &statusResp{Header: Header{ID: req.ID}, Code: fxEOF})
		msg, err = readPacket(srv.fromClient)
		if err != nil {
			return
		}
		closeReq := msg.(*closeReq)
		writePacket(srv.toClient, &statusResp{Header: Header{ID: closeReq.ID}, Code: fxOK})
	}()
	if _, err := c.RawList("/dir"); err != nil {
		t.Fatal(err)
	}
	a, ok := c.cache.get("/dir/a")
	if !ok || a.Size != 7 {
		t.Fatalf("expected /dir/a cached after listing /dir, got %+v, %v", a, ok)
	}
}

func TestClientStatusErrorMapping(t *testing.T) {
	c, srv := newTestClient(t)
	srv.respond(t, func(msg Msg) Msg {
		req := msg.(*statReq)
		return &statusResp{Header: Header{ID: req.ID}, Code: fxNoSuchFile, Message: "no such file"}
	})
	_, err := c.Stat("/missing")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClientGetPipelinesReads(t *testing.T) {
	c, srv := newTestClient(t)
	content := bytes.Repeat([]byte("x"), transferChunk*3+10)

	srv.respond(t, func(msg Msg) Msg {
		req := msg.(*statReq)
		return &attrsResp{Header: Header{ID: req.ID}, Attrs: Attrs{HaveSize: true, Size: uint64(len(content))}}
	})
	go func() {
		msg, err := readPacket(srv.fromClient)
		if err != nil {
			return
		}
		req := msg.(*openReq)
		writePacket(srv.toClient, &handleResp{Header: Header{ID: req.ID}, Handle: "h1"})

		for {
			m, err := readPacket(srv.fromClient)
			if err != nil {
				return
			}
			switch rr := m.(type) {
			case *readReq:
				start := rr.Offset
				if start >= uint64(len(content)) {
					writePacket(srv.toClient, &statusResp{Header: Header{ID: rr.ID}, Code: fxEOF})
					continue
				}
				end := start + uint64(rr.Len)
				if end > uint64(len(content)) {
					end = uint64(len(content))
				}
				writePacket(srv.toClient, &dataResp{Header: Header{ID: rr.ID}, Data: content[start:end]})
			case *closeReq:
				writePacket(srv.toClient, &statusResp{Header: Header{ID: rr.ID}, Code: fxOK})
				return
			}
		}
	}()

	var buf bytes.Buffer
	if err := c.Get("/big", &buf, 0, 0, nil); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf.Bytes(), content) {
		t.Fatalf("got %d bytes, want %d", buf.Len(), len(content))
	}
}
