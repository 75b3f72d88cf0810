package sftp

import (
	"fmt"
	"io"
	"sync"

	"github.com/richardjennings/sshkit/errs"
	"github.com/richardjennings/sshkit/muxchannel"
)

// maxClientVersion is the highest SFTP version this client speaks. Spec
// section 9 resolves the negotiation open question as "request the
// client's maximum, then downgrade to whatever the server actually
// offers" rather than usftp's session.go, which hard-codes a check that
// the server's version equals exactly 3.
const maxClientVersion = 3

// Client is one SFTP subsystem session multiplexed over a single
// muxchannel.Channel, consolidating the request/reply correlation usftp
// splits awkwardly between reader.go, writer.go, packet.go, and a
// near-duplicate copy of all three inside session.go.
type Client struct {
	ch     *muxchannel.Channel // nil in tests that construct a Client directly over an io.Pipe
	closer io.Closer
	w      io.Writer
	r      io.Reader

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]chan Msg
	nextID    uint32

	version    uint32
	extensions map[string]string

	readErrMu sync.Mutex
	readErr   error
	done      chan struct{}

	cwd                    string
	preserveDates          bool
	canonicalizePaths      bool

	cache *statCache
}

// Open starts the "sftp" subsystem on ch and performs the SSH_FXP_INIT /
// SSH_FXP_VERSION handshake.
func Open(ch *muxchannel.Channel) (*Client, error) {
	ok, err := ch.Subsystem("sftp")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.NewError(errs.KindSftpFailure, "sftp.Open", fmt.Errorf("server refused sftp subsystem"))
	}
	c := &Client{
		ch:         ch,
		closer:     ch,
		w:          ch,
		r:          ch.Stdout(),
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

	go c.readLoop()

	if err := c.send(&initReq{Version: maxClientVersion}); err != nil {
		return nil, err
	}
	msg, err := c.await(versionCh)
	if err != nil {
		return nil, err
	}
	vr, ok := msg.(*versionResp)
	if !ok {
		return nil, errs.NewError(errs.KindProtocolError, "sftp.Open", fmt.Errorf("expected SSH_FXP_VERSION, got %T", msg))
	}
	c.version = vr.Version
	if c.version > maxClientVersion {
		c.version = maxClientVersion
	}
	for _, e := range vr.Extensions {
		c.extensions[e.Type] = e.Data
	}
	return c, nil
}

// Close ends the sftp subsystem by closing the underlying channel.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Version returns the negotiated protocol version.
func (c *Client) Version() uint32 { return c.version }

// Extension returns the value of a server-advertised extension pair from
// SSH_FXP_VERSION, and whether it was present.
func (c *Client) Extension(name string) (string, bool) {
	v, ok := c.extensions[name]
	return v, ok
}

// EnableDatePreservation records the date-preservation setting (spec
// section 6, enable_date_preservation). Neither Put nor Get copies
// atime/mtime onto the destination, so the setting does not change what
// a transfer does.
func (c *Client) EnableDatePreservation(on bool) { c.preserveDates = on }

// EnablePathCanonicalization makes Chdir, Stat, LStat, RawList and Get
// (and the helpers built on them) resolve their path through REALPATH
// before use (spec section 6, enable_path_canonicalization). The other
// operations send the path joined onto the working directory without a
// REALPATH round trip.
func (c *Client) EnablePathCanonicalization(on bool) { c.canonicalizePaths = on }

func (c *Client) nextRequestID() uint32 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *Client) registerPending(id uint32) chan Msg {
	ch := make(chan Msg, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *Client) unregisterPending(id uint32) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) send(m Msg) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writePacket(c.w, m)
}

// request sends m and blocks for the correlated reply keyed by req id.
func (c *Client) request(id uint32, m Msg) (Msg, error) {
	replyCh := c.registerPending(id)
	defer c.unregisterPending(id)
	if err := c.send(m); err != nil {
		return nil, err
	}
	return c.await(replyCh)
}

func (c *Client) await(ch chan Msg) (Msg, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-c.done:
		return nil, c.fatalErr()
	}
}

func (c *Client) fatalErr() error {
	c.readErrMu.Lock()
	defer c.readErrMu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return errs.NewError(errs.KindConnectionClosed, "sftp", io.ErrClosedPipe)
}

// readLoop demultiplexes inbound messages by request id into the
// per-request reply channel, grounded in usftp's reader.go handler, run
// here as a single loop rather than usftp's separate reader type plus a
// duplicate inline copy in session.go.
func (c *Client) readLoop() {
	for {
		msg, err := readPacket(c.r)
		if err != nil {
			c.readErrMu.Lock()
			c.readErr = errs.NewError(errs.KindConnectionClosed, "sftp.readLoop", err)
			c.readErrMu.Unlock()
			close(c.done)
			c.drainPending()
			return
		}
		id := replyID(msg)
		c.pendingMu.Lock()
		replyCh, ok := c.pending[id]
		c.pendingMu.Unlock()
		if !ok {
			continue
		}
		replyCh <- msg
	}
}

func (c *Client) drainPending() {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func replyID(m Msg) uint32 {
	switch v := m.(type) {
	case *versionResp:
		return 0
	case *statusResp:
		return v.ID
	case *handleResp:
		return v.ID
	case *dataResp:
		return v.ID
	case *nameResp:
		return v.ID
	case *attrsResp:
		return v.ID
	case *extendedReplyResp:
		return v.ID
	default:
		return 0
	}
}

// statusErr translates a SSH_FXP_STATUS into the errs taxonomy, spec
// section 4.4's mapping of wire status codes to library error kinds.
func statusErr(op string, s *statusResp) error {
	if s.Code == fxOK {
		return nil
	}
	var kind errs.ErrorKind
	switch s.Code {
	case fxEOF:
		return io.EOF
	case fxNoSuchFile:
		kind = errs.KindNoSuchFile
	case fxPermissionDenied:
		kind = errs.KindPermissionDenied
	case fxOpUnsupported:
		kind = errs.KindOpUnsupported
	case fxBadMessage:
		kind = errs.KindBadMessage
	case fxNoConnection, fxConnectionLost:
		kind = errs.KindConnectionClosed
	default:
		kind = errs.KindSftpFailure
	}
	msg := s.Message
	if msg == "" {
		msg = fmt.Sprintf("status code %d", s.Code)
	}
	return errs.NewError(kind, op, fmt.Errorf("%s", msg))
}

func asStatus(op string, m Msg) error {
	s, ok := m.(*statusResp)
	if !ok {
		return errs.NewError(errs.KindProtocolError, op, fmt.Errorf("unexpected reply %T", m))
	}
	return statusErr(op, s)
}
