// Package muxchannel implements RFC 4254 channel multiplexing over one
// transport.Transport: opening channels, flow-control windows, requests,
// and the data/extended-data/eof/close state machine. Grounded in
// massiveart-go.crypto/ssh/client.go's mainLoop demux and chanList, with
// the local channel table addressed by index per spec section 9's note
// on cyclic references (channels hold their table index, not a pointer
// back to the Mux's internals beyond the Mux reference itself, which
// mirrors massiveart-go.crypto's clientChan holding a *transport).
package muxchannel

import (
	"fmt"
	"sync"

	"github.com/richardjennings/sshkit/errs"
	"github.com/richardjennings/sshkit/internal/wire"
	"github.com/richardjennings/sshkit/transport"
)

// sender is the subset of *transport.Transport the mux depends on; tests
// substitute a fake.
type sender interface {
	Send([]byte) error
	Recv() ([]byte, error)
}

// Mux owns the channel table for one transport and runs the single
// demultiplexing loop spec section 5 requires ("a single read/write loop
// per connection drives all layers").
type Mux struct {
	t sender

	mu       sync.Mutex
	chans    []*Channel // indexed by local id
	nextID   uint32

	globalReplies chan globalReply

	closed  bool
	loopErr error
}

type globalReply struct {
	ok    bool
	extra []byte
}

// NewMux wraps a sender (normally a *transport.Transport) with a channel
// table. Call Serve in its own goroutine to drive the demux loop while
// the caller blocks on channel I/O.
func NewMux(t sender) *Mux {
	return &Mux{t: t, globalReplies: make(chan globalReply, 1)}
}

// New wraps a live transport.Transport, the constructor callers reach
// for outside of tests.
func New(t *transport.Transport) *Mux {
	return NewMux(t)
}

// Err returns the error that ended Serve, or nil while the mux is
// running or if it was never started.
func (m *Mux) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loopErr
}

// send serializes all channel/global-request traffic through the owning
// transport, per spec section 5's "socket owned exclusively by transport"
// policy generalized to "all writers share one exclusive send path".
func (m *Mux) send(payload []byte) error {
	return m.t.Send(payload)
}

func (m *Mux) newChannel(chanType string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	ch := newChannel(m, id, chanType)
	if int(id) == len(m.chans) {
		m.chans = append(m.chans, ch)
	} else {
		m.chans[id] = ch
	}
	return ch
}

func (m *Mux) getChannel(id uint32) (*Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) >= len(m.chans) {
		return nil, false
	}
	ch := m.chans[id]
	return ch, ch != nil
}

func (m *Mux) removeChannel(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(id) < len(m.chans) {
		m.chans[id] = nil
	}
}

// OpenChannel opens a new channel of the given type and blocks for the
// server's CHANNEL_OPEN_CONFIRMATION/CHANNEL_OPEN_FAILURE (spec section
// 4.3, "Opening").
func (m *Mux) OpenChannel(chanType string, extra []byte) (*Channel, error) {
	ch := m.newChannel(chanType)
	open := channelOpenMsg(chanType, ch.localID, defaultInitialWindow, defaultMaxPacket, extra)
	if err := m.send(open); err != nil {
		m.removeChannel(ch.localID)
		return nil, err
	}
	reply := <-ch.replies
	switch r := reply.(type) {
	case channelOpenConfirmMsg:
		ch.remoteID = r.RemoteID
		ch.remoteWindow.add(r.RemoteWindow)
		ch.remoteMax = r.RemoteMaxPkt
		ch.state = StateOpen
		return ch, nil
	case channelOpenFailureMsg:
		m.removeChannel(ch.localID)
		return nil, errs.NewError(errs.KindChannelOpenFailed, "muxchannel.OpenChannel",
			fmt.Errorf("reason %d: %s", r.ReasonCode, r.Description))
	default:
		m.removeChannel(ch.localID)
		return nil, errs.NewError(errs.KindProtocolError, "muxchannel.OpenChannel", nil)
	}
}

// GlobalRequest sends a SSH_MSG_GLOBAL_REQUEST and, if wantReply, blocks
// for SSH_MSG_REQUEST_SUCCESS/FAILURE. Used for keepalive@openssh.com
// (spec section 5, "Keep-alive") and tcpip-forward style requests.
func (m *Mux) GlobalRequest(name string, wantReply bool, extra []byte) (bool, []byte, error) {
	if err := m.send(globalRequestMsg(name, wantReply, extra)); err != nil {
		return false, nil, err
	}
	if !wantReply {
		return true, nil, nil
	}
	r := <-m.globalReplies
	return r.ok, r.extra, nil
}

// Serve runs the demultiplexing loop until the transport closes or a
// fatal protocol error occurs; intended to run in its own goroutine
// while the caller blocks on channel I/O.
func (m *Mux) Serve() error {
	for {
		packet, err := m.t.Recv()
		if err != nil {
			m.fail(err)
			return err
		}
		if len(packet) == 0 {
			continue
		}
		if err := m.dispatch(packet); err != nil {
			m.fail(err)
			return err
		}
	}
}

func (m *Mux) fail(err error) {
	m.mu.Lock()
	m.closed = true
	m.loopErr = err
	chans := append([]*Channel{}, m.chans...)
	m.mu.Unlock()
	for _, ch := range chans {
		if ch == nil {
			continue
		}
		ch.handleClose()
	}
}

func (m *Mux) dispatch(packet []byte) error {
	switch packet[0] {
	case msgChannelData:
		remoteID, rest := wire.Uint32(packet[1:])
		data, _ := wire.Bytes(rest)
		ch, ok := m.getChannel(remoteID)
		if !ok {
			return nil
		}
		ch.handleData(data)
	case msgChannelExtData:
		remoteID, rest := wire.Uint32(packet[1:])
		_, rest = wire.Uint32(rest) // data type code; only stderr (1) is meaningful
		data, _ := wire.Bytes(rest)
		ch, ok := m.getChannel(remoteID)
		if !ok {
			return nil
		}
		ch.handleExtData(data)
	case msgChannelOpenConfirm:
		msg := parseChannelOpenConfirm(packet)
		ch, ok := m.getChannel(msg.LocalID)
		if !ok {
			return nil
		}
		ch.replies <- msg
	case msgChannelOpenFailure:
		msg := parseChannelOpenFailure(packet)
		ch, ok := m.getChannel(msg.LocalID)
		if !ok {
			return nil
		}
		ch.replies <- msg
	case msgChannelWindowAdj:
		remoteID, rest := wire.Uint32(packet[1:])
		add, _ := wire.Uint32(rest)
		ch, ok := m.getChannel(remoteID)
		if !ok {
			return nil
		}
		if !ch.handleWindowAdjust(add) {
			return errs.NewError(errs.KindProtocolError, "muxchannel.dispatch", nil)
		}
	case msgChannelEOF:
		remoteID, _ := wire.Uint32(packet[1:])
		if ch, ok := m.getChannel(remoteID); ok {
			ch.handleEOF()
		}
	case msgChannelClose:
		remoteID, _ := wire.Uint32(packet[1:])
		if ch, ok := m.getChannel(remoteID); ok {
			ch.handleClose()
			m.removeChannel(remoteID)
		}
	case msgChannelRequest:
		req := parseChannelRequest(packet)
		if ch, ok := m.getChannel(req.LocalID); ok {
			ch.handleRequest(req)
		}
	case msgChannelSuccess:
		remoteID, _ := wire.Uint32(packet[1:])
		if ch, ok := m.getChannel(remoteID); ok {
			ch.reqReplies <- true
		}
	case msgChannelFailure:
		remoteID, _ := wire.Uint32(packet[1:])
		if ch, ok := m.getChannel(remoteID); ok {
			ch.reqReplies <- false
		}
	case msgRequestSuccess:
		m.globalReplies <- globalReply{ok: true, extra: packet[1:]}
	case msgRequestFailure:
		m.globalReplies <- globalReply{ok: false}
	case msgGlobalRequest:
		// Servers sometimes probe with a global request (e.g.
		// hostkeys-00@openssh.com); this client never has anything
		// useful to say, so decline politely.
		return m.send([]byte{msgRequestFailure})
	case msgChannelOpen:
		// The core never accepts incoming channel opens (no
		// forwarded-tcpip listeners configured); fail them per RFC
		// 4254 section 5.1.
		localID, _ := wire.Uint32(packet[1:])
		return m.refuseIncomingOpen(localID)
	}
	return nil
}

func (m *Mux) refuseIncomingOpen(remoteID uint32) error {
	b := []byte{msgChannelOpenFailure}
	b = wire.PutUint32(b, remoteID)
	b = wire.PutUint32(b, OpenFailureAdministrativelyProhibited)
	b = wire.PutString(b, "not supported")
	b = wire.PutString(b, "")
	return m.send(b)
}
