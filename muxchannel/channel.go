package muxchannel

import (
	"io"
	"sync"

	"github.com/richardjennings/sshkit/internal/wire"
)

// State is a channel's position in the lifecycle from spec section 3:
// opening -> open -> closing -> closed. EOF in either direction is not a
// State of its own; it is tracked by the channel's eofSent/eofRecv flags.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

const defaultInitialWindow = 2 * 1024 * 1024
const defaultMaxPacket = 32 * 1024
const windowReplenishThreshold = defaultInitialWindow / 2

// Channel is one multiplexed logical stream over a Mux's transport,
// grounded in massiveart-go.crypto/ssh/client.go's clientChan but
// generalized to expose exec, shell, and subsystem session use, and the
// blocking stdout/stderr readers are plain io.Pipe instead of a custom
// chanWriter buffer.
type Channel struct {
	mux *Mux

	localID  uint32
	remoteID uint32

	chanType string

	localWindow  *window
	remoteWindow *window
	maxPacket    uint32
	remoteMax    uint32

	mu         sync.Mutex
	state      State
	eofSent    bool
	eofRecv    bool
	closeSent  bool
	closeRecv  bool
	exitStatus *int
	exitSignal string

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	replies chan interface{}
	reqReplies chan bool

	consumedSinceAdjust uint32
}

func newChannel(mux *Mux, localID uint32, chanType string) *Channel {
	sr, sw := io.Pipe()
	er, ew := io.Pipe()
	return &Channel{
		mux:          mux,
		localID:      localID,
		chanType:     chanType,
		localWindow:  newWindow(defaultInitialWindow),
		maxPacket:    defaultMaxPacket,
		remoteWindow: newWindow(0),
		stdoutR:      sr,
		stdoutW:      sw,
		stderrR:      er,
		stderrW:      ew,
		replies:      make(chan interface{}, 1),
		reqReplies:   make(chan bool, 1),
		state:        StateOpening,
	}
}

// LocalID returns this channel's local channel number.
func (c *Channel) LocalID() uint32 { return c.localID }

// Type returns the channel type string it was opened with.
func (c *Channel) Type() string { return c.chanType }

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stdout returns the channel's ordered DATA substream.
func (c *Channel) Stdout() io.Reader { return c.stdoutR }

// Stderr returns the channel's ordered EXTENDED_DATA substream.
func (c *Channel) Stderr() io.Reader { return c.stderrR }

// ExitStatus returns the exit-status reported by the server, or nil if
// the channel closed without one (spec section 8, scenario 6).
func (c *Channel) ExitStatus() *int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitStatus
}

// Write sends data on the channel, blocking to respect remote_window
// (spec section 4.3, "Data flow") and splitting into remoteMax-sized
// chunks.
func (c *Channel) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		n := c.remoteWindow.reserve(uint32(len(p)))
		if n == 0 {
			return total, io.ErrClosedPipe
		}
		if n > c.remoteMax {
			n = c.remoteMax
		}
		chunk := p[:n]
		if err := c.mux.send(channelDataMsg(c.remoteID, chunk)); err != nil {
			return total, err
		}
		total += int(n)
		p = p[n:]
	}
	return total, nil
}

// SendRequest issues a CHANNEL_REQUEST and, if wantReply, blocks for
// CHANNEL_SUCCESS/FAILURE.
func (c *Channel) SendRequest(requestType string, wantReply bool, extra []byte) (bool, error) {
	if err := c.mux.send(channelRequestMsg(c.remoteID, requestType, wantReply, extra)); err != nil {
		return false, err
	}
	if !wantReply {
		return true, nil
	}
	return <-c.reqReplies, nil
}

// Exec requests command execution on a session channel and waits for
// the server's accept/reject of the request.
func (c *Channel) Exec(command string) (bool, error) {
	extra := wire.PutString(nil, command)
	return c.SendRequest("exec", true, extra)
}

// Shell requests an interactive shell on a session channel.
func (c *Channel) Shell() (bool, error) {
	return c.SendRequest("shell", true, nil)
}

// Subsystem requests a named subsystem (e.g. "sftp") on a session channel.
func (c *Channel) Subsystem(name string) (bool, error) {
	return c.SendRequest("subsystem", true, wire.PutString(nil, name))
}

// RequestPTY requests a pseudo-terminal (spec section 6, enable_pty),
// RFC 4254 section 6.2's pty-req payload with no terminal modes set.
func (c *Channel) RequestPTY(term string, rows, cols uint32) (bool, error) {
	extra := wire.PutString(nil, term)
	extra = wire.PutUint32(extra, cols)
	extra = wire.PutUint32(extra, rows)
	extra = wire.PutUint32(extra, 0) // width in pixels
	extra = wire.PutUint32(extra, 0) // height in pixels
	extra = wire.PutString(extra, "")
	return c.SendRequest("pty-req", true, extra)
}

// SetEnv requests the server set one environment variable before shell/exec.
func (c *Channel) SetEnv(key, value string) (bool, error) {
	extra := wire.PutString(nil, key)
	extra = wire.PutString(extra, value)
	return c.SendRequest("env", true, extra)
}

// EOF signals no more data will be sent in this direction.
func (c *Channel) EOF() error {
	c.mu.Lock()
	if c.eofSent {
		c.mu.Unlock()
		return nil
	}
	c.eofSent = true
	c.mu.Unlock()
	return c.mux.send(channelEOFMsg(c.remoteID))
}

// Close tears the channel down: sends CHANNEL_CLOSE if not already sent
// and returns without waiting for the server's CHANNEL_CLOSE.
func (c *Channel) Close() error {
	c.mu.Lock()
	alreadySent := c.closeSent
	c.closeSent = true
	c.mu.Unlock()
	if !alreadySent {
		if err := c.mux.send(channelCloseMsg(c.remoteID)); err != nil {
			return err
		}
	}
	return nil
}

// handleData is invoked by the Mux's demux loop on CHANNEL_DATA.
func (c *Channel) handleData(data []byte) {
	c.stdoutW.Write(data)
	c.creditConsumed(uint32(len(data)))
}

func (c *Channel) handleExtData(data []byte) {
	c.stderrW.Write(data)
	c.creditConsumed(uint32(len(data)))
}

// creditConsumed replenishes the local window once consumption crosses
// the threshold (spec section 4.3, default half of initial window).
func (c *Channel) creditConsumed(n uint32) {
	c.mu.Lock()
	c.consumedSinceAdjust += n
	due := c.consumedSinceAdjust
	if due >= windowReplenishThreshold {
		c.consumedSinceAdjust = 0
	}
	c.mu.Unlock()
	if due >= windowReplenishThreshold {
		c.localWindow.add(due)
		c.mux.send(channelWindowAdjustMsg(c.remoteID, due))
	}
}

func (c *Channel) handleEOF() {
	c.mu.Lock()
	c.eofRecv = true
	c.mu.Unlock()
	c.stdoutW.Close()
	c.stderrW.Close()
}

func (c *Channel) handleClose() {
	c.mu.Lock()
	c.closeRecv = true
	c.state = StateClosed
	c.mu.Unlock()
	c.stdoutW.CloseWithError(io.EOF)
	c.stderrW.CloseWithError(io.EOF)
}

func (c *Channel) handleWindowAdjust(n uint32) bool {
	return c.remoteWindow.add(n)
}

func (c *Channel) handleRequest(req channelRequestMsgIn) {
	switch req.RequestType {
	case "exit-status":
		status, _ := wire.Uint32(req.Extra)
		v := int(status)
		c.mu.Lock()
		c.exitStatus = &v
		c.mu.Unlock()
	case "exit-signal":
		name, _ := wire.String(req.Extra)
		c.mu.Lock()
		c.exitSignal = name
		c.mu.Unlock()
	}
}
