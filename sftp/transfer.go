package sftp

import (
	"fmt"
	"io"

	"github.com/richardjennings/sshkit/errs"
)

// ProgressFunc is invoked after each chunk of a Get/Put transfer completes,
// reporting total bytes transferred so far.
type ProgressFunc func(transferred, total uint64)

const (
	transferChunk     = 32 * 1024
	transferPipelines = 8
)

// Get downloads length bytes starting at offset from the remote file at p
// into dst, pipelining up to transferPipelines outstanding SSH_FXP_READ
// requests to hide round-trip latency (spec section 4.4's "pipelined
// read"). length == 0 means "read to EOF". A short read (fewer bytes than
// requested) signals EOF rather than an error.
func (c *Client) Get(p string, dst io.Writer, offset, length uint64, progress ProgressFunc) error {
	p, err := c.maybeCanonicalize(p)
	if err != nil {
		return err
	}
	attrs, err := c.Stat(p)
	if err != nil {
		return err
	}
	h, err := c.openHandle(p, FXF_READ, Attrs{})
	if err != nil {
		return err
	}
	defer c.closeHandle(h)

	total := length
	if total == 0 && attrs.Size > offset {
		total = attrs.Size - offset
	}
	limit := uint64(0)
	bounded := length > 0
	if bounded {
		limit = offset + length
	}

	type outstanding struct {
		offset uint64
		ch     chan Msg
	}

	var inflight []outstanding
	nextOffset := offset
	writeOffset := offset
	var delivered uint64
	eof := false

	issue := func() {
		for len(inflight) < transferPipelines && !eof {
			if bounded && nextOffset >= limit {
				break
			}
			reqLen := uint64(transferChunk)
			if bounded && nextOffset+reqLen > limit {
				reqLen = limit - nextOffset
			}
			id := c.nextRequestID()
			replyCh := c.registerPending(id)
			if err := c.send(&readReq{Header: Header{ID: id}, Handle: h, Offset: nextOffset, Len: uint32(reqLen)}); err != nil {
				c.unregisterPending(id)
				eof = true
				break
			}
			inflight = append(inflight, outstanding{offset: nextOffset, ch: replyCh})
			nextOffset += reqLen
		}
	}

	issue()
	pending := make(map[uint64][]byte)
	for len(inflight) > 0 {
		next := inflight[0]
		inflight = inflight[1:]
		msg, err := c.await(next.ch)
		if err != nil {
			return err
		}
		switch v := msg.(type) {
		case *dataResp:
			pending[next.offset] = v.Data
			if uint64(len(v.Data)) < transferChunk {
				eof = true
			}
		case *statusResp:
			if v.Code == fxEOF {
				eof = true
			} else {
				return statusErr("sftp.Get", v)
			}
		default:
			return errs.NewError(errs.KindProtocolError, "sftp.Get", fmt.Errorf("unexpected reply %T", msg))
		}
		for {
			chunk, ok := pending[writeOffset]
			if !ok {
				break
			}
			delete(pending, writeOffset)
			if len(chunk) > 0 {
				if _, err := dst.Write(chunk); err != nil {
					return err
				}
				delivered += uint64(len(chunk))
				writeOffset += uint64(len(chunk))
				if progress != nil {
					progress(delivered, total)
				}
			}
		}
		issue()
	}
	if c.preserveDates && attrs.HaveACModTime {
		_ = attrs // destination preservation is the caller's filesystem's job; nothing to do over SFTP for a download
	}
	return nil
}

// PutMode selects the SSH_FXP_OPEN flags Put uses, matching the three
// upload shapes spec section 6's put() distinguishes.
type PutMode int

const (
	// PutCreateTruncate creates the file if absent and discards any
	// existing content first: create|truncate|write.
	PutCreateTruncate PutMode = iota
	// PutCreateAppend creates the file if absent and appends past
	// whatever the server already holds: create|append|write.
	PutCreateAppend
	// PutWrite performs a partial in-place rewrite of an existing file
	// starting at the caller's startOffset, without truncating or
	// creating: write only.
	PutWrite
)

func (m PutMode) pflags() uint32 {
	switch m {
	case PutCreateAppend:
		return FXF_WRITE | FXF_CREAT | FXF_APPEND
	case PutWrite:
		return FXF_WRITE
	default:
		return FXF_WRITE | FXF_CREAT | FXF_TRUNC
	}
}

// Put uploads src to the remote path p starting at startOffset, pipelining
// up to transferPipelines outstanding SSH_FXP_WRITE requests. src must be
// an io.ReadSeeker: this client computes the transfer size via Seek and
// has no resume support, so a non-seekable source is rejected outright
// rather than silently buffering it. A write that extends past the
// remote file's current EOF simply grows it to startOffset+len, the
// server's normal SSH_FXP_WRITE behavior.
func (c *Client) Put(src io.ReadSeeker, p string, mode PutMode, startOffset uint64, progress ProgressFunc) error {
	p = c.resolve(p)
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return errs.NewError(errs.KindInvalidArgument, "sftp.Put", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return errs.NewError(errs.KindInvalidArgument, "sftp.Put", err)
	}
	total := uint64(size)

	h, err := c.openHandle(p, mode.pflags(), Attrs{})
	if err != nil {
		return err
	}
	defer c.closeHandle(h)

	buf := make([]byte, transferChunk)
	var read uint64
	offset := startOffset
	type outstanding struct {
		ch chan Msg
		n  int
	}
	var inflight []outstanding
	var sent uint64

	for read < total || len(inflight) > 0 {
		for len(inflight) < transferPipelines && read < total {
			n, rerr := io.ReadFull(src, buf)
			if n == 0 {
				break
			}
			id := c.nextRequestID()
			replyCh := c.registerPending(id)
			chunk := append([]byte{}, buf[:n]...)
			if err := c.send(&writeReq{Header: Header{ID: id}, Handle: h, Offset: offset, Data: chunk}); err != nil {
				c.unregisterPending(id)
				return err
			}
			inflight = append(inflight, outstanding{ch: replyCh, n: n})
			offset += uint64(n)
			read += uint64(n)
			if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
				break
			}
		}
		if len(inflight) == 0 {
			break
		}
		next := inflight[0]
		inflight = inflight[1:]
		msg, err := c.await(next.ch)
		if err != nil {
			return err
		}
		if err := asStatus("sftp.Put", msg); err != nil {
			return err
		}
		sent += uint64(next.n)
		if progress != nil {
			progress(sent, total)
		}
	}
	c.cache.invalidate(p)
	return nil
}
