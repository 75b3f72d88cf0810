package transport

import (
	"bytes"
	"compress/zlib"
	"io"
)

const (
	compressionNone = "none"
	compressionZlib = "zlib"
)

// compressor is the payload compression collaborator applied before
// padding/MAC on send and after MAC/decrypt on receive (spec section
// 4.1, "Binary packet protocol").
type compressor interface {
	compress(payload []byte) ([]byte, error)
	decompress(payload []byte) ([]byte, error)
}

func newCompressor(name string) compressor {
	if name == compressionZlib {
		return &zlibCompressor{}
	}
	return noneCompressor{}
}

type noneCompressor struct{}

func (noneCompressor) compress(p []byte) ([]byte, error)   { return p, nil }
func (noneCompressor) decompress(p []byte) ([]byte, error) { return p, nil }

// zlibCompressor keeps one writer and one reader alive across the whole
// connection lifetime, since zlib's dictionary state is cumulative.
type zlibCompressor struct {
	w       *zlib.Writer
	wBuf    bytes.Buffer
	r       io.ReadCloser
	rBuf    *bytes.Buffer
	started bool
}

func (c *zlibCompressor) compress(payload []byte) ([]byte, error) {
	c.wBuf.Reset()
	if c.w == nil {
		c.w = zlib.NewWriter(&c.wBuf)
	}
	if _, err := c.w.Write(payload); err != nil {
		return nil, err
	}
	if err := c.w.Flush(); err != nil {
		return nil, err
	}
	out := make([]byte, c.wBuf.Len())
	copy(out, c.wBuf.Bytes())
	return out, nil
}

func (c *zlibCompressor) decompress(payload []byte) ([]byte, error) {
	if c.rBuf == nil {
		c.rBuf = bytes.NewBuffer(nil)
	}
	c.rBuf.Write(payload)
	if c.r == nil {
		r, err := zlib.NewReader(c.rBuf)
		if err != nil {
			return nil, err
		}
		c.r = r
	}
	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, err := c.r.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			if n == 0 {
				break
			}
		}
		if n == 0 {
			break
		}
	}
	return out.Bytes(), nil
}
