package bufio

import (
	"errors"
	"fmt"
	"io"

	"github.com/respkv/respkv/app/resp"
)

// DecodeFunc decodes one frame from the front of b and reports how many
// bytes it used. It returns resp.ErrIncomplete when b holds a partial frame.
type DecodeFunc func(b []byte) ([]string, int, error)

// FrameReader reads request frames from r. One read may deliver several
// frames or part of one; partial frames are kept until more bytes arrive.
type FrameReader struct {
	r        io.Reader
	chunk    []byte
	buf      []byte
	maxFrame int
	err      error
	n        uint64

	beforeRead func() error
}

func NewFrameReader(r io.Reader, chunkSize, maxFrame int) *FrameReader {
	return &FrameReader{
		r:        r,
		chunk:    make([]byte, chunkSize),
		maxFrame: maxFrame,
	}
}

// BeforeRead registers fn to run before every read from the underlying
// reader, that is whenever no complete frame is buffered. An error from fn
// is returned by Next.
func (f *FrameReader) BeforeRead(fn func() error) {
	f.beforeRead = fn
}

// Next returns the tokens of the next frame. It returns io.EOF when the
// reader ends on a frame boundary and io.ErrUnexpectedEOF when it ends
// inside a frame.
func (f *FrameReader) Next(decode DecodeFunc) ([]string, error) {
	for {
		if len(f.buf) > 0 {
			tokens, n, err := decode(f.buf)
			if err == nil {
				f.consume(n)
				return tokens, nil
			}
			if !errors.Is(err, resp.ErrIncomplete) {
				return nil, err
			}
			if len(f.buf) >= f.maxFrame {
				return nil, fmt.Errorf("%w: frame exceeds %d bytes", resp.ErrProtocol, f.maxFrame)
			}
		}
		if f.err != nil {
			if errors.Is(f.err, io.EOF) && len(f.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, f.err
		}
		if f.beforeRead != nil {
			if err := f.beforeRead(); err != nil {
				return nil, err
			}
		}
		n, err := f.r.Read(f.chunk)
		f.buf = append(f.buf, f.chunk[:n]...)
		f.err = err
	}
}

// Buffered returns the number of received bytes not yet returned as a frame.
func (f *FrameReader) Buffered() int {
	return len(f.buf)
}

// Consumed returns the number of bytes returned as frames so far.
func (f *FrameReader) Consumed() uint64 {
	return f.n
}

func (f *FrameReader) consume(n int) {
	f.n += uint64(n)
	f.buf = append(f.buf[:0], f.buf[n:]...)
}
