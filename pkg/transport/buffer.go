package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MaxBufferSize is the hard cap on buffered bytes per connection:
// two maximum frames. A peer that gets further ahead than that is
// misbehaving and its connection is closed.
const MaxBufferSize = 2 * (LengthPrefixSize + MaxMessageSize)

// ErrBufferOverflow indicates the per-connection receive buffer cap
// was exceeded.
var ErrBufferOverflow = errors.New("receive buffer overflow")

// StreamBuffer reassembles length-prefixed frames from an arbitrarily
// chunked byte stream. It is owned by exactly one reader goroutine and
// is not safe for concurrent use.
//
// The body sequence produced by any partition of a byte stream into
// Append calls equals the sequence produced by appending the whole
// stream at once.
type StreamBuffer struct {
	buf []byte
	off int
}

// NewStreamBuffer creates an empty stream buffer.
func NewStreamBuffer() *StreamBuffer {
	return &StreamBuffer{}
}

// Len returns the number of buffered, not-yet-extracted bytes.
func (b *StreamBuffer) Len() int {
	return len(b.buf) - b.off
}

// Reset discards all buffered bytes.
func (b *StreamBuffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}

// Append copies p into the buffer. It fails with ErrBufferOverflow if
// the buffered byte count would exceed MaxBufferSize; the caller must
// then treat the connection as being in protocol error.
func (b *StreamBuffer) Append(p []byte) error {
	if b.Len()+len(p) > MaxBufferSize {
		return fmt.Errorf("%w: %d + %d > %d", ErrBufferOverflow, b.Len(), len(p), MaxBufferSize)
	}
	b.compact()
	b.buf = append(b.buf, p...)
	return nil
}

// Extract greedily slices complete frame bodies out of the buffer.
// It returns zero or more bodies per call; each returned body is a
// copy and remains valid after further Append calls.
//
// A declared length beyond MaxMessageSize is a protocol error: the
// buffer is cleared and the bodies extracted so far are returned
// together with ErrMessageTooLarge. A declared length of zero yields
// an empty body; rejecting it is the codec's job.
func (b *StreamBuffer) Extract() ([][]byte, error) {
	var bodies [][]byte
	for {
		avail := b.buf[b.off:]
		if len(avail) < LengthPrefixSize {
			break
		}
		length := binary.BigEndian.Uint32(avail[:LengthPrefixSize])
		if length > MaxMessageSize {
			b.Reset()
			return bodies, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, MaxMessageSize)
		}
		total := LengthPrefixSize + int(length)
		if len(avail) < total {
			break
		}
		body := make([]byte, length)
		copy(body, avail[LengthPrefixSize:total])
		bodies = append(bodies, body)
		b.off += total
	}
	if b.Len() == 0 {
		b.Reset()
	}
	return bodies, nil
}

// compact drops consumed bytes once the dead prefix outgrows the live
// remainder, keeping Append amortized linear.
func (b *StreamBuffer) compact() {
	if b.off == 0 {
		return
	}
	if b.off > len(b.buf)-b.off {
		n := copy(b.buf, b.buf[b.off:])
		b.buf = b.buf[:n]
		b.off = 0
	}
}
