package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// frame builds one wire frame for a body.
func frame(body []byte) []byte {
	out := make([]byte, LengthPrefixSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[LengthPrefixSize:], body)
	return out
}

func TestStreamBufferSingleFrame(t *testing.T) {
	buf := NewStreamBuffer()

	if err := buf.Append(frame([]byte("hello"))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	bodies, err := buf.Extract()
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(bodies) != 1 || string(bodies[0]) != "hello" {
		t.Errorf("bodies = %q, want [hello]", bodies)
	}
	if buf.Len() != 0 {
		t.Errorf("leftover bytes = %d, want 0", buf.Len())
	}
}

func TestStreamBufferBackToBackFrames(t *testing.T) {
	// Two frames in a single chunk are both extracted, in order.
	buf := NewStreamBuffer()

	chunk := append(frame([]byte("first")), frame([]byte("second"))...)
	if err := buf.Append(chunk); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	bodies, err := buf.Extract()
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(bodies) != 2 || string(bodies[0]) != "first" || string(bodies[1]) != "second" {
		t.Errorf("bodies = %q, want [first second]", bodies)
	}
}

func TestStreamBufferByteAtATime(t *testing.T) {
	// A frame split into one-byte chunks is dispatched exactly once.
	buf := NewStreamBuffer()
	data := frame([]byte("1|4|proj_101"))

	var bodies [][]byte
	for _, b := range data {
		if err := buf.Append([]byte{b}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		got, err := buf.Extract()
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		bodies = append(bodies, got...)
	}

	if len(bodies) != 1 || string(bodies[0]) != "1|4|proj_101" {
		t.Errorf("bodies = %q, want exactly one body", bodies)
	}
}

func TestStreamBufferArbitrarySplit(t *testing.T) {
	// Bodies B1 (40 bytes) and B2 (20 bytes) delivered as chunks of
	// 10, 30 and 28 bytes dispatch exactly twice, in order.
	b1 := bytes.Repeat([]byte("a"), 40)
	b2 := bytes.Repeat([]byte("b"), 20)
	stream := append(frame(b1), frame(b2)...)

	buf := NewStreamBuffer()
	var bodies [][]byte
	for _, size := range []int{10, 30, 28} {
		if err := buf.Append(stream[:size]); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		stream = stream[size:]
		got, err := buf.Extract()
		if err != nil {
			t.Fatalf("Extract failed: %v", err)
		}
		bodies = append(bodies, got...)
	}
	if len(stream) != 0 {
		t.Fatalf("test consumed %d of stream, leftover %d", 68-len(stream), len(stream))
	}

	if len(bodies) != 2 {
		t.Fatalf("got %d bodies, want 2", len(bodies))
	}
	if !bytes.Equal(bodies[0], b1) || !bytes.Equal(bodies[1], b2) {
		t.Error("body contents or order mismatch")
	}
}

func TestStreamBufferResumability(t *testing.T) {
	// Any partition of the stream yields the same body sequence as
	// feeding it whole.
	var stream []byte
	var want []string
	for _, s := range []string{"one", "two", "three", "four", "five"} {
		stream = append(stream, frame([]byte(s))...)
		want = append(want, s)
	}

	partitions := [][]int{
		{len(stream)},
		{1, len(stream) - 1},
		{5, 5, 5, len(stream) - 15},
		{7, 11, 13, 3, len(stream) - 34},
	}

	for _, sizes := range partitions {
		buf := NewStreamBuffer()
		rest := stream
		var got []string
		for _, size := range sizes {
			if err := buf.Append(rest[:size]); err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			rest = rest[size:]
			bodies, err := buf.Extract()
			if err != nil {
				t.Fatalf("Extract failed: %v", err)
			}
			for _, b := range bodies {
				got = append(got, string(b))
			}
		}

		if len(got) != len(want) {
			t.Fatalf("partition %v: got %d bodies, want %d", sizes, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("partition %v: body %d = %q, want %q", sizes, i, got[i], want[i])
			}
		}
	}
}

func TestStreamBufferMaxSizeBoundary(t *testing.T) {
	// Exactly 64 KiB is accepted.
	buf := NewStreamBuffer()
	big := bytes.Repeat([]byte("x"), MaxMessageSize)
	if err := buf.Append(frame(big)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	bodies, err := buf.Extract()
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(bodies) != 1 || len(bodies[0]) != MaxMessageSize {
		t.Fatalf("got %d bodies, want one of %d bytes", len(bodies), MaxMessageSize)
	}

	// 64 KiB + 1 is a protocol error and clears the buffer.
	buf = NewStreamBuffer()
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxMessageSize+1)
	if err := buf.Append(prefix[:]); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := buf.Extract(); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("buffer not cleared after protocol error: %d bytes", buf.Len())
	}
}

func TestStreamBufferZeroLengthBody(t *testing.T) {
	// A zero-length declared body is emitted; the codec rejects it.
	buf := NewStreamBuffer()
	if err := buf.Append(frame(nil)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	bodies, err := buf.Extract()
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(bodies) != 1 || len(bodies[0]) != 0 {
		t.Errorf("bodies = %q, want one empty body", bodies)
	}
}

func TestStreamBufferOverflow(t *testing.T) {
	buf := NewStreamBuffer()

	half := bytes.Repeat([]byte("x"), MaxBufferSize/2)
	if err := buf.Append(half); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if err := buf.Append(half); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	if err := buf.Append([]byte("x")); !errors.Is(err, ErrBufferOverflow) {
		t.Errorf("expected ErrBufferOverflow, got %v", err)
	}
}

func TestStreamBufferExtractedBodyIsStable(t *testing.T) {
	// Returned bodies must survive later Appends.
	buf := NewStreamBuffer()
	if err := buf.Append(frame([]byte("stable"))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	bodies, err := buf.Extract()
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if err := buf.Append(frame(bytes.Repeat([]byte("z"), 64))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if _, err := buf.Extract(); err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if string(bodies[0]) != "stable" {
		t.Errorf("earlier body mutated: %q", bodies[0])
	}
}
