// Package protocol implements the length-prefixed frame protocol for pbrpc.
//
// TCP is a byte stream: one Read may return half a frame, or the tail of one
// frame followed by two more. Every frame is therefore preceded by its own
// length, and the receiver keeps an accumulator per connection from which
// complete frames are cut as soon as they are available.
//
// Frame format:
//
//	0         4
//	┌─────────┬──────────────────┐
//	│  length │    body ...      │
//	│  uint32 │  length bytes    │
//	└─────────┴──────────────────┘
//
// The body is opaque to this package; the codec package fills it with an
// envelope (metadata + payload).
package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize int = 4 // big-endian uint32 body length

	// DefaultMaxFrameSize is the ceiling used by the TCP transport when none is configured.
	DefaultMaxFrameSize uint32 = 16 << 20
)

// ErrFrameTooLarge is returned when a header declares a body longer than the configured ceiling.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

// FrameFunc receives one complete frame body. The slice is owned by the callee.
type FrameFunc func(frame []byte)

// AddLengthPrefix wraps a frame body with its 4-byte length header.
func AddLengthPrefix(body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(out[:HeaderSize], uint32(len(body)))
	copy(out[HeaderSize:], body)
	return out
}

// Split cuts every complete frame out of acc, in arrival order, and hands each
// body to fn. A trailing partial frame stays in acc for the next call.
//
// maxFrameSize == 0 disables the ceiling. Otherwise a header declaring a larger
// body fails with ErrFrameTooLarge before any of that body is buffered; acc is
// left untouched and the caller is expected to drop the connection.
func Split(acc *bytes.Buffer, maxFrameSize uint32, fn FrameFunc) error {
	for {
		// Not even a header yet, wait for more data
		if acc.Len() < HeaderSize {
			return nil
		}

		buffered := acc.Bytes()
		bodyLen := binary.BigEndian.Uint32(buffered[:HeaderSize])
		if maxFrameSize > 0 && bodyLen > maxFrameSize {
			return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, bodyLen, maxFrameSize)
		}

		// Half frame, wait for the rest of the body
		if uint64(len(buffered)) < uint64(HeaderSize)+uint64(bodyLen) {
			return nil
		}

		frame := make([]byte, bodyLen)
		copy(frame, buffered[HeaderSize:HeaderSize+int(bodyLen)])
		acc.Next(HeaderSize + int(bodyLen))

		fn(frame)
	}
}

// FrameDecoder is the receive accumulator of a single connection.
// It is not safe for concurrent use; the transport feeds it from one goroutine.
type FrameDecoder struct {
	buf          bytes.Buffer
	maxFrameSize uint32
}

// NewFrameDecoder creates a decoder. maxFrameSize == 0 means unlimited.
func NewFrameDecoder(maxFrameSize uint32) *FrameDecoder {
	return &FrameDecoder{maxFrameSize: maxFrameSize}
}

// Feed appends data to the accumulator and emits every frame that is now complete.
func (d *FrameDecoder) Feed(data []byte, fn FrameFunc) error {
	d.buf.Write(data)
	return Split(&d.buf, d.maxFrameSize, fn)
}

// Buffered reports how many bytes are waiting for the rest of their frame.
func (d *FrameDecoder) Buffered() int {
	return d.buf.Len()
}

// Reset drops any buffered partial frame.
func (d *FrameDecoder) Reset() {
	d.buf.Reset()
}

// WriteFrame writes a complete frame (header + body) to w in a single Write.
// The caller must serialize writers sharing one connection.
func WriteFrame(w io.Writer, body []byte) error {
	_, err := w.Write(AddLengthPrefix(body))
	return err
}

// ReadFrame blocks until one complete frame has been read from r.
// io.ReadFull guarantees exactly the declared number of bytes is consumed.
func ReadFrame(r io.Reader, maxFrameSize uint32) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	bodyLen := binary.BigEndian.Uint32(header)
	if maxFrameSize > 0 && bodyLen > maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, bodyLen, maxFrameSize)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
