package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeaderSize is the length of the little-endian uint32 frame prefix.
const HeaderSize = 4

// MaxFrameSize bounds the declared length of a single frame (16 MiB).
// Larger prefixes are rejected before any allocation.
const MaxFrameSize = 16 << 20

// EncodeFrame prefixes payload with its 4-byte little-endian length.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

// WriteFrame writes the length prefix and payload as a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame size %d exceeds limit %d", len(payload), MaxFrameSize)
	}
	_, err := w.Write(EncodeFrame(payload))
	return err
}

// Deframer reassembles frames from a byte stream whose read boundaries
// have no relation to message boundaries. Bytes are accumulated until a
// full header is buffered, then until the full declared payload is
// buffered; only then is a frame released.
type Deframer struct {
	buf      []byte
	maxFrame int
}

// NewDeframer returns a Deframer enforcing MaxFrameSize.
func NewDeframer() *Deframer {
	return &Deframer{maxFrame: MaxFrameSize}
}

// Write appends raw stream bytes. It never fails.
func (d *Deframer) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete payload if one is buffered. The
// returned slice is owned by the caller.
func (d *Deframer) Next() ([]byte, bool, error) {
	if len(d.buf) < HeaderSize {
		return nil, false, nil
	}
	length := binary.LittleEndian.Uint32(d.buf[:HeaderSize])
	if uint64(length) > uint64(d.maxFrame) {
		return nil, false, &ProtocolError{Op: "reading frame header", Err: fmt.Errorf("declared length %d exceeds limit %d", length, d.maxFrame)}
	}
	total := HeaderSize + int(length)
	if len(d.buf) < total {
		return nil, false, nil
	}

	payload := make([]byte, length)
	copy(payload, d.buf[HeaderSize:total])
	d.buf = d.buf[total:]
	return payload, true, nil
}

// Buffered returns the number of bytes held but not yet released.
func (d *Deframer) Buffered() int {
	return len(d.buf)
}
