// Package proto implements the daemon's wire protocol: a length-prefixed
// JSON framing layer carrying the tagged Message envelope spoken between
// collectors, clients, and the engine over the local stream socket.
package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest payload a single frame may carry, in bytes.
const MaxFrameSize = 16 * 1024 * 1024

// ErrConnectionClosed is returned by ReadFrame when the peer closes the
// connection cleanly before a new frame's length prefix arrives.
var ErrConnectionClosed = errors.New("proto: connection closed")

// FrameTooLargeError is returned when a frame's declared or actual length
// exceeds MaxFrameSize.
type FrameTooLargeError struct {
	Size uint32
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("proto: frame too large: %d bytes (max %d)", e.Size, MaxFrameSize)
}

// WriteFrame encodes msg as a little-endian 32-bit length prefix followed
// by its JSON payload, written as two Writes. If w has a Flush() error
// method (as *bufio.Writer does), WriteFrame flushes it before returning.
// A payload larger than MaxFrameSize is rejected before anything is
// written.
func WriteFrame(w io.Writer, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("proto: marshal frame: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return &FrameTooLargeError{Size: uint32(len(payload))}
	}
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("proto: write frame length: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("proto: write frame payload: %w", err)
	}
	if f, ok := w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("proto: flush frame: %w", err)
		}
	}
	return nil
}

type flusher interface {
	Flush() error
}

// ReadFrame blocks until a full frame has been read from r, or an error
// occurs. An EOF before any bytes of the length prefix arrive is reported
// as ErrConnectionClosed; any other short read is returned as-is.
func ReadFrame(r io.Reader) (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnectionClosed
		}
		return nil, fmt.Errorf("proto: read frame length: %w", err)
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return nil, &FrameTooLargeError{Size: length}
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("proto: read frame payload: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("proto: unmarshal frame: %w", err)
	}
	return &msg, nil
}
