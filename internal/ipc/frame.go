// Package ipc implements the framed JSON protocol spoken over the state
// server's unix socket. Every frame is a 4-byte big-endian payload length
// followed by that many bytes of UTF-8 JSON.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame's payload. A batch of full candle
// groups stays well under this; anything larger is a protocol error.
const MaxFrameSize = 16 << 20

var (
	ErrFrameTooLarge = errors.New("ipc: frame exceeds size limit")
	ErrEmptyFrame    = errors.New("ipc: zero-length frame")
)

// WriteFrame writes one length-prefixed payload. The caller serializes
// concurrent writers; a frame is never interleaved.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("ipc: write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("ipc: write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed payload. io.EOF is returned as-is
// when the stream ends cleanly between frames.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("ipc: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: read frame payload: %w", err)
	}
	return payload, nil
}
