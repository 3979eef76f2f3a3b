package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize is the length prefix in bytes (big-endian uint32).
	FrameHeaderSize = 4

	// MaxFrameSize caps the declared body length. A peer announcing more is
	// disconnected without a reply.
	MaxFrameSize = 10 << 20
)

// ErrFrameTooLarge reports a length prefix above MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// ReadFrame reads one length-prefixed frame from r and returns its body.
// The reader may deliver bytes in arbitrarily small chunks; ReadFrame keeps
// reading until header and body are complete. A clean end-of-stream before
// the first header byte is reported as io.EOF; end-of-stream mid-frame is an
// error.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading frame header: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("frame length %d: %w", length, ErrFrameTooLarge)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// EncodeFrame returns the wire form of body, header included. The write pump
// feeds pre-encoded frames to net.Buffers, so encoding is separate from
// writing.
func EncodeFrame(body []byte) []byte {
	buf := make([]byte, FrameHeaderSize+len(body))
	binary.BigEndian.PutUint32(buf[:FrameHeaderSize], uint32(len(body)))
	copy(buf[FrameHeaderSize:], body)
	return buf
}

// WriteFrame writes body as one frame in a single Write call.
func WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("frame length %d: %w", len(body), ErrFrameTooLarge)
	}
	if _, err := w.Write(EncodeFrame(body)); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
