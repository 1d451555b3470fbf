package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

const (
	// FrameHeaderSize is the width of the big-endian length prefix.
	FrameHeaderSize = 4

	// MaxFrameSize bounds a single frame read from a stream.
	MaxFrameSize = 64 * 1024 * 1024
)

// AppendFrame appends payload to dst prefixed with its length.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload as a single length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return ErrFrameTooLarge
	}
	_, err := w.Write(AppendFrame(make([]byte, 0, FrameHeaderSize+len(payload)), payload))
	return err
}

// ReadFrame reads one length-prefixed frame. limit bounds the payload size; a
// value <= 0 means MaxFrameSize. io.EOF is returned only when the stream ends
// cleanly between frames.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	if limit <= 0 {
		limit = MaxFrameSize
	}
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(limit) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, size, limit)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
