package codec

import (
	"errors"
	"fmt"
)

// Encoding and decoding errors
var (
	ErrUnknownType        = errors.New("unknown field type")
	ErrTypeMismatch       = errors.New("value does not match field type")
	ErrValueOutOfRange    = errors.New("value out of range for field type")
	ErrStringTooLong      = errors.New("string too long for pascal encoding")
	ErrFieldCount         = errors.New("value count does not match field count")
	ErrTruncated          = errors.New("buffer truncated")
	ErrLengthMismatch     = errors.New("length mismatch")
	ErrPacketTypeMismatch = errors.New("packet type mismatch")
	ErrFrameTooLarge      = errors.New("frame too large")
)

// PacketError reports a failure to encode or decode one field of a packet.
// It carries enough context to debug without a wire dump.
type PacketError struct {
	// Message is the name of the message layout
	Message string

	// Field is the property being processed, empty for packet-level errors
	Field string

	// Value is the offending value when encoding
	Value any

	// Err is the underlying cause
	Err error
}

func (e *PacketError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Value == nil {
		return fmt.Sprintf("%s.%s: %v", e.Message, e.Field, e.Err)
	}
	return fmt.Sprintf("%s.%s(%v,%T): %v", e.Message, e.Field, e.Value, e.Value, e.Err)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}
