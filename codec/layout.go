package codec

import (
	"fmt"
	"reflect"
)

// Field describes one property of a packet.
type Field struct {
	Name string
	Type Type

	// Composite, when non-empty, encodes the field as a sequence of primitive
	// values. Type is ignored for composite fields.
	Composite []Type

	// Pack splits the property value into len(Composite) primitive values.
	// When nil the value must already be a slice of that length.
	Pack func(v any) ([]any, error)

	// Unpack rebuilds the property value from its decoded parts. When nil the
	// decoded []any is stored as is.
	Unpack func(parts []any) (any, error)
}

// IsComposite reports whether the field is made of several primitive values.
func (f Field) IsComposite() bool {
	return len(f.Composite) > 0
}

func (f Field) validate() error {
	if !f.IsComposite() {
		return f.Type.Validate()
	}
	for _, t := range f.Composite {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (f Field) appendTo(buf []byte, v any) ([]byte, error) {
	if !f.IsComposite() {
		return appendValue(buf, f.Type, v)
	}
	parts, err := f.pack(v)
	if err != nil {
		return nil, err
	}
	for i, t := range f.Composite {
		if buf, err = appendValue(buf, t, parts[i]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (f Field) pack(v any) ([]any, error) {
	if f.Pack != nil {
		parts, err := f.Pack(v)
		if err != nil {
			return nil, err
		}
		if len(parts) != len(f.Composite) {
			return nil, ErrFieldCount
		}
		return parts, nil
	}
	if parts, ok := v.([]any); ok {
		if len(parts) != len(f.Composite) {
			return nil, ErrFieldCount
		}
		return parts, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, ErrTypeMismatch
	}
	if rv.Len() != len(f.Composite) {
		return nil, ErrFieldCount
	}
	parts := make([]any, rv.Len())
	for i := range parts {
		parts[i] = rv.Index(i).Interface()
	}
	return parts, nil
}

func (f Field) readFrom(r *reader) (any, error) {
	if !f.IsComposite() {
		return r.value(f.Type)
	}
	parts := make([]any, len(f.Composite))
	for i, t := range f.Composite {
		v, err := r.value(t)
		if err != nil {
			return nil, err
		}
		parts[i] = v
	}
	if f.Unpack != nil {
		return f.Unpack(parts)
	}
	return parts, nil
}

// Layout is the wire description of one concrete message type.
type Layout struct {
	Name       string
	PacketType uint8
	Fields     []Field
}

// Validate checks every field type.
func (l *Layout) Validate() error {
	for _, f := range l.Fields {
		if err := f.validate(); err != nil {
			return &PacketError{Message: l.Name, Field: f.Name, Err: err}
		}
	}
	return nil
}

// Encode serialises values, given in field order, into a packet. Values never
// get truncated: anything that does not fit its field is an error.
func (l *Layout) Encode(values []any) ([]byte, error) {
	if len(values) != len(l.Fields) {
		return nil, &PacketError{
			Message: l.Name,
			Err:     fmt.Errorf("%w: got %d expected %d", ErrFieldCount, len(values), len(l.Fields)),
		}
	}
	buf := make([]byte, 1, 1+l.minSize())
	buf[0] = l.PacketType
	var err error
	for i, f := range l.Fields {
		if buf, err = f.appendTo(buf, values[i]); err != nil {
			return nil, &PacketError{Message: l.Name, Field: f.Name, Value: values[i], Err: err}
		}
	}
	return buf, nil
}

// Decode parses a packet produced by Encode and returns the field values in
// order. The buffer must be consumed exactly.
func (l *Layout) Decode(data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, &PacketError{Message: l.Name, Err: ErrTruncated}
	}
	if data[0] != l.PacketType {
		return nil, &PacketError{
			Message: l.Name,
			Err:     fmt.Errorf("%w: got %d expected %d", ErrPacketTypeMismatch, data[0], l.PacketType),
		}
	}
	r := &reader{data: data, pos: 1}
	values := make([]any, len(l.Fields))
	for i, f := range l.Fields {
		v, err := f.readFrom(r)
		if err != nil {
			return nil, &PacketError{Message: l.Name, Field: f.Name, Err: err}
		}
		values[i] = v
	}
	if r.remaining() != 0 {
		return nil, &PacketError{
			Message: l.Name,
			Err:     fmt.Errorf("%w on decoding %s: got %d expected %d", ErrLengthMismatch, l.Name, len(data), r.pos),
		}
	}
	return values, nil
}

func (l *Layout) minSize() int {
	n := 0
	for _, f := range l.Fields {
		if f.IsComposite() {
			for _, t := range f.Composite {
				n += t.Size()
			}
			continue
		}
		n += f.Type.Size()
	}
	return n
}

// PacketTypeOf returns the packet type of an encoded packet.
func PacketTypeOf(data []byte) (uint8, bool) {
	if len(data) == 0 {
		return 0, false
	}
	return data[0], true
}
