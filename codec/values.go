package codec

import (
	"encoding/binary"
	"math"
	"reflect"
)

func appendValue(buf []byte, t Type, v any) ([]byte, error) {
	switch {
	case t == Pascal:
		s, ok := stringBytes(v)
		if !ok {
			return nil, ErrTypeMismatch
		}
		if len(s) > MaxPascalLength {
			return nil, ErrStringTooLong
		}
		buf = append(buf, byte(len(s)))
		return append(buf, s...), nil
	case t == LongString:
		s, ok := stringBytes(v)
		if !ok {
			return nil, ErrTypeMismatch
		}
		if uint64(len(s)) > math.MaxUint32 {
			return nil, ErrStringTooLong
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		return append(buf, s...), nil
	case t.IsArray():
		return appendArray(buf, t.Elem(), v)
	default:
		return appendScalar(buf, t, v)
	}
}

func stringBytes(v any) ([]byte, bool) {
	switch s := v.(type) {
	case string:
		return []byte(s), true
	case []byte:
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return []byte(rv.String()), true
	}
	return nil, false
}

func appendArray(buf []byte, elem Type, v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, ErrTypeMismatch
	}
	n := rv.Len()
	if uint64(n) > math.MaxInt32 {
		return nil, ErrValueOutOfRange
	}
	buf = binary.BigEndian.AppendUint32(buf, uint32(n))
	var err error
	for i := 0; i < n; i++ {
		if buf, err = appendScalar(buf, elem, rv.Index(i).Interface()); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendScalar(buf []byte, t Type, v any) ([]byte, error) {
	info, ok := scalars[t]
	if !ok {
		return nil, ErrUnknownType
	}
	if info.integer {
		return appendInteger(buf, info, v)
	}
	rv := reflect.ValueOf(v)
	if t == Bool {
		if rv.Kind() != reflect.Bool {
			return nil, ErrTypeMismatch
		}
		if rv.Bool() {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil
	}

	// integers must be exactly representable in the field's mantissa
	exact := uint64(1) << 53
	if t == Float32 {
		exact = 1 << 24
	}
	var f float64
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f = rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n := rv.Int()
		if n > int64(exact) || n < -int64(exact) {
			return nil, ErrValueOutOfRange
		}
		f = float64(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n := rv.Uint()
		if n > exact {
			return nil, ErrValueOutOfRange
		}
		f = float64(n)
	default:
		return nil, ErrTypeMismatch
	}
	if t == Float32 {
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, ErrValueOutOfRange
		}
		return binary.BigEndian.AppendUint32(buf, math.Float32bits(float32(f))), nil
	}
	return binary.BigEndian.AppendUint64(buf, math.Float64bits(f)), nil
}

// appendInteger range checks v against the width of the field and appends its
// two's complement big-endian representation.
func appendInteger(buf []byte, info scalarInfo, v any) ([]byte, error) {
	var (
		neg bool
		mag uint64
	)
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			neg = true
			mag = uint64(-(i + 1)) + 1
		} else {
			mag = uint64(i)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		mag = rv.Uint()
	default:
		return nil, ErrTypeMismatch
	}

	bits := uint(info.size * 8)
	if info.signed {
		limit := uint64(1) << (bits - 1)
		if (neg && mag > limit) || (!neg && mag > limit-1) {
			return nil, ErrValueOutOfRange
		}
	} else if neg || (bits < 64 && mag > (uint64(1)<<bits)-1) {
		return nil, ErrValueOutOfRange
	}

	u := mag
	if neg {
		u = ^mag + 1
	}
	switch info.size {
	case 1:
		return append(buf, byte(u)), nil
	case 2:
		return binary.BigEndian.AppendUint16(buf, uint16(u)), nil
	case 4:
		return binary.BigEndian.AppendUint32(buf, uint32(u)), nil
	default:
		return binary.BigEndian.AppendUint64(buf, u), nil
	}
}

// reader walks a packet body. Every read checks the remaining length so a
// short buffer is reported rather than panicking.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) remaining() int {
	return len(r.data) - r.pos
}

func (r *reader) next(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrTruncated
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) value(t Type) (any, error) {
	switch {
	case t == Pascal:
		n, err := r.next(1)
		if err != nil {
			return nil, err
		}
		b, err := r.next(int(n[0]))
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case t == LongString:
		n, err := r.next(4)
		if err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint32(n)
		if uint64(size) > uint64(r.remaining()) {
			return nil, ErrTruncated
		}
		b, _ := r.next(int(size))
		return string(b), nil
	case t.IsArray():
		return r.array(t.Elem())
	default:
		return r.scalar(t)
	}
}

func (r *reader) array(elem Type) (any, error) {
	info, ok := scalars[elem]
	if !ok {
		return nil, ErrUnknownType
	}
	n, err := r.next(4)
	if err != nil {
		return nil, err
	}
	count := int32(binary.BigEndian.Uint32(n))
	if count < 0 || int64(count)*int64(info.size) > int64(r.remaining()) {
		return nil, ErrTruncated
	}
	out := reflect.MakeSlice(reflect.SliceOf(info.goType), int(count), int(count))
	for i := 0; i < int(count); i++ {
		v, err := r.scalar(elem)
		if err != nil {
			return nil, err
		}
		out.Index(i).Set(reflect.ValueOf(v))
	}
	return out.Interface(), nil
}

func (r *reader) scalar(t Type) (any, error) {
	info, ok := scalars[t]
	if !ok {
		return nil, ErrUnknownType
	}
	b, err := r.next(info.size)
	if err != nil {
		return nil, err
	}
	switch t {
	case Int8:
		return int8(b[0]), nil
	case Uint8:
		return b[0], nil
	case Int16:
		return int16(binary.BigEndian.Uint16(b)), nil
	case Uint16:
		return binary.BigEndian.Uint16(b), nil
	case Int32, Long:
		return int32(binary.BigEndian.Uint32(b)), nil
	case Uint32, ULong:
		return binary.BigEndian.Uint32(b), nil
	case Int64:
		return int64(binary.BigEndian.Uint64(b)), nil
	case Uint64:
		return binary.BigEndian.Uint64(b), nil
	case Float32:
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case Float64:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	default:
		return b[0] != 0, nil
	}
}
