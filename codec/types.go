package codec

import (
	"fmt"
	"reflect"
)

// Type is a field encoding tag. Scalar tags follow the struct module format
// characters so packets stay byte compatible with existing peers.
type Type string

const (
	Int8       Type = "b"
	Uint8      Type = "B"
	Int16      Type = "h"
	Uint16     Type = "H"
	Int32      Type = "i"
	Uint32     Type = "I"
	Long       Type = "l"
	ULong      Type = "L"
	Int64      Type = "q"
	Uint64     Type = "Q"
	Float32    Type = "f"
	Float64    Type = "d"
	Bool       Type = "?"
	Pascal     Type = "p"
	LongString Type = "S"
)

// MaxPascalLength is the longest string a pascal field can carry.
const MaxPascalLength = 255

type scalarInfo struct {
	size    int
	signed  bool
	integer bool
	goType  reflect.Type
}

var scalars = map[Type]scalarInfo{
	Int8:    {1, true, true, reflect.TypeOf(int8(0))},
	Uint8:   {1, false, true, reflect.TypeOf(uint8(0))},
	Int16:   {2, true, true, reflect.TypeOf(int16(0))},
	Uint16:  {2, false, true, reflect.TypeOf(uint16(0))},
	Int32:   {4, true, true, reflect.TypeOf(int32(0))},
	Uint32:  {4, false, true, reflect.TypeOf(uint32(0))},
	Long:    {4, true, true, reflect.TypeOf(int32(0))},
	ULong:   {4, false, true, reflect.TypeOf(uint32(0))},
	Int64:   {8, true, true, reflect.TypeOf(int64(0))},
	Uint64:  {8, false, true, reflect.TypeOf(uint64(0))},
	Float32: {4, true, false, reflect.TypeOf(float32(0))},
	Float64: {8, true, false, reflect.TypeOf(float64(0))},
	Bool:    {1, false, false, reflect.TypeOf(false)},
}

// ArrayOf returns the array type with elements of the fixed-width type elem.
func ArrayOf(elem Type) Type {
	return "a" + elem
}

// IsArray reports whether t is an array type. The legacy "t" prefix is
// accepted as well as "a".
func (t Type) IsArray() bool {
	return len(t) == 2 && (t[0] == 'a' || t[0] == 't')
}

// Elem returns the element type of an array type.
func (t Type) Elem() Type {
	if !t.IsArray() {
		return ""
	}
	return t[1:]
}

// IsScalar reports whether t is a fixed-width scalar type.
func (t Type) IsScalar() bool {
	_, ok := scalars[t]
	return ok
}

// Size returns the encoded width of a scalar type and 0 for variable-width
// types.
func (t Type) Size() int {
	return scalars[t].size
}

// Validate checks that t is a known encoding.
func (t Type) Validate() error {
	switch {
	case t.IsScalar(), t == Pascal, t == LongString:
		return nil
	case t.IsArray():
		if !t.Elem().IsScalar() {
			return fmt.Errorf("%w: array element %q must be fixed width", ErrUnknownType, string(t.Elem()))
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, string(t))
	}
}

func (t Type) String() string {
	return string(t)
}
