package codec

import (
	"bytes"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutEncode(t *testing.T) {
	t.Run("SingleInt", func(t *testing.T) {
		l := &Layout{Name: "TestMessage", PacketType: 100, Fields: []Field{{Name: "amount", Type: Int32}}}
		data, err := l.Encode([]any{1})
		require.NoError(t, err)
		assert.Equal(t, []byte("d\x00\x00\x00\x01"), data)

		values, err := l.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, []any{int32(1)}, values)
	})

	t.Run("PascalBoundary", func(t *testing.T) {
		l := &Layout{Name: "Chat", PacketType: 101, Fields: []Field{{Name: "text", Type: Pascal}}}

		data, err := l.Encode([]any{strings.Repeat("x", 255)})
		require.NoError(t, err)
		assert.Len(t, data, 257)
		assert.Equal(t, byte(255), data[1])

		_, err = l.Encode([]any{strings.Repeat("x", 256)})
		require.ErrorIs(t, err, ErrStringTooLong)
		var perr *PacketError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "Chat", perr.Message)
		assert.Equal(t, "text", perr.Field)
	})

	t.Run("OutOfRange", func(t *testing.T) {
		cases := []struct {
			typ Type
			val any
		}{
			{Int8, 128},
			{Int8, -129},
			{Uint8, -1},
			{Uint8, 256},
			{Int16, 40000},
			{Uint16, 70000},
			{Int32, int64(math.MaxInt32) + 1},
			{Uint32, int64(-1)},
			{Int64, uint64(math.MaxInt64) + 1},
			{Float32, math.MaxFloat64},
			{Float32, 1<<24 + 1},
			{Float64, int64(1<<53 + 1)},
			{Float64, uint64(math.MaxUint64)},
		}
		for _, c := range cases {
			l := &Layout{Name: "N", PacketType: 102, Fields: []Field{{Name: "v", Type: c.typ}}}
			_, err := l.Encode([]any{c.val})
			assert.ErrorIs(t, err, ErrValueOutOfRange, "type %s value %v", c.typ, c.val)
		}
	})

	t.Run("Limits", func(t *testing.T) {
		l := &Layout{Name: "N", PacketType: 102, Fields: []Field{
			{Name: "a", Type: Int8},
			{Name: "b", Type: Uint8},
			{Name: "c", Type: Int16},
			{Name: "d", Type: Uint16},
			{Name: "e", Type: Long},
			{Name: "f", Type: ULong},
			{Name: "g", Type: Int64},
			{Name: "h", Type: Uint64},
		}}
		in := []any{-128, 255, math.MinInt16, math.MaxUint16, math.MinInt32, uint32(math.MaxUint32), int64(math.MinInt64), uint64(math.MaxUint64)}
		data, err := l.Encode(in)
		require.NoError(t, err)
		assert.Len(t, data, 1+1+1+2+2+4+4+8+8)

		out, err := l.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, []any{
			int8(-128), uint8(255), int16(math.MinInt16), uint16(math.MaxUint16),
			int32(math.MinInt32), uint32(math.MaxUint32), int64(math.MinInt64), uint64(math.MaxUint64),
		}, out)
	})

	t.Run("IntegerToFloat", func(t *testing.T) {
		l := &Layout{Name: "N", PacketType: 102, Fields: []Field{
			{Name: "f", Type: Float32},
			{Name: "d", Type: Float64},
		}}
		data, err := l.Encode([]any{-(1 << 24), int64(1 << 53)})
		require.NoError(t, err)
		out, err := l.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, []any{float32(-(1 << 24)), float64(1 << 53)}, out)
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		l := &Layout{Name: "N", PacketType: 102, Fields: []Field{{Name: "v", Type: Int32}}}
		_, err := l.Encode([]any{"nope"})
		assert.ErrorIs(t, err, ErrTypeMismatch)

		_, err = l.Encode([]any{1.5})
		assert.ErrorIs(t, err, ErrTypeMismatch)

		_, err = l.Encode(nil)
		assert.ErrorIs(t, err, ErrFieldCount)
	})
}

func TestLayoutRoundTrip(t *testing.T) {
	type point struct{ X, Y int32 }

	l := &Layout{Name: "Everything", PacketType: 120, Fields: []Field{
		{Name: "flag", Type: Bool},
		{Name: "ratio", Type: Float32},
		{Name: "precise", Type: Float64},
		{Name: "name", Type: Pascal},
		{Name: "body", Type: LongString},
		{Name: "scores", Type: ArrayOf(Uint16)},
		{Name: "legacy", Type: "tb"},
		{
			Name:      "pos",
			Composite: []Type{Int32, Int32},
			Pack: func(v any) ([]any, error) {
				p := v.(point)
				return []any{p.X, p.Y}, nil
			},
			Unpack: func(parts []any) (any, error) {
				return point{X: parts[0].(int32), Y: parts[1].(int32)}, nil
			},
		},
		{Name: "pair", Composite: []Type{Uint8, Pascal}},
	}}
	require.NoError(t, l.Validate())

	body := strings.Repeat("long ", 100)
	data, err := l.Encode([]any{
		true, 0.5, math.Pi, "sage", body,
		[]uint16{1, 2, 65535}, []int{-1, 1},
		point{X: -3, Y: 7}, []any{9, "nine"},
	})
	require.NoError(t, err)

	pt, ok := PacketTypeOf(data)
	require.True(t, ok)
	assert.Equal(t, uint8(120), pt)

	out, err := l.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, true, out[0])
	assert.Equal(t, float32(0.5), out[1])
	assert.Equal(t, math.Pi, out[2])
	assert.Equal(t, "sage", out[3])
	assert.Equal(t, body, out[4])
	assert.Equal(t, []uint16{1, 2, 65535}, out[5])
	assert.Equal(t, []int8{-1, 1}, out[6])
	assert.Equal(t, point{X: -3, Y: 7}, out[7])
	assert.Equal(t, []any{uint8(9), "nine"}, out[8])
}

func TestLayoutDecodeErrors(t *testing.T) {
	l := &Layout{Name: "Move", PacketType: 110, Fields: []Field{
		{Name: "x", Type: Int16},
		{Name: "tag", Type: Pascal},
	}}
	data, err := l.Encode([]any{5, "ab"})
	require.NoError(t, err)

	t.Run("Trailing", func(t *testing.T) {
		_, err := l.Decode(append(bytes.Clone(data), 0))
		require.ErrorIs(t, err, ErrLengthMismatch)
		assert.Contains(t, err.Error(), "got 7 expected 6")
	})

	t.Run("Truncated", func(t *testing.T) {
		for i := 0; i < len(data); i++ {
			_, err := l.Decode(data[:i])
			assert.ErrorIs(t, err, ErrTruncated, "prefix of %d bytes", i)
		}
	})

	t.Run("WrongPacketType", func(t *testing.T) {
		bad := bytes.Clone(data)
		bad[0] = 111
		_, err := l.Decode(bad)
		assert.ErrorIs(t, err, ErrPacketTypeMismatch)
	})

	t.Run("HugeArrayCount", func(t *testing.T) {
		arr := &Layout{Name: "Arr", PacketType: 112, Fields: []Field{{Name: "v", Type: ArrayOf(Int64)}}}
		_, err := arr.Decode([]byte{112, 0x7f, 0xff, 0xff, 0xff, 1, 2})
		assert.ErrorIs(t, err, ErrTruncated)
	})
}

func TestTypeValidate(t *testing.T) {
	for _, typ := range []Type{Int8, Uint64, Bool, Pascal, LongString, ArrayOf(Float64), "tI"} {
		assert.NoError(t, typ.Validate(), "type %s", typ)
	}
	for _, typ := range []Type{"", "x", "ap", "aS", "abc"} {
		assert.ErrorIs(t, typ.Validate(), ErrUnknownType, "type %q", typ)
	}
	assert.Equal(t, 8, Float64.Size())
	assert.Equal(t, 0, Pascal.Size())
}

func TestFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("one")))
	require.NoError(t, WriteFrame(&buf, nil))
	require.NoError(t, WriteFrame(&buf, []byte("three")))
	assert.Equal(t, []byte{0, 0, 0, 3}, buf.Bytes()[:4])

	for _, want := range []string{"one", "", "three"} {
		got, err := ReadFrame(&buf, 0)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := ReadFrame(&buf, 0)
	assert.ErrorIs(t, err, io.EOF)

	t.Run("TooLarge", func(t *testing.T) {
		r := bytes.NewReader(AppendFrame(nil, make([]byte, 10)))
		_, err := ReadFrame(r, 4)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("ShortPayload", func(t *testing.T) {
		r := bytes.NewReader([]byte{0, 0, 0, 5, 'a'})
		_, err := ReadFrame(r, 0)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})
}
