package core

import (
	"testing"

	"github.com/najoast/sage/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDefine(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Define(&MessageDef{
		Type:       "TakeDamage",
		Properties: []string{"damageAmount"},
		PacketType: 104,
		Fields:     []codec.Field{{Type: codec.Int32}},
	})
	require.NoError(t, err)

	t.Run("DuplicatePacketType", func(t *testing.T) {
		_, err := reg.Define(&MessageDef{
			Type:       "TakeDamageFake",
			Properties: []string{"stuff"},
			PacketType: 104,
			Fields:     []codec.Field{{Type: codec.Int32}},
		})
		assert.ErrorIs(t, err, ErrDuplicatePacketType)
	})

	t.Run("RedefineSameType", func(t *testing.T) {
		def, err := reg.Define(&MessageDef{
			Type:       "TakeDamage",
			Properties: []string{"stuff"},
			PacketType: 104,
			Fields:     []codec.Field{{Type: codec.Pascal}},
		})
		require.NoError(t, err)
		got, ok := reg.LookupPacket(104)
		require.True(t, ok)
		assert.Same(t, def, got)
		assert.Equal(t, "stuff", got.Fields[0].Name)
	})

	t.Run("Reserved", func(t *testing.T) {
		_, err := reg.Define(&MessageDef{Type: "Internal", PacketType: 100})
		assert.ErrorIs(t, err, ErrReservedPacketType)
	})

	t.Run("FieldCount", func(t *testing.T) {
		_, err := reg.Define(&MessageDef{
			Type:       "Short",
			Properties: []string{"a", "b"},
			PacketType: 150,
			Fields:     []codec.Field{{Type: codec.Int8}},
		})
		assert.ErrorIs(t, err, ErrFieldCountMismatch)
	})

	t.Run("BadFieldType", func(t *testing.T) {
		_, err := reg.Define(&MessageDef{
			Type:       "Bad",
			Properties: []string{"a"},
			PacketType: 151,
			Fields:     []codec.Field{{Type: "z"}},
		})
		assert.ErrorIs(t, err, codec.ErrUnknownType)
	})

	t.Run("InvalidType", func(t *testing.T) {
		_, err := reg.Define(&MessageDef{})
		assert.ErrorIs(t, err, ErrInvalidMessageType)
		_, err = reg.Define(&MessageDef{Type: Wildcard})
		assert.ErrorIs(t, err, ErrInvalidMessageType)
	})
}

func TestRegistryAdhoc(t *testing.T) {
	reg := NewRegistry()
	reg.MustDefine(&MessageDef{Type: "TakeDamage", Properties: []string{"damageAmount"}})

	def, err := reg.Adhoc("BombMessage")
	require.NoError(t, err)
	again, err := reg.Adhoc("BombMessage")
	require.NoError(t, err)
	assert.Same(t, def, again)
	assert.NoError(t, def.New(nil).Validate())

	_, err = reg.Adhoc("TakeDamage")
	assert.ErrorIs(t, err, ErrConcreteMessageDefined)
}

func TestRegistryEncodeDecode(t *testing.T) {
	reg := NewRegistry()
	ping := reg.MustDefine(&MessageDef{
		Type:       "PingMessage",
		Properties: []string{"secret", "data"},
		PacketType: 101,
		Fields:     []codec.Field{{Type: codec.Int32}, {Type: codec.ArrayOf(codec.Int32)}},
	})
	local := reg.MustDefine(&MessageDef{Type: "Local", Properties: []string{"x"}})

	data := make([]int32, 10000)
	for i := range data {
		data[i] = 1
	}
	msg := ping.New(map[string]any{"secret": 1234, "data": data})
	buf, err := reg.Encode(msg)
	require.NoError(t, err)
	assert.Equal(t, byte(101), buf[0])
	assert.Len(t, buf, 1+4+4+4*10000)

	out, err := reg.Decode(buf, "10.0.0.1:5000")
	require.NoError(t, err)
	assert.Equal(t, "PingMessage", out.Type())
	assert.Equal(t, "10.0.0.1:5000", out.Sender())
	assert.Equal(t, int64(1234), out.Int("secret"))
	assert.Equal(t, data, out.Get("data"))
	assert.NotEqual(t, msg.ID(), out.ID())
	assert.NoError(t, out.Validate())

	t.Run("NotNetworked", func(t *testing.T) {
		_, err := reg.Encode(local.New(map[string]any{"x": 1}))
		assert.ErrorIs(t, err, ErrNotNetworkable)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := reg.Encode(ping.New(map[string]any{"secret": 1}))
		assert.ErrorIs(t, err, ErrInvalidProperty)
	})

	t.Run("Overflow", func(t *testing.T) {
		_, err := reg.Encode(ping.New(map[string]any{"secret": int64(1) << 40, "data": []int32{}}))
		assert.ErrorIs(t, err, codec.ErrValueOutOfRange)
		var perr *codec.PacketError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "PingMessage", perr.Message)
		assert.Equal(t, "secret", perr.Field)
	})

	t.Run("UnknownPacket", func(t *testing.T) {
		_, err := reg.Decode([]byte{200, 1}, "")
		assert.ErrorIs(t, err, ErrUnknownPacketType)
		_, err = reg.Decode(nil, "")
		assert.ErrorIs(t, err, codec.ErrTruncated)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := reg.Decode(append(buf, 0), "")
		assert.ErrorIs(t, err, codec.ErrLengthMismatch)
	})
}

func TestRegistryTransformsOnWire(t *testing.T) {
	type vec struct{ X, Y int16 }
	reg := NewRegistry()
	def := reg.MustDefine(&MessageDef{
		Type:       "Move",
		Properties: []string{"pos"},
		PacketType: 130,
		Fields: []codec.Field{{
			Composite: []codec.Type{codec.Int16, codec.Int16},
			Pack: func(v any) ([]any, error) {
				p := v.(vec)
				return []any{p.X, p.Y}, nil
			},
			Unpack: func(parts []any) (any, error) {
				return vec{X: parts[0].(int16), Y: parts[1].(int16)}, nil
			},
		}},
	})

	buf, err := reg.Encode(def.New(map[string]any{"pos": vec{X: 3, Y: -4}}))
	require.NoError(t, err)
	assert.Equal(t, []byte{130, 0, 3, 0xff, 0xfc}, buf)

	out, err := reg.Decode(buf, "")
	require.NoError(t, err)
	assert.Equal(t, vec{X: 3, Y: -4}, out.Get("pos"))
}
