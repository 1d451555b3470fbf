package system

import (
	"github.com/najoast/sage/codec"
)

// Internal packet types exchanged between a parent and its process groups.
const (
	packetShutdown uint8 = 1
	packetRoute    uint8 = 2
)

// routeLayout carries a message a process group addresses to another group.
var routeLayout = &codec.Layout{
	Name:       "route",
	PacketType: packetRoute,
	Fields: []codec.Field{
		{Name: "group", Type: codec.Pascal},
		{Name: "packet", Type: codec.LongString},
	},
}

var shutdownPacket = []byte{packetShutdown}

func encodeRoute(group string, packet []byte) ([]byte, error) {
	return routeLayout.Encode([]any{group, packet})
}

func decodeRoute(data []byte) (string, []byte, error) {
	values, err := routeLayout.Decode(data)
	if err != nil {
		return "", nil, err
	}
	return values[0].(string), []byte(values[1].(string)), nil
}
