package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/sage/core"
	"github.com/najoast/sage/network"
)

type seen struct {
	secret int64
	sender string
}

func catchPings(t *testing.T, s *System) *[]seen {
	t.Helper()
	var got []seen
	r := core.NewActor().Handle("PingMessage", func(msg *core.Message) bool {
		got = append(got, seen{secret: msg.Int("secret"), sender: msg.Sender()})
		return true
	})
	_, err := s.RegisterActor(r, "", core.MainGroup)
	require.NoError(t, err)
	return &got
}

func TestNetworkMessaging(t *testing.T) {
	d := newTestDefs()
	n := network.NewMemNetwork()

	server := newTestSystem(t, d)
	require.NoError(t, server.Listen("game", 9000, network.NewMemTransport(n, nil)))
	assert.Equal(t, "game:9000", server.Address())
	assert.ErrorIs(t, server.Listen("game", 9001, network.NewMemTransport(n, nil)), ErrTransportBound)
	got := catchPings(t, server)

	client := newTestSystem(t, d)
	require.NoError(t, client.Connect("game", 9000, network.NewMemTransport(n, nil)))
	clientGot := catchPings(t, client)

	require.NoError(t, client.SendMessage(d.ping.New(map[string]any{"secret": 5}), ""))
	require.Eventually(t, func() bool {
		_, err := server.Tick(0)
		return assert.NoError(t, err) && len(*got) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, seen{secret: 5, sender: client.Address()}, (*got)[0])

	require.NoError(t, server.BroadcastMessage(d.ping.New(map[string]any{"secret": 6})))
	require.Eventually(t, func() bool {
		_, err := client.Tick(0)
		return assert.NoError(t, err) && len(*clientGot) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, seen{secret: 6, sender: "game:9000"}, (*clientGot)[0])
}

func TestNetworkDropsInternalPackets(t *testing.T) {
	d := newTestDefs()
	n := network.NewMemNetwork()

	server := newTestSystem(t, d)
	require.NoError(t, server.Listen("game", 1, network.NewMemTransport(n, nil)))
	got := catchPings(t, server)

	raw := network.NewMemTransport(n, nil)
	require.NoError(t, raw.Connect("game", 1))
	defer raw.Disconnect()

	route, err := encodeRoute(core.MainGroup, []byte{101, 0, 0, 0, 1})
	require.NoError(t, err)
	for _, p := range [][]byte{shutdownPacket, route, {250}, {101, 0}} {
		require.NoError(t, raw.Send(p, ""))
	}
	ping, err := d.reg.Encode(d.ping.New(map[string]any{"secret": 2}))
	require.NoError(t, err)
	require.NoError(t, raw.Send(ping, ""))

	require.Eventually(t, func() bool {
		_, err := server.Tick(0)
		return assert.NoError(t, err) && len(*got) > 0
	}, time.Second, time.Millisecond)
	assert.Equal(t, []seen{{secret: 2, sender: raw.Address()}}, *got)
}

func TestNetworkWithoutTransport(t *testing.T) {
	d := newTestDefs()
	s := newTestSystem(t, d)
	msg := d.ping.New(map[string]any{"secret": 1})
	assert.ErrorIs(t, s.SendMessage(msg, ""), ErrNoTransport)
	assert.ErrorIs(t, s.BroadcastMessage(msg), ErrNoTransport)
	assert.Empty(t, s.Address())

	// a failed connect leaves the system unbound
	assert.Error(t, s.Connect("nowhere", 1, network.NewMemTransport(network.NewMemNetwork(), nil)))
	assert.Nil(t, s.Transport())
}

func TestSendMessageNotNetworked(t *testing.T) {
	d := newTestDefs()
	n := network.NewMemNetwork()
	s := newTestSystem(t, d)
	require.NoError(t, s.Listen("game", 2, network.NewMemTransport(n, nil)))

	local, err := d.reg.Adhoc("LocalOnly")
	require.NoError(t, err)
	assert.ErrorIs(t, s.SendMessage(local.New(nil), ""), core.ErrNotNetworkable)
}
