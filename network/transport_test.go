package network

import (
	"net"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return host, port
}

// recvPacket polls tr until a packet arrives.
func recvPacket(t *testing.T, tr Transport) ([]byte, string) {
	t.Helper()
	var data []byte
	var from string
	require.Eventually(t, func() bool {
		return tr.Poll(func(d []byte, f string) {
			data, from = d, f
		})
	}, 2*time.Second, time.Millisecond)
	return data, from
}

// connCollector records peers announced to a ConnectionHandler.
type connCollector struct {
	mu    sync.Mutex
	peers []string
}

func (c *connCollector) handle(peer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers = append(c.peers, peer)
}

func (c *connCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers)
}

// exercise runs the shared request/reply scenario against a connected
// server and client pair.
func exercise(t *testing.T, server, client Transport, conns *connCollector) {
	t.Helper()

	require.NoError(t, client.Send([]byte("ping"), ""))
	data, from := recvPacket(t, server)
	assert.Equal(t, []byte("ping"), data)
	assert.NotEmpty(t, from)
	require.Eventually(t, func() bool { return conns.count() == 1 }, 2*time.Second, time.Millisecond)

	require.NoError(t, server.Send([]byte("pong"), from))
	data, _ = recvPacket(t, client)
	assert.Equal(t, []byte("pong"), data)

	// order is preserved and the empty address means the default peer
	for i := 0; i < 10; i++ {
		require.NoError(t, server.Send([]byte{byte(i)}, ""))
	}
	for i := 0; i < 10; i++ {
		data, _ = recvPacket(t, client)
		assert.Equal(t, []byte{byte(i)}, data)
	}

	require.NoError(t, server.Broadcast([]byte("all")))
	data, _ = recvPacket(t, client)
	assert.Equal(t, []byte("all"), data)

	assert.False(t, client.Poll(func([]byte, string) { t.Fatal("unexpected packet") }))
}

func TestTCPTransport(t *testing.T) {
	server := NewTCPTransport(nil)
	conns := &connCollector{}
	require.NoError(t, server.Listen("127.0.0.1", 0, conns.handle))
	defer server.Disconnect()
	assert.ErrorIs(t, server.Listen("127.0.0.1", 0, nil), ErrAlreadyBound)

	host, port := splitAddr(t, server.Address())
	client := NewTCPTransport(nil)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()
	assert.Equal(t, []string{server.Address()}, client.Peers())

	exercise(t, server, client, conns)
	assert.ErrorIs(t, server.Send([]byte("x"), "nobody:1"), ErrNoPeer)

	stats := client.Statistics()
	assert.Equal(t, int64(1), stats.PacketsOut)
	assert.Equal(t, int64(12), stats.PacketsIn)
	assert.Equal(t, 1, stats.Peers)
}

func TestTCPTransportPacketTooLarge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPacketSize = 8
	server := NewTCPTransport(cfg)
	require.NoError(t, server.Listen("127.0.0.1", 0, nil))
	defer server.Disconnect()

	host, port := splitAddr(t, server.Address())
	client := NewTCPTransport(cfg)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()

	assert.ErrorIs(t, client.Send(make([]byte, 9), ""), ErrPacketTooLarge)
	require.NoError(t, client.Send(make([]byte, 8), ""))
	data, _ := recvPacket(t, server)
	assert.Len(t, data, 8)
}

func TestTCPTransportDisconnect(t *testing.T) {
	server := NewTCPTransport(nil)
	require.NoError(t, server.Listen("127.0.0.1", 0, nil))

	host, port := splitAddr(t, server.Address())
	client := NewTCPTransport(nil)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()

	require.NoError(t, client.Send([]byte("hi"), ""))
	recvPacket(t, server)

	require.NoError(t, server.Disconnect())
	require.NoError(t, server.Disconnect())
	assert.ErrorIs(t, server.Send([]byte("x"), ""), ErrTransportClosed)

	// the client notices the closed connection and forgets the peer
	require.Eventually(t, func() bool { return len(client.Peers()) == 0 }, 2*time.Second, time.Millisecond)
	assert.ErrorIs(t, client.Send([]byte("x"), ""), ErrNoPeer)
}

func TestTCPTransportConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := splitAddr(t, ln.Addr().String())
	require.NoError(t, ln.Close())

	client := NewTCPTransport(nil)
	defer client.Disconnect()
	assert.Error(t, client.Connect(host, port))
}

func TestUDPTransport(t *testing.T) {
	server := NewUDPTransport(nil)
	conns := &connCollector{}
	require.NoError(t, server.Listen("127.0.0.1", 0, conns.handle))
	defer server.Disconnect()

	host, port := splitAddr(t, server.Address())
	client := NewUDPTransport(nil)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()

	exercise(t, server, client, conns)
}

func TestUDPTransportNotBound(t *testing.T) {
	tr := NewUDPTransport(nil)
	assert.ErrorIs(t, tr.Send([]byte("x"), "127.0.0.1:1"), ErrNotConnected)
	require.NoError(t, tr.Disconnect())
	assert.ErrorIs(t, tr.Send([]byte("x"), "127.0.0.1:1"), ErrTransportClosed)
}

func TestWebSocketTransport(t *testing.T) {
	server := NewWebSocketTransport(nil)
	conns := &connCollector{}
	require.NoError(t, server.Listen("127.0.0.1", 0, conns.handle))
	defer server.Disconnect()

	host, port := splitAddr(t, server.Address())
	client := NewWebSocketTransport(nil)
	require.NoError(t, client.Connect(host, port))
	defer client.Disconnect()

	exercise(t, server, client, conns)
	assert.ErrorIs(t, server.Send([]byte("x"), "nobody:1"), ErrNoPeer)
}

func TestWebSocketHandler(t *testing.T) {
	server := NewWebSocketTransport(nil)
	conns := &connCollector{}
	ts := httptest.NewServer(server.Handler(conns.handle))
	defer ts.Close()
	defer server.Disconnect()

	client := NewWebSocketTransport(nil)
	require.NoError(t, client.ConnectURL("ws"+strings.TrimPrefix(ts.URL, "http")))
	defer client.Disconnect()

	exercise(t, server, client, conns)
}

func TestMemTransport(t *testing.T) {
	n := NewMemNetwork()
	server := NewMemTransport(n, nil)
	conns := &connCollector{}
	require.NoError(t, server.Listen("localhost", 9000, conns.handle))
	defer server.Disconnect()
	assert.Equal(t, "localhost:9000", server.Address())

	client := NewMemTransport(n, nil)
	require.NoError(t, client.Connect("localhost", 9000))
	defer client.Disconnect()

	exercise(t, server, client, conns)
	assert.ErrorIs(t, server.Send([]byte("x"), "nobody:1"), ErrNoPeer)

	other := NewMemTransport(n, nil)
	assert.ErrorIs(t, other.Listen("localhost", 9000, nil), ErrAlreadyBound)
	assert.ErrorIs(t, other.Connect("localhost", 9001), ErrNoPeer)
}

func TestMemTransportEphemeralPort(t *testing.T) {
	n := NewMemNetwork()
	server := NewMemTransport(n, nil)
	require.NoError(t, server.Listen("localhost", 0, nil))
	defer server.Disconnect()

	host, port := splitAddr(t, server.Address())
	assert.Equal(t, "localhost", host)
	assert.NotZero(t, port)

	client := NewMemTransport(n, nil)
	require.NoError(t, client.Connect(host, port))
	require.NoError(t, client.Disconnect())
	assert.ErrorIs(t, client.Send([]byte("x"), ""), ErrTransportClosed)

	// sending to a closed peer fails and drops it
	require.Eventually(t, func() bool { return len(server.Peers()) == 1 }, time.Second, time.Millisecond)
	assert.Error(t, server.Send([]byte("x"), ""))
	assert.Empty(t, server.Peers())
}

func TestMemTransportConnectionLimit(t *testing.T) {
	n := NewMemNetwork()
	cfg := DefaultConfig()
	cfg.MaxConnections = 1
	server := NewMemTransport(n, cfg)
	require.NoError(t, server.Listen("localhost", 1, nil))

	require.NoError(t, NewMemTransport(n, nil).Connect("localhost", 1))
	assert.ErrorIs(t, NewMemTransport(n, nil).Connect("localhost", 1), ErrTooManyConnections)
}

func TestFactory(t *testing.T) {
	f := NewNetworkFactory()
	for _, p := range []Protocol{ProtocolTCP, ProtocolUDP, ProtocolWebSocket, ProtocolNATS, ProtocolMemory} {
		cfg := DefaultConfig()
		cfg.Protocol = p
		tr, err := f.CreateTransport(cfg)
		require.NoError(t, err, p)
		require.NotNil(t, tr)
		assert.Empty(t, tr.Address())
		require.NoError(t, tr.Disconnect())
	}

	cfg := DefaultConfig()
	cfg.Protocol = "carrier-pigeon"
	_, err := f.CreateTransport(cfg)
	assert.ErrorIs(t, err, ErrUnsupportedProtocol)

	_, err = f.CreateTransport(nil)
	assert.Error(t, err)

	// memory transports from one factory share a network
	a, err := f.CreateTransport(&Config{Protocol: ProtocolMemory})
	require.NoError(t, err)
	require.NoError(t, a.Listen("mem", 7, nil))
	defer a.Disconnect()
	b, err := New(ProtocolMemory)
	require.NoError(t, err)
	assert.Error(t, b.Connect("mem", 7))
	c, err := f.CreateTransport(&Config{Protocol: ProtocolMemory})
	require.NoError(t, err)
	assert.NoError(t, c.Connect("mem", 7))
}

func TestConfigDefaults(t *testing.T) {
	cfg := (&Config{Protocol: ProtocolUDP, Backlog: 7}).withDefaults()
	assert.Equal(t, ProtocolUDP, cfg.Protocol)
	assert.Equal(t, 7, cfg.Backlog)
	assert.Equal(t, 1024*1024, cfg.MaxPacketSize)
	assert.Equal(t, "/sage", cfg.WebSocketPath)
	assert.Equal(t, "127.0.0.1:80", JoinHostPort("127.0.0.1", 80))
	assert.Equal(t, "[::1]:80", JoinHostPort("::1", 80))
}
