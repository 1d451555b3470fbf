// Package network provides the transports that carry encoded messages between
// sage systems: TCP, UDP, WebSocket, NATS and an in-memory network.
package network

import (
	"log/slog"
	"net"
	"strconv"
	"time"
)

// Protocol selects a transport implementation.
type Protocol string

const (
	ProtocolTCP       Protocol = "tcp"
	ProtocolUDP       Protocol = "udp"
	ProtocolWebSocket Protocol = "websocket"
	ProtocolNATS      Protocol = "nats"
	ProtocolMemory    Protocol = "memory"
)

// PacketHandler receives one packet together with the address of its sender.
type PacketHandler func(data []byte, from string)

// ConnectionHandler is told about a new peer. It runs on a transport
// goroutine and must not block.
type ConnectionHandler func(peer string)

// Transport moves packets between peers. Addresses are transport specific
// strings; an empty address means the default peer, which is the server
// after Connect or the first peer that connected after Listen.
type Transport interface {
	// Connect dials a listening transport.
	Connect(host string, port int) error

	// Listen binds the transport and accepts peers.
	Listen(host string, port int, onConnect ConnectionHandler) error

	// Send delivers data to one peer.
	Send(data []byte, to string) error

	// Broadcast delivers data to every known peer.
	Broadcast(data []byte) error

	// Poll hands at most one received packet to handler. It never blocks and
	// reports whether a packet was processed.
	Poll(handler PacketHandler) bool

	// Address returns the local address peers see, empty before binding.
	Address() string

	// Peers returns the addresses of the known peers.
	Peers() []string

	// Disconnect closes every connection and releases the transport.
	Disconnect() error
}

// Config holds the settings shared by transports.
type Config struct {
	// Protocol selects the implementation built by the factory
	Protocol Protocol

	// DialTimeout bounds Connect
	DialTimeout time.Duration

	// WriteTimeout bounds a single Send on stream transports
	WriteTimeout time.Duration

	// KeepAlive enables TCP keep-alive
	KeepAlive bool

	// KeepAliveInterval is the keep-alive period
	KeepAliveInterval time.Duration

	// MaxConnections caps accepted peers, 0 for no limit
	MaxConnections int

	// Backlog is the number of received packets buffered ahead of Poll
	Backlog int

	// MaxPacketSize bounds a single packet
	MaxPacketSize int

	// WebSocketPath is the HTTP path of the WebSocket endpoint
	WebSocketPath string

	// NATSURL is the server the NATS transport connects to
	NATSURL string

	// SubjectPrefix namespaces NATS subjects
	SubjectPrefix string

	// Network is the hub used by the memory transport
	Network *MemNetwork

	// Logger defaults to slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns a default transport configuration.
func DefaultConfig() *Config {
	return &Config{
		Protocol:          ProtocolTCP,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		KeepAlive:         true,
		KeepAliveInterval: 60 * time.Second,
		MaxConnections:    1000,
		Backlog:           4096,
		MaxPacketSize:     1024 * 1024,
		WebSocketPath:     "/sage",
		NATSURL:           "nats://127.0.0.1:4222",
		SubjectPrefix:     "sage",
	}
}

func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.DialTimeout <= 0 {
		out.DialTimeout = def.DialTimeout
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = def.KeepAliveInterval
	}
	if out.Backlog <= 0 {
		out.Backlog = def.Backlog
	}
	if out.MaxPacketSize <= 0 {
		out.MaxPacketSize = def.MaxPacketSize
	}
	if out.WebSocketPath == "" {
		out.WebSocketPath = def.WebSocketPath
	}
	if out.NATSURL == "" {
		out.NATSURL = def.NATSURL
	}
	if out.SubjectPrefix == "" {
		out.SubjectPrefix = def.SubjectPrefix
	}
	return &out
}

func (c *Config) logger(component string) *slog.Logger {
	l := c.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", component))
}

// JoinHostPort formats a host and port as an address.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
