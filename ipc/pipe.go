package ipc

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"
)

// Pipe returns two connected in-memory channels.
func Pipe() (*StreamChannel, *StreamChannel) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return NewStreamChannel(ar, aw), NewStreamChannel(br, bw)
}

// NewConnChannel frames packets over a network connection.
func NewConnChannel(conn net.Conn) *StreamChannel {
	return NewStreamChannel(conn, conn)
}

// Dial connects to a Listener.
func Dial(network, addr string) (*StreamChannel, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial %s: %w", addr, err)
	}
	return NewConnChannel(conn), nil
}

// Listener accepts channel connections and numbers its clients.
type Listener struct {
	ln     net.Listener
	nextID uint64
}

// Listen binds a Listener, e.g. Listen("unix", path) or
// Listen("tcp", "127.0.0.1:0").
func Listen(network, addr string) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("ipc: listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept waits for the next client and returns its id with its channel.
func (l *Listener) Accept() (uint64, *StreamChannel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return 0, nil, err
	}
	return atomic.AddUint64(&l.nextID, 1), NewConnChannel(conn), nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops accepting clients. Accepted channels stay open.
func (l *Listener) Close() error {
	return l.ln.Close()
}
