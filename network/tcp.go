package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/sage/codec"
)

// tcpPeer is one framed TCP connection.
type tcpPeer struct {
	addr string
	conn net.Conn
	wmu  sync.Mutex
}

// TCPTransport carries packets as length-prefixed frames over TCP.
type TCPTransport struct {
	config *Config
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	local    string
	bound    bool

	peers *peerTable[*tcpPeer]
	inbox *inbox
	stats counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewTCPTransport creates an unbound TCP transport.
func NewTCPTransport(config *Config) *TCPTransport {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPTransport{
		config: config,
		logger: config.logger("tcp"),
		peers:  newPeerTable[*tcpPeer](),
		inbox:  newInbox(config.Backlog),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *TCPTransport) bind() error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound {
		return ErrAlreadyBound
	}
	t.bound = true
	return nil
}

// Listen implements Transport.
func (t *TCPTransport) Listen(host string, port int, onConnect ConnectionHandler) error {
	if err := t.bind(); err != nil {
		return err
	}
	address := JoinHostPort(host, port)
	lc := net.ListenConfig{KeepAlive: t.keepAlive()}
	ln, err := lc.Listen(t.ctx, "tcp", address)
	if err != nil {
		t.mu.Lock()
		t.bound = false
		t.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	t.mu.Lock()
	t.listener = ln
	t.local = ln.Addr().String()
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(ln, onConnect)

	t.logger.Info("tcp transport listening", slog.String("address", t.local))
	return nil
}

func (t *TCPTransport) keepAlive() time.Duration {
	if !t.config.KeepAlive {
		return -1
	}
	return t.config.KeepAliveInterval
}

func (t *TCPTransport) acceptLoop(ln net.Listener, onConnect ConnectionHandler) {
	defer t.wg.Done()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("failed to accept connection", slog.Any("error", err))
			continue
		}

		if t.config.MaxConnections > 0 && t.peers.len() >= t.config.MaxConnections {
			t.logger.Warn("connection limit reached, rejecting connection",
				slog.Int("limit", t.config.MaxConnections),
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		p := t.addPeer(conn)
		if onConnect != nil {
			onConnect(p.addr)
		}
	}
}

func (t *TCPTransport) addPeer(conn net.Conn) *tcpPeer {
	p := &tcpPeer{addr: conn.RemoteAddr().String(), conn: conn}
	t.peers.add(p.addr, p)
	t.wg.Add(1)
	go t.readLoop(p)
	t.logger.Debug("peer connected", slog.String("peer", p.addr))
	return p
}

func (t *TCPTransport) readLoop(p *tcpPeer) {
	defer t.wg.Done()
	defer func() {
		t.peers.remove(p.addr)
		p.conn.Close()
	}()

	for {
		data, err := codec.ReadFrame(p.conn, t.config.MaxPacketSize)
		if err != nil {
			if !t.closed.Load() {
				t.logger.Debug("peer disconnected", slog.String("peer", p.addr), slog.Any("error", err))
			}
			return
		}
		t.stats.received(len(data))
		if !t.inbox.put(data, p.addr, t.ctx.Done()) {
			return
		}
	}
}

// Connect implements Transport.
func (t *TCPTransport) Connect(host string, port int) error {
	if err := t.bind(); err != nil {
		return err
	}
	address := JoinHostPort(host, port)
	d := net.Dialer{Timeout: t.config.DialTimeout, KeepAlive: t.keepAlive()}
	conn, err := d.DialContext(t.ctx, "tcp", address)
	if err != nil {
		t.mu.Lock()
		t.bound = false
		t.mu.Unlock()
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	t.mu.Lock()
	t.local = conn.LocalAddr().String()
	t.mu.Unlock()
	t.addPeer(conn)
	t.logger.Info("tcp transport connected", slog.String("server", address))
	return nil
}

// Send implements Transport.
func (t *TCPTransport) Send(data []byte, to string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	p, addr, ok := t.peers.get(to)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoPeer, to)
	}
	if len(data) > t.config.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(data))
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := codec.WriteFrame(p.conn, data); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to write to %s: %w", addr, err)
	}
	t.stats.sent(len(data))
	return nil
}

// Broadcast implements Transport.
func (t *TCPTransport) Broadcast(data []byte) error {
	var errs []error
	for _, addr := range t.peers.addrs() {
		if err := t.Send(data, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll implements Transport.
func (t *TCPTransport) Poll(handler PacketHandler) bool {
	return t.inbox.poll(handler)
}

// Address implements Transport.
func (t *TCPTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// Peers implements Transport.
func (t *TCPTransport) Peers() []string {
	return t.peers.addrs()
}

// Statistics returns traffic counters.
func (t *TCPTransport) Statistics() Statistics {
	return t.stats.snapshot(t.peers.len())
}

// Disconnect implements Transport.
func (t *TCPTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()

	t.mu.Lock()
	ln := t.listener
	t.mu.Unlock()
	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, p := range t.peers.clear() {
		p.conn.Close()
	}
	t.wg.Wait()
	t.logger.Info("tcp transport stopped")
	return err
}
