package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// UDPTransport sends one packet per datagram. It offers no delivery or
// ordering guarantee. Peers are learned from the datagrams received.
type UDPTransport struct {
	config *Config
	logger *slog.Logger

	mu   sync.Mutex
	conn *net.UDPConn

	onConnect ConnectionHandler
	peers     *peerTable[*net.UDPAddr]
	inbox     *inbox
	stats     counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewUDPTransport creates an unbound UDP transport.
func NewUDPTransport(config *Config) *UDPTransport {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPTransport{
		config: config,
		logger: config.logger("udp"),
		peers:  newPeerTable[*net.UDPAddr](),
		inbox:  newInbox(config.Backlog),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *UDPTransport) open(address string) (*net.UDPConn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil, ErrAlreadyBound
	}
	laddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	t.conn = conn
	t.wg.Add(1)
	go t.readLoop(conn)
	return conn, nil
}

// Listen implements Transport.
func (t *UDPTransport) Listen(host string, port int, onConnect ConnectionHandler) error {
	t.onConnect = onConnect
	conn, err := t.open(JoinHostPort(host, port))
	if err != nil {
		return err
	}
	t.logger.Info("udp transport listening", slog.String("address", conn.LocalAddr().String()))
	return nil
}

// Connect implements Transport. UDP is connectionless: the server simply
// becomes the default peer.
func (t *UDPTransport) Connect(host string, port int) error {
	server, err := net.ResolveUDPAddr("udp", JoinHostPort(host, port))
	if err != nil {
		return fmt.Errorf("failed to resolve server: %w", err)
	}
	if _, err := t.open(":0"); err != nil {
		return err
	}
	t.peers.add(server.String(), server)
	return nil
}

func (t *UDPTransport) readLoop(conn *net.UDPConn) {
	defer t.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("udp read failed", slog.Any("error", err))
			continue
		}
		addr := from.String()
		if t.peers.add(addr, from) && t.onConnect != nil {
			t.onConnect(addr)
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		t.stats.received(n)
		if !t.inbox.put(data, addr, t.ctx.Done()) {
			return
		}
	}
}

func (t *UDPTransport) socket() (*net.UDPConn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	return t.conn, nil
}

// Send implements Transport.
func (t *UDPTransport) Send(data []byte, to string) error {
	conn, err := t.socket()
	if err != nil {
		return err
	}
	if len(data) > maxDatagram || len(data) > t.config.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(data))
	}
	addr, _, ok := t.peers.get(to)
	if !ok {
		if to == "" {
			return ErrNoPeer
		}
		if addr, err = net.ResolveUDPAddr("udp", to); err != nil {
			return fmt.Errorf("%w: %q", ErrNoPeer, to)
		}
	}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	t.stats.sent(len(data))
	return nil
}

// Broadcast implements Transport.
func (t *UDPTransport) Broadcast(data []byte) error {
	var errs []error
	for _, addr := range t.peers.addrs() {
		if err := t.Send(data, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll implements Transport.
func (t *UDPTransport) Poll(handler PacketHandler) bool {
	return t.inbox.poll(handler)
}

// Address implements Transport.
func (t *UDPTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

// Peers implements Transport.
func (t *UDPTransport) Peers() []string {
	return t.peers.addrs()
}

// Statistics returns traffic counters.
func (t *UDPTransport) Statistics() Statistics {
	return t.stats.snapshot(t.peers.len())
}

// Disconnect implements Transport.
func (t *UDPTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.wg.Wait()
	t.peers.clear()
	return err
}
