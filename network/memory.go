package network

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
)

// MemNetwork connects memory transports within one process.
type MemNetwork struct {
	mu        sync.RWMutex
	endpoints map[string]*MemTransport
	nextPort  atomic.Int64
}

// NewMemNetwork creates an empty in-memory network.
func NewMemNetwork() *MemNetwork {
	n := &MemNetwork{endpoints: make(map[string]*MemTransport)}
	n.nextPort.Store(49152)
	return n
}

func (n *MemNetwork) bind(addr string, t *MemTransport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.endpoints[addr]; ok {
		return fmt.Errorf("%w: %s in use", ErrAlreadyBound, addr)
	}
	n.endpoints[addr] = t
	return nil
}

func (n *MemNetwork) unbind(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, addr)
}

func (n *MemNetwork) lookup(addr string) (*MemTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.endpoints[addr]
	return t, ok
}

func (n *MemNetwork) ephemeralPort() int {
	return int(n.nextPort.Add(1))
}

func (n *MemNetwork) ephemeral() string {
	return "mem-" + strconv.Itoa(n.ephemeralPort())
}

// MemTransport delivers packets through a MemNetwork. Delivery is reliable
// and ordered per sender.
type MemTransport struct {
	network *MemNetwork
	config  *Config

	mu        sync.Mutex
	local     string
	listening bool
	onConnect ConnectionHandler

	peers  *peerTable[*MemTransport]
	inbox  *inbox
	stats  counters
	done   chan struct{}
	closed atomic.Bool
}

// NewMemTransport creates a transport on network n.
func NewMemTransport(n *MemNetwork, config *Config) *MemTransport {
	config = config.withDefaults()
	return &MemTransport{
		network: n,
		config:  config,
		peers:   newPeerTable[*MemTransport](),
		inbox:   newInbox(config.Backlog),
		done:    make(chan struct{}),
	}
}

func (t *MemTransport) bind(addr string, listening bool, onConnect ConnectionHandler) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.local != "" {
		return ErrAlreadyBound
	}
	if err := t.network.bind(addr, t); err != nil {
		return err
	}
	t.local = addr
	t.listening = listening
	t.onConnect = onConnect
	return nil
}

// Listen implements Transport. Port 0 picks a free port.
func (t *MemTransport) Listen(host string, port int, onConnect ConnectionHandler) error {
	if port == 0 {
		port = t.network.ephemeralPort()
	}
	return t.bind(JoinHostPort(host, port), true, onConnect)
}

// Connect implements Transport.
func (t *MemTransport) Connect(host string, port int) error {
	server, ok := t.network.lookup(JoinHostPort(host, port))
	if !ok || !server.isListening() {
		return fmt.Errorf("failed to connect to %s: %w", JoinHostPort(host, port), ErrNoPeer)
	}
	if err := t.bind(t.network.ephemeral(), false, nil); err != nil {
		return err
	}
	if err := server.accept(t); err != nil {
		t.network.unbind(t.Address())
		return err
	}
	t.peers.add(server.Address(), server)
	return nil
}

func (t *MemTransport) isListening() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.listening && !t.closed.Load()
}

func (t *MemTransport) accept(client *MemTransport) error {
	if t.config.MaxConnections > 0 && t.peers.len() >= t.config.MaxConnections {
		return ErrTooManyConnections
	}
	addr := client.Address()
	t.peers.add(addr, client)
	t.mu.Lock()
	onConnect := t.onConnect
	t.mu.Unlock()
	if onConnect != nil {
		onConnect(addr)
	}
	return nil
}

func (t *MemTransport) deliver(data []byte, from string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	buf := append([]byte(nil), data...)
	t.stats.received(len(buf))
	if !t.inbox.put(buf, from, t.done) {
		return ErrTransportClosed
	}
	return nil
}

// Send implements Transport.
func (t *MemTransport) Send(data []byte, to string) error {
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
	if err := p.deliver(data, t.Address()); err != nil {
		t.peers.remove(addr)
		return fmt.Errorf("failed to send to %s: %w", addr, err)
	}
	t.stats.sent(len(data))
	return nil
}

// Broadcast implements Transport.
func (t *MemTransport) Broadcast(data []byte) error {
	var errs []error
	for _, addr := range t.peers.addrs() {
		if err := t.Send(data, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll implements Transport.
func (t *MemTransport) Poll(handler PacketHandler) bool {
	return t.inbox.poll(handler)
}

// Address implements Transport.
func (t *MemTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// Peers implements Transport.
func (t *MemTransport) Peers() []string {
	return t.peers.addrs()
}

// Statistics returns traffic counters.
func (t *MemTransport) Statistics() Statistics {
	return t.stats.snapshot(t.peers.len())
}

// Disconnect implements Transport.
func (t *MemTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.done)
	if addr := t.Address(); addr != "" {
		t.network.unbind(addr)
	}
	t.peers.clear()
	return nil
}
