package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
)

// NATSTransport uses NATS subjects as addresses. A listening transport
// subscribes to a subject derived from its host and port; a connecting
// transport subscribes to a private inbox. Every packet carries the sender's
// subject as its reply subject, which is how peers are learned.
type NATSTransport struct {
	config *Config
	logger *slog.Logger

	mu        sync.Mutex
	nc        *nats.Conn
	sub       *nats.Subscription
	local     string
	onConnect ConnectionHandler

	peers *peerTable[string]
	inbox *inbox
	stats counters

	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// NewNATSTransport creates a NATS transport for config.NATSURL.
func NewNATSTransport(config *Config) *NATSTransport {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &NATSTransport{
		config: config,
		logger: config.logger("nats"),
		peers:  newPeerTable[string](),
		inbox:  newInbox(config.Backlog),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Subject returns the subject a transport listening on host and port uses.
func (t *NATSTransport) Subject(host string, port int) string {
	host = strings.NewReplacer(".", "_", ":", "_", "*", "_", ">", "_", " ", "_").Replace(host)
	if host == "" {
		host = "any"
	}
	return t.config.SubjectPrefix + ".listen." + host + "." + strconv.Itoa(port)
}

func (t *NATSTransport) open(subject func(nc *nats.Conn) string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nc != nil {
		return ErrAlreadyBound
	}
	nc, err := nats.Connect(t.config.NATSURL,
		nats.Name("sage"),
		nats.Timeout(t.config.DialTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.logger.Warn("nats disconnected", slog.Any("error", err))
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to nats %s: %w", t.config.NATSURL, err)
	}
	local := subject(nc)
	sub, err := nc.Subscribe(local, t.receive)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to subscribe %s: %w", local, err)
	}
	if err := nc.Flush(); err != nil {
		nc.Close()
		return fmt.Errorf("failed to flush subscription: %w", err)
	}
	t.nc = nc
	t.sub = sub
	t.local = local
	return nil
}

func (t *NATSTransport) receive(m *nats.Msg) {
	if m.Reply != "" && t.peers.add(m.Reply, m.Reply) {
		t.mu.Lock()
		onConnect := t.onConnect
		t.mu.Unlock()
		if onConnect != nil {
			onConnect(m.Reply)
		}
	}
	t.stats.received(len(m.Data))
	t.inbox.put(m.Data, m.Reply, t.ctx.Done())
}

// Listen implements Transport.
func (t *NATSTransport) Listen(host string, port int, onConnect ConnectionHandler) error {
	t.mu.Lock()
	t.onConnect = onConnect
	t.mu.Unlock()
	if err := t.open(func(*nats.Conn) string { return t.Subject(host, port) }); err != nil {
		return err
	}
	t.logger.Info("nats transport listening", slog.String("subject", t.Address()))
	return nil
}

// Connect implements Transport.
func (t *NATSTransport) Connect(host string, port int) error {
	if err := t.open(func(nc *nats.Conn) string { return nc.NewInbox() }); err != nil {
		return err
	}
	server := t.Subject(host, port)
	t.peers.add(server, server)
	t.logger.Info("nats transport connected", slog.String("server", server))
	return nil
}

// Send implements Transport.
func (t *NATSTransport) Send(data []byte, to string) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	t.mu.Lock()
	nc, local := t.nc, t.local
	t.mu.Unlock()
	if nc == nil {
		return ErrNotConnected
	}
	subject, _, ok := t.peers.get(to)
	if !ok {
		if to == "" {
			return ErrNoPeer
		}
		subject = to
	}
	if len(data) > t.config.MaxPacketSize {
		return fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, len(data))
	}
	if err := nc.PublishMsg(&nats.Msg{Subject: subject, Reply: local, Data: data}); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	t.stats.sent(len(data))
	return nil
}

// Broadcast implements Transport.
func (t *NATSTransport) Broadcast(data []byte) error {
	var errs []error
	for _, addr := range t.peers.addrs() {
		if err := t.Send(data, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll implements Transport.
func (t *NATSTransport) Poll(handler PacketHandler) bool {
	return t.inbox.poll(handler)
}

// Address implements Transport.
func (t *NATSTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// Peers implements Transport.
func (t *NATSTransport) Peers() []string {
	return t.peers.addrs()
}

// Statistics returns traffic counters.
func (t *NATSTransport) Statistics() Statistics {
	return t.stats.snapshot(t.peers.len())
}

// Disconnect implements Transport.
func (t *NATSTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()
	t.mu.Lock()
	nc, sub := t.nc, t.sub
	t.mu.Unlock()
	if nc == nil {
		return nil
	}
	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	nc.Close()
	t.peers.clear()
	return err
}
