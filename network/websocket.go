package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsPeer is one WebSocket connection. gorilla allows a single concurrent
// writer per connection.
type wsPeer struct {
	addr string
	conn *websocket.Conn
	wmu  sync.Mutex
}

// WebSocketTransport carries one packet per binary WebSocket message.
type WebSocketTransport struct {
	config   *Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu        sync.Mutex
	server    *http.Server
	local     string
	bound     bool
	onConnect ConnectionHandler

	peers *peerTable[*wsPeer]
	inbox *inbox
	stats counters

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewWebSocketTransport creates an unbound WebSocket transport.
func NewWebSocketTransport(config *Config) *WebSocketTransport {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketTransport{
		config: config,
		logger: config.logger("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		peers:  newPeerTable[*wsPeer](),
		inbox:  newInbox(config.Backlog),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *WebSocketTransport) bind() error {
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

func (t *WebSocketTransport) unbind() {
	t.mu.Lock()
	t.bound = false
	t.mu.Unlock()
}

// Handler returns the HTTP handler that upgrades peers, for mounting on an
// existing server instead of calling Listen.
func (t *WebSocketTransport) Handler(onConnect ConnectionHandler) http.Handler {
	t.mu.Lock()
	t.onConnect = onConnect
	t.mu.Unlock()
	return http.HandlerFunc(t.serveWS)
}

func (t *WebSocketTransport) serveWS(w http.ResponseWriter, r *http.Request) {
	if t.closed.Load() {
		http.Error(w, "transport closed", http.StatusServiceUnavailable)
		return
	}
	if t.config.MaxConnections > 0 && t.peers.len() >= t.config.MaxConnections {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	p := t.addPeer(conn)

	t.mu.Lock()
	onConnect := t.onConnect
	t.mu.Unlock()
	if onConnect != nil {
		onConnect(p.addr)
	}
}

// Listen implements Transport.
func (t *WebSocketTransport) Listen(host string, port int, onConnect ConnectionHandler) error {
	if err := t.bind(); err != nil {
		return err
	}
	address := JoinHostPort(host, port)
	ln, err := net.Listen("tcp", address)
	if err != nil {
		t.unbind()
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(t.config.WebSocketPath, t.Handler(onConnect))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	t.mu.Lock()
	t.server = srv
	t.local = ln.Addr().String()
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("websocket server stopped", slog.Any("error", err))
		}
	}()
	t.logger.Info("websocket transport listening", slog.String("address", t.local), slog.String("path", t.config.WebSocketPath))
	return nil
}

// Connect implements Transport.
func (t *WebSocketTransport) Connect(host string, port int) error {
	u := url.URL{Scheme: "ws", Host: JoinHostPort(host, port), Path: t.config.WebSocketPath}
	return t.ConnectURL(u.String())
}

// ConnectURL dials a WebSocket endpoint by URL.
func (t *WebSocketTransport) ConnectURL(rawURL string) error {
	if err := t.bind(); err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.config.DialTimeout}
	conn, _, err := dialer.DialContext(t.ctx, rawURL, nil)
	if err != nil {
		t.unbind()
		return fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}
	t.mu.Lock()
	t.local = conn.LocalAddr().String()
	t.mu.Unlock()
	t.addPeer(conn)
	t.logger.Info("websocket transport connected", slog.String("server", rawURL))
	return nil
}

func (t *WebSocketTransport) addPeer(conn *websocket.Conn) *wsPeer {
	conn.SetReadLimit(int64(t.config.MaxPacketSize))
	p := &wsPeer{addr: conn.RemoteAddr().String(), conn: conn}
	t.peers.add(p.addr, p)
	t.wg.Add(1)
	go t.readLoop(p)
	return p
}

func (t *WebSocketTransport) readLoop(p *wsPeer) {
	defer t.wg.Done()
	defer func() {
		t.peers.remove(p.addr)
		p.conn.Close()
	}()
	for {
		kind, data, err := p.conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				t.logger.Debug("peer disconnected", slog.String("peer", p.addr), slog.Any("error", err))
			}
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.stats.received(len(data))
		if !t.inbox.put(data, p.addr, t.ctx.Done()) {
			return
		}
	}
}

// Send implements Transport.
func (t *WebSocketTransport) Send(data []byte, to string) error {
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
		return err
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("failed to write to %s: %w", addr, err)
	}
	t.stats.sent(len(data))
	return nil
}

// Broadcast implements Transport.
func (t *WebSocketTransport) Broadcast(data []byte) error {
	var errs []error
	for _, addr := range t.peers.addrs() {
		if err := t.Send(data, addr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Poll implements Transport.
func (t *WebSocketTransport) Poll(handler PacketHandler) bool {
	return t.inbox.poll(handler)
}

// Address implements Transport.
func (t *WebSocketTransport) Address() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local
}

// Peers implements Transport.
func (t *WebSocketTransport) Peers() []string {
	return t.peers.addrs()
}

// Statistics returns traffic counters.
func (t *WebSocketTransport) Statistics() Statistics {
	return t.stats.snapshot(t.peers.len())
}

// Disconnect implements Transport.
func (t *WebSocketTransport) Disconnect() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.cancel()

	for _, p := range t.peers.clear() {
		p.wmu.Lock()
		_ = p.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		p.wmu.Unlock()
		p.conn.Close()
	}

	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Shutdown(ctx)
		cancel()
	}
	t.wg.Wait()
	return err
}
