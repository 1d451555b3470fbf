package network

import (
	"sync"
	"sync/atomic"
)

// packet is a received payload waiting for Poll.
type packet struct {
	data []byte
	from string
}

// inbox buffers received packets between transport goroutines and Poll.
type inbox struct {
	ch chan packet
}

func newInbox(size int) *inbox {
	return &inbox{ch: make(chan packet, size)}
}

// put queues a packet, blocking while the backlog is full so a slow poller
// applies back-pressure to the connection.
func (in *inbox) put(data []byte, from string, done <-chan struct{}) bool {
	select {
	case in.ch <- packet{data: data, from: from}:
		return true
	case <-done:
		return false
	}
}

func (in *inbox) poll(handler PacketHandler) bool {
	select {
	case p := <-in.ch:
		handler(p.data, p.from)
		return true
	default:
		return false
	}
}

// peerTable tracks peers in connection order.
type peerTable[T any] struct {
	mu    sync.RWMutex
	order []string
	peers map[string]T
}

func newPeerTable[T any]() *peerTable[T] {
	return &peerTable[T]{peers: make(map[string]T)}
}

func (pt *peerTable[T]) add(addr string, p T) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.peers[addr]; ok {
		return false
	}
	pt.peers[addr] = p
	pt.order = append(pt.order, addr)
	return true
}

func (pt *peerTable[T]) remove(addr string) (T, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p, ok := pt.peers[addr]
	if !ok {
		return p, false
	}
	delete(pt.peers, addr)
	for i, a := range pt.order {
		if a == addr {
			pt.order = append(pt.order[:i], pt.order[i+1:]...)
			break
		}
	}
	return p, true
}

// get resolves addr, the empty address meaning the first peer.
func (pt *peerTable[T]) get(addr string) (T, string, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if addr == "" {
		if len(pt.order) == 0 {
			var zero T
			return zero, "", false
		}
		addr = pt.order[0]
	}
	p, ok := pt.peers[addr]
	return p, addr, ok
}

func (pt *peerTable[T]) len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.order)
}

func (pt *peerTable[T]) addrs() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return append([]string(nil), pt.order...)
}

func (pt *peerTable[T]) all() []T {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make([]T, 0, len(pt.order))
	for _, a := range pt.order {
		out = append(out, pt.peers[a])
	}
	return out
}

func (pt *peerTable[T]) clear() []T {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	out := make([]T, 0, len(pt.order))
	for _, a := range pt.order {
		out = append(out, pt.peers[a])
	}
	pt.peers = make(map[string]T)
	pt.order = nil
	return out
}

// Statistics counts the traffic of a transport.
type Statistics struct {
	PacketsIn  int64 `json:"packets_in"`
	PacketsOut int64 `json:"packets_out"`
	BytesIn    int64 `json:"bytes_in"`
	BytesOut   int64 `json:"bytes_out"`
	Peers      int   `json:"peers"`
}

type counters struct {
	packetsIn  atomic.Int64
	packetsOut atomic.Int64
	bytesIn    atomic.Int64
	bytesOut   atomic.Int64
}

func (c *counters) received(n int) {
	c.packetsIn.Add(1)
	c.bytesIn.Add(int64(n))
}

func (c *counters) sent(n int) {
	c.packetsOut.Add(1)
	c.bytesOut.Add(int64(n))
}

func (c *counters) snapshot(peers int) Statistics {
	return Statistics{
		PacketsIn:  c.packetsIn.Load(),
		PacketsOut: c.packetsOut.Load(),
		BytesIn:    c.bytesIn.Load(),
		BytesOut:   c.bytesOut.Load(),
		Peers:      peers,
	}
}
