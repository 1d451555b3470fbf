package system

import (
	"log/slog"

	"github.com/najoast/sage/codec"
	"github.com/najoast/sage/core"
	"github.com/najoast/sage/network"
)

func (s *System) bind(t network.Transport) error {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	if s.transport != nil {
		return ErrTransportBound
	}
	s.transport = t
	return nil
}

func (s *System) unbind(t network.Transport) {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	if s.transport == t {
		s.transport = nil
	}
}

// Listen binds t to the system and listens on host and port.
func (s *System) Listen(host string, port int, t network.Transport) error {
	if err := s.bind(t); err != nil {
		return err
	}
	err := t.Listen(host, port, func(peer string) {
		s.logger.Info("peer connected", slog.String("peer", peer))
	})
	if err != nil {
		s.unbind(t)
		return err
	}
	return nil
}

// Connect binds t to the system and connects it to host and port.
func (s *System) Connect(host string, port int, t network.Transport) error {
	if err := s.bind(t); err != nil {
		return err
	}
	if err := t.Connect(host, port); err != nil {
		s.unbind(t)
		return err
	}
	return nil
}

// Transport returns the bound transport, nil when there is none.
func (s *System) Transport() network.Transport {
	s.netMu.RLock()
	defer s.netMu.RUnlock()
	return s.transport
}

// Address returns the local address of the bound transport.
func (s *System) Address() string {
	if t := s.Transport(); t != nil {
		return t.Address()
	}
	return ""
}

// SendMessage encodes msg and sends it to addr, the empty address meaning
// the default peer.
func (s *System) SendMessage(msg *core.Message, addr string) error {
	t := s.Transport()
	if t == nil {
		return ErrNoTransport
	}
	data, err := s.registry.Encode(msg)
	if err != nil {
		return err
	}
	return t.Send(data, addr)
}

// BroadcastMessage encodes msg and sends it to every peer.
func (s *System) BroadcastMessage(msg *core.Message) error {
	t := s.Transport()
	if t == nil {
		return ErrNoTransport
	}
	data, err := s.registry.Encode(msg)
	if err != nil {
		return err
	}
	return t.Broadcast(data)
}

// handleNetworkPacket queues an application packet from a peer the way a
// local message is queued, process groups included. Internal packet types
// are not accepted from the network.
func (s *System) handleNetworkPacket(data []byte, from string) {
	pt, ok := codec.PacketTypeOf(data)
	if !ok {
		return
	}
	if pt <= core.MaxReservedPacketType {
		s.logger.Debug("dropping internal packet from peer", slog.String("peer", from), slog.Int("type", int(pt)))
		return
	}
	s.queueDecoded(data, from, s.QueueMessage)
}
