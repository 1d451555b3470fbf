package network

import (
	"fmt"
)

// networkFactory builds transports from a Config.
type networkFactory struct {
	mem *MemNetwork
}

// NewNetworkFactory creates a factory. Memory transports built by it share
// one in-memory network unless the config names another.
func NewNetworkFactory() *networkFactory {
	return &networkFactory{mem: NewMemNetwork()}
}

// CreateTransport creates an unbound transport for config.Protocol.
func (nf *networkFactory) CreateTransport(config *Config) (Transport, error) {
	if config == nil {
		return nil, fmt.Errorf("config is nil")
	}

	switch config.Protocol {
	case ProtocolTCP:
		return NewTCPTransport(config), nil
	case ProtocolUDP:
		return NewUDPTransport(config), nil
	case ProtocolWebSocket:
		return NewWebSocketTransport(config), nil
	case ProtocolNATS:
		return NewNATSTransport(config), nil
	case ProtocolMemory:
		n := config.Network
		if n == nil {
			n = nf.mem
		}
		return NewMemTransport(n, config), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, config.Protocol)
	}
}

// DefaultFactory is the package level factory used by New.
var DefaultFactory = NewNetworkFactory()

// New creates a transport for protocol with default settings.
func New(protocol Protocol) (Transport, error) {
	config := DefaultConfig()
	config.Protocol = protocol
	return DefaultFactory.CreateTransport(config)
}

// NewWithConfig creates a transport from config using the default factory.
func NewWithConfig(config *Config) (Transport, error) {
	return DefaultFactory.CreateTransport(config)
}
