package network

import "errors"

// Transport errors
var (
	ErrNoPeer              = errors.New("network: no such peer")
	ErrNotConnected        = errors.New("network: transport not bound")
	ErrAlreadyBound        = errors.New("network: transport already bound")
	ErrTransportClosed     = errors.New("network: transport closed")
	ErrPacketTooLarge      = errors.New("network: packet too large")
	ErrTooManyConnections  = errors.New("network: too many connections")
	ErrUnsupportedProtocol = errors.New("network: unsupported protocol")
)
