package transport

import (
	"errors"
	"net"
)

// ErrNotConnected indicates the transport is closed or has no link.
var ErrNotConnected = errors.New("transport not connected")

// PacketHandler is a function that processes incoming packets.
type PacketHandler func(packet *Packet, addr net.Addr) error

// Transport defines the interface for link transports used by the gateway.
// This abstraction allows UDP, serial radio and simulated links to be used
// interchangeably.
type Transport interface {
	// Send sends a packet to the specified node address.
	Send(packet *Packet, addr net.Addr) error

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the node address of this gateway.
	LocalAddr() net.Addr

	// RegisterHandler registers a handler for a specific application port.
	RegisterHandler(port PortNum, handler PacketHandler)
}

// NodeDirectory is implemented by transports that track remote nodes.
type NodeDirectory interface {
	Nodes() []NodeInfo
}
