package transport

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// Endpoint holds the state shared by every transport implementation: the local
// node address, the per-port handlers, the node table and the closed flag.
type Endpoint struct {
	local    NodeAddr
	handlers map[PortNum]PacketHandler
	nodes    *NodeTable
	closed   bool
	mu       sync.RWMutex
}

// NewEndpoint creates an endpoint for the local node.
func NewEndpoint(local NodeAddr) *Endpoint {
	return &Endpoint{
		local:    local,
		handlers: make(map[PortNum]PacketHandler),
		nodes:    NewNodeTable(),
	}
}

// RegisterHandler registers a handler for a specific application port.
func (e *Endpoint) RegisterHandler(port PortNum, handler PacketHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handlers[port] = handler
}

// LocalAddr returns the local node address.
func (e *Endpoint) LocalAddr() net.Addr {
	return e.local
}

// Nodes returns the remote nodes heard so far.
func (e *Endpoint) Nodes() []NodeInfo {
	return e.nodes.Nodes()
}

// IsClosed reports whether the endpoint has been closed.
func (e *Endpoint) IsClosed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.closed
}

// MarkClosed flags the endpoint closed. It returns false if it already was.
func (e *Endpoint) MarkClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.closed = true
	return true
}

// Prepare validates an outgoing packet and returns a copy stamped with the
// local and destination addresses.
func (e *Endpoint) Prepare(packet *Packet, addr net.Addr) (*Packet, error) {
	if e.IsClosed() {
		return nil, ErrNotConnected
	}
	if err := packet.Validate(); err != nil {
		return nil, err
	}
	return &Packet{
		Port: packet.Port,
		From: e.local,
		To:   nodeAddrOf(addr),
		Data: packet.Data,
	}, nil
}

// Accepts reports whether a packet addressed to to is meant for this node.
func (e *Endpoint) Accepts(to NodeAddr) bool {
	return to == "" || to.IsBroadcast() || to == e.local
}

// Deliver hands an incoming packet to the handler registered for its port.
// Packets addressed to other nodes and packets echoed from this node are ignored.
func (e *Endpoint) Deliver(packet *Packet) {
	if packet.From == e.local || !e.Accepts(packet.To) {
		return
	}

	e.nodes.Heard(packet.From)

	e.mu.RLock()
	handler, exists := e.handlers[packet.Port]
	closed := e.closed
	e.mu.RUnlock()

	if closed {
		return
	}
	if !exists {
		logrus.WithFields(logrus.Fields{
			"function": "Deliver",
			"port":     packet.Port.String(),
			"from":     packet.From.String(),
		}).Debug("No handler registered for port, dropping packet")
		return
	}

	if err := handler(packet, packet.From); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Deliver",
			"port":     packet.Port.String(),
			"from":     packet.From.String(),
			"error":    err.Error(),
		}).Debug("Packet handler returned error")
	}
}
