package messaging

import (
	"errors"
	"net"
	"time"

	"github.com/opd-ai/meshgate/transport"
)

var errMockTransport = errors.New("transport failure")

// mockTransport implements transport.Transport for testing.
type mockTransport struct {
	sent       []*transport.Packet
	addrs      []net.Addr
	handlers   map[transport.PortNum]transport.PacketHandler
	shouldFail bool
}

func newMockTransport() *mockTransport {
	return &mockTransport{handlers: make(map[transport.PortNum]transport.PacketHandler)}
}

func (m *mockTransport) Send(packet *transport.Packet, addr net.Addr) error {
	if m.shouldFail {
		return errMockTransport
	}
	m.sent = append(m.sent, packet)
	m.addrs = append(m.addrs, addr)
	return nil
}

func (m *mockTransport) Close() error { return nil }

func (m *mockTransport) LocalAddr() net.Addr { return transport.NodeAddr(testLocalNode) }

func (m *mockTransport) RegisterHandler(port transport.PortNum, handler transport.PacketHandler) {
	m.handlers[port] = handler
}

func (m *mockTransport) receive(from string, text []byte) error {
	packet := &transport.Packet{
		Port: transport.PortTextMessage,
		From: transport.NodeAddr(from),
		Data: text,
	}
	return m.handlers[transport.PortTextMessage](packet, packet.From)
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(step time.Duration) func() time.Time {
	current := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		current = current.Add(step)
		return current
	}
}
