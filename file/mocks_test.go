package file

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/meshgate/transport"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime.Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

var errMockLinkDown = errors.New("mock link down")

// mockTransport implements transport.Transport for testing.
type mockTransport struct {
	mu      sync.Mutex
	packets []sentPacket
	handler map[transport.PortNum]transport.PacketHandler
	failAt  int
}

type sentPacket struct {
	packet *transport.Packet
	addr   net.Addr
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		packets: make([]sentPacket, 0),
		handler: make(map[transport.PortNum]transport.PacketHandler),
		failAt:  -1,
	}
}

// failAfter makes Send fail once n packets have been accepted.
func (m *mockTransport) failAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
}

func (m *mockTransport) Send(packet *transport.Packet, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAt >= 0 && len(m.packets) >= m.failAt {
		return errMockLinkDown
	}
	m.packets = append(m.packets, sentPacket{packet: packet, addr: addr})
	return nil
}

func (m *mockTransport) Close() error {
	return nil
}

func (m *mockTransport) LocalAddr() net.Addr {
	return transport.NodeAddr(testLocalNode)
}

func (m *mockTransport) RegisterHandler(port transport.PortNum, handler transport.PacketHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler[port] = handler
}

func (m *mockTransport) simulateReceive(port transport.PortNum, data []byte) error {
	m.mu.Lock()
	handler, exists := m.handler[port]
	m.mu.Unlock()
	if !exists {
		return nil
	}
	packet := &transport.Packet{
		Port: port,
		From: transport.NodeAddr(testPeerNode),
		Data: data,
	}
	return handler(packet, packet.From)
}

func (m *mockTransport) sent() []sentPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentPacket, len(m.packets))
	copy(out, m.packets)
	return out
}

// sequenceIDs returns an id generator that yields ids in order.
func sequenceIDs(ids ...uint32) func() (uint32, error) {
	var mu sync.Mutex
	next := 0
	return func() (uint32, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[next%len(ids)]
		next++
		return id, nil
	}
}
