package transport

import (
	"net"
	"sync"
	"testing"

	"github.com/opd-ai/meshgate/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packetRecorder collects packets delivered to a handler.
type packetRecorder struct {
	mu      sync.Mutex
	packets []*Packet
	from    []net.Addr
}

func (r *packetRecorder) handle(packet *Packet, addr net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packets = append(r.packets, packet)
	r.from = append(r.from, addr)
	return nil
}

func (r *packetRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

func (r *packetRecorder) last() *Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.packets) == 0 {
		return nil
	}
	return r.packets[len(r.packets)-1]
}

func TestEndpointDeliverFiltering(t *testing.T) {
	e := NewEndpoint(testNodeA)
	rec := &packetRecorder{}
	e.RegisterHandler(PortTextMessage, rec.handle)

	e.Deliver(&Packet{Port: PortTextMessage, From: testNodeB, To: Broadcast, Data: []byte("all")})
	e.Deliver(&Packet{Port: PortTextMessage, From: testNodeB, To: testNodeA, Data: []byte("direct")})
	e.Deliver(&Packet{Port: PortTextMessage, From: testNodeB, To: testNodeC, Data: []byte("other")})
	e.Deliver(&Packet{Port: PortTextMessage, From: testNodeA, To: Broadcast, Data: []byte("echo")})
	e.Deliver(&Packet{Port: PortPrivateApp, From: testNodeB, To: Broadcast, Data: []byte("unhandled")})

	require.Equal(t, 2, rec.count())
	assert.Equal(t, []byte("direct"), rec.last().Data)
	assert.Equal(t, testNodeB, rec.from[0])

	nodes := e.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, testNodeB.String(), nodes[0].ID)
	assert.Equal(t, uint64(3), nodes[0].Packets)
}

func TestEndpointPrepare(t *testing.T) {
	e := NewEndpoint(testNodeA)
	in := &Packet{Port: PortPrivateApp, Data: []byte("x")}

	out, err := e.Prepare(in, testNodeB)
	require.NoError(t, err)
	assert.Equal(t, testNodeA, out.From)
	assert.Equal(t, testNodeB, out.To)
	assert.Empty(t, in.From, "Prepare must not modify the caller's packet")

	out, err = e.Prepare(in, nil)
	require.NoError(t, err)
	assert.Equal(t, Broadcast, out.To)

	require.True(t, e.MarkClosed())
	assert.False(t, e.MarkClosed())
	_, err = e.Prepare(in, testNodeB)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestNodeTableOrdering(t *testing.T) {
	table := NewNodeTable()
	table.Heard(testNodeB)
	table.Heard(Broadcast)
	table.Heard("")
	table.Heard(testNodeC)

	nodes := table.Nodes()
	require.Len(t, nodes, 2)
	assert.False(t, nodes[0].LastHeard.Before(nodes[1].LastHeard))
}

func newUDPPair(t *testing.T) (*UDPTransport, *UDPTransport) {
	t.Helper()

	a, err := NewUDPTransport(testLoopback, testNodeA)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b, err := NewUDPTransport(testLoopback, testNodeB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.NoError(t, a.AddPeer(testNodeB, b.ListenAddr().String()))
	require.NoError(t, b.AddPeer(testNodeA, a.ListenAddr().String()))
	return a, b
}

func TestUDPTransportSendReceive(t *testing.T) {
	a, b := newUDPPair(t)
	rec := &packetRecorder{}
	b.RegisterHandler(PortPrivateApp, rec.handle)

	payload := []byte{0x01, 0x02, 0x03}
	require.NoError(t, a.Send(&Packet{Port: PortPrivateApp, Data: payload}, testNodeB))

	require.Eventually(t, func() bool { return rec.count() == 1 }, testWaitFor, testTick)
	got := rec.last()
	assert.Equal(t, payload, got.Data)
	assert.Equal(t, testNodeA, got.From)
	assert.Equal(t, testNodeA, a.LocalAddr())
}

func TestUDPTransportBroadcast(t *testing.T) {
	a, b := newUDPPair(t)
	rec := &packetRecorder{}
	b.RegisterHandler(PortTextMessage, rec.handle)

	require.NoError(t, a.Send(&Packet{Port: PortTextMessage, Data: []byte("hello")}, Broadcast))
	require.Eventually(t, func() bool { return rec.count() == 1 }, testWaitFor, testTick)
	assert.Equal(t, Broadcast, rec.last().To)
}

func TestUDPTransportErrors(t *testing.T) {
	a, _ := newUDPPair(t)

	err := a.Send(&Packet{Port: PortPrivateApp, Data: make([]byte, limits.MaxFrameSize+1)}, testNodeB)
	assert.ErrorIs(t, err, limits.ErrFrameTooLarge)

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close())
	err = a.Send(&Packet{Port: PortPrivateApp, Data: []byte("x")}, testNodeB)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUDPTransportNoPeers(t *testing.T) {
	lonely, err := NewUDPTransport(testLoopback, testNodeC)
	require.NoError(t, err)
	defer lonely.Close()

	err = lonely.Send(&Packet{Port: PortTextMessage, Data: []byte("anyone?")}, Broadcast)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestKISSTransportOverPipe(t *testing.T) {
	left, right := net.Pipe()
	a := NewKISSTransport(left, testNodeA)
	b := NewKISSTransport(right, testNodeB)
	defer a.Close()
	defer b.Close()

	rec := &packetRecorder{}
	b.RegisterHandler(PortPrivateApp, rec.handle)

	// Payload deliberately contains KISS special bytes.
	payload := []byte{kissFEND, 0x10, kissFESC, kissFEND}
	require.NoError(t, a.Send(&Packet{Port: PortPrivateApp, Data: payload}, Broadcast))
	require.NoError(t, a.Send(&Packet{Port: PortPrivateApp, Data: []byte("second")}, testNodeB))

	require.Eventually(t, func() bool { return rec.count() == 2 }, testWaitFor, testTick)
	assert.Equal(t, payload, rec.packets[0].Data)
	assert.Equal(t, []byte("second"), rec.packets[1].Data)
}

func TestKISSTransportClosed(t *testing.T) {
	left, right := net.Pipe()
	a := NewKISSTransport(left, testNodeA)
	defer right.Close()

	require.NoError(t, a.Close())
	err := a.Send(&Packet{Port: PortTextMessage, Data: []byte("late")}, Broadcast)
	assert.ErrorIs(t, err, ErrNotConnected)
}
