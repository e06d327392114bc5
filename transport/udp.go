package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// UDPTransport carries link packets in UDP datagrams. Peers are registered
// explicitly; unicast packets to unknown nodes are flooded to every peer, as
// the mesh itself would do.
type UDPTransport struct {
	*Endpoint

	conn   net.PacketConn
	peers  map[NodeAddr]net.Addr
	peerMu sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUDPTransport creates a UDP transport for node listening on listenAddr.
func NewUDPTransport(listenAddr string, node NodeAddr) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	t := &UDPTransport{
		Endpoint: NewEndpoint(node),
		conn:     conn,
		peers:    make(map[NodeAddr]net.Addr),
		ctx:      ctx,
		cancel:   cancel,
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewUDPTransport",
		"node":     node.String(),
		"listen":   conn.LocalAddr().String(),
	}).Info("UDP link transport listening")

	t.wg.Add(1)
	go t.processPackets()

	return t, nil
}

// AddPeer registers the UDP address of a remote node.
func (t *UDPTransport) AddPeer(node NodeAddr, address string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return fmt.Errorf("resolve peer %s: %w", node, err)
	}

	t.peerMu.Lock()
	t.peers[node] = udpAddr
	t.peerMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "AddPeer",
		"node":     node.String(),
		"address":  udpAddr.String(),
	}).Debug("Registered UDP peer")

	return nil
}

// ListenAddr returns the UDP address the transport is bound to.
func (t *UDPTransport) ListenAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Send sends a packet to the specified node.
func (t *UDPTransport) Send(packet *Packet, addr net.Addr) error {
	out, err := t.Prepare(packet, addr)
	if err != nil {
		return err
	}

	data, err := out.Serialize()
	if err != nil {
		return err
	}

	targets := t.resolveTargets(out.To)
	if len(targets) == 0 {
		return fmt.Errorf("%w: no peers registered", ErrNotConnected)
	}

	for _, target := range targets {
		if _, err := t.conn.WriteTo(data, target); err != nil {
			return err
		}
	}
	return nil
}

// resolveTargets returns the UDP addresses a packet for to must reach.
func (t *UDPTransport) resolveTargets(to NodeAddr) []net.Addr {
	t.peerMu.RLock()
	defer t.peerMu.RUnlock()

	if addr, ok := t.peers[to]; ok && !to.IsBroadcast() {
		return []net.Addr{addr}
	}

	targets := make([]net.Addr, 0, len(t.peers))
	for _, addr := range t.peers {
		targets = append(targets, addr)
	}
	return targets
}

// Close shuts down the transport.
func (t *UDPTransport) Close() error {
	if !t.MarkClosed() {
		return nil
	}
	t.cancel()
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

// processPackets handles incoming packets.
func (t *UDPTransport) processPackets() {
	defer t.wg.Done()
	buffer := make([]byte, 2048)

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
			t.processIncomingPacket(buffer)
		}
	}
}

// processIncomingPacket reads and processes a single incoming packet.
func (t *UDPTransport) processIncomingPacket(buffer []byte) {
	data, err := t.readPacketData(buffer)
	if err != nil {
		return
	}

	packet, err := ParsePacket(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "processIncomingPacket",
			"error":    err.Error(),
		}).Debug("Discarding malformed link frame")
		return
	}

	go t.Deliver(packet)
}

// readPacketData reads data from the connection with timeout handling.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, error) {
	// Set read deadline for non-blocking reads with timeout
	_ = t.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))

	n, _, err := t.conn.ReadFrom(buffer)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, err
		}
		if !t.IsClosed() {
			logrus.WithFields(logrus.Fields{
				"function": "readPacketData",
				"error":    err.Error(),
			}).Warn("UDP read failed")
		}
		return nil, err
	}

	return buffer[:n], nil
}
