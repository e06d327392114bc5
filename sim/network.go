package sim

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/meshgate/transport"
	"github.com/sirupsen/logrus"
)

// ErrNodeExists indicates a Join with an address already on the network.
var ErrNodeExists = errors.New("node already joined")

// Config controls the behaviour of the simulated link.
type Config struct {
	// LossRate is the probability in [0,1] that a packet is lost per recipient.
	LossRate float64
	// CorruptRate is the probability in [0,1] that one payload byte is flipped.
	CorruptRate float64
	// Latency delays every delivery. Zero delivers synchronously inside Send.
	Latency time.Duration
	// Seed makes loss and corruption reproducible. Zero uses the current time.
	Seed int64
}

// DeliveryRecord represents one delivery attempt for test verification.
type DeliveryRecord struct {
	From      transport.NodeAddr
	To        transport.NodeAddr
	Port      transport.PortNum
	Size      int
	Timestamp int64
	Dropped   bool
	Corrupted bool
}

// Stats summarises the delivery log.
type Stats struct {
	Nodes     int
	Attempts  int
	Delivered int
	Dropped   int
	Corrupted int
}

// Network is an in-memory broadcast medium shared by simulated nodes.
type Network struct {
	config      Config
	rng         *rand.Rand
	nodes       map[transport.NodeAddr]*Node
	deliveryLog []DeliveryRecord
	mu          sync.Mutex
}

// NewNetwork creates an empty simulated network.
func NewNetwork(config Config) *Network {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	logrus.Warn("SIMULATED LINK - PACKETS NEVER LEAVE THIS PROCESS")
	logrus.WithFields(logrus.Fields{
		"function":     "NewNetwork",
		"loss_rate":    config.LossRate,
		"corrupt_rate": config.CorruptRate,
		"latency":      config.Latency,
	}).Info("Creating simulated network")

	return &Network{
		config:      config,
		rng:         rand.New(rand.NewSource(seed)),
		nodes:       make(map[transport.NodeAddr]*Node),
		deliveryLog: make([]DeliveryRecord, 0),
	}
}

// Join attaches a new node with address addr.
func (n *Network) Join(addr transport.NodeAddr) (*Node, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, exists := n.nodes[addr]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeExists, addr)
	}

	node := &Node{
		Endpoint: transport.NewEndpoint(addr),
		network:  n,
	}
	n.nodes[addr] = node

	logrus.WithFields(logrus.Fields{
		"function":    "Join",
		"node":        addr.String(),
		"total_nodes": len(n.nodes),
	}).Debug("Node joined simulated network")

	return node, nil
}

func (n *Network) leave(addr transport.NodeAddr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, addr)
}

// SetLossRate changes the loss probability for subsequent packets.
func (n *Network) SetLossRate(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.config.LossRate = rate
}

// SetCorruptRate changes the corruption probability for subsequent packets.
func (n *Network) SetCorruptRate(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.config.CorruptRate = rate
}

type delivery struct {
	node   *Node
	packet *transport.Packet
}

// route decides the fate of packet for each recipient and delivers the
// survivors outside the network lock.
func (n *Network) route(packet *transport.Packet) {
	n.mu.Lock()
	recipients := n.recipientsLocked(packet)
	pending := make([]delivery, 0, len(recipients))

	for _, to := range recipients {
		record := DeliveryRecord{
			From:      packet.From,
			To:        to,
			Port:      packet.Port,
			Size:      len(packet.Data),
			Timestamp: time.Now().UnixNano(),
		}

		node, ok := n.nodes[to]
		if !ok || n.rng.Float64() < n.config.LossRate {
			record.Dropped = true
			n.deliveryLog = append(n.deliveryLog, record)
			continue
		}

		data := make([]byte, len(packet.Data))
		copy(data, packet.Data)
		if len(data) > 0 && n.rng.Float64() < n.config.CorruptRate {
			data[n.rng.Intn(len(data))] ^= byte(1 + n.rng.Intn(255))
			record.Corrupted = true
		}

		n.deliveryLog = append(n.deliveryLog, record)
		pending = append(pending, delivery{
			node: node,
			packet: &transport.Packet{
				Port: packet.Port,
				From: packet.From,
				To:   packet.To,
				Data: data,
			},
		})
	}
	latency := n.config.Latency
	n.mu.Unlock()

	for _, d := range pending {
		if latency > 0 {
			d := d
			time.AfterFunc(latency, func() { d.node.Deliver(d.packet) })
			continue
		}
		d.node.Deliver(d.packet)
	}
}

// recipientsLocked lists the nodes a packet is addressed to. Callers hold n.mu.
func (n *Network) recipientsLocked(packet *transport.Packet) []transport.NodeAddr {
	if packet.To != "" && !packet.To.IsBroadcast() {
		return []transport.NodeAddr{packet.To}
	}
	out := make([]transport.NodeAddr, 0, len(n.nodes))
	for addr := range n.nodes {
		if addr != packet.From {
			out = append(out, addr)
		}
	}
	return out
}

// GetDeliveryLog returns a copy of every delivery attempt so far.
func (n *Network) GetDeliveryLog() []DeliveryRecord {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]DeliveryRecord, len(n.deliveryLog))
	copy(out, n.deliveryLog)
	return out
}

// ClearDeliveryLog discards the delivery log.
func (n *Network) ClearDeliveryLog() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveryLog = n.deliveryLog[:0]
}

// Stats summarises the delivery log.
func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	stats := Stats{Nodes: len(n.nodes), Attempts: len(n.deliveryLog)}
	for _, r := range n.deliveryLog {
		switch {
		case r.Dropped:
			stats.Dropped++
		case r.Corrupted:
			stats.Corrupted++
			stats.Delivered++
		default:
			stats.Delivered++
		}
	}
	return stats
}

// Node is one station on a simulated network. It implements transport.Transport.
type Node struct {
	*transport.Endpoint
	network *Network
}

// Send validates packet and hands it to the network.
func (s *Node) Send(packet *transport.Packet, addr net.Addr) error {
	stamped, err := s.Prepare(packet, addr)
	if err != nil {
		return err
	}
	s.network.route(stamped)
	return nil
}

// Close detaches the node from the network. Further sends fail with
// transport.ErrNotConnected.
func (s *Node) Close() error {
	if !s.MarkClosed() {
		return nil
	}
	s.network.leave(s.Endpoint.LocalAddr().(transport.NodeAddr))
	return nil
}

// IsSimulation reports that the node never touches a real link.
func (s *Node) IsSimulation() bool {
	return true
}
