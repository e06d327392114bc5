package factory

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/opd-ai/meshgate/config"
	"github.com/opd-ai/meshgate/sim"
	"github.com/opd-ai/meshgate/transport"
	"github.com/sirupsen/logrus"
)

// Validation constants for configuration bounds checking.
const (
	// MinBaudRate is the slowest serial speed a mesh radio accepts.
	MinBaudRate = 1200
	// MaxBaudRate is the fastest serial speed a mesh radio accepts.
	MaxBaudRate = 921600
	// DefaultBaudRate is used when the configured rate is out of bounds.
	DefaultBaudRate = 115200
	// MinLossRate is the lowest simulated loss probability.
	MinLossRate = 0.0
	// MaxLossRate is the highest simulated loss probability.
	MaxLossRate = 1.0
)

// ErrUnknownLinkType indicates a link.type the factory cannot build.
var ErrUnknownLinkType = errors.New("unknown link type")

// LinkFactory creates transports from link configuration. It is safe for
// concurrent use.
type LinkFactory struct {
	mu      sync.RWMutex
	config  config.LinkConfig
	network *sim.Network
}

// SimOption is a functional option for customizing a test simulation.
type SimOption func(*sim.Config)

// NewLinkFactory creates a factory for cfg, replacing out-of-bounds values
// with defaults.
func NewLinkFactory(cfg config.LinkConfig) *LinkFactory {
	cfg.Peers = append([]string(nil), cfg.Peers...)
	validateBaudRate(&cfg)
	validateLossRate(&cfg)
	logConfigurationInfo(cfg)

	return &LinkFactory{config: cfg}
}

func validateBaudRate(cfg *config.LinkConfig) {
	if cfg.Type != config.LinkSerial {
		return
	}
	if cfg.Baud < MinBaudRate || cfg.Baud > MaxBaudRate {
		logrus.WithFields(logrus.Fields{
			"function":    "validateBaudRate",
			"value":       cfg.Baud,
			"min":         MinBaudRate,
			"max":         MaxBaudRate,
			"using_value": DefaultBaudRate,
		}).Warn("link.baud out of bounds, using default")
		cfg.Baud = DefaultBaudRate
	}
}

func validateLossRate(cfg *config.LinkConfig) {
	if cfg.LossRate < MinLossRate || cfg.LossRate > MaxLossRate {
		logrus.WithFields(logrus.Fields{
			"function":    "validateLossRate",
			"value":       cfg.LossRate,
			"min":         MinLossRate,
			"max":         MaxLossRate,
			"using_value": MinLossRate,
		}).Warn("link.loss_rate out of bounds, using default")
		cfg.LossRate = MinLossRate
	}
}

func logConfigurationInfo(cfg config.LinkConfig) {
	logrus.WithFields(logrus.Fields{
		"function":  "NewLinkFactory",
		"type":      cfg.Type,
		"node_id":   cfg.NodeID,
		"peers":     len(cfg.Peers),
		"baud":      cfg.Baud,
		"loss_rate": cfg.LossRate,
	}).Info("Created link factory with configuration")
}

// GetCurrentConfig returns a copy of the validated configuration.
func (f *LinkFactory) GetCurrentConfig() config.LinkConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()

	cfg := f.config
	cfg.Peers = append([]string(nil), f.config.Peers...)
	return cfg
}

// CreateTransport opens the configured link.
func (f *LinkFactory) CreateTransport() (transport.Transport, error) {
	cfg := f.GetCurrentConfig()
	node := transport.ParseNodeAddr(cfg.NodeID)
	if node.IsBroadcast() {
		return nil, fmt.Errorf("link.node_id %q is not a node address", cfg.NodeID)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateTransport",
		"type":     cfg.Type,
		"node_id":  node.String(),
	}).Info("Creating link transport")

	switch strings.ToLower(cfg.Type) {
	case config.LinkUDP:
		return createUDP(cfg, node)
	case config.LinkSerial:
		link, err := transport.OpenSerial(cfg.SerialPort, cfg.Baud, node)
		if err != nil {
			return nil, fmt.Errorf("open serial %s: %w", cfg.SerialPort, err)
		}
		return link, nil
	case config.LinkSim:
		return f.createSim(cfg, node)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLinkType, cfg.Type)
	}
}

func createUDP(cfg config.LinkConfig, node transport.NodeAddr) (transport.Transport, error) {
	udp, err := transport.NewUDPTransport(cfg.Listen, node)
	if err != nil {
		return nil, err
	}

	for _, entry := range cfg.Peers {
		peer, address, err := ParsePeer(entry)
		if err == nil {
			err = udp.AddPeer(peer, address)
		}
		if err != nil {
			udp.Close()
			return nil, err
		}
	}
	return udp, nil
}

// createSim joins addr to the factory's simulated network, creating the
// network on first use.
func (f *LinkFactory) createSim(cfg config.LinkConfig, addr transport.NodeAddr) (transport.Transport, error) {
	f.mu.Lock()
	if f.network == nil {
		f.network = sim.NewNetwork(sim.Config{LossRate: cfg.LossRate})
	}
	network := f.network
	f.mu.Unlock()

	node, err := network.Join(addr)
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Network returns the simulated network created by CreateTransport, or nil
// when the link is not simulated.
func (f *LinkFactory) Network() *sim.Network {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.network
}

// ParsePeer splits a "node=host:port" peer entry.
func ParsePeer(entry string) (transport.NodeAddr, string, error) {
	node, address, ok := strings.Cut(strings.TrimSpace(entry), "=")
	if !ok || node == "" || address == "" {
		return "", "", fmt.Errorf("peer %q: want node=host:port", entry)
	}
	return transport.NodeAddr(node), address, nil
}

// WithLossRate sets the loss probability for the test simulation.
func WithLossRate(rate float64) SimOption {
	return func(c *sim.Config) {
		c.LossRate = rate
	}
}

// WithCorruptRate sets the corruption probability for the test simulation.
func WithCorruptRate(rate float64) SimOption {
	return func(c *sim.Config) {
		c.CorruptRate = rate
	}
}

// WithSeed fixes the random source of the test simulation.
func WithSeed(seed int64) SimOption {
	return func(c *sim.Config) {
		c.Seed = seed
	}
}

// CreateSimulationForTesting creates a fresh simulated network. The default
// is lossless with a fixed seed.
func (f *LinkFactory) CreateSimulationForTesting(opts ...SimOption) *sim.Network {
	cfg := sim.Config{Seed: 1}
	for _, opt := range opts {
		opt(&cfg)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "CreateSimulationForTesting",
		"loss_rate":    cfg.LossRate,
		"corrupt_rate": cfg.CorruptRate,
	}).Info("Creating simulation for testing")

	return sim.NewNetwork(cfg)
}
