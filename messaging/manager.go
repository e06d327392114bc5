package messaging

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/opd-ai/meshgate/limits"
	"github.com/opd-ai/meshgate/transport"
	"github.com/sirupsen/logrus"
)

// MessageCallback is called for every inbound text message after it is stored.
type MessageCallback func(msg Message)

// Manager sends text messages and logs inbound ones.
type Manager struct {
	transport transport.Transport
	store     *Store
	callback  MessageCallback
	mu        sync.RWMutex
}

// NewManager creates a manager that logs to store and registers itself as
// the handler for text packets on t.
func NewManager(t transport.Transport, store *Store) *Manager {
	if store == nil {
		store = NewStore(DefaultCapacity)
	}
	m := &Manager{
		transport: t,
		store:     store,
	}
	if t != nil {
		t.RegisterHandler(transport.PortTextMessage, m.handleTextPacket)
	}
	return m
}

// Store returns the message log.
func (m *Manager) Store() *Store {
	return m.store
}

// OnMessage sets the inbound message callback.
func (m *Manager) OnMessage(callback MessageCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

// SendText sends text to destination and records it in the log. A nil
// destination broadcasts. The message is only logged if the link accepted it.
func (m *Manager) SendText(text string, destination net.Addr) (Message, error) {
	if err := limits.ValidateTextMessage(text); err != nil {
		return Message{}, err
	}
	if m.transport == nil {
		return Message{}, transport.ErrNotConnected
	}
	if destination == nil {
		destination = transport.Broadcast
	}

	packet := &transport.Packet{
		Port: transport.PortTextMessage,
		Data: []byte(text),
	}
	if err := m.transport.Send(packet, destination); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "SendText",
			"destination": destination.String(),
			"error":       err.Error(),
		}).Error("Failed to send text message")
		return Message{}, fmt.Errorf("send text: %w", err)
	}

	msg := m.store.AddSent(text, destination.String())

	logrus.WithFields(logrus.Fields{
		"function":    "SendText",
		"message_id":  msg.ID,
		"destination": destination.String(),
		"length":      len(text),
	}).Info("Sent text message")

	return msg, nil
}

func (m *Manager) handleTextPacket(packet *transport.Packet, addr net.Addr) error {
	sender := packet.From.String()
	if sender == "" && addr != nil {
		sender = addr.String()
	}
	if sender == "" {
		sender = "unknown"
	}
	text := strings.ToValidUTF8(string(packet.Data), "�")

	msg := m.store.Add(sender, text, nil, nil)

	logrus.WithFields(logrus.Fields{
		"function":   "handleTextPacket",
		"message_id": msg.ID,
		"sender":     sender,
		"length":     len(text),
	}).Info("Received text message")

	m.mu.RLock()
	callback := m.callback
	m.mu.RUnlock()
	if callback != nil {
		callback(msg)
	}
	return nil
}
