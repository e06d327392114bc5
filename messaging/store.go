package messaging

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of messages the gateway keeps.
const DefaultCapacity = 200

// SelfSender is the sender recorded for messages sent by this gateway.
const SelfSender = "self"

// Direction values recorded on each message.
const (
	DirectionRx = "rx"
	DirectionTx = "tx"
)

// Message is one entry in the message log.
type Message struct {
	ID          uint64    `json:"id"`
	Sender      string    `json:"sender"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
	RSSI        *int32    `json:"rssi"`
	SNR         *float32  `json:"snr"`
	Direction   string    `json:"direction"`
	Destination string    `json:"destination,omitempty"`
}

// Store is a fixed-capacity message log. When full, the oldest message is
// discarded. It is safe for concurrent use.
type Store struct {
	messages []Message
	capacity int
	nextID   uint64
	now      func() time.Time
	mu       sync.Mutex
}

// NewStore creates a log holding at most capacity messages.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		messages: make([]Message, 0, capacity),
		capacity: capacity,
		nextID:   1,
		now:      time.Now,
	}
}

// Add records a received message with optional signal metadata.
func (s *Store) Add(sender, text string, rssi *int32, snr *float32) Message {
	return s.append(Message{
		Sender:    sender,
		Text:      text,
		RSSI:      rssi,
		SNR:       snr,
		Direction: DirectionRx,
	})
}

// AddSent records a message sent by this gateway.
func (s *Store) AddSent(text, destination string) Message {
	return s.append(Message{
		Sender:      SelfSender,
		Text:        text,
		Direction:   DirectionTx,
		Destination: destination,
	})
}

func (s *Store) append(msg Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.ID = s.nextID
	msg.Timestamp = s.now()
	s.nextID++

	if len(s.messages) == s.capacity {
		copy(s.messages, s.messages[1:])
		s.messages[len(s.messages)-1] = msg
	} else {
		s.messages = append(s.messages, msg)
	}
	return msg
}

// GetAll returns the messages with an id greater than sinceID, oldest first.
func (s *Store) GetAll(sinceID uint64) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Message, 0, len(s.messages))
	for _, msg := range s.messages {
		if msg.ID > sinceID {
			result = append(result, msg)
		}
	}
	return result
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Clear empties the log. Ids keep increasing afterwards.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
}
