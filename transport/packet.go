package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/meshgate/limits"
)

// PortNum identifies the application a packet belongs to.
type PortNum uint16

const (
	// PortTextMessage carries UTF-8 text messages.
	PortTextMessage PortNum = 1
	// PortPrivateApp carries binary file chunks.
	PortPrivateApp PortNum = 256
)

// String returns the firmware name of the port.
func (p PortNum) String() string {
	switch p {
	case PortTextMessage:
		return "TEXT_MESSAGE_APP"
	case PortPrivateApp:
		return "PRIVATE_APP"
	default:
		return fmt.Sprintf("PORT_%d", uint16(p))
	}
}

// Packet represents one link packet.
type Packet struct {
	Port PortNum
	From NodeAddr
	To   NodeAddr
	Data []byte
}

// ErrPacketTooShort indicates a link frame that cannot hold a packet header.
var ErrPacketTooShort = errors.New("packet too short")

// Validate checks the payload budget for the packet's port.
func (p *Packet) Validate() error {
	if p.Data == nil {
		return errors.New("packet data is nil")
	}
	switch p.Port {
	case PortPrivateApp:
		return limits.ValidateFrameSize(p.Data)
	case PortTextMessage:
		return limits.ValidateMessageSize(p.Data, limits.MaxTextMessage)
	}
	return nil
}

// Serialize converts a packet to a byte slice for transmission.
func (p *Packet) Serialize() ([]byte, error) {
	if p.Data == nil {
		return nil, errors.New("packet data is nil")
	}
	if len(p.From) > 255 || len(p.To) > 255 {
		return nil, errors.New("node address too long")
	}

	// Format: [port (2)][from_len (1)][from][to_len (1)][to][data]
	result := make([]byte, 0, 4+len(p.From)+len(p.To)+len(p.Data))
	result = binary.BigEndian.AppendUint16(result, uint16(p.Port))
	result = append(result, byte(len(p.From)))
	result = append(result, p.From...)
	result = append(result, byte(len(p.To)))
	result = append(result, p.To...)
	result = append(result, p.Data...)

	return result, nil
}

// ParsePacket converts a byte slice to a Packet structure.
func ParsePacket(data []byte) (*Packet, error) {
	if len(data) < 4 {
		return nil, ErrPacketTooShort
	}

	port := PortNum(binary.BigEndian.Uint16(data[0:2]))
	offset := 2

	from, offset, err := readAddr(data, offset)
	if err != nil {
		return nil, err
	}
	to, offset, err := readAddr(data, offset)
	if err != nil {
		return nil, err
	}

	packet := &Packet{
		Port: port,
		From: from,
		To:   to,
		Data: make([]byte, len(data)-offset),
	}
	copy(packet.Data, data[offset:])

	return packet, nil
}

func readAddr(data []byte, offset int) (NodeAddr, int, error) {
	if offset >= len(data) {
		return "", offset, ErrPacketTooShort
	}
	n := int(data[offset])
	offset++
	if offset+n > len(data) {
		return "", offset, fmt.Errorf("%w: address truncated", ErrPacketTooShort)
	}
	return NodeAddr(data[offset : offset+n]), offset + n, nil
}
