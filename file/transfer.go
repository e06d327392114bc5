// Package file implements chunked file transfer over the mesh link.
//
// This package splits files into framed chunks for a narrow, lossy radio link
// and reassembles received chunks into complete files.
//
// Example:
//
//	manager := file.NewManager(link)
//	manager.OnProgress(func(id, count, total uint32, dir file.Direction) {
//	    fmt.Printf("%s %08x: %d/%d\n", dir, id, count, total)
//	})
//	id, err := manager.SendFile(data, "photo.jpg", transport.Broadcast)
package file

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDuplicateTransfer indicates a transfer id that is already in use.
	ErrDuplicateTransfer = errors.New("transfer id already in use")

	// ErrTransferNotFound indicates an unknown transfer id.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrTransferFinished indicates an operation on a transfer in a terminal state.
	ErrTransferFinished = errors.New("transfer already finished")

	// ErrAlreadyCompleted indicates a chunk for a transfer that has already been assembled.
	ErrAlreadyCompleted = errors.New("transfer already completed")

	// ErrInvalidChunk indicates a chunk whose header contradicts the transfer.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrManagerClosed indicates a send request after Close.
	ErrManagerClosed = errors.New("file manager closed")
)

// Direction indicates whether a transfer is incoming or outgoing.
type Direction uint8

const (
	// DirectionRx represents a file being received.
	DirectionRx Direction = iota
	// DirectionTx represents a file being sent.
	DirectionTx
)

// String returns "rx" or "tx".
func (d Direction) String() string {
	if d == DirectionTx {
		return "tx"
	}
	return "rx"
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "rx":
		*d = DirectionRx
	case "tx":
		*d = DirectionTx
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// Status represents the state of a transfer.
type Status uint8

const (
	// StatusSending indicates an outbound transfer is transmitting chunks.
	StatusSending Status = iota
	// StatusReceiving indicates an inbound transfer is collecting chunks.
	StatusReceiving
	// StatusDone indicates the transfer finished successfully.
	StatusDone
	// StatusError indicates the transfer failed.
	StatusError
	// StatusCancelled indicates the transfer was aborted locally.
	StatusCancelled
)

var statusNames = [...]string{"sending", "receiving", "done", "error", "cancelled"}

// String returns the lowercase status name.
func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if name == string(text) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCancelled
}

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// OutboundTransfer tracks a file being sent. After creation it is only
// modified by its send task.
type OutboundTransfer struct {
	TransferID  uint32
	Filename    string
	Destination string
	TotalChunks uint32
	SentChunks  uint32
	Status      Status
	Err         error
	CreatedAt   time.Time
}

// InboundTransfer buffers the chunks of a file being received. Slots are
// preallocated for every sequence number and a bitset records which are filled,
// bounding memory to TotalChunks payloads.
type InboundTransfer struct {
	TransferID   uint32
	TotalChunks  uint32
	slots        [][]byte
	received     []uint64
	count        uint32
	lastActivity time.Time
}

func newInboundTransfer(transferID, totalChunks uint32, now time.Time) *InboundTransfer {
	return &InboundTransfer{
		TransferID:   transferID,
		TotalChunks:  totalChunks,
		slots:        make([][]byte, totalChunks),
		received:     make([]uint64, (totalChunks+63)/64),
		lastActivity: now,
	}
}

// has reports whether chunk seq has been stored.
func (in *InboundTransfer) has(seq uint32) bool {
	return in.received[seq/64]&(1<<(seq%64)) != 0
}

// store saves payload at seq, overwriting a duplicate without recounting it.
func (in *InboundTransfer) store(seq uint32, payload []byte, now time.Time) {
	if !in.has(seq) {
		in.received[seq/64] |= 1 << (seq % 64)
		in.count++
	}
	in.slots[seq] = payload
	in.lastActivity = now
}

// Received returns the number of distinct chunks stored.
func (in *InboundTransfer) Received() uint32 {
	return in.count
}

// complete reports whether every slot is filled.
func (in *InboundTransfer) complete() bool {
	return in.count == in.TotalChunks
}

// assemble concatenates the payloads in sequence order.
func (in *InboundTransfer) assemble() []byte {
	size := 0
	for _, p := range in.slots {
		size += len(p)
	}
	data := make([]byte, 0, size)
	for _, p := range in.slots {
		data = append(data, p...)
	}
	return data
}

// CompletedTransfer is an assembled file. It is immutable once created.
type CompletedTransfer struct {
	TransferID  uint32
	Data        []byte
	Size        int
	Status      Status
	Direction   Direction
	TotalChunks uint32
	CompletedAt time.Time
}

// Info returns the transfer metadata without the file data.
func (c *CompletedTransfer) Info() CompletedInfo {
	return CompletedInfo{
		TransferID:  c.TransferID,
		Size:        c.Size,
		Status:      c.Status,
		Direction:   c.Direction,
		TotalChunks: c.TotalChunks,
		CompletedAt: c.CompletedAt,
	}
}

// CompletedInfo describes a completed transfer without its data.
type CompletedInfo struct {
	TransferID  uint32    `json:"transfer_id"`
	Size        int       `json:"size"`
	Status      Status    `json:"status"`
	Direction   Direction `json:"direction"`
	TotalChunks uint32    `json:"total_chunks"`
	CompletedAt time.Time `json:"completed_at"`
}

// StatusSnapshot is a point-in-time view of any transfer. Processed counts
// sent chunks for outbound transfers and received chunks for inbound ones.
type StatusSnapshot struct {
	TransferID  uint32    `json:"transfer_id"`
	Direction   Direction `json:"direction"`
	Status      Status    `json:"status"`
	Filename    string    `json:"filename,omitempty"`
	TotalChunks uint32    `json:"total_chunks"`
	Processed   uint32    `json:"processed_chunks"`
	Size        int       `json:"size,omitempty"`
	Error       string    `json:"error,omitempty"`
}
