// Package chunk implements the wire framing for file chunks carried over the
// mesh link.
//
// Every chunk is a 16-byte big-endian header followed by up to 184 bytes of
// file data:
//
//	+-------------+---------+--------------+----------+-----------------+
//	| transfer_id | seq_num | total_chunks | checksum | payload (0-184) |
//	|     u32     |   u32   |     u32      |   u32    |                 |
//	+-------------+---------+--------------+----------+-----------------+
//
// The checksum is a CRC-32 (IEEE) over the payload only. It detects link noise;
// it offers no protection against deliberate tampering.
package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/opd-ai/meshgate/limits"
)

// ErrFrameTooShort indicates raw bytes shorter than the chunk header.
var ErrFrameTooShort = errors.New("chunk frame shorter than header")

// ErrChecksumMismatch indicates a payload whose CRC does not match the header.
var ErrChecksumMismatch = errors.New("chunk checksum mismatch")

// Chunk is one framed unit of a file transfer.
type Chunk struct {
	TransferID  uint32
	SeqNum      uint32
	TotalChunks uint32
	Checksum    uint32
	Payload     []byte
}

// Checksum returns the CRC-32 of payload.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// TotalChunks returns the number of chunks needed to carry size bytes.
func TotalChunks(size int) uint32 {
	if size <= 0 {
		return 0
	}
	return uint32((size + limits.ChunkDataSize - 1) / limits.ChunkDataSize)
}

// New builds a chunk for payload and fills in its checksum.
func New(transferID, seqNum, totalChunks uint32, payload []byte) *Chunk {
	return &Chunk{
		TransferID:  transferID,
		SeqNum:      seqNum,
		TotalChunks: totalChunks,
		Checksum:    Checksum(payload),
		Payload:     payload,
	}
}

// Encode frames a payload into header plus data.
func Encode(transferID, seqNum, totalChunks uint32, payload []byte) ([]byte, error) {
	return New(transferID, seqNum, totalChunks, payload).Marshal()
}

// Marshal serializes the chunk using the checksum stored in the chunk.
func (c *Chunk) Marshal() ([]byte, error) {
	if err := limits.ValidateChunkPayload(c.Payload); err != nil {
		return nil, err
	}

	data := make([]byte, limits.HeaderSize+len(c.Payload))
	binary.BigEndian.PutUint32(data[0:4], c.TransferID)
	binary.BigEndian.PutUint32(data[4:8], c.SeqNum)
	binary.BigEndian.PutUint32(data[8:12], c.TotalChunks)
	binary.BigEndian.PutUint32(data[12:16], c.Checksum)
	copy(data[limits.HeaderSize:], c.Payload)

	return data, nil
}

// Decode parses raw bytes into a chunk. The payload is copied so the caller may
// reuse raw. Decode does not verify the checksum; see Verify.
func Decode(raw []byte) (*Chunk, error) {
	if len(raw) < limits.HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need %d", ErrFrameTooShort, len(raw), limits.HeaderSize)
	}

	c := &Chunk{
		TransferID:  binary.BigEndian.Uint32(raw[0:4]),
		SeqNum:      binary.BigEndian.Uint32(raw[4:8]),
		TotalChunks: binary.BigEndian.Uint32(raw[8:12]),
		Checksum:    binary.BigEndian.Uint32(raw[12:16]),
		Payload:     make([]byte, len(raw)-limits.HeaderSize),
	}
	copy(c.Payload, raw[limits.HeaderSize:])

	return c, nil
}

// Verify recomputes the payload checksum and compares it with the header.
func (c *Chunk) Verify() error {
	actual := Checksum(c.Payload)
	if actual != c.Checksum {
		return fmt.Errorf("%w: transfer %d chunk %d expected %08x got %08x",
			ErrChecksumMismatch, c.TransferID, c.SeqNum, c.Checksum, actual)
	}
	return nil
}

// Split cuts data into ordered chunks for transferID. The final chunk carries
// the remainder; an empty input yields no chunks.
func Split(transferID uint32, data []byte) []*Chunk {
	total := TotalChunks(len(data))
	chunks := make([]*Chunk, 0, total)
	for seq := uint32(0); seq < total; seq++ {
		chunks = append(chunks, New(transferID, seq, total, Slice(data, seq)))
	}
	return chunks
}

// Slice returns the payload bytes of chunk seq within data.
func Slice(data []byte, seq uint32) []byte {
	start := int(seq) * limits.ChunkDataSize
	if start >= len(data) {
		return nil
	}
	end := start + limits.ChunkDataSize
	if end > len(data) {
		end = len(data)
	}
	return data[start:end]
}
