// Package limits provides centralized size limits for the mesh link protocol.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxFrameSize is the largest payload the radio link accepts on the private app port.
	MaxFrameSize = 200

	// HeaderSize is the size of the fixed chunk header (four big-endian uint32 fields).
	HeaderSize = 16

	// ChunkDataSize is the number of file bytes carried by a single chunk.
	ChunkDataSize = MaxFrameSize - HeaderSize

	// MaxFileSize is the largest file accepted for transfer (50 KiB).
	MaxFileSize = 50 * 1024

	// MaxChunks is the number of chunks needed for a MaxFileSize file.
	MaxChunks = (MaxFileSize + ChunkDataSize - 1) / ChunkDataSize

	// MaxTextMessage is the longest plain text message the link carries.
	MaxTextMessage = 228
)

var (
	// ErrFileTooLarge indicates a file exceeds MaxFileSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrFrameTooLarge indicates a link frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrPayloadTooLarge indicates a chunk payload exceeds ChunkDataSize.
	ErrPayloadTooLarge = errors.New("chunk payload too large")

	// ErrMessageEmpty indicates an empty message was provided
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateFileSize checks that a file fits within MaxFileSize.
// Empty files are accepted; they produce zero chunks.
func ValidateFileSize(data []byte) error {
	if len(data) > MaxFileSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(data), MaxFileSize)
	}
	return nil
}

// ValidateFrameSize checks a link frame against MaxFrameSize.
func ValidateFrameSize(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrFrameTooLarge, len(frame), MaxFrameSize)
	}
	return nil
}

// ValidateChunkPayload checks a chunk payload against ChunkDataSize.
func ValidateChunkPayload(payload []byte) error {
	if len(payload) > ChunkDataSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, len(payload), ChunkDataSize)
	}
	return nil
}

// ValidateMessageSize validates a message against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), maxSize)
	}
	return nil
}

// ValidateTextMessage validates a text message against MaxTextMessage.
func ValidateTextMessage(text string) error {
	if len(text) == 0 {
		return ErrMessageEmpty
	}
	if len(text) > MaxTextMessage {
		return fmt.Errorf("%w: text size %d exceeds limit %d", ErrMessageTooLarge, len(text), MaxTextMessage)
	}
	return nil
}
