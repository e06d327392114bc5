package limits

import (
	"errors"
	"strings"
	"testing"
)

// TestChunkBudget verifies that header and data fill exactly one link frame.
func TestChunkBudget(t *testing.T) {
	if HeaderSize+ChunkDataSize != MaxFrameSize {
		t.Errorf("HeaderSize + ChunkDataSize = %d, want %d", HeaderSize+ChunkDataSize, MaxFrameSize)
	}
	if ChunkDataSize != 184 {
		t.Errorf("ChunkDataSize = %d, want 184", ChunkDataSize)
	}
}

// TestMaxChunksCalculation verifies MaxChunks is the ceiling of MaxFileSize / ChunkDataSize.
func TestMaxChunksCalculation(t *testing.T) {
	if MaxChunks != 279 {
		t.Errorf("MaxChunks = %d, want 279", MaxChunks)
	}
	if (MaxChunks-1)*ChunkDataSize >= MaxFileSize {
		t.Error("MaxChunks is larger than needed for MaxFileSize")
	}
	if MaxChunks*ChunkDataSize < MaxFileSize {
		t.Error("MaxChunks cannot hold MaxFileSize")
	}
}

func TestValidateFileSize(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		wantErr error
	}{
		{"empty", 0, nil},
		{"one byte", 1, nil},
		{"at limit", MaxFileSize, nil},
		{"one over limit", MaxFileSize + 1, ErrFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFileSize(make([]byte, tt.size))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateFileSize(%d) = %v, want %v", tt.size, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFrameSize(t *testing.T) {
	if err := ValidateFrameSize(make([]byte, MaxFrameSize)); err != nil {
		t.Errorf("frame at limit rejected: %v", err)
	}
	err := ValidateFrameSize(make([]byte, MaxFrameSize+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("expected ErrFrameTooLarge, got %v", err)
	}
	if !strings.Contains(err.Error(), "201") {
		t.Errorf("error should report the actual size: %v", err)
	}
}

func TestValidateChunkPayload(t *testing.T) {
	if err := ValidateChunkPayload(nil); err != nil {
		t.Errorf("empty payload rejected: %v", err)
	}
	if err := ValidateChunkPayload(make([]byte, ChunkDataSize)); err != nil {
		t.Errorf("full payload rejected: %v", err)
	}
	if err := ValidateChunkPayload(make([]byte, ChunkDataSize+1)); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestValidateMessageSize(t *testing.T) {
	tests := []struct {
		name    string
		message []byte
		maxSize int
		wantErr error
	}{
		{"nil message", nil, 10, ErrMessageEmpty},
		{"empty message", []byte{}, 10, ErrMessageEmpty},
		{"within limit", []byte("hello"), 10, nil},
		{"at limit", []byte("0123456789"), 10, nil},
		{"over limit", []byte("0123456789a"), 10, ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessageSize(tt.message, tt.maxSize)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateMessageSize() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTextMessage(t *testing.T) {
	if err := ValidateTextMessage(""); !errors.Is(err, ErrMessageEmpty) {
		t.Errorf("expected ErrMessageEmpty, got %v", err)
	}
	if err := ValidateTextMessage(strings.Repeat("a", MaxTextMessage)); err != nil {
		t.Errorf("text at limit rejected: %v", err)
	}
	if err := ValidateTextMessage(strings.Repeat("a", MaxTextMessage+1)); !errors.Is(err, ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}
