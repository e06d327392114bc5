// Package limits provides the size constants and validation functions shared by
// every layer of the gateway. Keeping them in one place guarantees that the chunk
// codec, the transfer manager and the link transports agree on the frame budget.
//
// # Size Hierarchy
//
// The radio link carries at most MaxFrameSize (200) bytes of application payload
// per packet. File chunks spend HeaderSize (16) of those bytes on framing, which
// leaves ChunkDataSize (184) bytes of file data per chunk:
//
//   - MaxFrameSize (200 bytes): the largest private-app payload the link accepts.
//   - HeaderSize (16 bytes): transfer id, sequence number, chunk count, checksum.
//   - ChunkDataSize (184 bytes): file bytes carried by one chunk.
//   - MaxFileSize (51200 bytes): the largest file accepted for sending.
//   - MaxChunks (279): chunk count of a maximum-size file.
//   - MaxTextMessage (228 bytes): the largest plain text message.
//
// # Validation Functions
//
// Each validation function returns a sentinel error wrapped with the actual and
// permitted sizes, so callers can test with errors.Is:
//
//	if err := limits.ValidateFileSize(data); errors.Is(err, limits.ErrFileTooLarge) {
//	    // reject the upload before any chunk is produced
//	}
package limits
