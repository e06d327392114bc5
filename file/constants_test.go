package file

import "time"

// Test node identities.
const (
	testLocalNode = "!0000aaaa"
	testPeerNode  = "!0000bbbb"
)

// Test timing constants.
const (
	testPacing  = time.Millisecond
	testWaitFor = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// Common test file size constants.
const (
	testFileSize500  = 500
	testFileSize1KB  = 1024
	testFileSizeMax  = 51200
	testFileSizeOver = 51201
)
