package messaging

// Test node identifiers.
const (
	testLocalNode = "!0000aaaa"
	testPeerNode  = "!0000bbbb"
)

// Test store sizes.
const (
	testSmallCapacity = 3
	testOverflowCount = 250
)
