package transport

import "time"

// Test node identities.
const (
	testNodeA NodeAddr = "!0000000a"
	testNodeB NodeAddr = "!0000000b"
	testNodeC NodeAddr = "!0000000c"
)

// testLoopback is the UDP listen address used by tests.
const testLoopback = "127.0.0.1:0"

// Delivery wait bounds for asynchronous transports.
const (
	testWaitFor = 2 * time.Second
	testTick    = 10 * time.Millisecond
)
