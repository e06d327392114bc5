package transport

import (
	"net"
	"strings"
)

// Broadcast addresses every node in range.
const Broadcast NodeAddr = "^all"

// NodeAddr identifies a mesh node. It implements net.Addr so it can travel
// through the same interfaces as network addresses.
type NodeAddr string

// Network returns the address network name.
func (a NodeAddr) Network() string { return "mesh" }

// String returns the node id.
func (a NodeAddr) String() string { return string(a) }

// IsBroadcast reports whether a addresses every node.
func (a NodeAddr) IsBroadcast() bool { return a == Broadcast }

// ParseNodeAddr normalizes a destination string. An empty string means broadcast.
func ParseNodeAddr(s string) NodeAddr {
	s = strings.TrimSpace(s)
	if s == "" {
		return Broadcast
	}
	return NodeAddr(s)
}

// nodeAddrOf converts any net.Addr to a NodeAddr.
func nodeAddrOf(addr net.Addr) NodeAddr {
	if addr == nil {
		return Broadcast
	}
	if na, ok := addr.(NodeAddr); ok {
		return na
	}
	return ParseNodeAddr(addr.String())
}
