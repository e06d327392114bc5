package transport

import (
	"sort"
	"sync"
	"time"
)

// NodeInfo describes a remote node heard on the link.
type NodeInfo struct {
	ID        string    `json:"id"`
	LastHeard time.Time `json:"last_heard"`
	Packets   uint64    `json:"packets"`
}

// NodeTable records when remote nodes were last heard. It is safe for
// concurrent use.
type NodeTable struct {
	mu    sync.RWMutex
	nodes map[NodeAddr]*NodeInfo
	now   func() time.Time
}

// NewNodeTable creates an empty node table.
func NewNodeTable() *NodeTable {
	return &NodeTable{
		nodes: make(map[NodeAddr]*NodeInfo),
		now:   time.Now,
	}
}

// Heard records a packet from node.
func (t *NodeTable) Heard(node NodeAddr) {
	if node == "" || node.IsBroadcast() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	info, ok := t.nodes[node]
	if !ok {
		info = &NodeInfo{ID: node.String()}
		t.nodes[node] = info
	}
	info.LastHeard = t.now()
	info.Packets++
}

// Nodes returns a snapshot of known nodes, most recently heard first.
func (t *NodeTable) Nodes() []NodeInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]NodeInfo, 0, len(t.nodes))
	for _, info := range t.nodes {
		result = append(result, *info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LastHeard.Equal(result[j].LastHeard) {
			return result[i].ID < result[j].ID
		}
		return result[i].LastHeard.After(result[j].LastHeard)
	})
	return result
}
