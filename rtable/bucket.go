package rtable

import (
	"sync"

	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/u160"
)

// bucket holds up to K nodes in insertion-order LRU (oldest at index 0, most
// recently seen at the tail). Writers are serialized by mu; readers take a
// snapshot under RLock so lookups never observe a half-mutated slice.
type bucket struct {
	mu    sync.RWMutex
	nodes []node.Info
}

func newBucket() *bucket {
	return &bucket{}
}

func (b *bucket) snapshot() []node.Info {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]node.Info, len(b.nodes))
	copy(out, b.nodes)
	return out
}

func (b *bucket) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.nodes)
}

func (b *bucket) indexOf(id u160.U160) int {
	for i, n := range b.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// touch moves an existing node to the tail (most-recently-seen).
func (b *bucket) touch(id u160.U160) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	n := b.nodes[i]
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
	b.nodes = append(b.nodes, n)
	return true
}

// tryAppend appends n if the bucket has room, returning false if full.
func (b *bucket) tryAppend(n node.Info, k int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(n.ID) >= 0 {
		return true // already present; caller should have called touch first
	}
	if len(b.nodes) >= k {
		return false
	}
	b.nodes = append(b.nodes, n)
	return true
}

func (b *bucket) remove(id u160.U160) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
	return true
}
