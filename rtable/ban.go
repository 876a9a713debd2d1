package rtable

import (
	"sync"

	"github.com/kadnode/dhtnode/u160"
)

// banList is a FIFO set of ids that have been explicitly banned (protocol
// violations, repeated timeouts). Capacity is fixed; banning past capacity
// evicts the oldest entry first.
type banList struct {
	mu       sync.RWMutex
	capacity int
	order    []u160.U160
	set      map[u160.U160]struct{}
}

func newBanList(capacity int) *banList {
	return &banList{
		capacity: capacity,
		set:      make(map[u160.U160]struct{}),
	}
}

func (b *banList) ban(id u160.U160) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.set[id]; ok {
		return
	}
	if len(b.order) >= b.capacity {
		oldest := b.order[0]
		b.order = b.order[1:]
		delete(b.set, oldest)
	}
	b.order = append(b.order, id)
	b.set[id] = struct{}{}
}

func (b *banList) isBanned(id u160.U160) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.set[id]
	return ok
}

func (b *banList) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}
