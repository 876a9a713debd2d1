/*
Package rtable implements the Kademlia routing table: a chain of buckets
indexed by depth, where depth d holds nodes whose XOR distance to the local
id has bit d as its first (highest) set bit. The chain grows lazily — a
single terminal bucket absorbs every node past the current chain length and
splits into a new depth level once full.
*/
package rtable

import (
	"sort"
	"sync"

	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/u160"
)

// DefaultK is the default per-bucket capacity.
const DefaultK = 8

// DefaultBanCapacity is the default size of the FIFO ban list.
const DefaultBanCapacity = 100

// MaxDepth is the maximum number of buckets in the chain (one per bit).
const MaxDepth = u160.Len * 8

// Table is a Kademlia routing table keyed by a fixed local id.
type Table struct {
	self u160.U160
	k    int

	mu      sync.RWMutex
	buckets []*bucket

	ban *banList
}

// New creates an empty table centered on self with per-bucket capacity k.
// k<=0 selects DefaultK.
func New(self u160.U160, k int) *Table {
	if k <= 0 {
		k = DefaultK
	}
	return &Table{
		self:    self,
		k:       k,
		buckets: []*bucket{newBucket()},
		ban:     newBanList(DefaultBanCapacity),
	}
}

func (t *Table) bucketIndex(id u160.U160, numBuckets int) int {
	df := u160.DifferingBit(t.self, id)
	if df < 0 {
		return -1 // id == self; never routed
	}
	if df >= numBuckets-1 {
		return numBuckets - 1
	}
	return df
}

// Insert adds or refreshes n in the table. It returns false if n is the
// local id, banned, or the owning bucket is full and cannot be split further.
func (t *Table) Insert(n node.Info) bool {
	if n.ID == t.self || t.ban.isBanned(n.ID) {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.bucketIndex(n.ID, len(t.buckets))
	if idx < 0 {
		return false
	}

	if t.buckets[idx].touch(n.ID) {
		return true
	}
	if t.buckets[idx].tryAppend(n, t.k) {
		return true
	}

	// Bucket full. Only the terminal bucket can split.
	for idx == len(t.buckets)-1 {
		d := len(t.buckets) - 1
		if d+1 >= MaxDepth {
			return false
		}
		t.splitTerminal(d)
		idx = t.bucketIndex(n.ID, len(t.buckets))
		if t.buckets[idx].touch(n.ID) {
			return true
		}
		if t.buckets[idx].tryAppend(n, t.k) {
			return true
		}
		if idx != len(t.buckets)-1 {
			// Landed in a now-finalized non-terminal bucket that is full;
			// no further splitting possible for it.
			return false
		}
	}
	return false
}

// splitTerminal splits the bucket at depth d (the current terminal) into a
// finalized bucket at d and a new terminal at d+1, redistributing members by
// their true differing bit.
func (t *Table) splitTerminal(d int) {
	old := t.buckets[d]
	next := newBucket()
	t.buckets = append(t.buckets, next)

	keep := old.nodes[:0:0]
	for _, n := range old.nodes {
		df := u160.DifferingBit(t.self, n.ID)
		if df < 0 {
			continue
		}
		if df == d {
			keep = append(keep, n)
		} else {
			next.nodes = append(next.nodes, n)
		}
	}
	old.nodes = keep
}

// Remove deletes id from the table, if present.
func (t *Table) Remove(id u160.U160) bool {
	t.mu.RLock()
	idx := t.bucketIndex(id, len(t.buckets))
	defer t.mu.RUnlock()
	if idx < 0 {
		return false
	}
	return t.buckets[idx].remove(id)
}

// BanID marks id as banned and removes it from the table.
func (t *Table) BanID(id u160.U160) {
	t.ban.ban(id)
	t.Remove(id)
}

// IsBanned reports whether id is currently banned.
func (t *Table) IsBanned(id u160.U160) bool {
	return t.ban.isBanned(id)
}

// Len returns the total number of nodes across all buckets.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, b := range t.buckets {
		n += b.len()
	}
	return n
}

// Depth returns the current chain length.
func (t *Table) Depth() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.buckets)
}

// Closest returns up to count nodes ordered by ascending XOR distance to
// target, expanding outward from the bucket that would own target.
func (t *Table) Closest(target u160.U160, count int) []node.Info {
	t.mu.RLock()
	candidates := make([]node.Info, 0, count*2)
	n := len(t.buckets)
	center := t.bucketIndex(target, n)
	if center < 0 {
		center = 0
	}
	lo, hi := center, center
	candidates = append(candidates, t.buckets[center].snapshot()...)
	for len(candidates) < count*4 && (lo > 0 || hi < n-1) {
		if lo > 0 {
			lo--
			candidates = append(candidates, t.buckets[lo].snapshot()...)
		}
		if hi < n-1 {
			hi++
			candidates = append(candidates, t.buckets[hi].snapshot()...)
		}
	}
	t.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		return u160.Distance(candidates[i].ID, target).Cmp(u160.Distance(candidates[j].ID, target)) < 0
	})
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// All returns every node currently held by the table.
func (t *Table) All() []node.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []node.Info
	for _, b := range t.buckets {
		out = append(out, b.snapshot()...)
	}
	return out
}
