/*
File Name:  peerstore.go

PeerStore layers the DHT's `infohash -> set<socket address>` domain model
over the generic key/value Store interface (Memory.go / Pogreb.go), the way
the rest of this package already treats Store as a tree-keyed persistent
map. Each infohash's address set is serialized as a concatenation of compact
peer addresses, each prefixed with its one-byte length, and updated under an
atomic read-modify-write.
*/
package store

import (
	"math/rand"
	"net"
	"sync"

	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/u160"
)

// PeerStore maps infohashes to the set of peer addresses announced for them.
type PeerStore struct {
	backend Store

	mutex sync.Mutex // guards read-modify-write of a single infohash entry
	known map[u160.U160]struct{}
}

// NewPeerStore wraps backend, rebuilding the known-infohash index from
// whatever is already persisted (e.g. after a restart).
func NewPeerStore(backend Store) *PeerStore {
	ps := &PeerStore{backend: backend, known: make(map[u160.U160]struct{})}
	for _, k := range backend.Keys() {
		if id, err := u160.FromBytes(k); err == nil {
			ps.known[id] = struct{}{}
		}
	}
	return ps
}

func addrKey(a *net.UDPAddr) string {
	return a.String()
}

// Announce atomically adds addr to the peer set for infoHash.
func (ps *PeerStore) Announce(infoHash u160.U160, addr *net.UDPAddr) error {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	addrs, _ := ps.load(infoHash)
	key := addrKey(addr)
	for _, a := range addrs {
		if addrKey(a) == key {
			return nil // already present
		}
	}
	addrs = append(addrs, addr)

	if err := ps.save(infoHash, addrs); err != nil {
		return err
	}
	ps.known[infoHash] = struct{}{}
	return nil
}

// Get returns the known peers for infoHash.
func (ps *PeerStore) Get(infoHash u160.U160) []*net.UDPAddr {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	addrs, _ := ps.load(infoHash)
	return addrs
}

func (ps *PeerStore) load(infoHash u160.U160) ([]*net.UDPAddr, bool) {
	raw, found := ps.backend.Get(infoHash.Bytes())
	if !found {
		return nil, false
	}
	items := splitCompactAddrs(raw)
	addrs, err := node.DecodeCompactAddrList(items)
	if err != nil {
		return nil, false
	}
	return addrs, true
}

func (ps *PeerStore) save(infoHash u160.U160, addrs []*net.UDPAddr) error {
	var raw []byte
	for _, a := range addrs {
		enc := node.EncodeCompactAddr(a)
		raw = append(raw, byte(len(enc)))
		raw = append(raw, enc...)
	}
	return ps.backend.Set(infoHash.Bytes(), raw)
}

// splitCompactAddrs reverses the length-prefixed concatenation save() wrote
// (entries are 0, 6 or 18 bytes, none of which is self-describing without a
// length prefix).
func splitCompactAddrs(raw []byte) [][]byte {
	var items [][]byte
	for i := 0; i < len(raw); {
		n := int(raw[i])
		i++
		if i+n > len(raw) {
			break
		}
		items = append(items, raw[i:i+n])
		i += n
	}
	return items
}

// Count returns the total number of infohashes with at least one peer.
func (ps *PeerStore) Count() int {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()
	return len(ps.known)
}

// Sample returns up to n infohashes drawn uniformly at random from the
// known set, per BEP-51.
func (ps *PeerStore) Sample(n int) []u160.U160 {
	ps.mutex.Lock()
	ids := make([]u160.U160, 0, len(ps.known))
	for id := range ps.known {
		ids = append(ids, id)
	}
	ps.mutex.Unlock()

	rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}
