/*
Package lookup implements the iterative Kademlia node/peer lookup (§4.7).
It is modeled on the level-based concurrent search in
PeernetOfficial/core/dht's SearchClient: an unbounded set of in-flight tasks
feed results back into a single coordinating loop, which accepts or rejects
candidates and spawns further queries until the task set drains naturally.
*/
package lookup

import (
	"net"
	"sort"

	"github.com/kadnode/dhtnode/krpc"
	"github.com/kadnode/dhtnode/messenger"
	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/rtable"
	"github.com/kadnode/dhtnode/u160"
)

// Result is the outcome of a Find.
type Result struct {
	// Peers is set when FindPeers was requested and any node returned values.
	Peers []*net.UDPAddr
	// Nodes holds the k closest live nodes discovered, populated only when
	// Peers is empty.
	Nodes []node.Info
}

type eventKind int

const (
	evFoundSome eventKind = iota
	evRemoveOne
	evPeers
)

type event struct {
	kind    eventKind
	nodes   []node.Info
	removed u160.U160
	peers   []*net.UDPAddr
}

// Find runs an iterative lookup for target, seeded from the local routing
// table's own lookup(target). When findPeers is true, nodes are queried with
// get_peers and any returned values win the search; when false (or no
// values ever arrive), the k closest live nodes are returned.
func Find(m *messenger.Messenger, table *rtable.Table, selfID, target u160.U160, findPeers bool, k int) Result {
	return FindFrom(m, table, selfID, target, findPeers, k, table.Closest(target, k))
}

// FindFrom runs the same algorithm as Find but starts from an explicit seed
// node set instead of the routing table's own lookup(target). The sweep's
// backfill task uses this to resume from a caller-chosen set of nodes.
func FindFrom(m *messenger.Messenger, table *rtable.Table, selfID, target u160.U160, findPeers bool, k int, seed []node.Info) Result {
	l := &lookupState{
		messenger: m,
		table:     table,
		selfID:    selfID,
		target:    target,
		findPeers: findPeers,
		k:         k,
		seenSet:   make(map[u160.U160]bool),
		ignore:    make(map[u160.U160]bool),
		peersSet:  make(map[string]bool),
		events:    make(chan event, 64),
	}
	return l.run(seed)
}

type lookupState struct {
	messenger *messenger.Messenger
	table     *rtable.Table
	selfID    u160.U160
	target    u160.U160
	findPeers bool
	k         int

	seen     []node.Info
	seenSet  map[u160.U160]bool
	ignore   map[u160.U160]bool
	peers    []*net.UDPAddr
	peersSet map[string]bool

	events      chan event
	outstanding int
}

func (l *lookupState) distance(id u160.U160) u160.U160 {
	return u160.Distance(l.target, id)
}

// withinWindow reports whether n is strictly closer to target than the
// 2k-th already-seen node, or fewer than 2k nodes have been seen so far.
func (l *lookupState) withinWindow(n node.Info) bool {
	twoK := 2 * l.k
	if len(l.seen) < twoK {
		return true
	}
	kth := l.seen[twoK-1]
	return l.distance(n.ID).Cmp(l.distance(kth.ID)) < 0
}

// accept applies the three acceptance gates from §4.7: strictly closer than
// the 2k-th already-seen node (or fewer than 2k seen so far), new to seen,
// and a valid BEP-42 id for its claimed address.
func (l *lookupState) accept(n node.Info) bool {
	if l.seenSet[n.ID] {
		return false
	}
	if !n.Validate() {
		return false
	}
	return l.withinWindow(n)
}

func (l *lookupState) insertSeen(n node.Info) {
	l.seenSet[n.ID] = true
	l.seen = append(l.seen, n)
	sort.Slice(l.seen, func(i, j int) bool {
		return l.distance(l.seen[i].ID).Cmp(l.distance(l.seen[j].ID)) < 0
	})
}

func (l *lookupState) addPeers(addrs []*net.UDPAddr) {
	for _, a := range addrs {
		key := a.String()
		if !l.peersSet[key] {
			l.peersSet[key] = true
			l.peers = append(l.peers, a)
		}
	}
}

func (l *lookupState) spawn(n node.Info) {
	l.outstanding++
	go func() {
		l.events <- l.queryOne(n)
	}()
}

func (l *lookupState) queryOne(n node.Info) event {
	method := krpc.MethodFindNode
	if l.findPeers {
		method = krpc.MethodGetPeers
	}
	q := &krpc.Message{
		Query: &krpc.Query{
			ID:     l.selfID,
			Method: method,
			Target: ptr(l.target),
		},
	}
	if l.findPeers {
		q.Query.InfoHash = ptr(l.target)
		q.Query.Target = nil
	}

	resp, err := l.messenger.Query(n.Addr, q, messenger.DefaultTimeout)
	if err != nil || resp.IsError() {
		l.table.BanID(n.ID)
		return event{kind: evRemoveOne, removed: n.ID}
	}

	r := resp.Response
	if r == nil {
		l.table.BanID(n.ID)
		return event{kind: evRemoveOne, removed: n.ID}
	}
	if r.Kind == krpc.KindPeers && len(r.Values) > 0 {
		return event{kind: evPeers, peers: r.Values, nodes: r.Nodes}
	}
	return event{kind: evFoundSome, nodes: r.Nodes}
}

func ptr(id u160.U160) *u160.U160 {
	return &id
}

func (l *lookupState) run(seed []node.Info) Result {
	for _, n := range seed {
		if l.accept(n) {
			l.insertSeen(n)
			l.spawn(n)
		}
	}

	for l.outstanding > 0 {
		ev := <-l.events
		l.outstanding--
		switch ev.kind {
		case evRemoveOne:
			l.ignore[ev.removed] = true
		case evPeers:
			l.addPeers(ev.peers)
			for _, n := range ev.nodes {
				if l.accept(n) {
					l.insertSeen(n)
					l.spawn(n)
				}
			}
		case evFoundSome:
			for _, n := range ev.nodes {
				if l.accept(n) {
					l.insertSeen(n)
					l.spawn(n)
				}
			}
		}
	}

	if len(l.peers) > 0 {
		return Result{Peers: l.peers}
	}

	var out []node.Info
	for _, n := range l.seen {
		if l.ignore[n.ID] {
			continue
		}
		out = append(out, n)
		if len(out) == l.k {
			break
		}
	}
	return Result{Nodes: out}
}
