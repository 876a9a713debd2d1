/*
Package sweep implements the BEP-51 keyspace sweep (§4.8): walk the id-space
left to right, sampling infohashes where supported and gap-filling with
find_node otherwise. Grounded on the same concurrent-traveler shape as
lookup.Find, scaled to a much larger, longer-lived worker pool.
*/
package sweep

import (
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kadnode/dhtnode/krpc"
	"github.com/kadnode/dhtnode/lookup"
	"github.com/kadnode/dhtnode/messenger"
	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/rtable"
	"github.com/kadnode/dhtnode/u160"
)

// DefaultConcurrency is the default number of simultaneous travelers (N).
const DefaultConcurrency = 200

// DefaultQueriedCapacity bounds the size of the queried set.
const DefaultQueriedCapacity = 100000

// BackfillSeedCount is how many queued nodes seed a backfill lookup.
const BackfillSeedCount = 8

// BackfillK is the k used for the full backfill lookup.
const BackfillK = 255

// BootstrapK is the k used for the two bootstrap lookups.
const BootstrapK = 255

// nextHighest is the 21-bit mask described in §4.8: the top 21 bits are
// zero and the remaining 139 bits are set, so id|nextHighest pulls the
// query target to the top of the node's 21-bit keyspace slot.
var nextHighest = u160.Max.Shr(21)

// backfillThreshold is 2^(160-22) expressed as a U160 (bit 21 from the MSB
// side, i.e. 2^138).
var backfillThreshold = u160.Zero.SetBit(21, true)

// Sweeper walks the DHT keyspace publishing sampled infohashes.
type Sweeper struct {
	messenger *messenger.Messenger
	table     *rtable.Table
	selfID    u160.U160
	n         int
	queriedCap int

	mu         sync.Mutex
	toSend     []node.Info
	queried    []u160.U160
	queriedSet map[u160.U160]bool

	out chan u160.U160

	backfillInFlight int32
	lastTarget       u160.U160

	// Logger receives backfill trace lines, each tagged with a uuid so
	// concurrent overlapping runs (there should never be more than one, but
	// the log can't assume that) can be told apart. Nil disables logging.
	Logger *log.Logger
}

// New creates a Sweeper. Call Bootstrap once before Run.
func New(m *messenger.Messenger, table *rtable.Table, selfID u160.U160, concurrency int) *Sweeper {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Sweeper{
		messenger:  m,
		table:      table,
		selfID:     selfID,
		n:          concurrency,
		queriedCap: DefaultQueriedCapacity,
		queriedSet: make(map[u160.U160]bool),
		out:        make(chan u160.U160, 1024),
	}
}

// Samples returns the channel on which discovered infohashes are published.
// Callers must drain it or Run will eventually block.
func (s *Sweeper) Samples() <-chan u160.U160 {
	return s.out
}

// Bootstrap seeds to_send and queried from the two ends of the keyspace.
func (s *Sweeper) Bootstrap() {
	lo := lookup.Find(s.messenger, s.table, s.selfID, u160.Zero, false, BootstrapK)
	hi := lookup.Find(s.messenger, s.table, s.selfID, u160.Max, false, BootstrapK)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range lo.Nodes {
		s.enqueueLocked(n)
	}
	for _, n := range hi.Nodes {
		s.enqueueLocked(n)
	}
}

// enqueueLocked adds n to to_send and marks it queried, enforcing the
// queried-set capacity by dropping the smallest id when over budget. Callers
// must hold s.mu.
func (s *Sweeper) enqueueLocked(n node.Info) {
	if s.queriedSet[n.ID] {
		return
	}
	s.queriedSet[n.ID] = true
	s.queried = append(s.queried, n.ID)
	sort.Slice(s.queried, func(i, j int) bool { return s.queried[i].Cmp(s.queried[j]) < 0 })
	if len(s.queried) > s.queriedCap {
		drop := s.queried[0]
		s.queried = s.queried[1:]
		delete(s.queriedSet, drop)
	}

	s.toSend = append(s.toSend, n)
	sort.Slice(s.toSend, func(i, j int) bool { return s.toSend[i].ID.Cmp(s.toSend[j].ID) < 0 })
}

func (s *Sweeper) popSmallest() (node.Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toSend) == 0 {
		return node.Info{}, false
	}
	n := s.toSend[0]
	s.toSend = s.toSend[1:]
	return n, true
}

func (s *Sweeper) headDistance(target u160.U160) (u160.U160, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toSend) == 0 {
		return u160.Zero, false
	}
	return u160.Distance(s.toSend[0].ID, target), true
}

func (s *Sweeper) nextEightLocked() []node.Info {
	n := BackfillSeedCount
	if n > len(s.toSend) {
		n = len(s.toSend)
	}
	out := make([]node.Info, n)
	copy(out, s.toSend[:n])
	return out
}

// Run drives up to s.n concurrent travelers until stop is closed.
func (s *Sweeper) Run(stop <-chan struct{}) {
	sem := make(chan struct{}, s.n)
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, ok := s.popSmallest()
		if !ok {
			select {
			case <-stop:
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		sem <- struct{}{}
		go func(n node.Info) {
			defer func() { <-sem }()
			s.traveler(n, stop)
		}(n)
	}
}

func (s *Sweeper) traveler(n node.Info, stop <-chan struct{}) {
	target := n.ID.Or(nextHighest)
	s.mu.Lock()
	s.lastTarget = target
	s.mu.Unlock()

	samples, nodes, ok := s.querySamples(n, target)
	if !ok {
		nodes = s.queryFindNode(n, target)
	}

	for _, h := range samples {
		select {
		case s.out <- h:
		case <-stop:
			return
		}
	}

	usable := 0
	s.mu.Lock()
	for _, cand := range nodes {
		if cand.ID.Cmp(target) > 0 && !s.queriedSet[cand.ID] {
			s.enqueueLocked(cand)
			usable++
		}
	}
	s.mu.Unlock()

	if usable == 0 {
		s.maybeBackfill(target)
	}
}

func (s *Sweeper) querySamples(n node.Info, target u160.U160) (samples []u160.U160, nodes []node.Info, ok bool) {
	q := &krpc.Message{Query: &krpc.Query{ID: s.selfID, Method: krpc.MethodSampleInfohashes, Target: &target}}
	resp, err := s.messenger.Query(n.Addr, q, messenger.DefaultTimeout)
	if err != nil || resp.IsError() || resp.Response == nil || resp.Response.Kind != krpc.KindSamples {
		s.table.BanID(n.ID)
		return nil, nil, false
	}
	return resp.Response.Samples, resp.Response.Nodes, true
}

func (s *Sweeper) queryFindNode(n node.Info, target u160.U160) []node.Info {
	q := &krpc.Message{Query: &krpc.Query{ID: s.selfID, Method: krpc.MethodFindNode, Target: &target}}
	resp, err := s.messenger.Query(n.Addr, q, messenger.DefaultTimeout)
	if err != nil || resp.IsError() || resp.Response == nil {
		s.table.BanID(n.ID)
		return nil
	}
	return resp.Response.Nodes
}

func (s *Sweeper) maybeBackfill(target u160.U160) {
	head, ok := s.headDistance(target)
	if !ok || head.Cmp(backfillThreshold) <= 0 {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.backfillInFlight, 0, 1) {
		return
	}

	trace := uuid.New().String()
	s.logf("backfill %s: starting for target %s", trace, target)

	go func() {
		defer atomic.StoreInt32(&s.backfillInFlight, 0)

		s.mu.Lock()
		seed := s.nextEightLocked()
		s.mu.Unlock()
		if len(seed) == 0 {
			s.logf("backfill %s: no seed nodes available, aborting", trace)
			return
		}

		res := lookup.FindFrom(s.messenger, s.table, s.selfID, target, false, BackfillK, seed)
		s.mu.Lock()
		for _, n := range res.Nodes {
			s.enqueueLocked(n)
		}
		s.mu.Unlock()
		s.logf("backfill %s: merged %d nodes", trace, len(res.Nodes))
	}()
}

func (s *Sweeper) logf(format string, args ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

// Progress returns the sweep's position as a fraction of the keyspace,
// using the top 64 bits of the last queried target.
func (s *Sweeper) Progress() float64 {
	s.mu.Lock()
	last := s.lastTarget
	s.mu.Unlock()
	b := last.Bytes()[:8]
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return float64(v) / float64(^uint64(0))
}
