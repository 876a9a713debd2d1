package dhtnode

import (
	"errors"
	"log"
	"net"
	"time"

	"github.com/kadnode/dhtnode/krpc"
	"github.com/kadnode/dhtnode/lookup"
	"github.com/kadnode/dhtnode/messenger"
	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/rtable"
	"github.com/kadnode/dhtnode/u160"
)

// ErrBootstrapFailed is returned by Bootstrap when no seed peer ever replied.
var ErrBootstrapFailed = errors.New("dhtnode: unable to contact any bootstrap peer")

// bootstrapPingTimeout bounds a single ping during bootstrap.
const bootstrapPingTimeout = 2 * time.Second

// Bootstrap contacts every address in peers, inserts whichever ones reply
// into table, and then runs a self-lookup to pull in their neighbors.
// Retry phasing mirrors teacher's Bootstrap.go: fast retries for the first
// ten minutes, then slower retries for up to an hour, giving up only after
// both phases fail to reach anyone.
func Bootstrap(m *messenger.Messenger, table *rtable.Table, selfID u160.U160, peers []*net.UDPAddr, logger *log.Logger) error {
	if len(peers) == 0 {
		return ErrBootstrapFailed
	}

	contacted := make(map[string]bool, len(peers))
	pingAll := func() int {
		n := 0
		for _, addr := range peers {
			if contacted[addr.String()] {
				n++
				continue
			}
			if id, ok := pingOnce(m, selfID, addr); ok {
				table.Insert(node.Info{ID: id, Addr: addr})
				contacted[addr.String()] = true
				n++
			}
		}
		return n
	}

	logf := func(format string, args ...interface{}) {
		if logger != nil {
			logger.Printf(format, args...)
		}
	}

	if n := pingAll(); n == 0 {
		// Phase 1: every 7s for 10 minutes.
		for i := 0; i < 10*60/7; i++ {
			time.Sleep(7 * time.Second)
			if pingAll() > 0 {
				break
			}
		}
	}

	if len(contacted) == 0 {
		// Phase 2: every 5 minutes for up to an hour.
		for i := 0; i < 60/5; i++ {
			time.Sleep(5 * time.Minute)
			if pingAll() > 0 {
				break
			}
		}
	}

	if len(contacted) == 0 {
		logf("bootstrap: unable to contact any of %d seed peers", len(peers))
		return ErrBootstrapFailed
	}

	res := lookup.Find(m, table, selfID, selfID, false, rtable.DefaultK)
	for _, n := range res.Nodes {
		table.Insert(n)
	}
	return nil
}

func pingOnce(m *messenger.Messenger, selfID u160.U160, addr *net.UDPAddr) (u160.U160, bool) {
	q := &krpc.Query{ID: selfID, Method: krpc.MethodPing}
	reply, err := m.Query(addr, &krpc.Message{Query: q}, bootstrapPingTimeout)
	if err != nil || reply.Response == nil {
		return u160.U160{}, false
	}
	return reply.Response.ID, true
}
