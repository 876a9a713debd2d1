package dhtnode

import (
	"log"
	"time"

	"github.com/kadnode/dhtnode/krpc"
	"github.com/kadnode/dhtnode/messenger"
	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/rtable"
	"github.com/kadnode/dhtnode/u160"
)

// maintenanceInterval is how often the routing table is swept for stale
// entries, mirroring the cadence of teacher's autoPingAll (Ping.go) adapted
// from connection-liveness checks to node-liveness checks.
const maintenanceInterval = 10 * time.Second

// maintenancePingTimeout bounds a single liveness ping.
const maintenancePingTimeout = 2 * time.Second

// RunMaintenance pings every node currently in table once per
// maintenanceInterval and bans any that fail to reply, until stop is closed.
// It is one of the few long-lived tasks in the node, alongside the receive
// loop and the sweep coordinator (§5).
func RunMaintenance(m *messenger.Messenger, table *rtable.Table, selfID u160.U160, logger *log.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			sweepOnce(m, table, selfID, logger)
		}
	}
}

func sweepOnce(m *messenger.Messenger, table *rtable.Table, selfID u160.U160, logger *log.Logger) {
	for _, n := range table.All() {
		go func(n node.Info) {
			q := &krpc.Message{Query: &krpc.Query{ID: selfID, Method: krpc.MethodPing}}
			reply, err := m.Query(n.Addr, q, maintenancePingTimeout)
			if err != nil || reply == nil || reply.IsError() {
				table.BanID(n.ID)
				if logger != nil {
					logger.Printf("maintenance: dropping unresponsive node %s (%s)", n.ID, n.Addr)
				}
			}
		}(n)
	}
}
