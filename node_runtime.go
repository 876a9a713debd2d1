package dhtnode

import (
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/kadnode/dhtnode/config"
	"github.com/kadnode/dhtnode/messenger"
	"github.com/kadnode/dhtnode/rtable"
	"github.com/kadnode/dhtnode/store"
	"github.com/kadnode/dhtnode/sweep"
	"github.com/kadnode/dhtnode/token"
	"github.com/kadnode/dhtnode/u160"
)

// StateStoreError wraps a failure to prepare the node's on-disk state (the
// state directory or the peer store backend), so callers can distinguish it
// from a socket bind failure, see ExitErrorStateStore.
type StateStoreError struct {
	Err error
}

func (e *StateStoreError) Error() string { return fmt.Sprintf("dhtnode: state store: %v", e.Err) }
func (e *StateStoreError) Unwrap() error { return e.Err }

// Node bundles the running pieces of a dhtnode instance: the UDP messenger,
// routing table, query server, and sweep coordinator. Mirrors the shape of
// teacher's Backend, minus everything outside this node's scope.
type Node struct {
	ID          u160.U160
	Config      *config.Config
	Logger      *log.Logger
	Messenger   *messenger.Messenger
	MessengerV6 *messenger.Messenger // nil unless BindV6 is configured
	Table       *rtable.Table
	Server      *Server
	Sweep       *sweep.Sweeper

	statePath string
	stop      chan struct{}
}

// New builds a Node from cfg. It binds the UDP socket (which may fail, see
// ExitErrorBind) but does not bootstrap or start background tasks: call
// Connect for that once New succeeds.
func New(cfg *config.Config) (*Node, error) {
	logger, err := cfg.InitLog()
	if err != nil {
		return nil, err
	}

	if cfg.TimeoutMS > 0 {
		messenger.DefaultTimeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
	}

	var selfID u160.U160
	if cfg.NoVerifyID {
		selfID = u160.Random()
	} else if cfg.PublicIP != "" {
		selfID = u160.RandomSecureID(net.ParseIP(cfg.PublicIP))
	} else {
		selfID = u160.Random()
	}

	table := rtable.New(selfID, rtable.DefaultK)

	if err := os.MkdirAll(cfg.StateDir, 0755); err != nil {
		return nil, &StateStoreError{Err: err}
	}
	backend, err := store.NewPogrebStore(cfg.StateDir + "/peers.db")
	if err != nil {
		return nil, &StateStoreError{Err: err}
	}
	peers := store.NewPeerStore(backend)

	tokens, err := token.NewGenerator()
	if err != nil {
		return nil, err
	}

	srv := &Server{ID: selfID, Table: table, Peers: peers, Tokens: tokens, Logger: logger}

	addr, err := net.ResolveUDPAddr("udp", cfg.BindV4)
	if err != nil {
		return nil, err
	}
	m, err := messenger.New(addr, srv, logger)
	if err != nil {
		return nil, err
	}

	var m6 *messenger.Messenger
	if cfg.BindV6 != "" {
		addr6, err := net.ResolveUDPAddr("udp", cfg.BindV6)
		if err != nil {
			return nil, err
		}
		m6, err = messenger.New(addr6, srv, logger)
		if err != nil {
			return nil, err
		}
	}

	return &Node{
		ID:          selfID,
		Config:      cfg,
		Logger:      logger,
		Messenger:   m,
		MessengerV6: m6,
		Table:       table,
		Server:      srv,
		Sweep:       sweep.New(m, table, selfID, sweep.DefaultConcurrency),
		statePath:   cfg.StateDir + "/rtable.dat",
		stop:        make(chan struct{}),
	}, nil
}

// Connect loads any persisted routing table, starts the receive loop,
// bootstraps against the configured seed peers, and starts the maintenance
// and sweep background tasks. Mirrors teacher's Backend.Connect.
func (n *Node) Connect(bootstrapPeers []*net.UDPAddr) error {
	if err := n.Table.Load(n.statePath); err != nil {
		n.Logger.Printf("dhtnode: no usable persisted routing table at %s: %v", n.statePath, err)
	}

	go n.Messenger.Serve()
	if n.MessengerV6 != nil {
		go n.MessengerV6.Serve()
	}

	if err := Bootstrap(n.Messenger, n.Table, n.ID, bootstrapPeers, n.Logger); err != nil {
		return err
	}

	go RunMaintenance(n.Messenger, n.Table, n.ID, n.Logger, n.stop)

	n.Sweep.Bootstrap()
	go n.Sweep.Run(n.stop)

	return nil
}

// Close stops background tasks, persists the routing table, and closes the
// socket.
func (n *Node) Close() error {
	close(n.stop)
	if err := n.Table.Save(n.statePath); err != nil {
		n.Logger.Printf("dhtnode: failed to persist routing table: %v", err)
	}
	if n.MessengerV6 != nil {
		n.MessengerV6.Close()
	}
	return n.Messenger.Close()
}
