/*
Package dhtnode wires the routing table, peer store, token generator and
messenger together into a running Mainline DHT node: the query handler
(§4.6), bootstrap and periodic maintenance, grounded on teacher's
Peernet.go/Commands.go/Bootstrap.go/Ping.go wiring style.
*/
package dhtnode

import (
	"log"
	"net"

	"github.com/kadnode/dhtnode/krpc"
	"github.com/kadnode/dhtnode/messenger"
	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/rtable"
	"github.com/kadnode/dhtnode/store"
	"github.com/kadnode/dhtnode/token"
	"github.com/kadnode/dhtnode/u160"
)

// MaxSamples is floor(65535/20) - 10, the cap on sample_infohashes replies
// imposed so the reply (nodes + samples) never exceeds a UDP datagram.
const MaxSamples = 65535/u160.Len - 10

// Server answers inbound KRPC queries against a routing table and peer
// store. It implements messenger.Handler.
type Server struct {
	ID       u160.U160
	Table    *rtable.Table
	Peers    *store.PeerStore
	Tokens   *token.Generator
	ReadOnly bool
	Logger   *log.Logger

	// Interval is the BEP-51 interval this node advertises. Left at the
	// caller's discretion (§9 Open Questions): 0 means "no preference".
	Interval int
}

var _ messenger.Handler = (*Server)(nil)

// HandleQuery implements messenger.Handler.
func (s *Server) HandleQuery(from *net.UDPAddr, msg *krpc.Message) *krpc.Message {
	q := msg.Query
	if q.ID == s.ID {
		return errReply(krpc.EchoError())
	}

	if !msg.ReadOnly {
		s.Table.Insert(node.Info{ID: q.ID, Addr: from})
	}

	switch q.Method {
	case krpc.MethodPing:
		return s.handlePing()
	case krpc.MethodFindNode:
		return s.handleFindNode(q)
	case krpc.MethodGetPeers:
		return s.handleGetPeers(q, from)
	case krpc.MethodAnnouncePeer:
		return s.handleAnnouncePeer(q, from)
	case krpc.MethodSampleInfohashes:
		return s.handleSampleInfohashes(q)
	default:
		return errReply(krpc.NewError(krpc.ErrMethodUnknown, "method not supported"))
	}
}

func errReply(e krpc.Error) *krpc.Message {
	return &krpc.Message{Err: &e}
}

func (s *Server) handlePing() *krpc.Message {
	return &krpc.Message{Response: &krpc.Response{ID: s.ID, Kind: krpc.KindOk}}
}

func (s *Server) handleFindNode(q *krpc.Query) *krpc.Message {
	if q.Target == nil {
		return errReply(krpc.NewError(krpc.ErrProtocol, "find_node requires target"))
	}
	nodes := s.Table.Closest(*q.Target, rtable.DefaultK)
	return &krpc.Message{Response: &krpc.Response{ID: s.ID, Kind: krpc.KindKNearest, Nodes: nodes}}
}

func (s *Server) handleGetPeers(q *krpc.Query, from *net.UDPAddr) *krpc.Message {
	if q.InfoHash == nil {
		return errReply(krpc.NewError(krpc.ErrProtocol, "get_peers requires info_hash"))
	}
	tok, err := s.Tokens.Generate(from.IP)
	if err != nil {
		return errReply(krpc.NewError(krpc.ErrServer, "token generation failed"))
	}

	if peers := s.Peers.Get(*q.InfoHash); len(peers) > 0 {
		return &krpc.Message{Response: &krpc.Response{ID: s.ID, Kind: krpc.KindPeers, Values: peers, Token: string(tok)}}
	}

	nodes := s.Table.Closest(*q.InfoHash, rtable.DefaultK)
	return &krpc.Message{Response: &krpc.Response{ID: s.ID, Kind: krpc.KindKNearest, Nodes: nodes, Token: string(tok)}}
}

func (s *Server) handleAnnouncePeer(q *krpc.Query, from *net.UDPAddr) *krpc.Message {
	if q.InfoHash == nil || q.Token == "" {
		return errReply(krpc.NewError(krpc.ErrProtocol, "announce_peer requires info_hash and token"))
	}
	if !s.Tokens.Validate([]byte(q.Token), from.IP) {
		return errReply(krpc.NewError(krpc.ErrProtocol, "bad or expired token"))
	}
	if !q.ID.Validate(from.IP) {
		return errReply(krpc.NewError(krpc.ErrInvalidNodeId, "sender id does not validate against source ip"))
	}

	port := q.Port
	if q.ImpliedPort || port == 0 {
		port = from.Port
	}
	addr := &net.UDPAddr{IP: from.IP, Port: port}
	if err := s.Peers.Announce(*q.InfoHash, addr); err != nil {
		return errReply(krpc.NewError(krpc.ErrServer, "peer store write failed"))
	}
	return &krpc.Message{Response: &krpc.Response{ID: s.ID, Kind: krpc.KindOk}}
}

func (s *Server) handleSampleInfohashes(q *krpc.Query) *krpc.Message {
	if q.Target == nil {
		return errReply(krpc.NewError(krpc.ErrProtocol, "sample_infohashes requires target"))
	}
	samples := s.Peers.Sample(MaxSamples)
	nodes := s.Table.Closest(*q.Target, rtable.DefaultK)
	return &krpc.Message{Response: &krpc.Response{
		ID:       s.ID,
		Kind:     krpc.KindSamples,
		Nodes:    nodes,
		Samples:  samples,
		Num:      s.Peers.Count(),
		Interval: s.Interval,
	}}
}
