package dhtnode

import (
	"net"
	"testing"

	"github.com/kadnode/dhtnode/krpc"
	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/rtable"
	"github.com/kadnode/dhtnode/store"
	"github.com/kadnode/dhtnode/token"
	"github.com/kadnode/dhtnode/u160"
)

func testServer(t *testing.T) (*Server, u160.U160) {
	t.Helper()
	selfID := u160.Random()
	tokens, err := token.NewGenerator()
	if err != nil {
		t.Fatal(err)
	}
	return &Server{
		ID:     selfID,
		Table:  rtable.New(selfID, rtable.DefaultK),
		Peers:  store.NewPeerStore(store.NewMemoryStore()),
		Tokens: tokens,
	}, selfID
}

func localAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestHandleQueryRejectsEcho(t *testing.T) {
	s, selfID := testServer(t)
	reply := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: selfID, Method: krpc.MethodPing}})
	if reply.Err == nil || reply.Err.Code != krpc.ErrGeneric || reply.Err.Description != "Echo!" {
		t.Fatalf("expected Echo! error, got %+v", reply)
	}
}

func TestHandleQueryPing(t *testing.T) {
	s, _ := testServer(t)
	reply := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodPing}})
	if reply.Response == nil || reply.Response.ID != s.ID || reply.Response.Kind != krpc.KindOk {
		t.Fatalf("unexpected ping reply: %+v", reply)
	}
}

func TestHandleQueryInsertsNonReadOnlyOrigin(t *testing.T) {
	s, _ := testServer(t)
	origin := u160.Random()
	s.HandleQuery(localAddr(2), &krpc.Message{Query: &krpc.Query{ID: origin, Method: krpc.MethodPing}})
	if s.Table.Len() != 1 {
		t.Fatalf("expected origin to be inserted into the table, len=%d", s.Table.Len())
	}
}

func TestHandleQuerySkipsReadOnlyOrigin(t *testing.T) {
	s, _ := testServer(t)
	origin := u160.Random()
	s.HandleQuery(localAddr(2), &krpc.Message{ReadOnly: true, Query: &krpc.Query{ID: origin, Method: krpc.MethodPing}})
	if s.Table.Len() != 0 {
		t.Fatalf("read-only origin should not be inserted, len=%d", s.Table.Len())
	}
}

func TestHandleQueryFindNode(t *testing.T) {
	s, _ := testServer(t)
	other := u160.Random()
	s.Table.Insert(node.Info{ID: other, Addr: localAddr(3)})

	target := u160.Random()
	reply := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodFindNode, Target: &target}})
	if reply.Response == nil || reply.Response.Kind != krpc.KindKNearest {
		t.Fatalf("unexpected find_node reply: %+v", reply)
	}
}

func TestHandleQueryGetPeersWithoutKnownPeers(t *testing.T) {
	s, _ := testServer(t)
	ih := u160.Random()
	reply := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodGetPeers, InfoHash: &ih}})
	if reply.Response == nil || reply.Response.Kind != krpc.KindKNearest || reply.Response.Token == "" {
		t.Fatalf("expected KNearest + token fallback, got %+v", reply)
	}
}

func TestHandleQueryAnnouncePeerRequiresValidToken(t *testing.T) {
	s, _ := testServer(t)
	ih := u160.Random()
	reply := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{
		ID: u160.Random(), Method: krpc.MethodAnnouncePeer, InfoHash: &ih, Token: "bogus", Port: 1000,
	}})
	if reply.Err == nil || reply.Err.Code != krpc.ErrProtocol {
		t.Fatalf("expected Protocol error for bad token, got %+v", reply)
	}
}

func TestHandleQueryAnnouncePeerThenGetPeers(t *testing.T) {
	s, _ := testServer(t)
	from := localAddr(4000)
	ih := u160.Random()

	// get_peers first, to mint a token bound to from's IP.
	gp := s.HandleQuery(from, &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodGetPeers, InfoHash: &ih}})
	tok := gp.Response.Token

	announcerID := u160.DeriveSecureID(from.IP, 3)
	ap := s.HandleQuery(from, &krpc.Message{Query: &krpc.Query{
		ID: announcerID, Method: krpc.MethodAnnouncePeer, InfoHash: &ih, Token: tok, ImpliedPort: true,
	}})
	if ap.Err != nil {
		t.Fatalf("announce_peer failed: %+v", ap.Err)
	}

	gp2 := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodGetPeers, InfoHash: &ih}})
	if gp2.Response == nil || gp2.Response.Kind != krpc.KindPeers || len(gp2.Response.Values) != 1 {
		t.Fatalf("expected one announced peer, got %+v", gp2.Response)
	}
	if gp2.Response.Values[0].Port != from.Port {
		t.Fatalf("implied_port should use the source port, got %d", gp2.Response.Values[0].Port)
	}
}

func TestHandleQuerySampleInfohashes(t *testing.T) {
	s, _ := testServer(t)
	ih := u160.Random()
	if err := s.Peers.Announce(ih, localAddr(5)); err != nil {
		t.Fatal(err)
	}

	target := u160.Random()
	reply := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodSampleInfohashes, Target: &target}})
	if reply.Response == nil || reply.Response.Kind != krpc.KindSamples || reply.Response.Num != 1 {
		t.Fatalf("unexpected sample_infohashes reply: %+v", reply)
	}
}

func TestHandleQueryPutGetUnsupported(t *testing.T) {
	s, _ := testServer(t)
	reply := s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodPut}})
	if reply.Err == nil || reply.Err.Code != krpc.ErrMethodUnknown {
		t.Fatalf("expected MethodUnknown for put, got %+v", reply)
	}
	reply = s.HandleQuery(localAddr(1), &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodGet}})
	if reply.Err == nil || reply.Err.Code != krpc.ErrMethodUnknown {
		t.Fatalf("expected MethodUnknown for get, got %+v", reply)
	}
}
