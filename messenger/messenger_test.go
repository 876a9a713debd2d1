package messenger

import (
	"log"
	"net"
	"testing"
	"time"

	"github.com/kadnode/dhtnode/krpc"
	"github.com/kadnode/dhtnode/u160"
)

type pingHandler struct {
	id u160.U160
}

func (h *pingHandler) HandleQuery(from *net.UDPAddr, msg *krpc.Message) *krpc.Message {
	if !msg.IsQuery() || msg.Query.Method != krpc.MethodPing {
		return nil
	}
	return &krpc.Message{Response: &krpc.Response{ID: h.id, Kind: krpc.KindOk}}
}

func loopbackAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func TestQueryReplyRoundTrip(t *testing.T) {
	serverID := u160.Random()
	server, err := New(loopbackAddr(), &pingHandler{id: serverID}, log.New(log.Writer(), "server ", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	go server.Serve()

	client, err := New(loopbackAddr(), nil, log.New(log.Writer(), "client ", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	go client.Serve()

	clientID := u160.Random()
	q := &krpc.Message{Query: &krpc.Query{ID: clientID, Method: krpc.MethodPing}}
	resp, err := client.Query(server.LocalAddr(), q, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !resp.IsResponse() || resp.Response.ID != serverID {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestQueryTimesOutWithNoServer(t *testing.T) {
	client, err := New(loopbackAddr(), nil, log.New(log.Writer(), "client ", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	go client.Serve()

	dead := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}
	q := &krpc.Message{Query: &krpc.Query{ID: u160.Random(), Method: krpc.MethodPing}}
	_, err = client.Query(dead, q, 50*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestDeliverIgnoresReplyFromWrongAddress(t *testing.T) {
	client, err := New(loopbackAddr(), nil, log.New(log.Writer(), "client ", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	tid := []byte{0x01, 0x02}
	want := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	p := &pendingQuery{addr: want, reply: make(chan *krpc.Message, 1)}
	client.mu.Lock()
	client.pending[string(tid)] = p
	client.mu.Unlock()

	spoofed := &krpc.Message{Tid: tid, Response: &krpc.Response{ID: u160.Random(), Kind: krpc.KindOk}}
	client.deliver(spoofed, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999})

	select {
	case <-p.reply:
		t.Fatal("reply from mismatched address should have been dropped")
	default:
	}

	legit := &krpc.Message{Tid: tid, Response: &krpc.Response{ID: u160.Random(), Kind: krpc.KindOk}}
	client.deliver(legit, want)
	select {
	case <-p.reply:
	default:
		t.Fatal("reply from the matching address should have been delivered")
	}
}

func TestDeliverFallsBackToAddressOnTidMiss(t *testing.T) {
	client, err := New(loopbackAddr(), nil, log.New(log.Writer(), "client ", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	p := &pendingQuery{addr: addr, reply: make(chan *krpc.Message, 1)}
	client.mu.Lock()
	client.pending[string([]byte{0xaa, 0xbb})] = p
	client.mu.Unlock()

	// The peer replies with a tid that does not match anything outstanding,
	// but it is the only outstanding query sent to addr.
	misreported := &krpc.Message{Tid: []byte{0x00, 0x00}, Response: &krpc.Response{ID: u160.Random(), Kind: krpc.KindOk}}
	client.deliver(misreported, addr)

	select {
	case <-p.reply:
	default:
		t.Fatal("expected the misreported-tid reply to be delivered via the address fallback")
	}

	client.mu.Lock()
	_, stillPending := client.pending[string([]byte{0xaa, 0xbb})]
	client.mu.Unlock()
	if stillPending {
		t.Fatal("expected the matched entry to be removed from the pending table")
	}
}

func TestDeliverDropsAmbiguousAddressFallback(t *testing.T) {
	client, err := New(loopbackAddr(), nil, log.New(log.Writer(), "client ", 0))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	p1 := &pendingQuery{addr: addr, reply: make(chan *krpc.Message, 1)}
	p2 := &pendingQuery{addr: addr, reply: make(chan *krpc.Message, 1)}
	client.mu.Lock()
	client.pending[string([]byte{0x01, 0x01})] = p1
	client.pending[string([]byte{0x02, 0x02})] = p2
	client.mu.Unlock()

	misreported := &krpc.Message{Tid: []byte{0x00, 0x00}, Response: &krpc.Response{ID: u160.Random(), Kind: krpc.KindOk}}
	client.deliver(misreported, addr)

	select {
	case <-p1.reply:
		t.Fatal("ambiguous address fallback should not deliver to either candidate")
	default:
	}
	select {
	case <-p2.reply:
		t.Fatal("ambiguous address fallback should not deliver to either candidate")
	default:
	}
}
