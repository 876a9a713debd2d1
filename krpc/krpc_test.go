package krpc

import (
	"net"
	"testing"

	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/u160"
)

func TestPingQueryRoundTrip(t *testing.T) {
	id := u160.Random()
	m := &Message{
		Tid: []byte{0x00, 0x7b},
		Query: &Query{
			ID:     id,
			Method: MethodPing,
		},
	}
	b, err := m.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsQuery() || got.Query.Method != MethodPing {
		t.Fatalf("expected ping query, got %+v", got)
	}
	if got.Query.ID != id {
		t.Fatalf("id mismatch: got %s want %s", got.Query.ID, id)
	}
	if string(got.Tid) != string(m.Tid) {
		t.Fatalf("tid mismatch")
	}
}

func TestFindNodeQueryRoundTrip(t *testing.T) {
	id := u160.Random()
	target := u160.Random()
	m := &Message{
		Tid: []byte("aa"),
		Query: &Query{
			ID:     id,
			Method: MethodFindNode,
			Target: &target,
		},
	}
	b, err := m.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Query.Target == nil || *got.Query.Target != target {
		t.Fatalf("target mismatch")
	}
}

func TestUnknownMethodWithTargetTreatedAsFindNode(t *testing.T) {
	id := u160.Random()
	target := u160.Random()
	m := &Message{
		Tid: []byte("bb"),
		Query: &Query{
			ID:        id,
			Method:    MethodFindNode,
			RawMethod: "vendor_extension",
			Target:    &target,
		},
	}
	m.Query.Method = MethodFindNode
	// Encode manually with the vendor method name to simulate an unknown peer.
	w := wireMsg{T: string(m.Tid), Y: "q", Q: "vendor_extension", A: queryToWire(m.Query)}
	b, err := bencodeMarshal(w)
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Query.Method != MethodFindNode {
		t.Fatalf("expected forward-compat find_node, got %v", got.Query.Method)
	}
	if got.Query.Target == nil || *got.Query.Target != target {
		t.Fatalf("target not preserved through compat shim")
	}
}

func TestUnknownMethodWithoutTargetOrHashErrors(t *testing.T) {
	id := u160.Random()
	w := wireMsg{T: "cc", Y: "q", Q: "mystery", A: &wireArgs{ID: string(id.Bytes())}}
	b, _ := bencodeMarshal(w)
	if _, err := FromBytes(b); err == nil {
		t.Fatal("expected MethodUnknown error")
	}
}

func TestShortIDZeroPadded(t *testing.T) {
	w := wireMsg{T: "dd", Y: "q", Q: "ping", A: &wireArgs{ID: "short"}}
	b, _ := bencodeMarshal(w)
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]byte, u160.Len)
	copy(want[u160.Len-len("short"):], "short")
	if got.Query.ID.Bytes()[0] != 0 {
		t.Fatalf("expected zero-padded id, got %x", got.Query.ID.Bytes())
	}
	for i, b := range want {
		if got.Query.ID.Bytes()[i] != b {
			t.Fatalf("padded id mismatch at byte %d", i)
		}
	}
}

func TestOverlongIDErrors(t *testing.T) {
	w := wireMsg{T: "ee", Y: "q", Q: "ping", A: &wireArgs{ID: "012345678901234567890"}}
	b, _ := bencodeMarshal(w)
	if _, err := FromBytes(b); err == nil {
		t.Fatal("expected error for 21-byte id")
	}
}

func TestResponseClassificationPeers(t *testing.T) {
	id := u160.Random()
	addr := &net.UDPAddr{IP: net.IPv4(1, 2, 3, 4), Port: 6881}
	m := &Message{Tid: []byte("ff"), Response: &Response{ID: id, Kind: KindPeers, Values: []*net.UDPAddr{addr}, Token: "tok"}}
	b, err := m.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Response.Kind != KindPeers {
		t.Fatalf("expected Peers kind, got %v", got.Response.Kind)
	}
	if len(got.Response.Values) != 1 || !got.Response.Values[0].IP.Equal(addr.IP) {
		t.Fatalf("peer address mismatch")
	}
}

func TestResponseClassificationKNearest(t *testing.T) {
	id := u160.Random()
	nodes := []node.Info{{ID: u160.Random(), Addr: &net.UDPAddr{IP: net.IPv4(5, 5, 5, 5), Port: 1}}}
	m := &Message{Tid: []byte("gg"), Response: &Response{ID: id, Kind: KindKNearest, Nodes: nodes}}
	b, err := m.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Response.Kind != KindKNearest {
		t.Fatalf("expected KNearest kind, got %v", got.Response.Kind)
	}
	if len(got.Response.Nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(got.Response.Nodes))
	}
}

func TestResponseClassificationKNearestMixedFamily(t *testing.T) {
	id := u160.Random()
	v6 := net.ParseIP("2001:db8::1")
	nodes := []node.Info{
		{ID: u160.Random(), Addr: &net.UDPAddr{IP: net.IPv4(5, 5, 5, 5), Port: 1}},
		{ID: u160.Random(), Addr: &net.UDPAddr{IP: v6, Port: 2}},
	}
	m := &Message{Tid: []byte("gg"), Response: &Response{ID: id, Kind: KindKNearest, Nodes: nodes}}
	b, err := m.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Response.Kind != KindKNearest {
		t.Fatalf("expected KNearest kind, got %v", got.Response.Kind)
	}
	if len(got.Response.Nodes) != 2 {
		t.Fatalf("expected 2 nodes (1 v4 + 1 v6), got %d", len(got.Response.Nodes))
	}
	var sawV4, sawV6 bool
	for _, n := range got.Response.Nodes {
		if n.Addr.IP.To4() != nil {
			sawV4 = true
		} else {
			sawV6 = true
			if !n.Addr.IP.Equal(v6) {
				t.Fatalf("v6 addr mismatch: got %v want %v", n.Addr.IP, v6)
			}
		}
	}
	if !sawV4 || !sawV6 {
		t.Fatalf("expected both families represented, got %+v", got.Response.Nodes)
	}
}

func TestErrorRoundTrip(t *testing.T) {
	m := &Message{Tid: []byte("hh"), Err: &Error{Code: ErrProtocol, Description: "bad args"}}
	b, err := m.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsError() || got.Err.Code != ErrProtocol || got.Err.Description != "bad args" {
		t.Fatalf("error mismatch: %+v", got.Err)
	}
}

func TestSampleInfohashesRoundTrip(t *testing.T) {
	id := u160.Random()
	samples := []u160.U160{u160.Random(), u160.Random()}
	m := &Message{Tid: []byte("ii"), Response: &Response{ID: id, Kind: KindSamples, Samples: samples, Interval: 0, Num: 2}}
	b, err := m.ToBytes()
	if err != nil {
		t.Fatal(err)
	}
	got, err := FromBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Response.Kind != KindSamples || len(got.Response.Samples) != 2 {
		t.Fatalf("samples mismatch: %+v", got.Response)
	}
}
