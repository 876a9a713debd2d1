/*
Package krpc implements the Bencoded KRPC wire codec: conversion between the
on-wire dictionary shape (many optional keys) and the tagged Query/Response/
Error domain shape the rest of the node works with.
*/
package krpc

import (
	"errors"
	"net"

	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/u160"
)

// Method is the closed set of KRPC query methods the node understands.
type Method int

const (
	MethodPing Method = iota
	MethodFindNode
	MethodGetPeers
	MethodAnnouncePeer
	MethodPut
	MethodGet
	MethodSampleInfohashes
)

func (m Method) String() string {
	switch m {
	case MethodPing:
		return "ping"
	case MethodFindNode:
		return "find_node"
	case MethodGetPeers:
		return "get_peers"
	case MethodAnnouncePeer:
		return "announce_peer"
	case MethodPut:
		return "put"
	case MethodGet:
		return "get"
	case MethodSampleInfohashes:
		return "sample_infohashes"
	default:
		return "unknown"
	}
}

func methodFromString(s string) (m Method, known bool) {
	switch s {
	case "ping":
		return MethodPing, true
	case "find_node":
		return MethodFindNode, true
	case "get_peers":
		return MethodGetPeers, true
	case "announce_peer":
		return MethodAnnouncePeer, true
	case "put":
		return MethodPut, true
	case "get":
		return MethodGet, true
	case "sample_infohashes":
		return MethodSampleInfohashes, true
	default:
		return 0, false
	}
}

// Query is the typed form of a "q" message.
type Query struct {
	ID          u160.U160
	Method      Method
	RawMethod   string // method name exactly as received on the wire
	Target      *u160.U160
	InfoHash    *u160.U160
	Token       string
	Port        int
	ImpliedPort bool
	V           string
	Seq         *int64
	K           string
	Salt        string
	Sig         string
	Cas         *int64
}

// Kind is the closed set of shapes a "r" response can take, classified on
// ingress per the precedence rule in §4.2.
type Kind int

const (
	KindOk Kind = iota
	KindKNearest
	KindPeers
	KindData
	KindSamples
)

// Response is the typed form of an "r" message.
type Response struct {
	ID       u160.U160
	Kind     Kind
	Nodes    []node.Info
	Values   []*net.UDPAddr
	Token    string
	V        string
	Seq      *int64
	K        string
	Sig      string
	Interval int
	Num      int
	Samples  []u160.U160
}

// Message is the tagged union transmitted over the wire: exactly one of
// Query, Response or Err is non-nil.
type Message struct {
	Tid        []byte
	ReadOnly   bool
	Version    string
	ObservedIP *net.UDPAddr // the "ip" key: recipient's observed external address

	// ReceivedFrom is an ingress-only annotation set by the messenger; it is
	// never part of the wire encoding and is ignored by ToBytes.
	ReceivedFrom *net.UDPAddr

	Query    *Query
	Response *Response
	Err      *Error
}

// IsQuery, IsResponse and IsError classify the message kind.
func (m *Message) IsQuery() bool    { return m.Query != nil }
func (m *Message) IsResponse() bool { return m.Response != nil }
func (m *Message) IsError() bool    { return m.Err != nil }

// decodeID zero-left-pads ids shorter than 20 bytes (some peers truncate)
// and rejects ids longer than 20 bytes.
func decodeID(s string) (u160.U160, error) {
	b := []byte(s)
	if len(b) > u160.Len {
		return u160.U160{}, errors.New("krpc: id longer than 20 bytes")
	}
	if len(b) < u160.Len {
		padded := make([]byte, u160.Len)
		copy(padded[u160.Len-len(b):], b)
		b = padded
	}
	return u160.FromBytes(b)
}

// ToBytes serializes m as a Bencoded KRPC datagram.
func (m *Message) ToBytes() ([]byte, error) {
	w := wireMsg{T: string(m.Tid), V: m.Version}
	if m.ReadOnly {
		w.RO = 1
	}
	if m.ObservedIP != nil {
		w.IP = string(node.EncodeCompactAddr(m.ObservedIP))
	}

	switch {
	case m.Query != nil:
		w.Y = "q"
		w.Q = m.Query.Method.String()
		w.A = queryToWire(m.Query)
	case m.Response != nil:
		w.Y = "r"
		r, err := responseToWire(m.Response)
		if err != nil {
			return nil, err
		}
		w.R = r
	case m.Err != nil:
		w.Y = "e"
		w.E = &wireError{Code: m.Err.Code, Description: m.Err.Description}
	default:
		return nil, errors.New("krpc: message has neither query, response nor error")
	}

	return bencodeMarshal(w)
}

// FromBytes decodes a Bencoded KRPC datagram into its tagged domain form.
func FromBytes(b []byte) (*Message, error) {
	var w wireMsg
	if err := bencodeUnmarshal(b, &w); err != nil {
		return nil, err
	}

	m := &Message{
		Tid:      []byte(w.T),
		ReadOnly: w.RO != 0,
		Version:  w.V,
	}
	if w.IP != "" {
		addr, err := node.DecodeCompactAddr([]byte(w.IP))
		if err != nil {
			return nil, err
		}
		m.ObservedIP = addr
	}

	switch w.Y {
	case "q":
		q, err := wireToQuery(w.Q, w.A)
		if err != nil {
			return nil, err
		}
		m.Query = q
	case "r":
		if w.R == nil {
			return nil, errors.New("krpc: response message missing r dict")
		}
		r, err := wireToResponse(w.R)
		if err != nil {
			return nil, err
		}
		m.Response = r
	case "e":
		if w.E == nil {
			return nil, errors.New("krpc: error message missing e list")
		}
		m.Err = &Error{Code: w.E.Code, Description: w.E.Description}
	default:
		return nil, errors.New("krpc: unknown message type y=" + w.Y)
	}

	return m, nil
}

func queryToWire(q *Query) *wireArgs {
	a := &wireArgs{
		ID:    string(q.ID.Bytes()),
		Token: q.Token,
		Port:  q.Port,
		V:     q.V,
		Seq:   q.Seq,
		K:     q.K,
		Salt:  q.Salt,
		Sig:   q.Sig,
		Cas:   q.Cas,
	}
	if q.ImpliedPort {
		a.ImpliedPort = 1
	}
	if q.Target != nil {
		a.Target = string(q.Target.Bytes())
	}
	if q.InfoHash != nil {
		a.InfoHash = string(q.InfoHash.Bytes())
	}
	return a
}

func wireToQuery(methodName string, a *wireArgs) (*Query, error) {
	if a == nil {
		return nil, errors.New("krpc: query message missing a dict")
	}
	id, err := decodeID(a.ID)
	if err != nil {
		return nil, err
	}

	q := &Query{
		ID:          id,
		RawMethod:   methodName,
		Token:       a.Token,
		Port:        a.Port,
		ImpliedPort: a.ImpliedPort != 0,
		V:           a.V,
		Seq:         a.Seq,
		K:           a.K,
		Salt:        a.Salt,
		Sig:         a.Sig,
		Cas:         a.Cas,
	}

	if a.Target != "" {
		t, err := decodeID(a.Target)
		if err != nil {
			return nil, err
		}
		q.Target = &t
	}
	if a.InfoHash != "" {
		ih, err := decodeID(a.InfoHash)
		if err != nil {
			return nil, err
		}
		q.InfoHash = &ih
	}

	method, known := methodFromString(methodName)
	if !known {
		// libtorrent forward-compatibility: an unrecognized method carrying a
		// target or info_hash is treated as find_node on that key.
		if q.Target != nil {
			q.Method = MethodFindNode
			return q, nil
		}
		if q.InfoHash != nil {
			q.Method = MethodFindNode
			q.Target = q.InfoHash
			return q, nil
		}
		return nil, Error{Code: ErrMethodUnknown, Description: "unknown method " + methodName}
	}
	q.Method = method
	return q, nil
}

func responseToWire(r *Response) (*wireReturn, error) {
	w := &wireReturn{
		ID:       string(r.ID.Bytes()),
		Token:    r.Token,
		V:        r.V,
		Seq:      r.Seq,
		K:        r.K,
		Sig:      r.Sig,
		Interval: r.Interval,
		Num:      r.Num,
	}
	if len(r.Nodes) > 0 {
		v4, v6 := node.SplitByFamily(r.Nodes)
		if len(v4) > 0 {
			enc, err := node.EncodeCompactList(v4)
			if err != nil {
				return nil, err
			}
			w.Nodes = string(enc)
		}
		if len(v6) > 0 {
			enc, err := node.EncodeCompactList(v6)
			if err != nil {
				return nil, err
			}
			w.Nodes6 = string(enc)
		}
	}
	for _, addr := range r.Values {
		w.Values = append(w.Values, string(node.EncodeCompactAddr(addr)))
	}
	if len(r.Samples) > 0 {
		var samples []byte
		for _, s := range r.Samples {
			samples = append(samples, s.Bytes()...)
		}
		w.Samples = string(samples)
	}
	return w, nil
}

func wireToResponse(w *wireReturn) (*Response, error) {
	id, err := decodeID(w.ID)
	if err != nil {
		return nil, err
	}
	r := &Response{
		ID:       id,
		Token:    w.Token,
		V:        w.V,
		Seq:      w.Seq,
		K:        w.K,
		Sig:      w.Sig,
		Interval: w.Interval,
		Num:      w.Num,
	}
	if w.Nodes != "" {
		nodes, err := node.DecodeCompactIPv4List([]byte(w.Nodes))
		if err != nil {
			return nil, err
		}
		r.Nodes = append(r.Nodes, nodes...)
	}
	if w.Nodes6 != "" {
		nodes, err := node.DecodeCompactIPv6List([]byte(w.Nodes6))
		if err != nil {
			return nil, err
		}
		r.Nodes = append(r.Nodes, nodes...)
	}
	if len(w.Values) > 0 {
		items := make([][]byte, len(w.Values))
		for i, v := range w.Values {
			items[i] = []byte(v)
		}
		addrs, err := node.DecodeCompactAddrList(items)
		if err != nil {
			return nil, err
		}
		r.Values = addrs
	}
	if w.Samples != "" {
		raw := []byte(w.Samples)
		for i := 0; i+u160.Len <= len(raw); i += u160.Len {
			id, err := u160.FromBytes(raw[i : i+u160.Len])
			if err != nil {
				return nil, err
			}
			r.Samples = append(r.Samples, id)
		}
	}

	// Classification order per spec: values -> Peers, else v -> Data, else
	// samples -> Samples, else nodes -> KNearest, else Ok.
	switch {
	case w.Values != nil:
		r.Kind = KindPeers
	case w.V != "":
		r.Kind = KindData
	case w.Samples != "":
		r.Kind = KindSamples
	case w.Nodes != "" || w.Nodes6 != "":
		r.Kind = KindKNearest
	default:
		r.Kind = KindOk
	}
	return r, nil
}
