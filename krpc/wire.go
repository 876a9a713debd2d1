package krpc

import (
	"errors"

	"github.com/anacrolix/torrent/bencode"
)

// wireMsg is the exact over-the-wire Bencoded dictionary shape. Internal
// code never touches this directly; message.go converts at the boundary.
type wireMsg struct {
	T  string      `bencode:"t"`
	Y  string      `bencode:"y"`
	Q  string      `bencode:"q,omitempty"`
	A  *wireArgs   `bencode:"a,omitempty"`
	R  *wireReturn `bencode:"r,omitempty"`
	E  *wireError  `bencode:"e,omitempty"`
	IP string      `bencode:"ip,omitempty"`
	V  string      `bencode:"v,omitempty"`
	RO int64       `bencode:"ro,omitempty"`
}

type wireArgs struct {
	ID          string `bencode:"id"`
	Target      string `bencode:"target,omitempty"`
	InfoHash    string `bencode:"info_hash,omitempty"`
	Token       string `bencode:"token,omitempty"`
	Port        int    `bencode:"port,omitempty"`
	ImpliedPort int    `bencode:"implied_port,omitempty"`
	V           string `bencode:"v,omitempty"`
	Seq         *int64 `bencode:"seq,omitempty"`
	K           string `bencode:"k,omitempty"`
	Salt        string `bencode:"salt,omitempty"`
	Sig         string `bencode:"sig,omitempty"`
	Cas         *int64 `bencode:"cas,omitempty"`
}

type wireReturn struct {
	ID       string   `bencode:"id"`
	Nodes    string   `bencode:"nodes,omitempty"`
	Nodes6   string   `bencode:"nodes6,omitempty"`
	Values   []string `bencode:"values,omitempty"`
	Token    string   `bencode:"token,omitempty"`
	V        string   `bencode:"v,omitempty"`
	Seq      *int64   `bencode:"seq,omitempty"`
	K        string   `bencode:"k,omitempty"`
	Sig      string   `bencode:"sig,omitempty"`
	Interval int      `bencode:"interval,omitempty"`
	Num      int      `bencode:"num,omitempty"`
	Samples  string   `bencode:"samples,omitempty"`
}

// wireError is the [code, description] list shape of the "e" key.
type wireError struct {
	Code        Code
	Description string
}

func (e wireError) MarshalBencode() ([]byte, error) {
	return bencode.Marshal([]interface{}{int(e.Code), e.Description})
}

func (e *wireError) UnmarshalBencode(b []byte) error {
	var items []interface{}
	if err := bencode.Unmarshal(b, &items); err != nil {
		return err
	}
	if len(items) != 2 {
		return errors.New("krpc: error list must have exactly 2 elements")
	}
	code, ok := items[0].(int64)
	if !ok {
		return errors.New("krpc: error code must be an integer")
	}
	desc, ok := items[1].(string)
	if !ok {
		return errors.New("krpc: error description must be a string")
	}
	e.Code = Code(code)
	e.Description = desc
	return nil
}
