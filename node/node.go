/*
Package node implements NodeInfo, the (id, address) pair that identifies a
DHT participant, and its compact IPv4/IPv6 wire encodings.
*/
package node

import (
	"encoding/binary"
	"errors"
	"net"

	"github.com/kadnode/dhtnode/u160"
)

// CompactIPv4Len is the size in bytes of a compact IPv4 node entry:
// 20-byte id, 4-byte address, 2-byte big-endian port.
const CompactIPv4Len = u160.Len + 4 + 2

// CompactIPv6Len is the size in bytes of a compact IPv6 node entry:
// 20-byte id, 16-byte address, 2-byte big-endian port.
const CompactIPv6Len = u160.Len + 16 + 2

// Info is a node's identity and socket address.
type Info struct {
	ID   u160.U160
	Addr *net.UDPAddr
}

// Validate reports whether ID is a BEP-42 derivation of Addr's IP.
func (n Info) Validate() bool {
	if n.Addr == nil {
		return false
	}
	return n.ID.Validate(n.Addr.IP)
}

// EncodeCompact serializes n as a 26-byte (IPv4) or 38-byte (IPv6) string.
func (n Info) EncodeCompact() ([]byte, error) {
	ip4 := n.Addr.IP.To4()
	if ip4 != nil {
		out := make([]byte, CompactIPv4Len)
		copy(out, n.ID[:])
		copy(out[u160.Len:], ip4)
		binary.BigEndian.PutUint16(out[u160.Len+4:], uint16(n.Addr.Port))
		return out, nil
	}

	ip6 := n.Addr.IP.To16()
	if ip6 == nil {
		return nil, errors.New("node: address is neither IPv4 nor IPv6")
	}
	out := make([]byte, CompactIPv6Len)
	copy(out, n.ID[:])
	copy(out[u160.Len:], ip6)
	binary.BigEndian.PutUint16(out[u160.Len+16:], uint16(n.Addr.Port))
	return out, nil
}

// DecodeCompact decodes a single compact entry, branching on its length: 26
// bytes is IPv4, 38 bytes is IPv6. Used where entries are individually
// length-delimited (e.g. bencoded strings) rather than concatenated into one
// fixed-width blob, so mixed-family lists decode unambiguously.
func DecodeCompact(b []byte) (Info, error) {
	switch len(b) {
	case CompactIPv4Len:
		nodes, err := DecodeCompactIPv4List(b)
		if err != nil {
			return Info{}, err
		}
		return nodes[0], nil
	case CompactIPv6Len:
		nodes, err := DecodeCompactIPv6List(b)
		if err != nil {
			return Info{}, err
		}
		return nodes[0], nil
	default:
		return Info{}, errors.New("node: compact entry is neither 26 (IPv4) nor 38 (IPv6) bytes")
	}
}

// DecodeCompactIPv4List decodes a concatenated string of 26-byte entries.
// The length need not be a multiple of CompactIPv4Len: trailing bytes
// outside a full chunk are ignored.
func DecodeCompactIPv4List(b []byte) (nodes []Info, err error) {
	for i := 0; i+CompactIPv4Len <= len(b); i += CompactIPv4Len {
		chunk := b[i : i+CompactIPv4Len]
		id, err := u160.FromBytes(chunk[:u160.Len])
		if err != nil {
			return nil, err
		}
		ip := make(net.IP, 4)
		copy(ip, chunk[u160.Len:u160.Len+4])
		port := binary.BigEndian.Uint16(chunk[u160.Len+4:])
		nodes = append(nodes, Info{ID: id, Addr: &net.UDPAddr{IP: ip, Port: int(port)}})
	}
	return nodes, nil
}

// DecodeCompactIPv6List decodes a concatenated string of 38-byte entries.
func DecodeCompactIPv6List(b []byte) (nodes []Info, err error) {
	for i := 0; i+CompactIPv6Len <= len(b); i += CompactIPv6Len {
		chunk := b[i : i+CompactIPv6Len]
		id, err := u160.FromBytes(chunk[:u160.Len])
		if err != nil {
			return nil, err
		}
		ip := make(net.IP, 16)
		copy(ip, chunk[u160.Len:u160.Len+16])
		port := binary.BigEndian.Uint16(chunk[u160.Len+16:])
		nodes = append(nodes, Info{ID: id, Addr: &net.UDPAddr{IP: ip, Port: int(port)}})
	}
	return nodes, nil
}

// SplitByFamily partitions nodes into IPv4 and IPv6 entries, so each half can
// be compact-encoded on its own wire field ("nodes" / "nodes6").
func SplitByFamily(nodes []Info) (v4, v6 []Info) {
	for _, n := range nodes {
		if n.Addr != nil && n.Addr.IP.To4() != nil {
			v4 = append(v4, n)
		} else {
			v6 = append(v6, n)
		}
	}
	return v4, v6
}

// EncodeCompactList concatenates the compact encoding of every node. Mixing
// IPv4 and IPv6 entries in one list is the caller's responsibility to avoid;
// use SplitByFamily first if the list may contain both.
func EncodeCompactList(nodes []Info) ([]byte, error) {
	var out []byte
	for _, n := range nodes {
		enc, err := n.EncodeCompact()
		if err != nil {
			return nil, err
		}
		out = append(out, enc...)
	}
	return out, nil
}
