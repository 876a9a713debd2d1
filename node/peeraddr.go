package node

import (
	"encoding/binary"
	"errors"
	"net"
)

// EncodeCompactAddr serializes a socket address: 6 bytes for IPv4, 18 for
// IPv6, matching the "values" list and the persisted peer-store encoding.
func EncodeCompactAddr(addr *net.UDPAddr) []byte {
	if addr == nil {
		return nil
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		out := make([]byte, 6)
		copy(out, ip4)
		binary.BigEndian.PutUint16(out[4:], uint16(addr.Port))
		return out
	}
	ip6 := addr.IP.To16()
	out := make([]byte, 18)
	copy(out, ip6)
	binary.BigEndian.PutUint16(out[16:], uint16(addr.Port))
	return out
}

// DecodeCompactAddr parses a socket address wrapper. An empty string
// decodes as (nil, nil); 6 bytes as IPv4; 18 bytes as IPv6.
func DecodeCompactAddr(b []byte) (*net.UDPAddr, error) {
	switch len(b) {
	case 0:
		return nil, nil
	case 6:
		ip := make(net.IP, 4)
		copy(ip, b[:4])
		return &net.UDPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(b[4:]))}, nil
	case 18:
		ip := make(net.IP, 16)
		copy(ip, b[:16])
		return &net.UDPAddr{IP: ip, Port: int(binary.BigEndian.Uint16(b[16:]))}, nil
	default:
		return nil, errors.New("node: compact address must be 0, 6 or 18 bytes")
	}
}

// DecodeCompactAddrList decodes a list of compact peer addresses, where each
// element is individually 6 or 18 bytes (the "values" list, one bencode
// string per peer, unlike the concatenated "nodes" encoding).
func DecodeCompactAddrList(items [][]byte) (addrs []*net.UDPAddr, err error) {
	for _, item := range items {
		addr, err := DecodeCompactAddr(item)
		if err != nil {
			return nil, err
		}
		if addr != nil {
			addrs = append(addrs, addr)
		}
	}
	return addrs, nil
}
