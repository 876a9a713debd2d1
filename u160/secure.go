package u160

import (
	"crypto/rand"
	"encoding/binary"
	"hash/crc32"
	"net"
)

// crc32cTable is the Castagnoli CRC32 polynomial table used by BEP-42.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// topBitMask clears the low 11 bits of a 32-bit CRC, keeping only the 21
// bits that seed a secure node id.
const topBitMask uint32 = 0xfffff800

// secureMaskInput derives the masked, randomizer-salted input fed to CRC32C
// per BEP-42 step 1, for either an IPv4 or IPv6 address.
func secureMaskInput(ip net.IP, r uint8) []byte {
	if ip4 := ip.To4(); ip4 != nil {
		v := binary.BigEndian.Uint32(ip4)
		v = (v & 0x030f3fff) | (uint32(r) << 29)
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, v)
		return b
	}

	ip16 := ip.To16()
	v := binary.BigEndian.Uint64(ip16[:8])
	v = (v & 0x0103070f1f3f7fff) | (uint64(r) << 61)
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// securePrefix returns the masked 21-bit CRC32C prefix for ip under
// randomizer r.
func securePrefix(ip net.IP, r uint8) uint32 {
	m := secureMaskInput(ip, r)
	return crc32.Checksum(m, crc32cTable) & topBitMask
}

// DeriveSecureID derives a BEP-42 secure node id for ip using randomizer r
// (r must be in [0,8)). The top 21 bits are bound to ip via CRC32C, the
// bottom 3 bits carry r, and the remaining 136 bits are uniformly random.
func DeriveSecureID(ip net.IP, r uint8) U160 {
	id := Random()
	pfx := securePrefix(ip, r&0x7)

	for i := 0; i < 21; i++ {
		bit := pfx&(1<<uint(31-i)) != 0
		id = id.SetBit(i, bit)
	}
	for i := 0; i < 3; i++ {
		bit := (r>>uint(2-i))&1 != 0
		id = id.SetBit(Len*8-3+i, bit)
	}
	return id
}

// RandomSecureID derives a BEP-42 secure node id for ip using a freshly
// drawn randomizer.
func RandomSecureID(ip net.IP) U160 {
	return DeriveSecureID(ip, randomizer())
}

func randomizer() uint8 {
	var b [1]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return b[0] & 0x7
}

// Validate reports whether id is a valid BEP-42 derivation of ip: it
// re-derives the CRC32C prefix using the randomizer encoded in id's low 3
// bits and checks the top 21 bits match.
func (id U160) Validate(ip net.IP) bool {
	var r uint8
	for i := 0; i < 3; i++ {
		if id.GetBit(Len*8 - 3 + i) {
			r |= 1 << uint(2-i)
		}
	}

	pfx := securePrefix(ip, r)
	for i := 0; i < 21; i++ {
		want := pfx&(1<<uint(31-i)) != 0
		if id.GetBit(i) != want {
			return false
		}
	}
	return true
}
