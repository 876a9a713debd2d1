/*
Package token implements the write-token scheme that authenticates a later
announce_peer to the node that issued it in a prior get_peers reply (§4.4).
Tokens are self-contained: validation needs only the server's own key, not a
shared cache.
*/
package token

import (
	"crypto/rand"
	"encoding/binary"
	"hash/crc32"
	"net"
	"time"

	"golang.org/x/crypto/chacha20"
)

// Lifetime is how long a generated token remains valid.
const Lifetime = 120 * time.Second

// Len is the encoded token size: 4-byte CRC prefix + 8-byte random nonce
// remainder + 8-byte ChaCha20 ciphertext of the timestamp.
const Len = 20

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Generator issues and validates write-tokens under a single random key
// chosen at startup.
type Generator struct {
	key [32]byte
	now func() time.Time
}

// NewGenerator creates a generator with a freshly drawn random key.
func NewGenerator() (*Generator, error) {
	g := &Generator{now: time.Now}
	if _, err := rand.Read(g.key[:]); err != nil {
		return nil, err
	}
	return g, nil
}

func ipBytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

// integrityHash computes CRC32C(ip || timestamp || random) as in §4.4 step 2.
func integrityHash(ip net.IP, t int64, r []byte) uint32 {
	buf := make([]byte, 0, 16+8+8)
	buf = append(buf, ipBytes(ip)...)
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], uint64(t))
	buf = append(buf, tb[:]...)
	buf = append(buf, r...)
	return crc32.Checksum(buf, crc32cTable)
}

// Generate issues a fresh 20-byte token bound to ip.
func (g *Generator) Generate(ip net.IP) ([]byte, error) {
	r := make([]byte, 8)
	if _, err := rand.Read(r); err != nil {
		return nil, err
	}

	now := g.now().Unix()
	ih := integrityHash(ip, now, r)

	nonce := make([]byte, 12)
	binary.BigEndian.PutUint32(nonce, ih)
	copy(nonce[4:], r)

	cipher, err := chacha20.NewUnauthenticatedCipher(g.key[:], nonce)
	if err != nil {
		return nil, err
	}
	var plain, cipherText [8]byte
	binary.BigEndian.PutUint64(plain[:], uint64(now))
	cipher.XORKeyStream(cipherText[:], plain[:])

	out := make([]byte, 0, Len)
	out = append(out, nonce...)
	out = append(out, cipherText[:]...)
	return out, nil
}

// Validate reports whether token was issued by this generator for ip within
// the last Lifetime seconds.
func (g *Generator) Validate(token []byte, ip net.IP) bool {
	if len(token) != Len {
		return false
	}
	nonce := token[:12]
	cipherText := token[12:]

	cipher, err := chacha20.NewUnauthenticatedCipher(g.key[:], nonce)
	if err != nil {
		return false
	}
	var plain [8]byte
	cipher.XORKeyStream(plain[:], cipherText)
	t := int64(binary.BigEndian.Uint64(plain[:]))

	r := nonce[4:12]
	ih := integrityHash(ip, t, r)
	var wantPrefix [4]byte
	binary.BigEndian.PutUint32(wantPrefix[:], ih)
	if string(wantPrefix[:]) != string(nonce[:4]) {
		return false
	}

	now := g.now().Unix()
	if t > now {
		return false
	}
	if t+int64(Lifetime/time.Second) <= now {
		return false
	}
	return true
}
