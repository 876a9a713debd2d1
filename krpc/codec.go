package krpc

import "github.com/anacrolix/torrent/bencode"

// bencodeMarshal wraps bencode.Marshal so message.go does not import the
// library directly.
func bencodeMarshal(v interface{}) ([]byte, error) {
	return bencode.Marshal(v)
}

// bencodeUnmarshal decodes a single Bencoded dictionary. Trailing bytes
// after a well-formed dictionary are tolerated (some DHT implementations pad
// datagrams), matching the anacrolix/torrent/bencode convention.
func bencodeUnmarshal(b []byte, v interface{}) error {
	err := bencode.Unmarshal(b, v)
	if _, ok := err.(bencode.ErrUnusedTrailingBytes); ok {
		return nil
	}
	return err
}
