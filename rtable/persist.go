package rtable

import (
	"errors"
	"os"

	"github.com/anacrolix/torrent/bencode"

	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/u160"
)

// wireFile is the on-disk shape: a bencoded dictionary holding self_id ("id"),
// k ("k"), depth ("depth") and the buckets ("b") in the order bucket(depth-1),
// ..., bucket(0), each bucket a bencoded list of its members' compact
// encodings. Each member is its own bencoded string rather than one
// concatenated blob per bucket, so IPv4 (26-byte) and IPv6 (38-byte) entries
// sharing a bucket decode unambiguously. Buckets are written from the
// terminal down to depth 0, and Load puts each list straight back at its
// depth without re-running any splits.
type wireFile struct {
	Self    string     `bencode:"id"`
	K       int        `bencode:"k"`
	Depth   int        `bencode:"depth"`
	Buckets [][]string `bencode:"b"`
}

// Save writes the table to path.
func (t *Table) Save(path string) error {
	t.mu.RLock()
	w := wireFile{
		Self:  string(t.self.Bytes()),
		K:     t.k,
		Depth: len(t.buckets),
	}
	var encErr error
	for i := len(t.buckets) - 1; i >= 0; i-- {
		nodes := t.buckets[i].snapshot()
		entries := make([]string, 0, len(nodes))
		for _, n := range nodes {
			enc, err := n.EncodeCompact()
			if err != nil {
				encErr = err
				break
			}
			entries = append(entries, string(enc))
		}
		if encErr != nil {
			break
		}
		w.Buckets = append(w.Buckets, entries)
	}
	t.mu.RUnlock()
	if encErr != nil {
		return encErr
	}

	b, err := bencode.Marshal(w)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Load replaces the table contents with what is stored at path.
func (t *Table) Load(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var w wireFile
	if err := bencode.Unmarshal(b, &w); err != nil {
		return err
	}
	self, err := u160.FromBytes([]byte(w.Self))
	if err != nil {
		return err
	}
	if w.Depth != len(w.Buckets) {
		return errors.New("rtable: depth does not match bucket count")
	}

	t.mu.Lock()
	t.self = self
	if w.K > 0 {
		t.k = w.K
	}
	t.buckets = make([]*bucket, w.Depth)
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	// w.Buckets[0] is depth-1 (terminal at save time), ..., w.Buckets[depth-1] is depth 0.
	for i, entries := range w.Buckets {
		depth := w.Depth - 1 - i
		nodes := make([]node.Info, 0, len(entries))
		for _, raw := range entries {
			n, err := node.DecodeCompact([]byte(raw))
			if err != nil {
				t.mu.Unlock()
				return err
			}
			nodes = append(nodes, n)
		}
		t.buckets[depth].nodes = nodes
	}
	t.mu.Unlock()
	return nil
}
