package rtable

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadnode/dhtnode/node"
	"github.com/kadnode/dhtnode/u160"
)

func randInfo() node.Info {
	return node.Info{
		ID:   u160.Random(),
		Addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6881},
	}
}

func TestInsertAndTouchNoDuplicate(t *testing.T) {
	self := u160.Zero
	tbl := New(self, DefaultK)
	n := randInfo()
	if !tbl.Insert(n) {
		t.Fatal("insert failed")
	}
	if !tbl.Insert(n) {
		t.Fatal("re-insert (touch) failed")
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected 1 node, got %d", tbl.Len())
	}
}

func TestInsertRejectsSelf(t *testing.T) {
	self := u160.Random()
	tbl := New(self, DefaultK)
	if tbl.Insert(node.Info{ID: self, Addr: &net.UDPAddr{IP: net.IPv4(1, 1, 1, 1), Port: 1}}) {
		t.Fatal("expected self-id insertion to be rejected")
	}
}

// TestBucketFullSplitRecall mirrors the scenario described for bucket
// splitting: insert a known id, flood the table with random ids until the
// terminal bucket has split repeatedly, then confirm the known id is still
// retrievable (it stays in whichever bucket its differing bit places it in,
// independent of how many times the terminal splits further on).
func TestBucketFullSplitRecall(t *testing.T) {
	self := u160.Zero
	tbl := New(self, DefaultK)

	known := node.Info{ID: u160.Max, Addr: &net.UDPAddr{IP: net.IPv4(9, 9, 9, 9), Port: 1}}
	if !tbl.Insert(known) {
		t.Fatal("failed to insert known node")
	}

	for i := 0; i < 10000; i++ {
		tbl.Insert(randInfo())
	}

	if !tbl.Insert(known) {
		t.Fatal("re-insert of known node failed after flooding")
	}

	idx := tbl.bucketIndex(known.ID, tbl.Depth())
	found := false
	for _, n := range tbl.buckets[idx].snapshot() {
		if n.ID == known.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("known node missing from its owning bucket after flooding")
	}
	if tbl.Depth() > u160.Len*8 {
		t.Fatalf("chain length exceeded maximum: %d", tbl.Depth())
	}
}

func TestClosestRecall(t *testing.T) {
	self := u160.Random()
	tbl := New(self, DefaultK)

	var all []node.Info
	for i := 0; i < 500; i++ {
		n := randInfo()
		all = append(all, n)
		tbl.Insert(n)
	}

	target := u160.Random()
	got := tbl.Closest(target, 8)
	if len(got) == 0 {
		t.Fatal("expected at least some candidates")
	}
	for i := 1; i < len(got); i++ {
		d0 := u160.Distance(got[i-1].ID, target)
		d1 := u160.Distance(got[i].ID, target)
		if d0.Cmp(d1) > 0 {
			t.Fatal("results not sorted by ascending distance")
		}
	}
}

func TestRemoveAndBan(t *testing.T) {
	self := u160.Zero
	tbl := New(self, DefaultK)
	n := randInfo()
	tbl.Insert(n)
	tbl.BanID(n.ID)
	if !tbl.IsBanned(n.ID) {
		t.Fatal("expected node to be banned")
	}
	if tbl.Insert(n) {
		t.Fatal("banned node should not be re-insertable")
	}
}

func TestBanListCapacity(t *testing.T) {
	bl := newBanList(4)
	ids := make([]u160.U160, 6)
	for i := range ids {
		ids[i] = u160.Random()
		bl.ban(ids[i])
	}
	if bl.len() != 4 {
		t.Fatalf("expected ban list capacity 4, got %d", bl.len())
	}
	if bl.isBanned(ids[0]) || bl.isBanned(ids[1]) {
		t.Fatal("expected oldest bans to be evicted")
	}
	if !bl.isBanned(ids[5]) {
		t.Fatal("expected most recent ban to be retained")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	self := u160.Random()
	tbl := New(self, DefaultK)
	for i := 0; i < 50; i++ {
		tbl.Insert(randInfo())
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "rtable.dat")
	if err := tbl.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := New(u160.Zero, DefaultK)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.self != self {
		t.Fatal("self id not restored")
	}
	if loaded.Len() != tbl.Len() {
		t.Fatalf("node count mismatch: got %d want %d", loaded.Len(), tbl.Len())
	}
	if loaded.Depth() != tbl.Depth() {
		t.Fatalf("depth mismatch: got %d want %d", loaded.Depth(), tbl.Depth())
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatal(err)
	}
}

func TestSaveLoadRoundTripMixedFamilyBucket(t *testing.T) {
	self := u160.Random()
	tbl := New(self, DefaultK)

	v6 := net.ParseIP("2001:db8::1")
	tbl.Insert(node.Info{ID: u160.Random(), Addr: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 6881}})
	tbl.Insert(node.Info{ID: u160.Random(), Addr: &net.UDPAddr{IP: v6, Port: 6882}})

	dir := t.TempDir()
	path := filepath.Join(dir, "rtable.dat")
	if err := tbl.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := New(u160.Zero, DefaultK)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected both v4 and v6 entries to survive, got %d", loaded.Len())
	}

	var sawV4, sawV6 bool
	for _, n := range loaded.All() {
		if n.Addr.IP.To4() != nil {
			sawV4 = true
		} else if n.Addr.IP.Equal(v6) {
			sawV6 = true
		}
	}
	if !sawV4 || !sawV6 {
		t.Fatalf("expected both families to round-trip intact, got %+v", loaded.All())
	}
}
