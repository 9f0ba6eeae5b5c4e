package dht

import (
	"github.com/google/btree"
	"github.com/holiman/uint256"

	"github.com/quietmesh/dhtcore/dhttype"
)

// Table is the owning node's full routing state: its own close list plus
// every tracked friend's client list. It is the single place
// add_to_lists()/get_close_nodes() operate across, per spec.md §4.4.
type Table struct {
	Self       dhttype.NodeID
	Close      *ClientList
	Friends    *FriendList
}

func NewTable(self dhttype.NodeID) *Table {
	return &Table{
		Self:    self,
		Close:   NewClientList(self, LClientList),
		Friends: NewFriendList(),
	}
}

// AddToLists is called on every authenticated packet, per spec.md §4.4:
// the candidate is offered to the close list and to every friend's client
// list independently.
func (t *Table) AddToLists(candidate dhttype.ClientData, now int64) {
	t.Close.AddToList(candidate, now)
	for _, f := range t.Friends.All() {
		if f.ID == candidate.ID {
			continue // never add a friend to its own client list
		}
		f.Client.AddToList(candidate, now)
	}
}

// distItem is one entry in the distance-ordered merge tree used by
// GetCloseNodes: each call inserts every candidate entry, keyed by XOR
// distance to the query target, and reads the closest ones off in
// ascending order; the tree is built per call and not kept. The
// full 32-byte XOR distance is carried as two uint256.Int limbs (the
// metric space is 256 bits wide; a NodeID's distance doesn't fit in a
// machine word).
type distItem struct {
	distHi, distLo uint256.Int // distHi = top 16 bytes, distLo = bottom 16 bytes of XOR distance
	seq            int         // tie-break / stable ordering
	node           dhttype.ClientData
}

func lessDist(a, b distItem) bool {
	if c := a.distHi.Cmp(&b.distHi); c != 0 {
		return c < 0
	}
	if c := a.distLo.Cmp(&b.distLo); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

func distOf(target, id dhttype.NodeID) (uint256.Int, uint256.Int) {
	x := target.Xor(id)
	var hi, lo uint256.Int
	hi.SetBytes(x[:16])
	lo.SetBytes(x[16:])
	return hi, lo
}

// GetCloseNodes implements spec.md §4.4's k-closest query: walk the close
// list and every friend's client list, skip bad/dead and duplicate
// entries, applying family filtering (embedded IPv4-in-IPv6 counts as
// IPv4), and return at most MaxSentNodes results closest to target.
//
// familyV4 == nil means no family filter; non-nil selects IPv4-only or
// IPv6-only results.
func (t *Table) GetCloseNodes(target dhttype.NodeID, now int64, familyV4 *bool) []dhttype.ClientData {
	tree := btree.NewG(32, lessDist)
	seen := make(map[dhttype.NodeID]bool)
	seq := 0

	offer := func(e dhttype.ClientData) {
		if !e.Good(now) {
			return // skip bad and dead entries, per spec.md §4.4
		}
		if e.ID == t.Self {
			return
		}
		if seen[e.ID] {
			return
		}
		if familyV4 != nil && e.Addr.IsIPv4() != *familyV4 {
			return
		}
		seen[e.ID] = true
		hi, lo := distOf(target, e.ID)
		tree.ReplaceOrInsert(distItem{distHi: hi, distLo: lo, seq: seq, node: e})
		seq++
	}

	for _, e := range t.Close.Entries() {
		offer(e)
	}
	for _, f := range t.Friends.All() {
		for _, e := range f.Client.Entries() {
			offer(e)
		}
	}

	var out []dhttype.ClientData
	tree.Ascend(func(item distItem) bool {
		out = append(out, item.node)
		return len(out) < MaxSentNodes
	})
	return out
}
