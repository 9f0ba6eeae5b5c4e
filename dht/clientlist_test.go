package dht

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quietmesh/dhtcore/dhttype"
)

// idAtDistance builds a NodeID whose XOR distance to anchor is exactly d,
// encoded in the low-order byte so the rest of the 256-bit metric space is
// zero — this is what distinguishes a correct full-width comparison from a
// truncated one that only looks at a distance's leading bytes.
func idAtDistance(anchor dhttype.NodeID, d byte) dhttype.NodeID {
	id := anchor
	id[len(id)-1] ^= d
	return id
}

func addrFor(n byte) dhttype.IpPort {
	return dhttype.IpPort{V4: [4]byte{10, 0, 0, n}, Port: uint16(n) + 1000}
}

// TestAddToListReplacesFirstBadEntry covers spec.md §8 scenario 3: fill the
// close list, age every entry past BadNodeTimeout (but not KillNodeTimeout,
// so they're bad rather than dead), then insert a new entry — it must land
// in slot 0, the first bad entry found.
func TestAddToListReplacesFirstBadEntry(t *testing.T) {
	anchor := dhttype.NodeID{0xaa}
	l := NewClientList(anchor, LClientList)

	const fillTime = int64(1000)
	for i := 0; i < LClientList; i++ {
		id := idAtDistance(anchor, byte(i+1))
		require.True(t, l.AddToList(dhttype.ClientData{ID: id, Addr: addrFor(byte(i)), LastHeardFrom: fillTime}, fillTime))
	}

	// Age every entry into "bad": stale past BadNodeTimeout, still short of
	// KillNodeTimeout so they aren't simply dead slots.
	agedNow := fillTime + dhttype.BadNodeTimeout + 1
	require.Less(t, agedNow-fillTime, int64(dhttype.KillNodeTimeout))
	for _, e := range l.Entries() {
		require.True(t, e.Bad(agedNow))
	}

	candidate := dhttype.NodeID{0xbb}
	inserted := l.AddToList(dhttype.ClientData{ID: candidate, Addr: addrFor(200)}, agedNow)
	require.True(t, inserted)
	require.Equal(t, candidate, l.Entries()[0].ID)
	// every other slot is untouched
	for i := 1; i < LClientList; i++ {
		require.Equal(t, idAtDistance(anchor, byte(i+1)), l.Entries()[i].ID)
	}
}

// TestAddToListReplacesFarthestByExactDistance covers spec.md §8 scenario 4:
// 32 good entries at distances 10..41; inserting a candidate at distance 5
// must replace the entry at distance 41, with everything else unchanged.
// Because every entry's distance differs only in its low-order byte, a
// comparator that only looks at the first several bytes of the 256-bit XOR
// distance can't tell any of these entries apart and would pick the wrong
// slot (see DESIGN.md's note on the xorRank fix).
func TestAddToListReplacesFarthestByExactDistance(t *testing.T) {
	anchor := dhttype.NodeID{0xcc}
	l := NewClientList(anchor, LClientList)

	const now = int64(1000)
	for i := 0; i < LClientList; i++ {
		dist := byte(10 + i) // 10..41
		id := idAtDistance(anchor, dist)
		require.True(t, l.AddToList(dhttype.ClientData{ID: id, Addr: addrFor(byte(i)), LastHeardFrom: now}, now))
	}
	for _, e := range l.Entries() {
		require.True(t, e.Good(now))
	}

	candidate := idAtDistance(anchor, 5)
	inserted := l.AddToList(dhttype.ClientData{ID: candidate, Addr: addrFor(255), LastHeardFrom: now}, now)
	require.True(t, inserted)

	farthestID := idAtDistance(anchor, 41)
	foundCandidate, stillHasFarthest := false, false
	for _, e := range l.Entries() {
		if e.ID == candidate {
			foundCandidate = true
		}
		if e.ID == farthestID {
			stillHasFarthest = true
		}
	}
	require.True(t, foundCandidate, "candidate at distance 5 must be inserted")
	require.False(t, stillHasFarthest, "entry at distance 41 must be replaced")

	// every other distance (10..40) is still present
	for i := 0; i < LClientList-1; i++ {
		dist := byte(10 + i)
		want := idAtDistance(anchor, dist)
		present := false
		for _, e := range l.Entries() {
			if e.ID == want {
				present = true
				break
			}
		}
		require.True(t, present, "entry at distance %d should be unchanged", dist)
	}
}

func TestAddToListRefreshesExistingID(t *testing.T) {
	anchor := dhttype.NodeID{0x01}
	l := NewClientList(anchor, 4)
	id := idAtDistance(anchor, 1)

	require.True(t, l.AddToList(dhttype.ClientData{ID: id, Addr: addrFor(1), LastHeardFrom: 10}, 10))
	require.True(t, l.AddToList(dhttype.ClientData{ID: id, Addr: addrFor(2), LastHeardFrom: 20}, 20))

	require.Len(t, l.Entries(), 4)
	e := l.Entries()[l.indexOf(id)]
	require.Equal(t, addrFor(2), e.Addr)
	require.Equal(t, int64(20), e.LastHeardFrom)
}
