package dht

import "github.com/quietmesh/dhtcore/dhttype"

// FriendEntry is one tracked friend, per spec.md §3.
type FriendEntry struct {
	ID     dhttype.NodeID
	Client *ClientList // anchor == ID, capacity MaxFriendClients

	NatPingID             uint64
	NatPingTimestamp      int64
	RecvNatPingTimestamp  int64
	HolePunchingFlag      bool
	PunchingIndex         uint32
	PunchingTimestamp     int64
	LastGetNodesTime      int64
}

func newFriendEntry(id dhttype.NodeID) *FriendEntry {
	return &FriendEntry{ID: id, Client: NewClientList(id, MaxFriendClients)}
}

// FriendState is the scalar (non-client-list) persisted fields of a
// FriendEntry, used by the persist package to restore a snapshot without
// reaching into unexported construction details.
type FriendState struct {
	NatPingID            uint64
	NatPingTimestamp     int64
	RecvNatPingTimestamp int64
	HolePunchingFlag     bool
	PunchingIndex        uint32
	PunchingTimestamp    int64
	LastGetNodesTime     int64
}

// RestoreFriendEntry rebuilds a FriendEntry from a persisted snapshot; the
// caller repopulates Client via AddToList afterward.
func RestoreFriendEntry(id dhttype.NodeID, state FriendState) *FriendEntry {
	f := newFriendEntry(id)
	f.NatPingID = state.NatPingID
	f.NatPingTimestamp = state.NatPingTimestamp
	f.RecvNatPingTimestamp = state.RecvNatPingTimestamp
	f.HolePunchingFlag = state.HolePunchingFlag
	f.PunchingIndex = state.PunchingIndex
	f.PunchingTimestamp = state.PunchingTimestamp
	f.LastGetNodesTime = state.LastGetNodesTime
	return f
}

// FriendList is the dynamic, lookup-by-ID set of tracked friends, per
// spec.md §3 (insertion order is not meaningful).
type FriendList struct {
	byID map[dhttype.NodeID]*FriendEntry
	ids  []dhttype.NodeID
}

func NewFriendList() *FriendList {
	return &FriendList{byID: make(map[dhttype.NodeID]*FriendEntry)}
}

// Add registers a new friend; a no-op if already present.
func (fl *FriendList) Add(id dhttype.NodeID) *FriendEntry {
	if f, ok := fl.byID[id]; ok {
		return f
	}
	f := newFriendEntry(id)
	fl.byID[id] = f
	fl.ids = append(fl.ids, id)
	return f
}

// Remove deletes a friend immediately; per spec.md §5 this is the only
// cancellation operation that isn't a timeout.
func (fl *FriendList) Remove(id dhttype.NodeID) bool {
	if _, ok := fl.byID[id]; !ok {
		return false
	}
	delete(fl.byID, id)
	for i, x := range fl.ids {
		if x == id {
			fl.ids = append(fl.ids[:i], fl.ids[i+1:]...)
			break
		}
	}
	return true
}

// Get reports (entry, present) for id, never panicking on an unknown ID,
// per spec.md §7's "friend operations on unknown IDs: present/absent."
func (fl *FriendList) Get(id dhttype.NodeID) (*FriendEntry, bool) {
	f, ok := fl.byID[id]
	return f, ok
}

// All returns every tracked friend, in insertion order.
func (fl *FriendList) All() []*FriendEntry {
	out := make([]*FriendEntry, len(fl.ids))
	for i, id := range fl.ids {
		out[i] = fl.byID[id]
	}
	return out
}

func (fl *FriendList) Len() int { return len(fl.ids) }
