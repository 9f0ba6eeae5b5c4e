// Package dht implements the DHT routing table and protocol handlers of
// spec.md §4.4–§4.5: the close list, per-friend client lists, k-closest
// queries, get_nodes/send_nodes, bootstrap and LAN discovery.
//
// Grounded on the teacher's p2p/discover/v4_udp.go (request/response
// shape, pending-reply bookkeeping) and on the bucket/table idioms in
// other_examples' devp2p table.go variants, adapted from devp2p's
// log-distance buckets to the flat fixed-array CloseList/FriendEntry
// client_list the spec (and the original Tox DHT.c) actually uses.
package dht

import (
	"sort"

	"github.com/holiman/uint256"

	"github.com/quietmesh/dhtcore/dhttype"
)

// LClientList is the close list's fixed slot count, per spec.md §3.
const LClientList = 32

// MaxFriendClients is a friend entry's client_list slot count.
const MaxFriendClients = 8

// MaxSentNodes bounds get_close_nodes' result size, per spec.md §4.4.
const MaxSentNodes = 8

// ClientList is a fixed-capacity, XOR-distance-anchored routing list. It
// backs both the close list (anchor = own ID) and each friend's client
// list (anchor = friend ID).
type ClientList struct {
	Anchor  dhttype.NodeID
	entries []dhttype.ClientData // len == capacity; zero-value entries are empty slots
}

func NewClientList(anchor dhttype.NodeID, capacity int) *ClientList {
	return &ClientList{Anchor: anchor, entries: make([]dhttype.ClientData, capacity)}
}

func (l *ClientList) Entries() []dhttype.ClientData { return l.entries }

func (l *ClientList) indexOf(id dhttype.NodeID) int {
	for i, e := range l.entries {
		if e.Occupied() && e.ID == id {
			return i
		}
	}
	return -1
}

func (l *ClientList) indexOfAddr(addr dhttype.IpPort) int {
	for i, e := range l.entries {
		if e.Occupied() && e.Addr.Equal(addr) {
			return i
		}
	}
	return -1
}

// countIPv6 reports how many occupied slots hold an IPv6 (non-embedded-v4)
// address, for the dual-stack displacement rule.
func (l *ClientList) countIPv6() int {
	n := 0
	for _, e := range l.entries {
		if e.Occupied() && !e.Addr.IsIPv4() {
			n++
		}
	}
	return n
}

// v4CanDisplace reports whether an IPv4 candidate is allowed to displace
// the entry at index i, per spec.md §4.4's dual-stack rule: if more than
// half the list is IPv6, IPv4 may not displace an IPv6 entry.
func (l *ClientList) v4CanDisplace(i int) bool {
	if l.entries[i].Addr.IsIPv4() {
		return true
	}
	return l.countIPv6()*2 <= len(l.entries)
}

// AddToList applies spec.md §4.4's four-step insertion policy. Returns true
// if the candidate was inserted or an existing entry was refreshed.
func (l *ClientList) AddToList(candidate dhttype.ClientData, now int64) bool {
	candidate.Addr = candidate.Addr.Canonicalize()

	// Step 1: node_id already present -> refresh timestamp, update address.
	if i := l.indexOf(candidate.ID); i >= 0 {
		l.entries[i].Addr = candidate.Addr
		l.entries[i].LastHeardFrom = now
		return true
	}

	// Step 2: some entry's ip_port equals the new one -> identity rebind.
	if i := l.indexOfAddr(candidate.Addr); i >= 0 {
		l.entries[i].ID = candidate.ID
		l.entries[i].LastHeardFrom = now
		l.entries[i].LastPinged = 0
		l.entries[i].Returned = dhttype.ReturnIP{}
		return true
	}

	// Step 3: replace the first empty, bad or dead entry (anything not good).
	for i, e := range l.entries {
		if !e.Good(now) {
			if candidate.Addr.IsIPv4() && !l.v4CanDisplace(i) {
				continue
			}
			l.entries[i] = candidate
			l.entries[i].LastHeardFrom = now
			return true
		}
	}

	// Step 4: all good -> replace the farthest entry if candidate is closer.
	// Distance is the full 256-bit XOR metric (distOf/lessDist, shared with
	// table.go's GetCloseNodes), not a truncated heuristic: a prefix-only
	// comparison can't distinguish entries that agree on their leading
	// bytes and differ only further in, which is exactly where most of a
	// real routing table's candidates live.
	farthest := -1
	var farthestHi, farthestLo uint256.Int
	for i, e := range l.entries {
		if !l.v4CanDisplace(i) && candidate.Addr.IsIPv4() {
			continue
		}
		hi, lo := distOf(l.Anchor, e.ID)
		if farthest < 0 || lessDist(distItem{distHi: farthestHi, distLo: farthestLo}, distItem{distHi: hi, distLo: lo}) {
			farthest = i
			farthestHi, farthestLo = hi, lo
		}
	}
	if farthest < 0 {
		return false
	}
	if dhttype.Closer(l.Anchor, candidate.ID, l.entries[farthest].ID) == 1 {
		l.entries[farthest] = candidate
		l.entries[farthest].LastHeardFrom = now
		return true
	}
	return false
}

// Good returns a snapshot of every entry that is good (fresh) at now.
func (l *ClientList) Good(now int64) []dhttype.ClientData {
	var out []dhttype.ClientData
	for _, e := range l.entries {
		if e.Good(now) {
			out = append(out, e)
		}
	}
	return out
}

// SortedByDistance returns occupied, non-dead entries sorted ascending by
// XOR distance to target.
func (l *ClientList) SortedByDistance(target dhttype.NodeID, now int64) []dhttype.ClientData {
	var out []dhttype.ClientData
	for _, e := range l.entries {
		if e.Occupied() && !e.Dead(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return dhttype.Closer(target, out[i].ID, out[j].ID) == 1
	})
	return out
}
