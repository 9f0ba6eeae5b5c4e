package dht

import "github.com/quietmesh/dhtcore/dhttype"

// MaxToPing bounds the to-ping queue, per spec.md §3.
const MaxToPing = 64

// TimeToPing is the window, per spec.md §3, within which a newly learned
// candidate gets its ping. The queue itself does not read it: DuePings
// hands out every unpinged entry on its next call.
const TimeToPing = 5 // seconds

type toPingEntry struct {
	id       dhttype.NodeID
	addr     dhttype.IpPort
	learned  int64
	pinged   bool
}

// ToPingQueue holds newly learned (NodeID, IpPort) candidates awaiting a
// single verifying ping, per spec.md §3/§4.5 ("For each returned node: add
// to to-ping queue").
type ToPingQueue struct {
	self    dhttype.NodeID
	entries []toPingEntry
}

func NewToPingQueue(self dhttype.NodeID) *ToPingQueue {
	return &ToPingQueue{self: self}
}

// Add enqueues a candidate, displacing the entry farthest from self if
// the queue is full, per spec.md §3.
func (q *ToPingQueue) Add(id dhttype.NodeID, ip dhttype.IpPort, now int64) {
	for _, e := range q.entries {
		if e.id == id {
			return
		}
	}
	ent := toPingEntry{id: id, addr: ip, learned: now}
	if len(q.entries) < MaxToPing {
		q.entries = append(q.entries, ent)
		return
	}
	farthest := 0
	for i := 1; i < len(q.entries); i++ {
		if dhttype.Closer(q.self, q.entries[i].id, q.entries[farthest].id) == 2 {
			farthest = i
		}
	}
	if dhttype.Closer(q.self, id, q.entries[farthest].id) == 1 {
		q.entries[farthest] = ent
	}
}

// DuePings returns, and marks as pinged, every entry that has not yet been
// pinged, whatever its age; now is not consulted.
func (q *ToPingQueue) DuePings(now int64) []struct {
	ID   dhttype.NodeID
	Addr dhttype.IpPort
} {
	var out []struct {
		ID   dhttype.NodeID
		Addr dhttype.IpPort
	}
	for i := range q.entries {
		e := &q.entries[i]
		if !e.pinged {
			e.pinged = true
			out = append(out, struct {
				ID   dhttype.NodeID
				Addr dhttype.IpPort
			}{e.id, e.addr})
		}
	}
	_ = now
	return out
}

// Evict drops every entry that has already been pinged (a single ping is
// all spec.md §3 calls for before eviction).
func (q *ToPingQueue) Evict() {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if !e.pinged {
			kept = append(kept, e)
		}
	}
	q.entries = kept
}

func (q *ToPingQueue) Len() int { return len(q.entries) }
