package dht

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/quietmesh/dhtcore/dhttype"
)

// MaxOutstandingGetNodes bounds the outstanding get_nodes table, per
// spec.md §3's GetNodesTable.
const MaxOutstandingGetNodes = 32

// GetNodesTimeout is how long a ping_id remains valid for matching an
// unsolicited-reply guard, per spec.md §3.
const GetNodesTimeout = 5 // seconds

type getNodesEntry struct {
	targetIP dhttype.IpPort
	target   dhttype.NodeID
	issuedAt int64
}

// OutstandingGetNodes is the bounded table of in-flight get_nodes
// requests this node has sent, used to reject unsolicited send_nodes
// replies. Backed by hashicorp/golang-lru/v2 as a bounded ring: capacity
// eviction approximates the spec's "oldest displaced" rule closely enough
// for a table this small, and it is never relied on for read-time
// recency promotion (every successful match immediately removes the
// entry).
type OutstandingGetNodes struct {
	cache *lru.Cache[uint64, getNodesEntry]
}

func NewOutstandingGetNodes() *OutstandingGetNodes {
	c, _ := lru.New[uint64, getNodesEntry](MaxOutstandingGetNodes)
	return &OutstandingGetNodes{cache: c}
}

func (o *OutstandingGetNodes) Add(pingID uint64, target dhttype.NodeID, targetIP dhttype.IpPort, now int64) {
	o.cache.Add(pingID, getNodesEntry{targetIP: targetIP, target: target, issuedAt: now})
}

// Verify checks that pingID is outstanding, was sent to fromIP, and is
// still within GetNodesTimeout of now. On success the entry is removed.
func (o *OutstandingGetNodes) Verify(pingID uint64, fromIP dhttype.IpPort, now int64) bool {
	e, ok := o.cache.Peek(pingID)
	if !ok {
		return false
	}
	if !e.targetIP.Equal(fromIP) {
		return false
	}
	if now-e.issuedAt > GetNodesTimeout {
		o.cache.Remove(pingID)
		return false
	}
	o.cache.Remove(pingID)
	return true
}

func (o *OutstandingGetNodes) Len() int { return o.cache.Len() }
