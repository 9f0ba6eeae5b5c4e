// Package ping implements the ping-id challenge/response engine of
// spec.md §4.3: a bounded outstanding-ping table keyed by ping_id, with
// oldest-entry displacement when full, checked synchronously against a
// caller-supplied unix time (no timer goroutines), mirroring the teacher's
// replyMatcher/pending-list shape in spirit while dropping its
// channel-driven concurrency per spec.md §5.
package ping

import (
	"container/list"
	"crypto/rand"
	"encoding/binary"
	"errors"

	"github.com/quietmesh/dhtcore/dhttype"
)

// MaxOutstanding bounds the outstanding-ping table.
const MaxOutstanding = 64

// Timeout is how long a ping_id remains valid for matching, per spec.md §4.3.
const Timeout = 5 // seconds

// ErrNoSlot names the "table full" outcome. Nothing in this package returns
// it: Engine.Send always displaces the oldest entry per spec.md §4.3's
// tie-break rule.
var ErrNoSlot = errors.New("ping: no free slot")

type entry struct {
	pingID   uint64
	target   dhttype.NodeID
	targetIP dhttype.IpPort
	issuedAt int64
}

// Engine tracks outstanding pings this node has sent.
type Engine struct {
	order   *list.List
	byID    map[uint64]*list.Element
	maxSize int
}

func NewEngine() *Engine {
	return &Engine{order: list.New(), byID: make(map[uint64]*list.Element), maxSize: MaxOutstanding}
}

// freshPingID draws a random 64-bit challenge value.
func freshPingID() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// Send records a fresh outstanding ping to target and returns the ping_id
// to put on the wire. If the table is full, the oldest entry is evicted
// per spec.md §4.3's tie-break rule.
func (e *Engine) Send(target dhttype.NodeID, targetIP dhttype.IpPort) (uint64, error) {
	id, err := freshPingID()
	if err != nil {
		return 0, err
	}
	if e.order.Len() >= e.maxSize {
		e.evictOldest()
	}
	el := e.order.PushBack(&entry{pingID: id, target: target, targetIP: targetIP})
	e.byID[id] = el
	return id, nil
}

// SendAt is Send with an explicit issue time, exposed so callers (and
// tests) drive time deterministically rather than depending on a wall
// clock read inside this package.
func (e *Engine) SendAt(target dhttype.NodeID, targetIP dhttype.IpPort, now int64) (uint64, error) {
	id, err := e.Send(target, targetIP)
	if err != nil {
		return 0, err
	}
	e.byID[id].Value.(*entry).issuedAt = now
	return id, nil
}

func (e *Engine) evictOldest() {
	front := e.order.Front()
	if front == nil {
		return
	}
	id := front.Value.(*entry).pingID
	delete(e.byID, id)
	e.order.Remove(front)
}

// VerifyResponse checks a PING_RESPONSE: the ping_id must match an
// outstanding entry whose responder public key equals target and whose
// age is within Timeout of now. On success the entry is consumed (removed)
// and true is returned; otherwise false, and the caller must drop the
// packet per spec.md §4.3.
func (e *Engine) VerifyResponse(pingID uint64, responder dhttype.NodeID, now int64) bool {
	el, ok := e.byID[pingID]
	if !ok {
		return false
	}
	ent := el.Value.(*entry)
	if ent.target != responder {
		return false
	}
	if now-ent.issuedAt > Timeout {
		e.remove(el)
		return false
	}
	e.remove(el)
	return true
}

func (e *Engine) remove(el *list.Element) {
	id := el.Value.(*entry).pingID
	delete(e.byID, id)
	e.order.Remove(el)
}

// ExpireOlderThan drops outstanding entries older than Timeout seconds as
// of now. Nothing in this module calls it; the table is otherwise bounded
// by MaxOutstanding through Send's oldest-entry displacement.
func (e *Engine) ExpireOlderThan(now int64) {
	for el := e.order.Front(); el != nil; {
		next := el.Next()
		if now-el.Value.(*entry).issuedAt > Timeout {
			e.remove(el)
		}
		el = next
	}
}

// Len reports the number of outstanding pings.
func (e *Engine) Len() int { return e.order.Len() }
