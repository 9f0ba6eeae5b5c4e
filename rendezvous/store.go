// Package rendezvous implements the passphrase-based friend-discovery
// protocol of spec.md §4.7: an unencrypted announce packet that any DHT
// node stores and cross-forwards to a matching peer, grounded closely on
// toxcore/rendezvous.c's rendezvous_network_handler/packet_is_wanted/
// packet_is_update four-branch behavior.
package rendezvous

import (
	"crypto/sha512"
	"math/rand"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/netio"
	"github.com/quietmesh/dhtcore/wire"
	"github.com/quietmesh/dhtcore/xlog"
)

const (
	// StoreSize bounds the server-side store, per spec.md §4.7.
	StoreSize = 8
	// SendAgain is the minimum gap between re-forwards of a paired entry,
	// per spec.md §4.7 (RENDEZVOUS_SEND_AGAIN in toxcore/rendezvous.c).
	SendAgain = 45
	// Interval is the granularity a publish timestamp is rounded to.
	// toxcore/rendezvous.c never states this value in the surviving
	// source; an hour-wide window is long enough that two parties who
	// agreed on a rounded-to-the-hour time out of band will reliably
	// land in the same bucket despite modest clock skew.
	Interval = 3600
	// StoreBlock bounds how long a successful store blocks further
	// stores of an unrelated unspecific hash, the amplification guard
	// spec.md §4.7 describes.
	StoreBlock = 60
	// ExtraBytes is the width of the nospam+checksum payload XORed into
	// specific, per spec.md §4.7 (ADDRESS_EXTRA_BYTES in the source).
	ExtraBytes = 6
)

// PassphraseMinLen is the shortest passphrase Publish accepts; shorter text
// is rejected with an error as too weak against offline guessing.
const PassphraseMinLen = 8

type matchState int

const (
	matchNone matchState = iota
	matchStored
	matchPaired
)

type slot struct {
	recvAt int64
	addr   dhttype.IpPort
	packet wire.RendezvousPacket
	match  matchState
	sentAt int64
}

// Store is the server-side behavior any DHT node runs regardless of
// whether it is itself publishing: receive, store, cross-forward.
type Store struct {
	selfID dhttype.NodeID
	sock   *netio.Socket
	log    xlog.Logger

	slots           [StoreSize]slot
	occupiedTargets mapset.Set[dhttype.NodeID]
	blockStoreUntil int64

	publisher *publishState
}

type publishState struct {
	timestamp        int64
	unspecificFull   [64]byte // full SHA512(timestamp||"@"||passphrase)
	unspecificHalf   [32]byte // unspecificFull[:32], the wire/match value
	specificHalf     [32]byte // XORed with extra already, ready to publish
	found            dhttype.NodeID // zero until matched
	onFound          func(peer dhttype.NodeID, extra [ExtraBytes]byte)
	onTimeout        func() bool
	publishStartTime int64
}

// NewStore builds a rendezvous server and registers its handler on sock.
func NewStore(selfID dhttype.NodeID, sock *netio.Socket, log xlog.Logger) *Store {
	s := &Store{
		selfID:          selfID,
		sock:            sock,
		log:             log,
		occupiedTargets: mapset.NewThreadUnsafeSet[dhttype.NodeID](),
	}
	sock.RegisterHandler(wire.Rendezvous, s.handlePacket)
	return s
}

func flooredTo(now int64, interval int64) int64 {
	return now - now%interval
}

func specificHalfCalc(unspecificFull [64]byte, target dhttype.NodeID) [32]byte {
	var in [32 + dhttype.NodeIDSize]byte
	copy(in[:32], unspecificFull[32:64])
	copy(in[32:], target[:])
	h := sha512.Sum512(in[:])
	var out [32]byte
	copy(out[:], h[:32])
	return out
}

func (s *Store) handlePacket(addr dhttype.IpPort, raw []byte) {
	p, err := wire.DecodeRendezvous(raw)
	if err != nil {
		return
	}
	if p.TargetID == s.selfID {
		return // never store/forward our own announce
	}
	now := unixNow()
	nowFloored := flooredTo(now, Interval)

	if s.packetIsWanted(p, nowFloored) {
		return
	}
	if s.packetIsUpdate(p, nowFloored, addr, now) {
		return
	}
	s.storeAndPair(p, addr, now, nowFloored)
}

// packetIsWanted implements spec.md §4.7 branch 1: are we ourselves
// publishing this unspecific hash, and does the specific proof verify?
func (s *Store) packetIsWanted(p wire.RendezvousPacket, nowFloored int64) bool {
	pub := s.publisher
	if pub == nil || pub.timestamp != nowFloored {
		return false
	}
	if p.Unspecific != pub.unspecificHalf {
		return false
	}
	if pub.found == p.TargetID {
		return true // already matched this publisher round
	}
	calc := specificHalfCalc(pub.unspecificFull, p.TargetID)
	if !bytesEqualFrom(p.Specific, calc, ExtraBytes) {
		return false
	}
	pub.found = p.TargetID
	var extra [ExtraBytes]byte
	for i := 0; i < ExtraBytes; i++ {
		extra[i] = calc[i] ^ p.Specific[i]
	}
	if pub.onFound != nil {
		pub.onFound(p.TargetID, extra)
	}
	return true
}

func bytesEqualFrom(a, b [32]byte, from int) bool {
	for i := from; i < 32; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// packetIsUpdate implements spec.md §4.7 branch 2/3: a resend from an
// already-stored target_id either refreshes that slot, or — if already
// paired — re-triggers the cross-forward on a fresh arrival.
func (s *Store) packetIsUpdate(p wire.RendezvousPacket, nowFloored int64, addr dhttype.IpPort, now int64) bool {
	if !s.occupiedTargets.Contains(p.TargetID) {
		return false
	}
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.match == matchNone || sl.packet.TargetID != p.TargetID {
			continue
		}
		if sl.recvAt < nowFloored {
			if sl.packet != p {
				sl.recvAt = nowFloored
				sl.addr = addr
				sl.packet = p
				sl.match = matchStored
				sl.sentAt = 0
			}
		} else if sl.match == matchPaired {
			for k := range s.slots {
				if k == i || s.slots[k].match != matchPaired {
					continue
				}
				if s.slots[k].recvAt == nowFloored && s.slots[k].packet.Unspecific == sl.packet.Unspecific {
					s.sendReplies(i, k, now)
				}
			}
		}
		return true
	}
	return false
}

// sendReplies cross-forwards slot i's packet to slot k's address and vice
// versa, rate-limited to SendAgain — the exact two-directional send the
// source's send_replies performs (slot k's packet to slot i's address,
// slot i's packet to slot k's address; never a slot to itself).
func (s *Store) sendReplies(i, k int, now int64) {
	if now-s.slots[i].sentAt >= SendAgain {
		s.slots[i].sentAt = now
		s.sock.Send(s.slots[i].addr, wire.EncodeRendezvous(s.slots[k].packet))
	}
	if now-s.slots[k].sentAt >= SendAgain {
		s.slots[k].sentAt = now
		s.sock.Send(s.slots[k].addr, wire.EncodeRendezvous(s.slots[i].packet))
	}
}

// storeAndPair implements spec.md §4.7 branch 4: store into a free (or
// expired) slot, subject to the amplification block window, then pair it
// against any existing slot sharing its unspecific hash.
//
// The block window is skipped for an arrival that matches an existing
// unmatched entry's unspecific hash in the same floored bucket — otherwise
// two legitimate announces landing within StoreBlock seconds of each other
// (the overwhelmingly common case for two parties publishing at nearly the
// same time) would never get to pair. This mirrors
// toxcore/rendezvous.c's block_store_until-clearing check directly.
func (s *Store) storeAndPair(p wire.RendezvousPacket, addr dhttype.IpPort, now, nowFloored int64) {
	matching := -1
	if s.blockStoreUntil >= now {
		for i := range s.slots {
			sl := &s.slots[i]
			if sl.match == matchStored && sl.recvAt == nowFloored && sl.packet.Unspecific == p.Unspecific {
				s.blockStoreUntil = now - 1
				matching = i
				break
			}
		}
	}

	pos := -1
	switch {
	case s.blockStoreUntil == 0:
		pos = 0
	case s.blockStoreUntil < now:
		for i := range s.slots {
			if s.slots[i].match == matchNone || now-s.slots[i].recvAt >= Interval {
				pos = i
				break
			}
		}
		if pos < 0 {
			s.blockStoreUntil = nowFloored + Interval + int64(rand.Intn(30))
			if matching >= 0 {
				// Matched but no room to store: reply once, mark the
				// matched slot paired so it doesn't match again.
				s.sock.Send(addr, wire.EncodeRendezvous(s.slots[matching].packet))
				s.sock.Send(s.slots[matching].addr, wire.EncodeRendezvous(p))
				s.slots[matching].match = matchPaired
				s.slots[matching].sentAt = now
			}
			return
		}
	default:
		return // still blocked, no matching entry to encourage a store
	}

	if s.slots[pos].match != matchNone {
		s.occupiedTargets.Remove(s.slots[pos].packet.TargetID)
	}
	s.slots[pos] = slot{recvAt: nowFloored, addr: addr, packet: p, match: matchStored, sentAt: 0}
	s.occupiedTargets.Add(p.TargetID)
	s.blockStoreUntil = now + StoreBlock

	start := 0
	if matching >= 0 {
		start = matching
	}
	for i := start; i < len(s.slots); i++ {
		if i == pos || s.slots[i].match != matchStored {
			continue
		}
		if s.slots[i].recvAt == nowFloored && s.slots[i].packet.Unspecific == p.Unspecific {
			s.sendReplies(i, pos, now)
			s.slots[i].match = matchPaired
			s.slots[pos].match = matchPaired
		}
	}
}
