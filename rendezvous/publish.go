package rendezvous

import (
	"crypto/sha512"
	"fmt"
	"math/rand"
	"sort"

	"github.com/quietmesh/dhtcore/dht"
	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/wire"
)

// PublishSendAgain is how often an active publish round resends its
// announce packet, per toxcore/rendezvous.c's RENDEZVOUS_PUBLISH_SENDAGAIN
// (same cadence as SendAgain, intentionally: a publisher's own resend rate
// matches the forwarding rate it can expect from an intermediary).
const PublishSendAgain = SendAgain

// PublishInitialDelay gives the clock some slack before a future-dated
// publish round actually starts sending, per the source's +30s comment.
const PublishInitialDelay = 30

// Publish begins announcing at the given (already `Interval`-rounded)
// timestamp under passphrase, deriving unspecific/specific per spec.md
// §4.7. extra is opaque payload (address nospam + checksum in the
// original messenger use) carried to the matched peer. onFound fires once
// per successful match; onTimeout, if non-nil, may extend the publish
// window by returning true.
func (s *Store) Publish(passphrase string, timestamp int64, extra [ExtraBytes]byte, onFound func(dhttype.NodeID, [ExtraBytes]byte), onTimeout func() bool) error {
	if len(passphrase) < PassphraseMinLen {
		return fmt.Errorf("rendezvous: passphrase shorter than %d bytes", PassphraseMinLen)
	}
	if timestamp%Interval != 0 {
		return fmt.Errorf("rendezvous: timestamp not rounded to Interval")
	}
	now := unixNow()
	if timestamp+Interval < now {
		return fmt.Errorf("rendezvous: timestamp already expired")
	}

	texttime := fmt.Sprintf("%d@%s", timestamp, passphrase)
	full := sha512.Sum512([]byte(texttime))

	pub := &publishState{
		timestamp:      timestamp,
		unspecificFull: full,
		onFound:        onFound,
		onTimeout:      onTimeout,
	}
	copy(pub.unspecificHalf[:], full[:32])

	calc := specificHalfCalc(full, s.selfID)
	for i := 0; i < ExtraBytes; i++ {
		calc[i] ^= extra[i]
	}
	pub.specificHalf = calc

	if timestamp < now {
		pub.publishStartTime = timestamp
	} else {
		pub.publishStartTime = timestamp + PublishInitialDelay
	}
	s.publisher = pub
	return nil
}

// DoRendezvous drives the publisher's periodic resend, per
// toxcore/rendezvous.c's do_rendezvous.
func (s *Store) DoRendezvous(now int64, table *dht.Table) {
	pub := s.publisher
	if pub == nil || pub.publishStartTime == 0 {
		return
	}
	if pub.publishStartTime >= now {
		return
	}
	pub.publishStartTime = 0
	nowFloored := flooredTo(now, Interval)

	if pub.timestamp < nowFloored {
		pub.timestamp = 0
		if pub.onTimeout != nil && pub.onTimeout() {
			pub.timestamp = nowFloored
		}
		if pub.timestamp == 0 {
			s.publisher = nil
			return
		}
	}

	if pub.timestamp >= nowFloored && pub.timestamp < nowFloored+Interval {
		s.publishOnce(pub, table)
		pub.publishStartTime = now + PublishSendAgain
	}
}

type candidate struct {
	id   dhttype.NodeID
	addr dhttype.IpPort
}

// publishOnce sends the announce packet to the four nodes closest to
// unspecificHalf (treated as a point in the XOR metric space), plus a 25%
// sample of the rest, up to 8 total — exactly the non-ASSOC fallback
// toxcore/rendezvous.c's publish() falls back to.
func (s *Store) publishOnce(pub *publishState, table *dht.Table) {
	var target dhttype.NodeID
	copy(target[:], pub.unspecificHalf[:])

	seen := make(map[dhttype.NodeID]bool)
	var cands []candidate
	collect := func(e dhttype.ClientData, now int64) {
		if !e.Good(now) || seen[e.ID] {
			return
		}
		seen[e.ID] = true
		cands = append(cands, candidate{id: e.ID, addr: e.Addr})
	}
	now := unixNow()
	for _, e := range table.Close.Entries() {
		collect(e, now)
	}
	for _, f := range table.Friends.All() {
		for _, e := range f.Client.Entries() {
			collect(e, now)
		}
	}
	sort.Slice(cands, func(i, j int) bool {
		return dhttype.Closer(target, cands[i].id, cands[j].id) == 1
	})

	packet := wire.RendezvousPacket{Unspecific: pub.unspecificHalf, Specific: pub.specificHalf, TargetID: s.selfID}
	raw := wire.EncodeRendezvous(packet)

	sent := 0
	for i, c := range cands {
		if i >= 4 && rand.Intn(4) != 0 {
			continue
		}
		s.sock.Send(c.addr, raw)
		sent++
		if sent >= 8 {
			break
		}
	}
}
