// Package nat implements the DHT-routed NAT-ping/hole-punch state machine
// of spec.md §4.6, plus the optional external-mapping side channels
// (NAT-PMP, UPnP, STUN) that seed a node's own best-guess external
// address without ever replacing the routed heuristic.
//
// Grounded on the teacher's p2p/nat package shape (an ExternalMapper-style
// interface with multiple concrete discovery backends tried independently)
// adapted from port-mapping discovery to the spec's friend-routed ping
// scheme, which the teacher's UDP discovery protocol has no equivalent of.
package nat

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/quietmesh/dhtcore/boxcrypto"
	"github.com/quietmesh/dhtcore/dht"
	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/netio"
	"github.com/quietmesh/dhtcore/ping"
	"github.com/quietmesh/dhtcore/wire"
	"github.com/quietmesh/dhtcore/xlog"
)

// PunchInterval is the minimum gap between NAT_PING_REQUESTs to the same
// friend, per spec.md §4.6.
const PunchInterval = 10

// MaxPunchingPorts bounds how many ping attempts one punching round sends,
// per spec.md §4.6.
const MaxPunchingPorts = 32

// ReturnFreshness bounds how old a ReturnIP may be to count toward the
// reporting quorum or the punching round's port list.
const ReturnFreshness = 60

// Engine drives the NAT-ping/punch state machine for every tracked
// friend. It holds its own tiny shared-key cache (mirroring dht.Node's)
// because routed crypto packets are addressed to whichever intermediary
// forwards them, a different peer set than the ones dht.Node talks to
// directly.
type Engine struct {
	pub boxcrypto.PublicKey
	sec boxcrypto.SecretKey
	self dhttype.NodeID

	table *dht.Table
	sock  *netio.Socket
	pings *ping.Engine
	log   xlog.Logger

	sharedKeys map[dhttype.NodeID]boxcrypto.SharedKey

	Mappers []ExternalMapper
	// External is this node's own best-guess external address, seeded by
	// the first successful ExternalMapper probe; nil until one succeeds.
	External *dhttype.IpPort
}

// NewEngine builds a NAT engine and registers its routed-packet handler
// on sock.
func NewEngine(pub boxcrypto.PublicKey, sec boxcrypto.SecretKey, table *dht.Table, sock *netio.Socket, pings *ping.Engine, log xlog.Logger) *Engine {
	e := &Engine{
		pub:        pub,
		sec:        sec,
		self:       boxcrypto.NodeIDOf(pub),
		table:      table,
		sock:       sock,
		pings:      pings,
		log:        log,
		sharedKeys: make(map[dhttype.NodeID]boxcrypto.SharedKey),
	}
	sock.RegisterHandler(wire.CryptoPacket, e.handleCryptoPacket)
	return e
}

func (e *Engine) sharedKeyWith(peer dhttype.NodeID) boxcrypto.SharedKey {
	if k, ok := e.sharedKeys[peer]; ok {
		return k
	}
	k := boxcrypto.Precompute(boxcrypto.PublicKeyOf(peer), e.sec)
	e.sharedKeys[peer] = k
	return k
}

func freshNatPingID() uint64 {
	var b [8]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}

// reportingNodes returns the friend's client entries that currently carry
// a fresh ReturnIP for this friend — the set route_to_friend/
// route_one_to_friend pick intermediaries from.
func reportingNodes(f *dht.FriendEntry, now int64) []dhttype.ClientData {
	var out []dhttype.ClientData
	for _, e := range f.Client.Entries() {
		if e.Occupied() && e.Returned.Addr.IsSet() && now-e.Returned.Timestamp < ReturnFreshness {
			out = append(out, e)
		}
	}
	return out
}

// routeToFriend sends payload, wrapped as a routed CRYPTO_PACKET destined
// for f.ID, via every reporting node, per spec.md §4.6's route_to_friend.
func (e *Engine) routeToFriend(f *dht.FriendEntry, via []dhttype.ClientData, payload []byte) {
	packet := e.sealRouted(f.ID, payload)
	for _, v := range via {
		e.sock.Send(v.Addr, packet)
	}
}

// routeOneToFriend sends payload via exactly one reporting node, per
// spec.md §4.6's route_one_to_friend.
func (e *Engine) routeOneToFriend(f *dht.FriendEntry, via []dhttype.ClientData, payload []byte) {
	if len(via) == 0 {
		return
	}
	pick := via[randIndex(len(via))]
	packet := e.sealRouted(f.ID, payload)
	e.sock.Send(pick.Addr, packet)
}

func randIndex(n int) int {
	var b [8]byte
	rand.Read(b[:])
	return int(binary.BigEndian.Uint64(b[:]) % uint64(n))
}

func (e *Engine) sealRouted(dest dhttype.NodeID, payload []byte) []byte {
	nonce, _ := boxcrypto.RandomNonce()
	ct := boxcrypto.EncryptFast(e.sharedKeyWith(dest), nonce, payload)
	return wire.EncodeRouted(wire.RoutedPacket{Dest: dest, SenderPub: e.pub, Nonce: nonce, Ciphertext: ct})
}

// handleCryptoPacket forwards routed packets not addressed to us, and
// dispatches NAT_PING_REQUEST/RESPONSE payloads addressed to us.
func (e *Engine) handleCryptoPacket(addr dhttype.IpPort, payload []byte) {
	r, err := wire.DecodeRouted(payload)
	if err != nil {
		return
	}
	if r.Dest != e.self {
		e.forward(r, payload)
		return
	}
	pt, err := boxcrypto.DecryptFast(e.sharedKeyWith(boxcrypto.NodeIDOf(r.SenderPub)), r.Nonce, r.Ciphertext)
	if err != nil {
		return
	}
	np, err := wire.DecodeNatPing(pt)
	if err != nil {
		return
	}
	source := boxcrypto.NodeIDOf(r.SenderPub)
	f, ok := e.table.Friends.Get(source)
	if !ok {
		return
	}
	now := unixNow()
	switch np.Subtype {
	case wire.NatPingRequest:
		f.RecvNatPingTimestamp = now
		via := reportingNodes(f, now)
		resp := wire.EncodeNatPing(wire.NatPingPayload{Subtype: wire.NatPingResponse, PingID: np.PingID})
		e.routeOneToFriend(f, via, resp)
	case wire.NatPingResponse:
		if np.PingID != f.NatPingID {
			return
		}
		f.NatPingID = freshNatPingID()
		f.HolePunchingFlag = true
	}
}

// forward relays a routed packet addressed to someone else on to its best
// known address, if we have one. Any packet for an unknown destination is
// silently dropped, matching spec.md §7's packet-loss philosophy.
func (e *Engine) forward(r wire.RoutedPacket, raw []byte) {
	addr, ok := e.lookupAddr(r.Dest)
	if !ok {
		return
	}
	e.sock.Send(addr, raw)
}

func (e *Engine) lookupAddr(id dhttype.NodeID) (dhttype.IpPort, bool) {
	for _, c := range e.table.Close.Entries() {
		if c.Occupied() && c.ID == id {
			return c.Addr, true
		}
	}
	for _, f := range e.table.Friends.All() {
		for _, c := range f.Client.Entries() {
			if c.Occupied() && c.ID == id {
				return c.Addr, true
			}
		}
	}
	return dhttype.IpPort{}, false
}

// DoNAT drives one round of the state machine across every tracked
// friend, per spec.md §4.6.
func (e *Engine) DoNAT(now int64) {
	for _, f := range e.table.Friends.All() {
		via := reportingNodes(f, now)
		if len(via) >= dht.MaxFriendClients/2 && now-f.NatPingTimestamp >= PunchInterval {
			f.NatPingID = freshNatPingID()
			req := wire.EncodeNatPing(wire.NatPingPayload{Subtype: wire.NatPingRequest, PingID: f.NatPingID})
			e.routeToFriend(f, via, req)
			f.NatPingTimestamp = now
		}
		if f.HolePunchingFlag && now-f.PunchingTimestamp >= PunchInterval && now-f.RecvNatPingTimestamp < ReturnFreshness {
			e.punch(f, now)
			f.HolePunchingFlag = false
		}
	}
}

// commonExternalIP finds the external IP reported by a quorum (≥ half of
// MaxFriendClients) of f's client entries, and every port reported for
// that IP, per spec.md §4.6.
func commonExternalIP(f *dht.FriendEntry, now int64) (dhttype.IpPort, []uint16, bool) {
	counts := make(map[[16]byte]int)
	ports := make(map[[16]byte][]uint16)
	keyOf := func(a dhttype.IpPort) [16]byte {
		c := a.Canonicalize()
		if c.IsV6 {
			return c.V6
		}
		var k [16]byte
		copy(k[12:], c.V4[:])
		return k
	}
	for _, e := range f.Client.Entries() {
		if !e.Occupied() || !e.Returned.Addr.IsSet() || now-e.Returned.Timestamp >= ReturnFreshness {
			continue
		}
		k := keyOf(e.Returned.Addr)
		counts[k]++
		ports[k] = append(ports[k], e.Returned.Addr.Port)
	}
	best := [16]byte{}
	bestCount := 0
	for k, c := range counts {
		if c > bestCount {
			bestCount = c
			best = k
		}
	}
	if bestCount < dht.MaxFriendClients/2 {
		return dhttype.IpPort{}, nil, false
	}
	var sample dhttype.IpPort
	for _, e := range f.Client.Entries() {
		if e.Occupied() && e.Returned.Addr.IsSet() && keyOf(e.Returned.Addr) == best {
			sample = e.Returned.Addr.Canonicalize()
			break
		}
	}
	return sample, ports[best], true
}

// punch sends MaxPunchingPorts ping packets following spec.md §4.6's
// verbatim port-guess formula, advancing f.PunchingIndex across rounds so
// repeated calls sweep forward instead of retrying the same window.
func (e *Engine) punch(f *dht.FriendEntry, now int64) {
	ip, portList, ok := commonExternalIP(f, now)
	if !ok || len(portList) == 0 {
		return
	}
	numports := len(portList)
	for i := f.PunchingIndex; i < f.PunchingIndex+MaxPunchingPorts; i++ {
		sign := 1
		if i%2 == 1 {
			sign = -1
		}
		guess := int(portList[int(i/2)%numports]) + int(i/uint32(2*numports))*sign
		if guess <= 0 || guess > 0xFFFF {
			continue
		}
		target := ip
		target.Port = uint16(guess)
		e.sendPunchPing(f.ID, target, now)
	}
	f.PunchingIndex += MaxPunchingPorts
	f.PunchingTimestamp = now
}

func (e *Engine) sendPunchPing(friendID dhttype.NodeID, addr dhttype.IpPort, now int64) {
	id, err := e.pings.SendAt(friendID, addr, now)
	if err != nil {
		return
	}
	nonce, err := boxcrypto.RandomNonce()
	if err != nil {
		return
	}
	ct := boxcrypto.EncryptFast(e.sharedKeyWith(friendID), nonce, wire.EncodePing(wire.PingPayload{PingID: id}))
	packet := wire.EncodeEnvelope(wire.Envelope{Type: wire.PingRequest, SenderPub: e.pub, Nonce: nonce, Ciphertext: ct})
	e.sock.Send(addr, packet)
}
