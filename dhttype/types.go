// Package dhttype defines the core value types shared by every component of
// the DHT core: node identifiers, dual-stack addresses, and the routing
// table's client entries.
package dhttype

import (
	"encoding/binary"
	"fmt"
	"net"
)

// NodeIDSize is the length in bytes of a NodeID (a curve25519 public key).
const NodeIDSize = 32

// NodeID identifies a node and doubles as its point in the XOR metric space.
type NodeID [NodeIDSize]byte

func (id NodeID) String() string {
	return fmt.Sprintf("%x", id[:6])
}

// IsZero reports whether id is the all-zero value (never a valid public key
// in practice, used as a sentinel for "no id").
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

// Xor returns the bitwise XOR distance between id and other.
func (id NodeID) Xor(other NodeID) NodeID {
	var out NodeID
	for i := range out {
		out[i] = id[i] ^ other[i]
	}
	return out
}

// Closer implements the spec's own-ID comparison: 0 = equal distance,
// 1 = a closer to target, 2 = b closer to target.
func Closer(target, a, b NodeID) int {
	da := target.Xor(a)
	db := target.Xor(b)
	for i := range da {
		if da[i] < db[i] {
			return 1
		}
		if da[i] > db[i] {
			return 2
		}
	}
	return 0
}

// IpPort is a dual-stack tagged union address, per spec.md §3.
type IpPort struct {
	IsV6 bool
	V4   [4]byte
	V6   [16]byte
	Port uint16
	// Flow and Scope are only meaningful when IsV6 is true.
	Flow  uint32
	Scope uint32
}

// IsSet reports whether the address has a nonzero port (a set IpPort must
// always carry a contactable port).
func (a IpPort) IsSet() bool {
	return a.Port != 0
}

// IsIPv4 reports whether a should be treated as an IPv4 address for
// family-filtering purposes. An IPv6 address holding a canonical
// IPv4-in-IPv6 form also counts as IPv4, per spec.md §4.4.
func (a IpPort) IsIPv4() bool {
	if !a.IsV6 {
		return true
	}
	return isV4InV6(a.V6)
}

func isV4InV6(v6 [16]byte) bool {
	for i := 0; i < 10; i++ {
		if v6[i] != 0 {
			return false
		}
	}
	return v6[10] == 0xff && v6[11] == 0xff
}

// Canonicalize rewrites an embedded IPv4-in-IPv6 address into plain IPv4,
// per spec.md §3's ingress invariant.
func (a IpPort) Canonicalize() IpPort {
	if a.IsV6 && isV4InV6(a.V6) {
		out := a
		out.IsV6 = false
		copy(out.V4[:], a.V6[12:16])
		out.V6 = [16]byte{}
		out.Flow, out.Scope = 0, 0
		return out
	}
	return a
}

// UDPAddr converts to a *net.UDPAddr for use with the standard socket APIs.
func (a IpPort) UDPAddr() *net.UDPAddr {
	if a.IsV6 {
		ip := make(net.IP, 16)
		copy(ip, a.V6[:])
		return &net.UDPAddr{IP: ip, Port: int(a.Port), Zone: zoneFromScope(a.Scope)}
	}
	ip := make(net.IP, 4)
	copy(ip, a.V4[:])
	return &net.UDPAddr{IP: ip, Port: int(a.Port)}
}

func zoneFromScope(scope uint32) string {
	if scope == 0 {
		return ""
	}
	if iface, err := net.InterfaceByIndex(int(scope)); err == nil {
		return iface.Name
	}
	return ""
}

// FromUDPAddr builds an IpPort from a *net.UDPAddr, canonicalizing embedded
// IPv4-in-IPv6 forms on ingress.
func FromUDPAddr(addr *net.UDPAddr) IpPort {
	var out IpPort
	if v4 := addr.IP.To4(); v4 != nil {
		out.IsV6 = false
		copy(out.V4[:], v4)
	} else {
		v6 := addr.IP.To16()
		out.IsV6 = true
		copy(out.V6[:], v6)
		if addr.Zone != "" {
			if iface, err := net.InterfaceByName(addr.Zone); err == nil {
				out.Scope = uint32(iface.Index)
			}
		}
	}
	out.Port = uint16(addr.Port)
	return out.Canonicalize()
}

// Equal reports whether two IpPorts denote the same endpoint, comparing
// canonical forms so an embedded-IPv4 address equals its plain-IPv4 twin.
func (a IpPort) Equal(b IpPort) bool {
	ca, cb := a.Canonicalize(), b.Canonicalize()
	if ca.IsV6 != cb.IsV6 || ca.Port != cb.Port {
		return false
	}
	if ca.IsV6 {
		return ca.V6 == cb.V6
	}
	return ca.V4 == cb.V4
}

// PutUint16 / GetUint16 are small helpers used by the wire codec; kept here
// so wire-layout code never reaches for unsafe aliasing casts, per spec.md §9.
func PutUint16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func GetUint16(b []byte) uint16    { return binary.BigEndian.Uint16(b) }

// ReturnIP records the external address a remote node reported seeing us
// from, per spec.md §3. Only ever updated per the invariant stated there:
// the reporting node must already be in our routing table and must have
// included our own ID in its last send_nodes reply.
type ReturnIP struct {
	Addr      IpPort
	Timestamp int64 // unix seconds
}

// ClientData is one routing-table entry, per spec.md §3.
type ClientData struct {
	ID              NodeID
	Addr            IpPort
	LastHeardFrom   int64 // unix seconds; zero means never
	LastPinged      int64
	Returned        ReturnIP
}

// Occupied reports whether this slot holds a real entry.
func (c ClientData) Occupied() bool {
	return !c.ID.IsZero() && c.Addr.IsSet()
}

const (
	// BadNodeTimeout: an entry not heard from in this long is bad (eligible
	// for replacement) but not yet dead.
	BadNodeTimeout = 70
	// KillNodeTimeout: an entry not heard from in this long is dead.
	KillNodeTimeout = 300
)

// Good reports whether the entry is occupied and fresh (heard from less
// than BadNodeTimeout ago) at the given reference time (unix seconds).
func (c ClientData) Good(now int64) bool {
	return c.Occupied() && now-c.LastHeardFrom < BadNodeTimeout
}

func (c ClientData) Bad(now int64) bool {
	return c.Occupied() && !c.Good(now) && now-c.LastHeardFrom < KillNodeTimeout
}

func (c ClientData) Dead(now int64) bool {
	return !c.Occupied() || now-c.LastHeardFrom >= KillNodeTimeout
}
