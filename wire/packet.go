// Package wire implements the on-the-wire packet layouts of spec.md §6:
// fixed byte-0 discriminators, explicit big-endian field reads/writes, and
// the plaintext payloads that travel inside the encrypted envelope. No
// aliasing casts are used anywhere in this package, per spec.md §9.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/quietmesh/dhtcore/boxcrypto"
	"github.com/quietmesh/dhtcore/dhttype"
)

// Packet type discriminators (byte 0 of every datagram).
const (
	PingRequest    byte = 0
	PingResponse   byte = 1
	GetNodes       byte = 2
	SendNodesIPv4  byte = 3
	SendNodesIPv6  byte = 4
	LANDiscoveryV4 byte = 32
	LANDiscoveryV6 byte = 33
	Rendezvous     byte = 64
	CryptoPacket   byte = 254
)

// Sub-types carried inside a CryptoPacket's decrypted payload first byte.
const (
	NatPingRequest  byte = 0
	NatPingResponse byte = 1
)

const (
	envelopeHeaderLen = 1 + dhttype.NodeIDSize + boxcrypto.NonceSize
	maxDatagramSize   = 1280
)

var (
	ErrTooShort        = errors.New("wire: packet too short")
	ErrWrongType       = errors.New("wire: unexpected packet type")
	ErrTooLong         = errors.New("wire: packet exceeds max datagram size")
	ErrOddNeighborData = errors.New("wire: neighbor list not a whole number of entries")
)

// Envelope is the common encrypted-packet prefix: sender_pub ‖ nonce ‖
// ciphertext, as used by PING_REQUEST/RESPONSE, GET_NODES and
// SEND_NODES_*.
type Envelope struct {
	Type       byte
	SenderPub  boxcrypto.PublicKey
	Nonce      boxcrypto.Nonce
	Ciphertext []byte
}

// EncodeEnvelope lays out {type, sender_pub, nonce, ciphertext}.
func EncodeEnvelope(e Envelope) []byte {
	out := make([]byte, envelopeHeaderLen+len(e.Ciphertext))
	out[0] = e.Type
	copy(out[1:1+dhttype.NodeIDSize], e.SenderPub[:])
	copy(out[1+dhttype.NodeIDSize:envelopeHeaderLen], e.Nonce[:])
	copy(out[envelopeHeaderLen:], e.Ciphertext)
	return out
}

// DecodeEnvelope parses {type, sender_pub, nonce, ciphertext}, validating
// the leading type byte and minimum length. The ciphertext slice aliases
// buf and must not be retained past the caller's processing of this packet.
func DecodeEnvelope(buf []byte, wantType byte) (Envelope, error) {
	if len(buf) > maxDatagramSize {
		return Envelope{}, ErrTooLong
	}
	if len(buf) < envelopeHeaderLen {
		return Envelope{}, ErrTooShort
	}
	if buf[0] != wantType {
		return Envelope{}, ErrWrongType
	}
	var e Envelope
	e.Type = buf[0]
	copy(e.SenderPub[:], buf[1:1+dhttype.NodeIDSize])
	copy(e.Nonce[:], buf[1+dhttype.NodeIDSize:envelopeHeaderLen])
	e.Ciphertext = buf[envelopeHeaderLen:]
	return e, nil
}

// PingPayload is the plaintext carried inside a PING_REQUEST/RESPONSE.
type PingPayload struct {
	PingID uint64
}

func EncodePing(p PingPayload) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, p.PingID)
	return out
}

func DecodePing(buf []byte) (PingPayload, error) {
	if len(buf) < 8 {
		return PingPayload{}, ErrTooShort
	}
	return PingPayload{PingID: binary.BigEndian.Uint64(buf[:8])}, nil
}

// GetNodesPayload is the plaintext carried inside a GET_NODES request.
type GetNodesPayload struct {
	PingID uint64
	Target dhttype.NodeID
}

func EncodeGetNodes(p GetNodesPayload) []byte {
	out := make([]byte, 8+dhttype.NodeIDSize)
	binary.BigEndian.PutUint64(out[:8], p.PingID)
	copy(out[8:], p.Target[:])
	return out
}

func DecodeGetNodes(buf []byte) (GetNodesPayload, error) {
	if len(buf) < 8+dhttype.NodeIDSize {
		return GetNodesPayload{}, ErrTooShort
	}
	var p GetNodesPayload
	p.PingID = binary.BigEndian.Uint64(buf[:8])
	copy(p.Target[:], buf[8:8+dhttype.NodeIDSize])
	return p, nil
}

// NodeV4 / NodeV6 are the wire-packed neighbor entries returned by
// SEND_NODES_IPV4/IPV6.
const (
	nodeV4Len = dhttype.NodeIDSize + 4 + 2
	nodeV6Len = dhttype.NodeIDSize + 16 + 2
)

// SendNodesPayload carries {ping_id, nodes[1..8]}. The wire shape
// (IPv4/IPv6) is not stored here: it is chosen by the isV6 argument of
// EncodeSendNodes/DecodeSendNodes, and callers with mixed results send one
// packet of each shape.
type SendNodesPayload struct {
	PingID uint64
	Nodes  []dhttype.ClientData
}

// EncodeSendNodes packs up to 8 nodes using the 4-byte or 16-byte address
// form depending on isV6.
func EncodeSendNodes(p SendNodesPayload, isV6 bool) []byte {
	n := len(p.Nodes)
	if n > 8 {
		n = 8
	}
	entryLen := nodeV4Len
	if isV6 {
		entryLen = nodeV6Len
	}
	out := make([]byte, 8+n*entryLen)
	binary.BigEndian.PutUint64(out[:8], p.PingID)
	off := 8
	for i := 0; i < n; i++ {
		c := p.Nodes[i]
		copy(out[off:off+dhttype.NodeIDSize], c.ID[:])
		off += dhttype.NodeIDSize
		if isV6 {
			copy(out[off:off+16], c.Addr.V6[:])
			off += 16
		} else {
			copy(out[off:off+4], c.Addr.V4[:])
			off += 4
		}
		binary.BigEndian.PutUint16(out[off:off+2], c.Addr.Port)
		off += 2
	}
	return out
}

// DecodeSendNodes unpacks a SEND_NODES_IPV4/IPV6 payload.
func DecodeSendNodes(buf []byte, isV6 bool) (SendNodesPayload, error) {
	if len(buf) < 8 {
		return SendNodesPayload{}, ErrTooShort
	}
	entryLen := nodeV4Len
	if isV6 {
		entryLen = nodeV6Len
	}
	rest := buf[8:]
	if len(rest)%entryLen != 0 {
		return SendNodesPayload{}, ErrOddNeighborData
	}
	count := len(rest) / entryLen
	if count > 8 {
		count = 8
	}
	p := SendNodesPayload{PingID: binary.BigEndian.Uint64(buf[:8])}
	off := 0
	for i := 0; i < count; i++ {
		var c dhttype.ClientData
		copy(c.ID[:], rest[off:off+dhttype.NodeIDSize])
		off += dhttype.NodeIDSize
		if isV6 {
			c.Addr.IsV6 = true
			copy(c.Addr.V6[:], rest[off:off+16])
			off += 16
		} else {
			copy(c.Addr.V4[:], rest[off:off+4])
			off += 4
		}
		c.Addr.Port = binary.BigEndian.Uint16(rest[off : off+2])
		off += 2
		p.Nodes = append(p.Nodes, c)
	}
	return p, nil
}

// LANDiscovery is the unencrypted broadcast packet {type, sender_pub}.
func EncodeLANDiscovery(isV6 bool, senderPub boxcrypto.PublicKey) []byte {
	typ := LANDiscoveryV4
	if isV6 {
		typ = LANDiscoveryV6
	}
	out := make([]byte, 1+dhttype.NodeIDSize)
	out[0] = typ
	copy(out[1:], senderPub[:])
	return out
}

func DecodeLANDiscovery(buf []byte) (senderPub boxcrypto.PublicKey, isV6 bool, err error) {
	if len(buf) < 1+dhttype.NodeIDSize {
		return senderPub, false, ErrTooShort
	}
	switch buf[0] {
	case LANDiscoveryV4:
		isV6 = false
	case LANDiscoveryV6:
		isV6 = true
	default:
		return senderPub, false, ErrWrongType
	}
	copy(senderPub[:], buf[1:1+dhttype.NodeIDSize])
	return senderPub, isV6, nil
}

// RendezvousPacket is {type, unspecific(32), specific(32), target_id(32)},
// unencrypted per spec.md §4.7.
type RendezvousPacket struct {
	Unspecific [32]byte
	Specific   [32]byte
	TargetID   dhttype.NodeID
}

const rendezvousPacketLen = 1 + 32 + 32 + dhttype.NodeIDSize

func EncodeRendezvous(p RendezvousPacket) []byte {
	out := make([]byte, rendezvousPacketLen)
	out[0] = Rendezvous
	copy(out[1:33], p.Unspecific[:])
	copy(out[33:65], p.Specific[:])
	copy(out[65:65+dhttype.NodeIDSize], p.TargetID[:])
	return out
}

func DecodeRendezvous(buf []byte) (RendezvousPacket, error) {
	if len(buf) != rendezvousPacketLen {
		return RendezvousPacket{}, ErrTooShort
	}
	if buf[0] != Rendezvous {
		return RendezvousPacket{}, ErrWrongType
	}
	var p RendezvousPacket
	copy(p.Unspecific[:], buf[1:33])
	copy(p.Specific[:], buf[33:65])
	copy(p.TargetID[:], buf[65:65+dhttype.NodeIDSize])
	return p, nil
}

// RoutedPacket is the CRYPTO_PACKET envelope used to relay a payload to a
// destination public key via an intermediary that isn't the payload's
// final recipient: {type, dest_pubkey, sender_pubkey, nonce, ciphertext}.
// Any node receiving one whose dest_pubkey isn't its own forwards the raw
// datagram on to that destination's best known address unchanged, per
// spec.md §4.6's route_to_friend/route_one_to_friend.
type RoutedPacket struct {
	Dest       dhttype.NodeID
	SenderPub  boxcrypto.PublicKey
	Nonce      boxcrypto.Nonce
	Ciphertext []byte
}

const routedHeaderLen = 1 + dhttype.NodeIDSize + dhttype.NodeIDSize + boxcrypto.NonceSize

func EncodeRouted(p RoutedPacket) []byte {
	out := make([]byte, routedHeaderLen+len(p.Ciphertext))
	out[0] = CryptoPacket
	off := 1
	copy(out[off:off+dhttype.NodeIDSize], p.Dest[:])
	off += dhttype.NodeIDSize
	copy(out[off:off+dhttype.NodeIDSize], p.SenderPub[:])
	off += dhttype.NodeIDSize
	copy(out[off:off+boxcrypto.NonceSize], p.Nonce[:])
	off += boxcrypto.NonceSize
	copy(out[off:], p.Ciphertext)
	return out
}

// DecodeRouted parses a RoutedPacket. The ciphertext slice aliases buf and
// must not be retained past the caller's processing of this packet.
func DecodeRouted(buf []byte) (RoutedPacket, error) {
	if len(buf) > maxDatagramSize {
		return RoutedPacket{}, ErrTooLong
	}
	if len(buf) < routedHeaderLen {
		return RoutedPacket{}, ErrTooShort
	}
	if buf[0] != CryptoPacket {
		return RoutedPacket{}, ErrWrongType
	}
	var p RoutedPacket
	off := 1
	copy(p.Dest[:], buf[off:off+dhttype.NodeIDSize])
	off += dhttype.NodeIDSize
	copy(p.SenderPub[:], buf[off:off+dhttype.NodeIDSize])
	off += dhttype.NodeIDSize
	copy(p.Nonce[:], buf[off:off+boxcrypto.NonceSize])
	off += boxcrypto.NonceSize
	p.Ciphertext = buf[off:]
	return p, nil
}

// NatPingPayload is the plaintext carried inside a routed CryptoPacket for
// NAT_PING_REQUEST/RESPONSE: {subtype, nat_ping_id}.
type NatPingPayload struct {
	Subtype byte
	PingID  uint64
}

func EncodeNatPing(p NatPingPayload) []byte {
	out := make([]byte, 1+8)
	out[0] = p.Subtype
	binary.BigEndian.PutUint64(out[1:], p.PingID)
	return out
}

func DecodeNatPing(buf []byte) (NatPingPayload, error) {
	if len(buf) < 9 {
		return NatPingPayload{}, ErrTooShort
	}
	return NatPingPayload{Subtype: buf[0], PingID: binary.BigEndian.Uint64(buf[1:9])}, nil
}
