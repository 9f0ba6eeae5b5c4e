// Package persist implements the TLV snapshot/restore format of spec.md
// §6: a magic-prefixed sequence of {len, type, bytes} records, used to
// save and reload the friend list and close list across restarts. Every
// field is read/written with explicit little/big-endian calls — no
// aliasing casts — per spec.md §9's design note.
package persist

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/gofrs/flock"
	"github.com/golang/snappy"

	"github.com/quietmesh/dhtcore/dht"
	"github.com/quietmesh/dhtcore/dhttype"
)

// Magic is the 32-bit little-endian file header, per spec.md §6.
const Magic uint32 = 0x0159000D

// recordTypeTag is OR'd with the record type on disk, per spec.md §6.
const recordTypeTag = 0x11CE << 16

const (
	TypeFriendList uint32 = 1
	TypeClientList uint32 = 2
)

var (
	ErrBadMagic  = errors.New("persist: bad magic")
	ErrShortRead = errors.New("persist: truncated record")
)

const addrLen = 1 + 4 + 16 + 2 + 4 + 4

func putAddr(b []byte, a dhttype.IpPort) {
	if a.IsV6 {
		b[0] = 1
	}
	copy(b[1:5], a.V4[:])
	copy(b[5:21], a.V6[:])
	binary.BigEndian.PutUint16(b[21:23], a.Port)
	binary.BigEndian.PutUint32(b[23:27], a.Flow)
	binary.BigEndian.PutUint32(b[27:31], a.Scope)
}

func getAddr(b []byte) dhttype.IpPort {
	var a dhttype.IpPort
	a.IsV6 = b[0] != 0
	copy(a.V4[:], b[1:5])
	copy(a.V6[:], b[5:21])
	a.Port = binary.BigEndian.Uint16(b[21:23])
	a.Flow = binary.BigEndian.Uint32(b[23:27])
	a.Scope = binary.BigEndian.Uint32(b[27:31])
	return a
}

const clientDataLen = dhttype.NodeIDSize + addrLen + 8 + 8 + addrLen + 8

func putClientData(b []byte, c dhttype.ClientData) {
	off := 0
	copy(b[off:off+dhttype.NodeIDSize], c.ID[:])
	off += dhttype.NodeIDSize
	putAddr(b[off:off+addrLen], c.Addr)
	off += addrLen
	binary.BigEndian.PutUint64(b[off:off+8], uint64(c.LastHeardFrom))
	off += 8
	binary.BigEndian.PutUint64(b[off:off+8], uint64(c.LastPinged))
	off += 8
	putAddr(b[off:off+addrLen], c.Returned.Addr)
	off += addrLen
	binary.BigEndian.PutUint64(b[off:off+8], uint64(c.Returned.Timestamp))
}

func getClientData(b []byte) dhttype.ClientData {
	var c dhttype.ClientData
	off := 0
	copy(c.ID[:], b[off:off+dhttype.NodeIDSize])
	off += dhttype.NodeIDSize
	c.Addr = getAddr(b[off : off+addrLen])
	off += addrLen
	c.LastHeardFrom = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	c.LastPinged = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	c.Returned.Addr = getAddr(b[off : off+addrLen])
	off += addrLen
	c.Returned.Timestamp = int64(binary.BigEndian.Uint64(b[off : off+8]))
	return c
}

const friendFixedLen = dhttype.NodeIDSize + 8 + 8 + 8 + 1 + 4 + 8 + 8 + 2

func encodeFriendEntry(f *dht.FriendEntry) []byte {
	entries := f.Client.Entries()
	out := make([]byte, friendFixedLen+len(entries)*clientDataLen)
	off := 0
	copy(out[off:off+dhttype.NodeIDSize], f.ID[:])
	off += dhttype.NodeIDSize
	binary.BigEndian.PutUint64(out[off:off+8], f.NatPingID)
	off += 8
	binary.BigEndian.PutUint64(out[off:off+8], uint64(f.NatPingTimestamp))
	off += 8
	binary.BigEndian.PutUint64(out[off:off+8], uint64(f.RecvNatPingTimestamp))
	off += 8
	if f.HolePunchingFlag {
		out[off] = 1
	}
	off++
	binary.BigEndian.PutUint32(out[off:off+4], f.PunchingIndex)
	off += 4
	binary.BigEndian.PutUint64(out[off:off+8], uint64(f.PunchingTimestamp))
	off += 8
	binary.BigEndian.PutUint64(out[off:off+8], uint64(f.LastGetNodesTime))
	off += 8
	binary.BigEndian.PutUint16(out[off:off+2], uint16(len(entries)))
	off += 2
	for _, e := range entries {
		putClientData(out[off:off+clientDataLen], e)
		off += clientDataLen
	}
	return out
}

func decodeFriendEntry(b []byte) (*dht.FriendEntry, error) {
	if len(b) < friendFixedLen {
		return nil, ErrShortRead
	}
	var id dhttype.NodeID
	off := 0
	copy(id[:], b[off:off+dhttype.NodeIDSize])
	off += dhttype.NodeIDSize
	natPingID := binary.BigEndian.Uint64(b[off : off+8])
	off += 8
	natPingTs := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	recvNatPingTs := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	holePunching := b[off] != 0
	off++
	punchingIndex := binary.BigEndian.Uint32(b[off : off+4])
	off += 4
	punchingTs := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	lastGetNodes := int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	count := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2
	if len(b) < off+count*clientDataLen {
		return nil, ErrShortRead
	}

	f := dht.RestoreFriendEntry(id, dht.FriendState{
		NatPingID:            natPingID,
		NatPingTimestamp:     natPingTs,
		RecvNatPingTimestamp: recvNatPingTs,
		HolePunchingFlag:     holePunching,
		PunchingIndex:        punchingIndex,
		PunchingTimestamp:    punchingTs,
		LastGetNodesTime:     lastGetNodes,
	})
	for i := 0; i < count; i++ {
		c := getClientData(b[off : off+clientDataLen])
		off += clientDataLen
		f.Client.AddToList(c, c.LastHeardFrom)
	}
	return f, nil
}

// Snapshot is the full persisted state of one node, per spec.md §6.
type Snapshot struct {
	Friends []*dht.FriendEntry
	Close   []dhttype.ClientData
}

// Save writes a Snapshot to path under an exclusive file lock, optionally
// snappy-compressing each record's payload.
func Save(path string, snap Snapshot, compress bool) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return err
	}
	defer lock.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], Magic)
	if _, err := f.Write(header[:]); err != nil {
		return err
	}

	writeRecord := func(typ uint32, payload []byte) error {
		if compress {
			payload = snappy.Encode(nil, payload)
		}
		var lenBuf, typBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
		binary.LittleEndian.PutUint32(typBuf[:], recordTypeTag|typ)
		if _, err := f.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := f.Write(typBuf[:]); err != nil {
			return err
		}
		_, err := f.Write(payload)
		return err
	}

	var friendsBuf []byte
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(snap.Friends)))
	friendsBuf = append(friendsBuf, countBuf[:]...)
	for _, fr := range snap.Friends {
		entry := encodeFriendEntry(fr)
		var lb [4]byte
		binary.BigEndian.PutUint32(lb[:], uint32(len(entry)))
		friendsBuf = append(friendsBuf, lb[:]...)
		friendsBuf = append(friendsBuf, entry...)
	}
	if err := writeRecord(TypeFriendList, friendsBuf); err != nil {
		return err
	}

	closeBuf := make([]byte, len(snap.Close)*clientDataLen)
	for i, c := range snap.Close {
		putClientData(closeBuf[i*clientDataLen:(i+1)*clientDataLen], c)
	}
	return writeRecord(TypeClientList, closeBuf)
}

// Load reads a Snapshot previously written by Save. Unknown record types
// are skipped forward, per spec.md §6.
func Load(path string, compress bool) (Snapshot, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return Snapshot{}, err
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer f.Close()

	var header [4]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return Snapshot{}, err
	}
	if binary.LittleEndian.Uint32(header[:]) != Magic {
		return Snapshot{}, ErrBadMagic
	}

	var snap Snapshot
	for {
		var lenBuf, typBuf [4]byte
		_, err := io.ReadFull(f, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return Snapshot{}, err
		}
		if _, err := io.ReadFull(f, typBuf[:]); err != nil {
			return Snapshot{}, err
		}
		n := binary.LittleEndian.Uint32(lenBuf[:])
		typ := binary.LittleEndian.Uint32(typBuf[:]) &^ recordTypeTag
		payload := make([]byte, n)
		if _, err := io.ReadFull(f, payload); err != nil {
			return Snapshot{}, err
		}
		if compress {
			decoded, err := snappy.Decode(nil, payload)
			if err != nil {
				return Snapshot{}, err
			}
			payload = decoded
		}
		switch typ {
		case TypeFriendList:
			friends, err := decodeFriendList(payload)
			if err != nil {
				return Snapshot{}, err
			}
			snap.Friends = friends
		case TypeClientList:
			if len(payload)%clientDataLen != 0 {
				return Snapshot{}, ErrShortRead
			}
			for i := 0; i*clientDataLen < len(payload); i++ {
				snap.Close = append(snap.Close, getClientData(payload[i*clientDataLen:(i+1)*clientDataLen]))
			}
		default:
			// unknown type: already consumed via payload, skip forward
		}
	}
	return snap, nil
}

func decodeFriendList(b []byte) ([]*dht.FriendEntry, error) {
	if len(b) < 2 {
		return nil, ErrShortRead
	}
	count := int(binary.BigEndian.Uint16(b[:2]))
	off := 2
	out := make([]*dht.FriendEntry, 0, count)
	for i := 0; i < count; i++ {
		if len(b) < off+4 {
			return nil, ErrShortRead
		}
		n := int(binary.BigEndian.Uint32(b[off : off+4]))
		off += 4
		if len(b) < off+n {
			return nil, ErrShortRead
		}
		fe, err := decodeFriendEntry(b[off : off+n])
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, fe)
	}
	return out, nil
}
