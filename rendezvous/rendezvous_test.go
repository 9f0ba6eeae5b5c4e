package rendezvous

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quietmesh/dhtcore/boxcrypto"
	"github.com/quietmesh/dhtcore/dht"
	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/netio"
	"github.com/quietmesh/dhtcore/wire"
	"github.com/quietmesh/dhtcore/xlog"
)

func mustStore(t *testing.T) (*Store, dhttype.NodeID, *netio.Socket) {
	t.Helper()
	pub, _, err := boxcrypto.KeyPair()
	require.NoError(t, err)
	sock, err := netio.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, xlog.Nop())
	require.NoError(t, err)
	sock.Start()
	t.Cleanup(func() { sock.Close() })
	id := boxcrypto.NodeIDOf(pub)
	return NewStore(id, sock, xlog.Nop()), id, sock
}

func candidateTable(self, peerID dhttype.NodeID, peerAddr dhttype.IpPort, now int64) *dht.Table {
	table := dht.NewTable(self)
	table.Close.AddToList(dhttype.ClientData{ID: peerID, Addr: peerAddr, LastHeardFrom: now}, now)
	return table
}

func localAddr(t *testing.T, s *netio.Socket) dhttype.IpPort {
	t.Helper()
	return dhttype.FromUDPAddr(s.LocalAddr())
}

func wirePacket(unspecific, specific [32]byte, target dhttype.NodeID) wire.RendezvousPacket {
	return wire.RendezvousPacket{Unspecific: unspecific, Specific: specific, TargetID: target}
}

// TestPublishMatchRoundTrip exercises the full announce/store/cross-forward
// cycle: alice and bob both publish under the same passphrase against a
// third node (the relay) that never publishes anything itself; the relay
// pairs their announces and forwards each to the other.
func TestPublishMatchRoundTrip(t *testing.T) {
	alice, aliceID, aliceSock := mustStore(t)
	bob, bobID, bobSock := mustStore(t)
	relay, relayID, relaySock := mustStore(t)
	_ = relayID

	now := time.Now().Unix()
	ts := now - now%Interval

	var aliceExtra, bobExtra [ExtraBytes]byte
	copy(aliceExtra[:], []byte{1, 2, 3, 4, 5, 6})
	copy(bobExtra[:], []byte{9, 8, 7, 6, 5, 4})

	var foundByAlice, foundByBob dhttype.NodeID
	var foundExtraAlice, foundExtraBob [ExtraBytes]byte
	require.NoError(t, alice.Publish("correct horse battery", ts, aliceExtra, func(peer dhttype.NodeID, extra [ExtraBytes]byte) {
		foundByAlice, foundExtraAlice = peer, extra
	}, nil))
	require.NoError(t, bob.Publish("correct horse battery", ts, bobExtra, func(peer dhttype.NodeID, extra [ExtraBytes]byte) {
		foundByBob, foundExtraBob = peer, extra
	}, nil))

	relayAddr := localAddr(t, relaySock)
	aliceTable := candidateTable(aliceID, dhttype.NodeID{0xAA}, relayAddr, now)
	bobTable := candidateTable(bobID, dhttype.NodeID{0xBB}, relayAddr, now)

	alice.DoRendezvous(now, aliceTable)
	bob.DoRendezvous(now, bobTable)

	require.Eventually(t, func() bool {
		relaySock.Tick()
		aliceSock.Tick()
		bobSock.Tick()
		return foundByAlice == bobID && foundByBob == aliceID
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, bobExtra, foundExtraAlice)
	require.Equal(t, aliceExtra, foundExtraBob)
}

func TestPublishRejectsShortPassphrase(t *testing.T) {
	s, _, _ := mustStore(t)
	now := time.Now().Unix()
	ts := now - now%Interval
	err := s.Publish("short", ts, [ExtraBytes]byte{}, nil, nil)
	require.Error(t, err)
}

func TestPublishRejectsUnroundedTimestamp(t *testing.T) {
	s, _, _ := mustStore(t)
	err := s.Publish("correct horse battery", time.Now().Unix(), [ExtraBytes]byte{}, nil, nil)
	require.Error(t, err)
}

func TestStoreAndPairWithinOneStore(t *testing.T) {
	s, _, _ := mustStore(t)

	var unspecific, specificA, specificB [32]byte
	copy(unspecific[:], []byte("some shared unspecific hash-ish"))
	copy(specificA[:], []byte("a-proof-bytes-that-dont-matter-"))
	copy(specificB[:], []byte("b-proof-bytes-that-dont-matter-"))

	now := time.Now().Unix()
	nowFloored := flooredTo(now, Interval)

	pA := wirePacket(unspecific, specificA, dhttype.NodeID{1})
	pB := wirePacket(unspecific, specificB, dhttype.NodeID{2})

	s.storeAndPair(pA, dhttype.IpPort{V4: [4]byte{1, 1, 1, 1}, Port: 1}, now, nowFloored)
	require.True(t, s.occupiedTargets.Contains(dhttype.NodeID{1}))

	// pB shares pA's unspecific hash in the same floored bucket, so the block
	// window set by the first store would not stop it either; it arrives
	// past that window here, still inside the same floored Interval bucket,
	// which is what pairing actually keys on.
	later := now + StoreBlock + 1
	s.storeAndPair(pB, dhttype.IpPort{V4: [4]byte{2, 2, 2, 2}, Port: 2}, later, nowFloored)
	require.True(t, s.occupiedTargets.Contains(dhttype.NodeID{2}))

	for i := range s.slots {
		if s.slots[i].packet.TargetID == (dhttype.NodeID{1}) || s.slots[i].packet.TargetID == (dhttype.NodeID{2}) {
			require.Equal(t, matchPaired, s.slots[i].match)
		}
	}
}

// TestStoreAndPairEnforcesBlockWindow checks the amplification guard: any
// successful store blocks further stores of an unrelated hash until
// StoreBlock seconds pass, per spec.md §4.7.
func TestStoreAndPairEnforcesBlockWindow(t *testing.T) {
	s, _, _ := mustStore(t)
	now := time.Now().Unix()
	nowFloored := flooredTo(now, Interval)

	var u1 [32]byte
	u1[0] = 1
	s.storeAndPair(wirePacket(u1, [32]byte{}, dhttype.NodeID{1}), dhttype.IpPort{V4: [4]byte{1, 1, 1, 1}, Port: 1}, now, nowFloored)
	require.True(t, s.occupiedTargets.Contains(dhttype.NodeID{1}))

	var u2 [32]byte
	u2[0] = 2
	s.storeAndPair(wirePacket(u2, [32]byte{}, dhttype.NodeID{2}), dhttype.IpPort{V4: [4]byte{2, 2, 2, 2}, Port: 2}, now, nowFloored)
	require.False(t, s.occupiedTargets.Contains(dhttype.NodeID{2}), "a second unrelated announce within the block window must be dropped")

	later := now + StoreBlock + 1
	s.storeAndPair(wirePacket(u2, [32]byte{}, dhttype.NodeID{2}), dhttype.IpPort{V4: [4]byte{2, 2, 2, 2}, Port: 2}, later, nowFloored)
	require.True(t, s.occupiedTargets.Contains(dhttype.NodeID{2}), "once the block window elapses a fresh announce should store")
}
