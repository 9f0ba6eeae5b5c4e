package persist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quietmesh/dhtcore/dht"
	"github.com/quietmesh/dhtcore/dhttype"
)

func sampleSnapshot() Snapshot {
	f := dht.RestoreFriendEntry(dhttype.NodeID{1, 2, 3}, dht.FriendState{
		NatPingID:            0xDEADBEEF,
		NatPingTimestamp:     111,
		RecvNatPingTimestamp: 222,
		HolePunchingFlag:     true,
		PunchingIndex:        64,
		PunchingTimestamp:    333,
		LastGetNodesTime:     444,
	})
	f.Client.AddToList(dhttype.ClientData{
		ID:            dhttype.NodeID{9, 9, 9},
		Addr:          dhttype.IpPort{V4: [4]byte{10, 0, 0, 1}, Port: 3000},
		LastHeardFrom: 100,
		LastPinged:    90,
		Returned:      dhttype.ReturnIP{Addr: dhttype.IpPort{V4: [4]byte{203, 0, 113, 1}, Port: 4000}, Timestamp: 95},
	}, 100)

	close := []dhttype.ClientData{
		{ID: dhttype.NodeID{5}, Addr: dhttype.IpPort{V4: [4]byte{127, 0, 0, 1}, Port: 1111}, LastHeardFrom: 10},
		{ID: dhttype.NodeID{6}, Addr: dhttype.IpPort{IsV6: true, V6: [16]byte{0x20, 0x01}, Port: 2222}, LastHeardFrom: 20},
	}

	return Snapshot{Friends: []*dht.FriendEntry{f}, Close: close}
}

func requireSnapshotsEqual(t *testing.T, want, got Snapshot) {
	t.Helper()
	require.Equal(t, want.Close, got.Close)
	require.Len(t, got.Friends, len(want.Friends))
	for i, wf := range want.Friends {
		gf := got.Friends[i]
		require.Equal(t, wf.ID, gf.ID)
		require.Equal(t, wf.NatPingID, gf.NatPingID)
		require.Equal(t, wf.NatPingTimestamp, gf.NatPingTimestamp)
		require.Equal(t, wf.RecvNatPingTimestamp, gf.RecvNatPingTimestamp)
		require.Equal(t, wf.HolePunchingFlag, gf.HolePunchingFlag)
		require.Equal(t, wf.PunchingIndex, gf.PunchingIndex)
		require.Equal(t, wf.PunchingTimestamp, gf.PunchingTimestamp)
		require.Equal(t, wf.LastGetNodesTime, gf.LastGetNodesTime)
		require.Equal(t, wf.Client.Entries(), gf.Client.Entries())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	snap := sampleSnapshot()

	require.NoError(t, Save(path, snap, false))
	got, err := Load(path, false)
	require.NoError(t, err)
	requireSnapshotsEqual(t, snap, got)
}

func TestSaveLoadRoundTripCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	snap := sampleSnapshot()

	require.NoError(t, Save(path, snap, true))
	got, err := Load(path, true)
	require.NoError(t, err)
	requireSnapshotsEqual(t, snap, got)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.bin")
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0, 0}, 0o600))
	_, err := Load(path, false)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestLoadSkipsUnknownRecordType(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.bin")
	snap := sampleSnapshot()
	require.NoError(t, Save(path, snap, false))

	// Append a bogus record of an unknown type between the existing
	// records is awkward to splice in after the fact, so instead verify
	// the skip-forward path directly: an unknown type trailing the file
	// must not break parsing of everything that came before it.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	bogus := []byte{4, 0, 0, 0, 0xFF, 0xFF, 0x11, 0xCE, 0xAA, 0xBB, 0xCC, 0xDD}
	require.NoError(t, os.WriteFile(path, append(raw, bogus...), 0o600))

	got, err := Load(path, false)
	require.NoError(t, err)
	requireSnapshotsEqual(t, snap, got)
}
