package dhtcore

import (
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quietmesh/dhtcore/boxcrypto"
	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/friendapp/mock_friendapp"
	"github.com/quietmesh/dhtcore/netio"
	"github.com/quietmesh/dhtcore/xlog"
)

func mustCore(t *testing.T) *Core {
	t.Helper()
	pub, sec, err := boxcrypto.KeyPair()
	require.NoError(t, err)
	sock, err := netio.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, xlog.Nop())
	require.NoError(t, err)
	c := New(pub, sec, sock, xlog.Nop(), prometheus.NewRegistry())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTickRunsWithoutPanicAndRecordsMetrics(t *testing.T) {
	c := mustCore(t)
	c.Start()

	before := testutil.ToFloat64(c.metrics.TicksTotal)
	c.Tick(time.Unix(1000, 0))
	after := testutil.ToFloat64(c.metrics.TicksTotal)

	require.Equal(t, before+1, after)
}

func TestTickDrainsInboundPingBetweenNodes(t *testing.T) {
	a := mustCore(t)
	b := mustCore(t)
	a.Start()
	b.Start()

	bAddr := dhttype.FromUDPAddr(b.Socket.LocalAddr())
	now := time.Now()
	require.NoError(t, a.Node.SendPing(b.Node.Self(), bAddr, now.Unix()))

	require.Eventually(t, func() bool {
		b.Tick(now)
		a.Tick(now)
		return a.Node.Table.Close.Good(now.Unix()) != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFriendPresenceCallbacksFireOnTransitions(t *testing.T) {
	c := mustCore(t)
	c.Start()

	ctrl := gomock.NewController(t)
	cb := mock_friendapp.NewMockCallbacks(ctrl)
	c.Callbacks = cb

	friendPub, _, err := boxcrypto.KeyPair()
	require.NoError(t, err)
	friendID := boxcrypto.NodeIDOf(friendPub)
	f := c.Node.Table.Friends.Add(friendID)

	gomock.InOrder(
		cb.EXPECT().OnFriendOnline(friendID),
		cb.EXPECT().OnFriendOffline(friendID),
	)

	// Tick 1: friend has a fresh client-list entry -> goes online.
	f.Client.AddToList(dhttype.ClientData{ID: dhttype.NodeID{1}, Addr: dhttype.IpPort{V4: [4]byte{1, 1, 1, 1}, Port: 1}, LastHeardFrom: 1000}, 1000)
	c.checkFriendPresence(1000)

	// Tick 2: same entry is now stale past BadNodeTimeout -> goes offline.
	c.checkFriendPresence(1000 + dhttype.BadNodeTimeout + 1)
}

func TestDoToPingSendsThenEvicts(t *testing.T) {
	c := mustCore(t)
	c.Start()

	id := dhttype.NodeID{1}
	addr := dhttype.IpPort{V4: [4]byte{127, 0, 0, 1}, Port: 9999}
	c.Node.ToPing.Add(id, addr, 0)
	require.Equal(t, 1, c.Node.ToPing.Len())

	c.doToPing(10)
	require.Equal(t, 0, c.Node.ToPing.Len())
}
