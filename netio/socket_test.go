package netio

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/xlog"
)

func mustListen(t *testing.T) *Socket {
	t.Helper()
	s, err := ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, xlog.Nop())
	require.NoError(t, err)
	s.Start()
	t.Cleanup(func() { s.Close() })
	return s
}

func localAddr(s *Socket) dhttype.IpPort {
	return dhttype.FromUDPAddr(s.conn.(*net.UDPConn).LocalAddr().(*net.UDPAddr))
}

func TestDispatchByFirstByte(t *testing.T) {
	a := mustListen(t)
	b := mustListen(t)

	got := make(chan byte, 1)
	b.RegisterHandler(0x42, func(addr dhttype.IpPort, payload []byte) {
		got <- payload[0]
	})

	require.NoError(t, a.Send(localAddr(b), []byte{0x42, 0xAA}))

	require.Eventually(t, func() bool {
		b.Tick()
		select {
		case v := <-got:
			return v == 0x42
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestUnregisteredTypeCounted(t *testing.T) {
	a := mustListen(t)
	b := mustListen(t)
	require.NoError(t, a.Send(localAddr(b), []byte{0x99}))
	require.Eventually(t, func() bool {
		b.Tick()
		return b.DroppedNoHandler > 0
	}, time.Second, 5*time.Millisecond)
}
