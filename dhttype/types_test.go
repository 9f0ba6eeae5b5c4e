package dhttype

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloser(t *testing.T) {
	var target, a, b NodeID
	target[0] = 0x00
	a[0] = 0x01 // distance 0x01
	b[0] = 0x02 // distance 0x02
	require.Equal(t, 1, Closer(target, a, b))
	require.Equal(t, 2, Closer(target, b, a))
	require.Equal(t, 0, Closer(target, a, a))
}

func TestIPv4InV6Canonicalization(t *testing.T) {
	var a IpPort
	a.IsV6 = true
	a.V6[10] = 0xff
	a.V6[11] = 0xff
	a.V6[12], a.V6[13], a.V6[14], a.V6[15] = 10, 0, 0, 1
	a.Port = 33445

	c := a.Canonicalize()
	require.False(t, c.IsV6)
	require.Equal(t, [4]byte{10, 0, 0, 1}, c.V4)
	require.True(t, a.IsIPv4())
}

func TestClientDataLifecycle(t *testing.T) {
	c := ClientData{ID: NodeID{1}, Addr: IpPort{V4: [4]byte{1, 2, 3, 4}, Port: 1}, LastHeardFrom: 1000}
	require.True(t, c.Good(1000))
	require.True(t, c.Good(1069))
	require.False(t, c.Good(1070))
	require.True(t, c.Bad(1070))
	require.False(t, c.Dead(1070))
	require.True(t, c.Dead(1300))
}
