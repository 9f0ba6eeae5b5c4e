package ping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quietmesh/dhtcore/dhttype"
)

func TestSendAndVerify(t *testing.T) {
	e := NewEngine()
	target := dhttype.NodeID{1}
	id, err := e.SendAt(target, dhttype.IpPort{Port: 1}, 100)
	require.NoError(t, err)

	require.True(t, e.VerifyResponse(id, target, 104))
	// Already consumed: a replay must fail.
	require.False(t, e.VerifyResponse(id, target, 104))
}

func TestVerifyRejectsWrongResponder(t *testing.T) {
	e := NewEngine()
	id, _ := e.SendAt(dhttype.NodeID{1}, dhttype.IpPort{Port: 1}, 0)
	require.False(t, e.VerifyResponse(id, dhttype.NodeID{2}, 1))
}

func TestVerifyRejectsExpired(t *testing.T) {
	e := NewEngine()
	id, _ := e.SendAt(dhttype.NodeID{1}, dhttype.IpPort{Port: 1}, 0)
	require.False(t, e.VerifyResponse(id, dhttype.NodeID{1}, Timeout+1))
}

func TestOldestDisplacedWhenFull(t *testing.T) {
	e := NewEngine()
	e.maxSize = 2
	id1, _ := e.SendAt(dhttype.NodeID{1}, dhttype.IpPort{Port: 1}, 0)
	_, _ = e.SendAt(dhttype.NodeID{2}, dhttype.IpPort{Port: 2}, 0)
	_, _ = e.SendAt(dhttype.NodeID{3}, dhttype.IpPort{Port: 3}, 0)

	require.Equal(t, 2, e.Len())
	require.False(t, e.VerifyResponse(id1, dhttype.NodeID{1}, 0))
}
