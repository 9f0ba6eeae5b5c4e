package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quietmesh/dhtcore/dhttype"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	e := Envelope{Type: PingRequest, Ciphertext: []byte("abc123")}
	e.SenderPub[0] = 0xAB
	e.Nonce[0] = 0xCD
	buf := EncodeEnvelope(e)

	got, err := DecodeEnvelope(buf, PingRequest)
	require.NoError(t, err)
	require.Equal(t, e.SenderPub, got.SenderPub)
	require.Equal(t, e.Nonce, got.Nonce)
	require.Equal(t, e.Ciphertext, got.Ciphertext)

	_, err = DecodeEnvelope(buf, PingResponse)
	require.ErrorIs(t, err, ErrWrongType)

	_, err = DecodeEnvelope(buf[:5], PingRequest)
	require.ErrorIs(t, err, ErrTooShort)
}

func TestSendNodesRoundTripV4AndV6(t *testing.T) {
	nodes := []dhttype.ClientData{
		{ID: dhttype.NodeID{1}, Addr: dhttype.IpPort{V4: [4]byte{1, 2, 3, 4}, Port: 100}},
		{ID: dhttype.NodeID{2}, Addr: dhttype.IpPort{V4: [4]byte{5, 6, 7, 8}, Port: 200}},
	}
	buf := EncodeSendNodes(SendNodesPayload{PingID: 42, Nodes: nodes}, false)
	got, err := DecodeSendNodes(buf, false)
	require.NoError(t, err)
	require.Equal(t, uint64(42), got.PingID)
	require.Len(t, got.Nodes, 2)
	require.Equal(t, nodes[0].ID, got.Nodes[0].ID)
	require.Equal(t, nodes[1].Addr.Port, got.Nodes[1].Addr.Port)

	v6nodes := []dhttype.ClientData{{ID: dhttype.NodeID{9}, Addr: dhttype.IpPort{IsV6: true, Port: 300}}}
	v6nodes[0].Addr.V6[15] = 1
	buf6 := EncodeSendNodes(SendNodesPayload{PingID: 7, Nodes: v6nodes}, true)
	got6, err := DecodeSendNodes(buf6, true)
	require.NoError(t, err)
	require.Equal(t, v6nodes[0].Addr.V6, got6.Nodes[0].Addr.V6)
}

func TestSendNodesCapsAtEight(t *testing.T) {
	var nodes []dhttype.ClientData
	for i := 0; i < 12; i++ {
		nodes = append(nodes, dhttype.ClientData{ID: dhttype.NodeID{byte(i)}, Addr: dhttype.IpPort{Port: uint16(i + 1)}})
	}
	buf := EncodeSendNodes(SendNodesPayload{Nodes: nodes}, false)
	got, err := DecodeSendNodes(buf, false)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 8)
}

func TestRendezvousRoundTrip(t *testing.T) {
	var p RendezvousPacket
	p.Unspecific[0] = 1
	p.Specific[0] = 2
	p.TargetID[0] = 3
	buf := EncodeRendezvous(p)
	got, err := DecodeRendezvous(buf)
	require.NoError(t, err)
	require.Equal(t, p, got)
}

func TestLANDiscoveryRoundTrip(t *testing.T) {
	var pub [32]byte
	pub[0] = 9
	buf := EncodeLANDiscovery(false, pub)
	gotPub, isV6, err := DecodeLANDiscovery(buf)
	require.NoError(t, err)
	require.False(t, isV6)
	require.Equal(t, pub, gotPub)
}
