package dht

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quietmesh/dhtcore/dhttype"
)

func TestParseSeedLine(t *testing.T) {
	var want dhttype.NodeID
	for i := range want {
		want[i] = byte(i)
	}
	line := "bootstrap.example.org:33445:" + hexOf(want)

	e, err := parseSeedLine(line)
	require.NoError(t, err)
	require.Equal(t, "bootstrap.example.org", e.Host)
	require.Equal(t, uint16(33445), e.Port)
	require.Equal(t, want, e.PublicKey)
}

func TestParseSeedLineRejectsMalformed(t *testing.T) {
	cases := []string{
		"missing-parts",
		"host:not-a-port:aa",
		"host:33445:not-hex",
		"host:33445:aa", // too short to be a NodeID
	}
	for _, c := range cases {
		_, err := parseSeedLine(c)
		require.Error(t, err, c)
	}
}

func hexOf(id dhttype.NodeID) string {
	const digits = "0123456789abcdef"
	out := make([]byte, 0, len(id)*2)
	for _, b := range id {
		out = append(out, digits[b>>4], digits[b&0xF])
	}
	return string(out)
}
