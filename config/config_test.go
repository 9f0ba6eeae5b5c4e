package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.BindAddress = "0.0.0.0"
	cfg.BindPort = 12345
	cfg.SecretKeyHex = "aa" // not a real key, just round-tripping the string
	cfg.Bootstrap = []BootstrapNode{
		{Host: "bootstrap.example.org", Port: 33445, PublicKey: "bb"},
	}
	cfg.Rendezvous.Passphrase = "correct horse battery staple"
	cfg.Persist.Compress = true

	path := filepath.Join(t.TempDir(), "dhtcore.toml")
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, got)
}

func TestLoadFillsMissingFieldsFromDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.toml")
	require.NoError(t, os.WriteFile(path, []byte("bind_port = 9999\n"), 0o600))

	got, err := Load(path)
	require.NoError(t, err)

	def := Default()
	require.Equal(t, uint16(9999), got.BindPort)
	require.Equal(t, def.BindAddress, got.BindAddress)
	require.Equal(t, def.NAT, got.NAT)
	require.Equal(t, def.MetricsAddress, got.MetricsAddress)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
}
