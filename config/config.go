// Package config is the TOML-file configuration surface for cmd/dhtnoded,
// grounded on the teacher's cli.Context-to-typed-fields convention
// (turbo/app/init_cmd.go's flag handling) but file-first rather than
// flag-first, since a long-running DHT node's bind address, bootstrap
// list and rendezvous passphrase are naturally persistent settings.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// BootstrapNode is one statically configured host:port:pubkey triple.
type BootstrapNode struct {
	Host      string `toml:"host"`
	Port      uint16 `toml:"port"`
	PublicKey string `toml:"public_key"` // hex-encoded, 64 chars
}

// NATConfig holds the external-mapping settings. They are loaded and saved
// with the rest of the file, but nothing in this module reads them: no
// mapper is constructed from this section.
type NATConfig struct {
	EnablePMP  bool   `toml:"enable_pmp"`
	EnableUPnP bool   `toml:"enable_upnp"`
	STUNServer string `toml:"stun_server"` // empty disables the STUN mapper
}

// RendezvousConfig configures the passphrase-based announce/match layer.
type RendezvousConfig struct {
	Passphrase  string `toml:"passphrase"`
	IntervalSec int64  `toml:"interval_seconds"`
}

// PersistConfig configures snapshot save/restore.
type PersistConfig struct {
	Path            string `toml:"path"`
	SnapshotSeconds int64  `toml:"snapshot_seconds"`
	Compress        bool   `toml:"compress"`
}

// Config is the full node configuration, loaded from a TOML file.
type Config struct {
	BindAddress string `toml:"bind_address"`
	BindPort    uint16 `toml:"bind_port"`

	SecretKeyHex string `toml:"secret_key"` // hex-encoded, 64 chars; generated on first run if empty

	Bootstrap    []BootstrapNode `toml:"bootstrap"`
	SeedListURL  string          `toml:"seed_list_url"`

	NAT        NATConfig        `toml:"nat"`
	Rendezvous RendezvousConfig `toml:"rendezvous"`
	Persist    PersistConfig    `toml:"persist"`

	MetricsAddress string `toml:"metrics_address"`

	LogLevel string `toml:"log_level"`
}

// Default returns a Config with every field set to a sane standalone-node
// default.
func Default() Config {
	return Config{
		BindAddress: "::",
		BindPort:    33445,
		NAT: NATConfig{
			EnablePMP:  true,
			EnableUPnP: true,
		},
		Rendezvous: RendezvousConfig{
			IntervalSec: 3600,
		},
		Persist: PersistConfig{
			Path:            "dhtcore.state",
			SnapshotSeconds: 60,
		},
		MetricsAddress: "127.0.0.1:9090",
		LogLevel:       "info",
	}
}

// Load reads and parses a TOML config file, filling any field absent from
// the file with Default()'s value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
