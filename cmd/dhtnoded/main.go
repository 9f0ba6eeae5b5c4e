// Command dhtnoded runs a standalone DHT core node: load config, generate
// or load a keypair, bootstrap, and drive the tick loop until signaled to
// stop. Grounded on the teacher's turbo/app command registration
// (cli.Command{Action, Flags}), collapsed to a single command since this
// binary has one job.
package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"golang.org/x/crypto/curve25519"

	"github.com/quietmesh/dhtcore/boxcrypto"
	"github.com/quietmesh/dhtcore/config"
	"github.com/quietmesh/dhtcore/dhtcore"
	"github.com/quietmesh/dhtcore/netio"
	"github.com/quietmesh/dhtcore/persist"
	"github.com/quietmesh/dhtcore/xlog"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "dhtnoded.toml",
	Usage:   "path to the node's TOML config file",
}

func main() {
	app := &cli.App{
		Name:  "dhtnoded",
		Usage: "run a DHT core node",
		Flags: []cli.Flag{configFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String(configFlag.Name))
	if err != nil {
		return err
	}

	log := xlog.NewConsole(xlog.LvlFromName(cfg.LogLevel))

	pub, sec, err := loadOrGenerateKeys(&cfg, cctx.String(configFlag.Name))
	if err != nil {
		return err
	}
	log.Info("node identity", "id", boxcrypto.NodeIDOf(pub))

	sock, err := netio.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(cfg.BindAddress), Port: int(cfg.BindPort)}, log)
	if err != nil {
		return fmt.Errorf("dhtnoded: bind: %w", err)
	}

	reg := prometheus.NewRegistry()
	core := dhtcore.New(pub, sec, sock, log, reg)
	core.Start()
	defer core.Close()

	if err := restoreSnapshot(&cfg, core); err != nil {
		log.Warn("snapshot restore failed", "err", err)
	}

	bootstrapAll(&cfg, core, log)

	if cfg.Rendezvous.Passphrase != "" {
		now := time.Now().Unix()
		ts := now - now%cfg.Rendezvous.IntervalSec
		err := core.Rendezvous.Publish(cfg.Rendezvous.Passphrase, ts, [6]byte{}, func(peer [32]byte, extra [6]byte) {
			log.Info("rendezvous match", "peer", fmt.Sprintf("%x", peer[:6]))
		}, nil)
		if err != nil {
			log.Warn("rendezvous publish failed", "err", err)
		}
	}

	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, reg, log)
	}

	return mainLoop(&cfg, core, log)
}

func mainLoop(cfg *config.Config, core *dhtcore.Core, log xlog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastSnapshot := time.Now()
	for {
		select {
		case <-sigCh:
			log.Info("shutting down")
			return saveSnapshot(cfg, core)
		case now := <-ticker.C:
			core.Tick(now)
			if cfg.Persist.SnapshotSeconds > 0 && time.Since(lastSnapshot) >= time.Duration(cfg.Persist.SnapshotSeconds)*time.Second {
				if err := saveSnapshot(cfg, core); err != nil {
					log.Warn("snapshot save failed", "err", err)
				}
				lastSnapshot = now
			}
		}
	}
}

func loadOrGenerateKeys(cfg *config.Config, cfgPath string) (boxcrypto.PublicKey, boxcrypto.SecretKey, error) {
	if cfg.SecretKeyHex != "" {
		secBytes, err := hex.DecodeString(cfg.SecretKeyHex)
		if err != nil || len(secBytes) != 32 {
			return boxcrypto.PublicKey{}, boxcrypto.SecretKey{}, fmt.Errorf("dhtnoded: bad secret_key in config")
		}
		var sec boxcrypto.SecretKey
		copy(sec[:], secBytes)
		return derivePublic(sec), sec, nil
	}
	pub, sec, err := boxcrypto.KeyPair()
	if err != nil {
		return pub, sec, err
	}
	cfg.SecretKeyHex = hex.EncodeToString(sec[:])
	if err := config.Save(cfgPath, *cfg); err != nil {
		return pub, sec, fmt.Errorf("dhtnoded: persisting generated key: %w", err)
	}
	return pub, sec, nil
}

func restoreSnapshot(cfg *config.Config, core *dhtcore.Core) error {
	if cfg.Persist.Path == "" {
		return nil
	}
	if _, err := os.Stat(cfg.Persist.Path); os.IsNotExist(err) {
		return nil
	}
	snap, err := persist.Load(cfg.Persist.Path, cfg.Persist.Compress)
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	for _, c := range snap.Close {
		core.Node.Table.Close.AddToList(c, now)
	}
	for _, fr := range snap.Friends {
		core.Node.Table.Friends.Add(fr.ID)
		restored, _ := core.Node.Table.Friends.Get(fr.ID)
		for _, c := range fr.Client.Entries() {
			restored.Client.AddToList(c, now)
		}
	}
	return nil
}

func saveSnapshot(cfg *config.Config, core *dhtcore.Core) error {
	if cfg.Persist.Path == "" {
		return nil
	}
	now := time.Now().Unix()
	snap := persist.Snapshot{
		Close:   core.Node.Table.Close.SortedByDistance(core.Node.Table.Self, now),
		Friends: core.Node.Table.Friends.All(),
	}
	return persist.Save(cfg.Persist.Path, snap, cfg.Persist.Compress)
}

func bootstrapAll(cfg *config.Config, core *dhtcore.Core, log xlog.Logger) {
	now := time.Now().Unix()
	for _, b := range cfg.Bootstrap {
		keyBytes, err := hex.DecodeString(b.PublicKey)
		if err != nil || len(keyBytes) != 32 {
			log.Warn("skipping bootstrap node with bad public_key", "host", b.Host)
			continue
		}
		var id [32]byte
		copy(id[:], keyBytes)
		if err := core.Node.BootstrapFromAddress(b.Host, b.Port, id, now); err != nil {
			log.Warn("bootstrap failed", "host", b.Host, "err", err)
		}
	}
	if cfg.SeedListURL != "" {
		if err := core.Node.BootstrapFromSeedList(cfg.SeedListURL, now); err != nil {
			log.Warn("seed list bootstrap failed", "url", cfg.SeedListURL, "err", err)
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry, log xlog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}

func derivePublic(sec boxcrypto.SecretKey) boxcrypto.PublicKey {
	// boxcrypto has no direct helper for this since nacl/box.GenerateKey
	// always returns a matched pair; a config-supplied secret key is the
	// one case a public key must be reconstructed on its own.
	var pub boxcrypto.PublicKey
	curve25519.ScalarBaseMult(&pub, &sec)
	return pub
}
