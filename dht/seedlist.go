package dht

import (
	"bufio"
	"encoding/hex"
	"net"
	"strconv"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/quietmesh/dhtcore/dhttype"
)

// SeedEntry is one line of a fetched bootstrap seed list: host:port:pubkey.
type SeedEntry struct {
	Host      string
	Port      uint16
	PublicKey dhttype.NodeID
}

// FetchSeedList retrieves a plaintext bootstrap list over HTTPS, one
// "host:port:pubkey_hex" entry per line, retrying transient failures —
// an additive discovery path alongside the host:port:pubkey triples a
// config file lists directly, for deployments that prefer to publish a
// single rotating URL instead of redistributing config on every node
// churn.
func FetchSeedList(url string) ([]SeedEntry, error) {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var entries []SeedEntry
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		e, err := parseSeedLine(line)
		if err != nil {
			continue // skip malformed entries rather than fail the whole fetch
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func parseSeedLine(line string) (SeedEntry, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return SeedEntry{}, errBadSeedLine
	}
	portNum, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return SeedEntry{}, err
	}
	keyBytes, err := hex.DecodeString(parts[2])
	if err != nil || len(keyBytes) != dhttype.NodeIDSize {
		return SeedEntry{}, errBadSeedLine
	}
	var id dhttype.NodeID
	copy(id[:], keyBytes)
	return SeedEntry{Host: parts[0], Port: uint16(portNum), PublicKey: id}, nil
}

var errBadSeedLine = &seedLineError{}

type seedLineError struct{}

func (*seedLineError) Error() string { return "dht: malformed seed list line" }

// BootstrapFromSeedList resolves and bootstraps to every entry fetched
// from url.
func (n *Node) BootstrapFromSeedList(url string, now int64) error {
	entries, err := FetchSeedList(url)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ips, err := net.LookupIP(e.Host)
		if err != nil {
			continue
		}
		for _, ip := range ips {
			addr := dhttype.FromUDPAddr(&net.UDPAddr{IP: ip, Port: int(e.Port)})
			n.Bootstrap(addr, e.PublicKey, now)
		}
	}
	return nil
}
