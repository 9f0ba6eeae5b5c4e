// Package dhtcore wires dht.Node, nat.Engine and rendezvous.Store
// together behind one Tick call, in the fixed sub-step order spec.md
// §4.8 mandates: close, friends, NAT, to-ping, rendezvous, then drain the
// socket. No goroutine in this package ever runs concurrently with Tick;
// the only background goroutine anywhere in the core is netio.Socket's
// blocking read syscall loop, per spec.md §5.
package dhtcore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quietmesh/dhtcore/boxcrypto"
	"github.com/quietmesh/dhtcore/dht"
	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/friendapp"
	"github.com/quietmesh/dhtcore/metrics"
	"github.com/quietmesh/dhtcore/nat"
	"github.com/quietmesh/dhtcore/netio"
	"github.com/quietmesh/dhtcore/rendezvous"
	"github.com/quietmesh/dhtcore/xlog"
)

// Core is the assembled DHT engine for one local identity.
type Core struct {
	Node       *dht.Node
	NAT        *nat.Engine
	Rendezvous *rendezvous.Store
	Socket     *netio.Socket

	// Callbacks, if set, is driven on friend presence transitions and
	// rendezvous matches. Left nil, a Core runs as pure DHT plumbing with
	// no application layer attached, per spec.md §1.
	Callbacks friendapp.Callbacks

	metrics      *metrics.Tick
	log          xlog.Logger
	friendOnline map[dhttype.NodeID]bool
}

// New assembles a Core from a bound socket and keypair, registering every
// sub-component's packet handlers on it.
func New(pub boxcrypto.PublicKey, sec boxcrypto.SecretKey, sock *netio.Socket, log xlog.Logger, reg prometheus.Registerer) *Core {
	node := dht.NewNode(pub, sec, sock, log)
	natEngine := nat.NewEngine(pub, sec, node.Table, sock, node.Pings, log)
	store := rendezvous.NewStore(node.Self(), sock, log)

	return &Core{
		Node:         node,
		NAT:          natEngine,
		Rendezvous:   store,
		Socket:       sock,
		metrics:      metrics.NewTick(reg),
		log:          log,
		friendOnline: make(map[dhttype.NodeID]bool),
	}
}

// Start begins the socket's background read loop. Call once before the
// first Tick.
func (c *Core) Start() {
	c.Socket.Start()
}

// Tick runs one full cooperative scheduling round. now is sampled once
// here and threaded through to every sub-step; packet handlers invoked
// synchronously from Socket.Tick's dispatch read the wall clock directly,
// since they run off-cycle from this sampled value.
func (c *Core) Tick(now time.Time) {
	unix := now.Unix()
	c.metrics.TicksTotal.Inc()

	c.timeStep("close", func() { c.Node.DoClose(unix) })
	c.timeStep("friends", func() { c.Node.DoFriends(unix) })
	c.timeStep("nat", func() { c.NAT.DoNAT(unix) })
	c.timeStep("to_ping", func() { c.doToPing(unix) })
	c.timeStep("rendezvous", func() { c.Rendezvous.DoRendezvous(unix, c.Node.Table) })
	c.timeStep("presence", func() { c.checkFriendPresence(unix) })
	c.timeStep("socket_drain", func() { c.Socket.Tick() })

	c.recordGauges(unix)
}

func (c *Core) timeStep(name string, fn func()) {
	start := time.Now()
	fn()
	c.metrics.StepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
}

// checkFriendPresence diffs each tracked friend's good-entry count against
// the previous tick and fires Callbacks.OnFriendOnline/OnFriendOffline on
// the transition edges, not on every tick a friend happens to be online.
func (c *Core) checkFriendPresence(now int64) {
	if c.Callbacks == nil {
		return
	}
	seen := make(map[dhttype.NodeID]bool, len(c.Node.Table.Friends.All()))
	for _, f := range c.Node.Table.Friends.All() {
		seen[f.ID] = true
		online := len(f.Client.Good(now)) > 0
		if online && !c.friendOnline[f.ID] {
			c.Callbacks.OnFriendOnline(f.ID)
		} else if !online && c.friendOnline[f.ID] {
			c.Callbacks.OnFriendOffline(f.ID)
		}
		c.friendOnline[f.ID] = online
	}
	for id := range c.friendOnline {
		if !seen[id] {
			delete(c.friendOnline, id)
		}
	}
}

// PublishRendezvous starts a passphrase-based announce and forwards a
// match straight to Callbacks.OnRendezvousFound, so an application layer
// never has to construct its own rendezvous.Store closure.
func (c *Core) PublishRendezvous(passphrase string, timestamp int64, extra [rendezvous.ExtraBytes]byte) error {
	var onFound func(dhttype.NodeID, [rendezvous.ExtraBytes]byte)
	if c.Callbacks != nil {
		onFound = c.Callbacks.OnRendezvousFound
	}
	return c.Rendezvous.Publish(passphrase, timestamp, extra, onFound, nil)
}

// doToPing sends a single verifying ping to every due candidate, then
// evicts pinged entries, per spec.md §3's to-ping queue semantics.
func (c *Core) doToPing(now int64) {
	for _, due := range c.Node.ToPing.DuePings(now) {
		c.Node.SendPing(due.ID, due.Addr, now)
	}
	c.Node.ToPing.Evict()
}

func (c *Core) recordGauges(now int64) {
	c.metrics.CloseGoodNodes.Set(float64(len(c.Node.Table.Close.Good(now))))
	c.metrics.FriendsTracked.Set(float64(c.Node.Table.Friends.Len()))
	c.metrics.OutstandingPings.Set(float64(c.Node.Pings.Len()))
	c.metrics.ToPingQueueLen.Set(float64(c.Node.ToPing.Len()))
	c.metrics.PacketsDropped.WithLabelValues("rate_limited").Add(float64(c.Socket.DroppedRateLimited))
	c.metrics.PacketsDropped.WithLabelValues("no_handler").Add(float64(c.Socket.DroppedNoHandler))
	c.Socket.DroppedRateLimited = 0
	c.Socket.DroppedNoHandler = 0
}

// Close shuts the socket down, stopping the background read loop.
func (c *Core) Close() error {
	return c.Socket.Close()
}
