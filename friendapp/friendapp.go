// Package friendapp declares the callback surface an application layer
// built on top of dhtcore would implement — friend presence and
// rendezvous-match notifications. No implementation lives here: wiring a
// real friend/messaging application on top of the DHT core is explicitly
// out of scope, per spec.md §1.
package friendapp

import "github.com/quietmesh/dhtcore/dhttype"

// Callbacks is the notification surface dhtcore would drive if wired to
// an application layer.
type Callbacks interface {
	// OnRendezvousFound fires when a rendezvous match reveals a peer's
	// public key and the extra bytes they published alongside it.
	OnRendezvousFound(peer dhttype.NodeID, extra [6]byte)
	// OnFriendOnline fires each time a tracked friend goes from having no
	// good (fresh) client-list entry to having at least one.
	OnFriendOnline(f dhttype.NodeID)
	// OnFriendOffline fires when a previously-online friend's client
	// list no longer has any good entry.
	OnFriendOffline(f dhttype.NodeID)
}
