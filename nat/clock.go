package nat

import "time"

// unixNow is the wall-clock read used by the routed-packet handler, which
// runs directly off the socket dispatch table with no tick-sampled `now`
// threaded through. DoNAT takes `now` explicitly, sampled once per tick by
// the core orchestrator.
func unixNow() int64 {
	return time.Now().Unix()
}
