// Package metrics instruments dhtcore.Core's tick loop with Prometheus
// counters and gauges, one per spec.md §4.8 sub-step, so a long-running
// node is observable without the tick loop ever leaving the single
// synchronous call per spec.md §5 requires.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Tick holds the instruments recorded once per Core.Tick call.
type Tick struct {
	StepDuration *prometheus.HistogramVec
	TicksTotal   prometheus.Counter

	CloseGoodNodes    prometheus.Gauge
	FriendsTracked    prometheus.Gauge
	OutstandingPings  prometheus.Gauge
	ToPingQueueLen    prometheus.Gauge
	RendezvousStored  prometheus.Gauge
	PacketsDropped    *prometheus.CounterVec
}

// NewTick registers a fresh Tick instrument set against reg.
func NewTick(reg prometheus.Registerer) *Tick {
	t := &Tick{
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dhtcore",
			Name:      "tick_step_duration_seconds",
			Help:      "Duration of each Core.Tick sub-step.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step"}),
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dhtcore",
			Name:      "ticks_total",
			Help:      "Total number of Core.Tick invocations.",
		}),
		CloseGoodNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhtcore",
			Name:      "close_list_good_nodes",
			Help:      "Number of good (fresh) entries in the close list.",
		}),
		FriendsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhtcore",
			Name:      "friends_tracked",
			Help:      "Number of friends currently tracked.",
		}),
		OutstandingPings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhtcore",
			Name:      "outstanding_pings",
			Help:      "Number of outstanding ping challenges awaiting a response.",
		}),
		ToPingQueueLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhtcore",
			Name:      "to_ping_queue_length",
			Help:      "Number of newly learned candidates awaiting a verifying ping.",
		}),
		RendezvousStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dhtcore",
			Name:      "rendezvous_store_occupancy",
			Help:      "Number of occupied slots in the rendezvous store.",
		}),
		PacketsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dhtcore",
			Name:      "packets_dropped_total",
			Help:      "Datagrams dropped before reaching a handler.",
		}, []string{"reason"}),
	}
	reg.MustRegister(t.StepDuration, t.TicksTotal, t.CloseGoodNodes, t.FriendsTracked,
		t.OutstandingPings, t.ToPingQueueLen, t.RendezvousStored, t.PacketsDropped)
	return t
}
