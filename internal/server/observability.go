package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics with bounded cardinality (no per-player or per-address labels).
var (
	packetsReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridclash_packets_received_total",
		Help: "Datagrams received by the server socket",
	})

	packetsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridclash_packets_sent_total",
		Help: "Datagrams transmitted by the server socket",
	})

	bytesReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridclash_bytes_received_total",
		Help: "Bytes received by the server socket",
	})

	bytesSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridclash_bytes_sent_total",
		Help: "Bytes transmitted by the server socket",
	})

	datagramsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridclash_datagrams_dropped_total",
		Help: "Inbound datagrams dropped before processing",
	}, []string{"reason"}) // Bounded: "malformed", "rate_limited", "slots_full", "unknown_session"

	sessionCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridclash_sessions_active",
		Help: "Currently connected sessions",
	})

	snapshotsBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridclash_snapshots_broadcast_total",
		Help: "State snapshots broadcast to sessions",
	})

	broadcastTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridclash_broadcast_tick_duration_seconds",
		Help:    "Time spent producing and sending one broadcast tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05},
	})

	reliabilityPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gridclash_reliability_pending",
		Help: "Outstanding reliable deliveries",
	})

	reliabilityRetransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gridclash_reliability_retransmits_total",
		Help: "Reliable message retransmissions",
	})

	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridclash_claims_total",
		Help: "Cell acquisition attempts by outcome",
	}, []string{"outcome"}) // Bounded: "ok", "owned", "invalid", "game_over", "unknown_player"
)

func recordDrop(reason string) {
	datagramsDropped.WithLabelValues(reason).Inc()
}

func recordClaim(outcome string) {
	claimsTotal.WithLabelValues(outcome).Inc()
}

func recordTick(d time.Duration) {
	broadcastTickDuration.Observe(d.Seconds())
	snapshotsBroadcast.Inc()
}
