// Package metrics provides Prometheus instrumentation for the matchmaking
// service: connection and queue gauges, pairing outcome counters, and
// latency histograms.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of websocket connections,
	// labeled by socket kind ("match", "signaling").
	ConnectionsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicematch_connections_total",
		Help: "Current number of active WebSocket connections",
	}, []string{"kind"})

	// QueueSize tracks the current number of users waiting to be paired.
	QueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "voicematch_queue_size",
		Help: "Current number of users in the matching queue",
	})

	// PairingOutcomes counts pairing scans by outcome
	// (match_created, no_match, not_enough_gems, ...).
	PairingOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicematch_pairing_outcomes_total",
		Help: "Total pairing scans by outcome",
	}, []string{"outcome"})

	// ResponseOutcomes counts accept/reject calls by outcome.
	ResponseOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "voicematch_response_outcomes_total",
		Help: "Total match responses by outcome",
	}, []string{"outcome"})

	// GemsDebited counts gems debited for successful pairings.
	GemsDebited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicematch_gems_debited_total",
		Help: "Total gems debited for created matches",
	})

	// MatchDuration records the time from join_queue to match_created.
	MatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicematch_match_duration_seconds",
		Help:    "Time from queue join to match creation",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
	})

	// SignalingRelays counts relayed signaling frames.
	SignalingRelays = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "voicematch_signaling_relays_total",
		Help: "Total signaling frames relayed between peers",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		QueueSize,
		PairingOutcomes,
		ResponseOutcomes,
		GemsDebited,
		MatchDuration,
		SignalingRelays,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
