// Package metrics provides Prometheus instrumentation for the match and chat
// engine. It exposes gauges for connection and room-subscription counts,
// counters for match and message throughput, and a histogram for send latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "match20_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// RoomSubscriptions tracks the current number of live room subscriptions
	// across all connections.
	RoomSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "match20_room_subscriptions",
		Help: "Current number of connection-to-room subscriptions",
	})

	// MatchesTotal counts match lifecycle transitions, labeled by outcome:
	// "applied", "approved", "rejected", or "expired".
	MatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match20_matches_total",
		Help: "Total number of match lifecycle transitions",
	}, []string{"outcome"})

	// MessagesTotal counts chat messages processed, labeled by outcome:
	// "sent", "rejected", or "broadcast".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "match20_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"})

	// SendLatency records end-to-end message send latency in seconds, from
	// frame receipt to persistence.
	SendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "match20_send_latency_seconds",
		Help:    "Message send latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomSubscriptions,
		MatchesTotal,
		MessagesTotal,
		SendLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
