// Package metrics provides Prometheus instrumentation for the notification
// hub. It exposes gauges for connection and room counts, counters for event
// delivery and auth outcomes, and a histogram for dispatch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active sessions.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "waboard_hub_connections",
		Help: "Current number of active WebSocket sessions",
	})

	// RoomsTotal tracks the current number of non-empty rooms.
	RoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "waboard_hub_rooms",
		Help: "Current number of non-empty rooms",
	})

	// DeliveriesTotal counts per-session event deliveries, labeled by event name.
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waboard_hub_deliveries_total",
		Help: "Total number of per-session event deliveries",
	}, []string{"event"})

	// DeliveryFailures counts per-session transport write failures during dispatch.
	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "waboard_hub_delivery_failures_total",
		Help: "Total number of failed per-session event deliveries",
	})

	// AuthFailuresTotal counts rejected handshakes, labeled by reason:
	// "invalid_token", "user_inactive", or "store_unavailable".
	AuthFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "waboard_hub_auth_failures_total",
		Help: "Total number of rejected connection handshakes",
	}, []string{"reason"})

	// DispatchDuration records the latency of one room fan-out in seconds.
	DispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "waboard_hub_dispatch_duration_seconds",
		Help:    "Room fan-out latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})

	// TypingEntries tracks the current number of live typing-presence entries.
	TypingEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "waboard_hub_typing_entries",
		Help: "Current number of typing-presence entries",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RoomsTotal,
		DeliveriesTotal,
		DeliveryFailures,
		AuthFailuresTotal,
		DispatchDuration,
		TypingEntries,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
