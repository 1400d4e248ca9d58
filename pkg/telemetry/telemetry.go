// Package telemetry exposes the process metrics on the default prometheus
// registry; main serves them via promhttp.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OpenConnections is the number of live websocket connections.
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_open_connections",
		Help: "Number of open websocket connections.",
	})

	// OnlineUsers is the number of users with at least one live connection.
	OnlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "chatrelay_online_users",
		Help: "Number of users currently online.",
	})

	// EventsIn counts inbound client intents by event name.
	EventsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_events_in_total",
		Help: "Inbound client events by type.",
	}, []string{"event"})

	// Broadcasts counts outbound broadcast emissions by event name.
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatrelay_broadcasts_total",
		Help: "Broadcast events emitted by type.",
	}, []string{"event"})

	// StoreErrors counts failed store operations surfaced as errors.
	StoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_store_errors_total",
		Help: "Store operation failures.",
	})

	// AuthFailures counts rejected connection handshakes.
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatrelay_auth_failures_total",
		Help: "Connections rejected during authentication.",
	})
)
