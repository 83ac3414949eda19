package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the chat core collectors. A nil Registerer yields unregistered collectors.
type Metrics struct {
	ConnectionState prometheus.Gauge
	Reconnects      prometheus.Counter
	FramesReceived  *prometheus.CounterVec
	Published       prometheus.Counter
	PublishDropped  prometheus.Counter
	Duplicates      prometheus.Counter
}

// NewMetrics creates the chat core collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "helpdesk",
			Subsystem: "chat",
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 errored).",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "chat",
			Name:      "reconnect_attempts_total",
			Help:      "Connection attempts made after a failure or loss.",
		}),
		FramesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "chat",
			Name:      "frames_received_total",
			Help:      "MESSAGE frames delivered to a live subscription, by topic kind.",
		}, []string{"kind"}),
		Published: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "chat",
			Name:      "published_total",
			Help:      "Frames published to the gateway.",
		}),
		PublishDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "chat",
			Name:      "publish_dropped_total",
			Help:      "Publishes dropped because the connection was not up.",
		}),
		Duplicates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "chat",
			Name:      "duplicate_messages_total",
			Help:      "Server messages ignored because they were already displayed.",
		}),
	}
}
