package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway collectors
type Metrics struct {
	FramesIn       *prometheus.CounterVec
	FramesOut      prometheus.Counter
	FramesDropped  prometheus.Counter
	ActiveSessions prometheus.Gauge
	MessagesStored prometheus.Counter
}

// NewMetrics creates the gateway collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FramesIn: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "gateway",
			Name:      "frames_in_total",
			Help:      "Frames received from WebSocket sessions, by command.",
		}, []string{"command"}),
		FramesOut: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "gateway",
			Name:      "frames_out_total",
			Help:      "MESSAGE frames queued to WebSocket sessions.",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "gateway",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped because a session's send buffer was full.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "helpdesk",
			Subsystem: "gateway",
			Name:      "active_sessions",
			Help:      "Authenticated WebSocket sessions.",
		}),
		MessagesStored: f.NewCounter(prometheus.CounterOpts{
			Namespace: "helpdesk",
			Subsystem: "gateway",
			Name:      "messages_stored_total",
			Help:      "Chat messages persisted.",
		}),
	}
}
