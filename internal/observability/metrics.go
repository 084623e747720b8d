package observability

import (
	"net/http"

	"crm-voice/internal/calls"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions prometheus.Gauge
	Connections    prometheus.Gauge
	SessionEvents  *prometheus.CounterVec
	CallEnds       *prometheus.CounterVec
	CallErrors     *prometheus.CounterVec
	WSMessages     *prometheus.CounterVec
	CallDuration   prometheus.Histogram
	RingTime       prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers instruments with reg. Tests pass a fresh registry;
// main passes prometheus.NewRegistry() as well and serves it on /metrics.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live call sessions.",
		}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Number of registered websocket connections.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		CallEnds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_ends_total",
			Help:      "Ended calls by reason.",
		}, []string{"reason"}),
		CallErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_errors_total",
			Help:      "call-error replies by code.",
		}, []string{"code"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction, type and outcome.",
		}, []string{"direction", "type", "outcome"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Connected call duration.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		RingTime: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ring_time_seconds",
			Help:      "Time from request to accept.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 45, 60},
		}),
		gatherer: reg,
	}
}

// ObserveSession implements calls.Observer.
func (m *Metrics) ObserveSession(ev calls.Event, s calls.Session) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(string(ev)).Inc()
	switch ev {
	case calls.EventConnected:
		if s.ConnectedAt != nil {
			m.RingTime.Observe(s.ConnectedAt.Sub(s.StartedAt).Seconds())
		}
	case calls.EventEnded:
		m.CallEnds.WithLabelValues(s.EndReason).Inc()
		if s.ConnectedAt != nil {
			m.CallDuration.Observe(s.Duration().Seconds())
		}
	}
}

func (m *Metrics) SetGauges(sessions, connections int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(sessions))
	m.Connections.Set(float64(connections))
}

func (m *Metrics) ObserveMessage(direction, msgType, outcome string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType, outcome).Inc()
}

func (m *Metrics) ObserveError(code string) {
	if m == nil {
		return
	}
	m.CallErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
