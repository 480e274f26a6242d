package station

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder exposes Prometheus metrics for the station. A nil Recorder
// records nothing.
type Recorder struct {
	connections   *prometheus.GaugeVec
	accepted      prometheus.Counter
	handshakes    *prometheus.CounterVec
	handshakeTime prometheus.Histogram
	routed        *prometheus.CounterVec
	routingErrors *prometheus.CounterVec
	violations    prometheus.Counter
	abandoned     prometheus.Counter
}

// NewRecorder registers station metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "botcomet_station_connections",
			Help: "Authenticated connections by role",
		}, []string{"role"}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botcomet_station_accepted_total",
			Help: "Total number of accepted links",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcomet_station_handshakes_total",
			Help: "Identification attempts grouped by role and result",
		}, []string{"role", "result"}),
		handshakeTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botcomet_station_handshake_duration_seconds",
			Help:    "Time from accept to plugin authentication",
			Buckets: prometheus.DefBuckets,
		}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcomet_station_messages_routed_total",
			Help: "Messages delivered grouped by type",
		}, []string{"type"}),
		routingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botcomet_station_routing_errors_total",
			Help: "Messages reported back as errors grouped by kind",
		}, []string{"kind"}),
		violations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botcomet_station_protocol_violations_total",
			Help: "Connections closed for protocol violations",
		}),
		abandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botcomet_station_contexts_abandoned_total",
			Help: "Pending contexts dropped by expiry or connection close",
		}),
	}

	reg.MustRegister(
		r.connections,
		r.accepted,
		r.handshakes,
		r.handshakeTime,
		r.routed,
		r.routingErrors,
		r.violations,
		r.abandoned,
	)
	return r
}

// MetricsHandler returns the metrics endpoint for reg.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (r *Recorder) observeAccepted() {
	if r != nil {
		r.accepted.Inc()
	}
}

func (r *Recorder) observeIdentified(role Role, d time.Duration) {
	if r == nil {
		return
	}
	r.handshakes.WithLabelValues(role.String(), "accepted").Inc()
	r.connections.WithLabelValues(role.String()).Inc()
	if role == RolePlugin {
		r.handshakeTime.Observe(d.Seconds())
	}
}

func (r *Recorder) observeRejected(role Role) {
	if r != nil {
		r.handshakes.WithLabelValues(role.String(), "rejected").Inc()
	}
}

func (r *Recorder) observeDisconnected(role Role) {
	if r != nil {
		r.connections.WithLabelValues(role.String()).Dec()
	}
}

func (r *Recorder) observeRouted(t string) {
	if r != nil {
		r.routed.WithLabelValues(t).Inc()
	}
}

func (r *Recorder) observeRoutingError(kind string) {
	if r != nil {
		r.routingErrors.WithLabelValues(kind).Inc()
	}
}

func (r *Recorder) observeViolation() {
	if r != nil {
		r.violations.Inc()
	}
}

func (r *Recorder) observeAbandoned(n int) {
	if r != nil && n > 0 {
		r.abandoned.Add(float64(n))
	}
}
