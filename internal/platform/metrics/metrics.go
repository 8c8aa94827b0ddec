package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds process-level Prometheus metrics.
type Metrics struct {
	RequestDuration      *prometheus.HistogramVec
	AuditDropped         prometheus.Counter
	AuditPersistFailures prometheus.Counter
	OutboundSMS          *prometheus.CounterVec
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "commonvote_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "commonvote_audit_events_dropped_total",
			Help: "Audit events dropped because the async buffer was full",
		}),
		AuditPersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "commonvote_audit_persist_failures_total",
			Help: "Audit events that could not be written to a store or sink",
		}),
		OutboundSMS: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_sms_outbound_total",
			Help: "Outbound SMS attempts by transport and result",
		}, []string{"transport", "result"}),
	}
}

func (m *Metrics) ObserveRequest(route, method, status string, seconds float64) {
	m.RequestDuration.WithLabelValues(route, method, status).Observe(seconds)
}

func (m *Metrics) IncAuditDropped() {
	m.AuditDropped.Inc()
}

func (m *Metrics) IncAuditPersistFailure() {
	m.AuditPersistFailures.Inc()
}

func (m *Metrics) IncOutboundSMS(transport, result string) {
	m.OutboundSMS.WithLabelValues(transport, result).Inc()
}
