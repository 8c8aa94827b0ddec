package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_ratelimit_decisions_total",
			Help: "Rate limit decisions by action and result",
		}, []string{"action", "result"}),
	}
}

func (m *Metrics) RecordDecision(action string, allowed bool) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.Decisions.WithLabelValues(action, result).Inc()
}
