package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Inbound *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Inbound: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_sms_inbound_total",
			Help: "Inbound SMS by reply kind",
		}, []string{"kind"}),
	}
}

func (m *Metrics) IncInbound(kind string) {
	m.Inbound.WithLabelValues(kind).Inc()
}
