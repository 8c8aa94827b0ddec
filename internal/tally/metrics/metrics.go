package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Votes *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Votes: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_votes_total",
			Help: "Vote submissions by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncVote(outcome string) {
	m.Votes.WithLabelValues(outcome).Inc()
}
