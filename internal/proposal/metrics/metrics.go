package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Transitions *prometheus.CounterVec
	Broadcasts  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_proposal_transitions_total",
			Help: "Proposal status transitions by target status and trigger",
		}, []string{"status", "trigger"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_proposal_broadcast_messages_total",
			Help: "Ballot prompts handed to the outbound transport by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncTransition(status, trigger string) {
	m.Transitions.WithLabelValues(status, trigger).Inc()
}

func (m *Metrics) AddBroadcast(sent, failed int) {
	m.Broadcasts.WithLabelValues("sent").Add(float64(sent))
	m.Broadcasts.WithLabelValues("failed").Add(float64(failed))
}
