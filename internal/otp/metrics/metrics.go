package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Requests      *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	Swept         prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_otp_requests_total",
			Help: "OTP requests by purpose and status",
		}, []string{"purpose", "status"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "commonvote_otp_verifications_total",
			Help: "OTP verification attempts by purpose and outcome",
		}, []string{"purpose", "outcome"}),
		Swept: f.NewCounter(prometheus.CounterOpts{
			Name: "commonvote_otp_challenges_swept_total",
			Help: "Terminal challenges removed by the sweeper",
		}),
	}
}

func (m *Metrics) IncRequest(purpose, status string) {
	m.Requests.WithLabelValues(purpose, status).Inc()
}

func (m *Metrics) IncVerification(purpose, outcome string) {
	m.Verifications.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) AddSwept(n int) {
	m.Swept.Add(float64(n))
}
