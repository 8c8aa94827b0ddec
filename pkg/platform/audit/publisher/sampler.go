package publisher

import (
	"math/rand/v2"
	"sync"

	audit "commonvote/pkg/platform/audit"
)

// Sampler thins high-volume operations events. Compliance and security
// events are always kept.
type Sampler struct {
	mu           sync.RWMutex
	defaultRate  float64
	rateByAction map[audit.AuditEvent]float64
	roll         func() float64
}

// NewSampler keeps operations events with probability rate, clamped to [0, 1].
func NewSampler(rate float64) *Sampler {
	return &Sampler{
		defaultRate:  clamp(rate),
		rateByAction: make(map[audit.AuditEvent]float64),
		roll:         rand.Float64, //nolint:gosec // sampling doesn't need crypto rand
	}
}

// SetRate overrides the rate for one action.
func (s *Sampler) SetRate(action audit.AuditEvent, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateByAction[action] = clamp(rate)
}

// Keep reports whether the event should be persisted.
func (s *Sampler) Keep(event audit.Event) bool {
	if event.Category != audit.CategoryOperations {
		return true
	}
	rate := s.rateFor(audit.AuditEvent(event.Action))
	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	return s.roll() < rate
}

func (s *Sampler) rateFor(action audit.AuditEvent) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rateByAction[action]; ok {
		return rate
	}
	return s.defaultRate
}

func clamp(rate float64) float64 {
	switch {
	case rate < 0:
		return 0
	case rate > 1:
		return 1
	}
	return rate
}
