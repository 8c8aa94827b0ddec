// Package service applies per-action rate limit policies to phone numbers.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"commonvote/internal/ratelimit/metrics"
	"commonvote/internal/ratelimit/models"
	"commonvote/internal/ratelimit/ports"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/requestcontext"
)

// Type aliases for interfaces from ports package.
type (
	WindowStore    = ports.WindowStore
	AuditPublisher = ports.AuditPublisher
	Sweeper        = ports.Sweeper
)

type Service struct {
	windows        WindowStore
	policies       map[models.Action]models.Policy
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPolicy overrides the windows applied to an action.
func WithPolicy(action models.Action, policy models.Policy) Option {
	return func(s *Service) {
		s.policies[action] = policy
	}
}

func New(windows WindowStore, opts ...Option) (*Service, error) {
	if windows == nil {
		return nil, errors.New("window store is required")
	}

	svc := &Service{
		windows: windows,
		policies: map[models.Action]models.Policy{
			models.ActionOTPRequest: models.DefaultOTPPolicy(),
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Allow counts a request by phone for action if every window has room.
// Denied requests change nothing.
func (s *Service) Allow(ctx context.Context, number phone.Number, action models.Action) (*models.RateLimitResult, error) {
	policy, ok := s.policies[action]
	if !ok || len(policy) == 0 {
		return nil, dErrors.New(dErrors.CodeInternal, "no rate limit policy for action "+string(action))
	}

	result, err := s.windows.Allow(ctx, models.NewKey(action, number.String()), policy, requestcontext.Now(ctx))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check rate limit")
	}

	if s.metrics != nil {
		s.metrics.RecordDecision(string(action), result.Allowed)
	}

	if !result.Allowed {
		ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
			Subject:  number.String(),
			Action:   string(audit.EventOTPRateLimited),
			Decision: "denied",
			Reason:   string(action),
		},
			"phone", phone.Mask(number),
			"retry_after_seconds", result.RetryAfterSeconds(),
		)
	}

	return result, nil
}

// Reset clears the counters for a phone and action on an administrator's
// behalf.
func (s *Service) Reset(ctx context.Context, number phone.Number, action models.Action) error {
	if !action.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown rate limit action "+string(action))
	}
	if err := s.windows.Reset(ctx, models.NewKey(action, number.String())); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset rate limit")
	}

	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.Event{
		Subject:  number.String(),
		Action:   string(audit.EventRateLimitReset),
		Decision: "reset",
		Reason:   string(action),
		ActorID:  requestcontext.ActorID(ctx),
		Client:   requestcontext.Client(ctx),
	}, "phone", phone.Mask(number))
	return nil
}

// Sweeps reports whether the window store needs periodic sweeping.
func (s *Service) Sweeps() bool {
	_, ok := s.windows.(Sweeper)
	return ok
}

// Sweep evicts keys whose windows have all elapsed. Stores that expire keys
// themselves report zero.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	sw, ok := s.windows.(Sweeper)
	if !ok {
		return 0, nil
	}
	n, err := sw.Sweep(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep rate limit windows")
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "rate limit sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.DebugContext(ctx, "rate limit sweep", "removed", n)
			}
		}
	}
}
