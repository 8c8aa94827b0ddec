// Package service issues and verifies one-time codes delivered by SMS.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"commonvote/internal/otp/metrics"
	"commonvote/internal/otp/models"
	"commonvote/internal/otp/ports"
	rlModels "commonvote/internal/ratelimit/models"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/platform/sentinel"
	"commonvote/pkg/requestcontext"
)

// Type aliases for interfaces from ports package.
type (
	ChallengeStore = ports.ChallengeStore
	RateLimiter    = ports.RateLimiter
	Sender         = ports.Sender
	PhoneVerifier  = ports.PhoneVerifier
	AuditPublisher = ports.AuditPublisher
)

const (
	defaultCodeLength  = 6
	defaultTTL         = 10 * time.Minute
	defaultMaxAttempts = 3
)

// errUnchanged aborts a store update when the verdict needs no write.
var errUnchanged = errors.New("challenge unchanged")

type Service struct {
	challenges     ChallengeStore
	limiter        RateLimiter
	sender         Sender
	hasher         *models.CodeHasher
	phoneVerifier  PhoneVerifier
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics

	codeLength   int
	ttl          time.Duration
	maxAttempts  int
	generateCode func(length int) (string, error)
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

// WithPhoneVerifier registers the hook told about verified registrations.
func WithPhoneVerifier(v PhoneVerifier) Option {
	return func(s *Service) {
		s.phoneVerifier = v
	}
}

func WithCodeLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.codeLength = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func(length int) (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.generateCode = fn
		}
	}
}

func New(challenges ChallengeStore, limiter RateLimiter, sender Sender, hasher *models.CodeHasher, opts ...Option) (*Service, error) {
	if challenges == nil {
		return nil, errors.New("challenge store is required")
	}
	if limiter == nil {
		return nil, errors.New("rate limiter is required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if hasher == nil {
		return nil, errors.New("code hasher is required")
	}

	svc := &Service{
		challenges:   challenges,
		limiter:      limiter,
		sender:       sender,
		hasher:       hasher,
		logger:       slog.Default(),
		codeLength:   defaultCodeLength,
		ttl:          defaultTTL,
		maxAttempts:  defaultMaxAttempts,
		generateCode: models.GenerateCode,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Request issues a new code for number and purpose, replacing any earlier
// challenge for the pair. A rate-limited request creates nothing.
func (s *Service) Request(ctx context.Context, number phone.Number, purpose models.Purpose) (*models.RequestResult, error) {
	if !purpose.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown otp purpose: "+string(purpose))
	}

	decision, err := s.limiter.Allow(ctx, number, rlModels.ActionOTPRequest)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		s.incRequest(purpose, models.RequestRateLimited)
		return &models.RequestResult{
			Status:     models.RequestRateLimited,
			RetryAfter: decision.RetryAfter,
		}, nil
	}

	code, err := s.generateCode(s.codeLength)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate code")
	}

	now := requestcontext.Now(ctx)
	challenge := &models.Challenge{
		Phone:       number,
		Purpose:     purpose,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		MaxAttempts: s.maxAttempts,
	}
	challenge.CodeHash = s.hasher.Hash(challenge.Key(), code)

	if err := s.challenges.Replace(ctx, challenge); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store challenge")
	}

	delivered := true
	if err := s.sender.Send(ctx, number, s.deliveryMessage(code)); err != nil {
		delivered = false
		s.logger.WarnContext(ctx, "otp delivery failed",
			"phone", phone.Mask(number),
			"purpose", purpose,
			"error", err,
		)
		s.logAudit(ctx, audit.Event{
			Subject:  number.String(),
			Action:   string(audit.EventOTPDeliveryFailed),
			Purpose:  string(purpose),
			Decision: "failed",
			Reason:   err.Error(),
		}, "phone", phone.Mask(number))
	}

	s.incRequest(purpose, models.RequestSent)
	s.logAudit(ctx, audit.Event{
		Subject:  number.String(),
		Action:   string(audit.EventOTPRequested),
		Purpose:  string(purpose),
		Decision: "issued",
	}, "phone", phone.Mask(number), "expires_at", challenge.ExpiresAt)

	return &models.RequestResult{
		Status:    models.RequestSent,
		ExpiresAt: challenge.ExpiresAt,
		Delivered: delivered,
	}, nil
}

func (s *Service) deliveryMessage(code string) string {
	return fmt.Sprintf("Your verification code is: %s. Valid for %d minutes. Do not share this code.",
		code, int(s.ttl.Minutes()))
}

// Verify checks code against the active challenge. The verdict and any
// attempt increment are decided inside one store update, so concurrent
// attempts are neither lost nor double counted.
func (s *Service) Verify(ctx context.Context, number phone.Number, purpose models.Purpose, code string) (models.VerifyOutcome, error) {
	if !purpose.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown otp purpose: "+string(purpose))
	}

	now := requestcontext.Now(ctx)
	key := models.ChallengeKey{Phone: number, Purpose: purpose}

	var outcome models.VerifyOutcome
	_, err := s.challenges.Update(ctx, key, func(c *models.Challenge) error {
		switch {
		case c.Consumed:
			outcome = models.OutcomeNotFound
			return errUnchanged
		case c.IsExpired(now):
			outcome = models.OutcomeExpired
			return errUnchanged
		case c.IsExhausted():
			outcome = models.OutcomeExhausted
			return errUnchanged
		}
		if !s.hasher.Matches(c, code) {
			c.AttemptsUsed++
			outcome = models.OutcomeInvalidCode
			return nil
		}
		c.Consumed = true
		outcome = models.OutcomeVerified
		return nil
	})
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		outcome = models.OutcomeNotFound
	case err != nil && !errors.Is(err, errUnchanged):
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to verify code")
	}

	if s.metrics != nil {
		s.metrics.IncVerification(string(purpose), string(outcome))
	}

	event := audit.Event{
		Subject:  number.String(),
		Action:   string(audit.EventOTPVerifyFailed),
		Purpose:  string(purpose),
		Decision: string(outcome),
	}
	if outcome == models.OutcomeVerified {
		event.Action = string(audit.EventOTPVerified)
		s.onVerified(ctx, number, purpose)
	}
	s.logAudit(ctx, event, "phone", phone.Mask(number))

	return outcome, nil
}

// onVerified runs best-effort follow-ups; failures are logged only.
func (s *Service) onVerified(ctx context.Context, number phone.Number, purpose models.Purpose) {
	if purpose != models.PurposeRegistration || s.phoneVerifier == nil {
		return
	}
	if err := s.phoneVerifier.MarkPhoneVerified(ctx, number); err != nil {
		s.logger.WarnContext(ctx, "failed to mark phone verified",
			"phone", phone.Mask(number),
			"error", err,
		)
	}
}

// Status reports the challenge state without revealing the code.
func (s *Service) Status(ctx context.Context, number phone.Number, purpose models.Purpose) (*models.Status, error) {
	if !purpose.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown otp purpose: "+string(purpose))
	}

	c, err := s.challenges.Get(ctx, models.ChallengeKey{Phone: number, Purpose: purpose})
	if errors.Is(err, sentinel.ErrNotFound) {
		return &models.Status{State: models.StateNotFound}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read challenge")
	}

	now := requestcontext.Now(ctx)
	status := &models.Status{
		AttemptsRemaining: c.AttemptsRemaining(),
		ExpiresAt:         c.ExpiresAt,
	}
	switch {
	case c.Consumed:
		return &models.Status{State: models.StateNotFound}, nil
	case c.IsExpired(now):
		status.State = models.StateExpired
	case c.IsExhausted():
		status.State = models.StateExhausted
	default:
		status.State = models.StateActive
		status.HasActive = true
		status.SecondsUntilExpiry = int(math.Ceil(c.ExpiresAt.Sub(now).Seconds()))
	}
	return status, nil
}

// Sweep removes challenges that can no longer be verified.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	n, err := s.challenges.Sweep(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sweep challenges")
	}
	if s.metrics != nil && n > 0 {
		s.metrics.AddSwept(n)
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
				s.logger.ErrorContext(ctx, "otp sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.DebugContext(ctx, "otp sweep", "removed", n)
			}
		}
	}
}

func (s *Service) incRequest(purpose models.Purpose, status models.RequestStatus) {
	if s.metrics != nil {
		s.metrics.IncRequest(string(purpose), string(status))
	}
}

func (s *Service) logAudit(ctx context.Context, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
		event.RequestID = requestID
	}
	args := append(attrs, "event", event.Action, "log_type", "audit")
	s.logger.InfoContext(ctx, event.Action, args...)

	if s.auditPublisher == nil {
		return
	}
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
