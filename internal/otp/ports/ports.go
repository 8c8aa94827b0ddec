// Package ports defines the collaborators of the OTP service.
package ports

import (
	"context"
	"time"

	"commonvote/internal/otp/models"
	rlModels "commonvote/internal/ratelimit/models"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
)

// ChallengeStore holds at most one challenge per key. Missing keys return
// sentinel.ErrNotFound.
type ChallengeStore interface {
	// Replace stores c, discarding any previous challenge for its key.
	Replace(ctx context.Context, c *models.Challenge) error
	Get(ctx context.Context, key models.ChallengeKey) (*models.Challenge, error)
	// Update applies fn to the stored challenge and persists the result as one
	// atomic step. If fn returns an error nothing is written.
	Update(ctx context.Context, key models.ChallengeKey, fn func(c *models.Challenge) error) (*models.Challenge, error)
	// Sweep deletes challenges that can no longer be verified.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, number phone.Number, action rlModels.Action) (*rlModels.RateLimitResult, error)
}

// Sender delivers a text message. Failures are reported, never retried here.
type Sender interface {
	Send(ctx context.Context, to phone.Number, body string) error
}

// PhoneVerifier is told when a registration code is verified.
type PhoneVerifier interface {
	MarkPhoneVerified(ctx context.Context, number phone.Number) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
