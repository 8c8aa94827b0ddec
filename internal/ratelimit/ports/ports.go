// Package ports defines shared interfaces for the ratelimit module.
package ports

import (
	"context"
	"log/slog"
	"time"

	"commonvote/internal/ratelimit/models"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/requestcontext"
)

// AuditPublisher emits audit events for security-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// WindowStore keeps fixed-window counters. Allow must decide and increment
// every window of the policy in one atomic step per key.
type WindowStore interface {
	Allow(ctx context.Context, key string, policy models.Policy, now time.Time) (*models.RateLimitResult, error)

	// Reset clears every window for a key.
	Reset(ctx context.Context, key string) error
}

// Sweeper is implemented by window stores whose keys do not expire on their
// own. Sweep drops keys with no live window at now.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// LogAudit is a shared helper for logging audit events across ratelimit services.
// It logs to both the structured logger and the audit publisher if available.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
		event.RequestID = requestID
	}

	args := append(attrs, "event", event.Action, "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}

	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}
