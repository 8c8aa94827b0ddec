// Package ports defines the storage and collaborator contracts of the
// proposal registry.
package ports

import (
	"context"
	"time"

	"commonvote/internal/proposal/models"
	voteModels "commonvote/internal/vote/models"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
)

// Store persists proposals. Missing ids return sentinel.ErrNotFound.
type Store interface {
	Create(ctx context.Context, p *models.Proposal) error
	Get(ctx context.Context, id string) (*models.Proposal, error)
	// Update applies fn and persists the result atomically for one proposal.
	// If fn returns an error nothing is written. The ctx given to fn carries
	// the store's unit of work, so store calls made with it commit or roll
	// back together with the update.
	Update(ctx context.Context, id string, fn func(ctx context.Context, p *models.Proposal) error) (*models.Proposal, error)
	// NextShortCode allocates the next sequential code of a group.
	// sentinel.ErrConflict means the code space is exhausted.
	NextShortCode(ctx context.Context, groupID string) (string, error)
	FindByShortCode(ctx context.Context, groupID, code string) (*models.Proposal, error)
	// AddVote increments the count for choice only if the proposal is open
	// at now; otherwise sentinel.ErrInvalidState.
	AddVote(ctx context.Context, id string, choice voteModels.Choice, now time.Time) (voteModels.Counts, error)
	// CloseDue closes every open proposal whose deadline is not after now.
	CloseDue(ctx context.Context, now time.Time) ([]*models.Proposal, error)
}

// MemberLister returns the verified members of a group for broadcasts.
type MemberLister interface {
	ListVerifiedMembers(ctx context.Context, groupID string) ([]phone.Number, error)
}

type Sender interface {
	Send(ctx context.Context, to phone.Number, body string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
