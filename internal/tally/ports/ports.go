// Package ports defines the collaborators of the tally engine.
package ports

import (
	"context"
	"time"

	proposalModels "commonvote/internal/proposal/models"
	"commonvote/internal/tally/models"
	voteModels "commonvote/internal/vote/models"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
)

// ProposalReader returns proposals with deadline closing already applied.
type ProposalReader interface {
	Get(ctx context.Context, id string) (*proposalModels.Proposal, error)
}

type Membership interface {
	IsVerifiedMember(ctx context.Context, number phone.Number, groupID string) (bool, error)
}

// VoteStore inserts a vote if the voter has none for the proposal and bumps
// the proposal counts in the same atomic step. It returns
// sentinel.ErrInvalidState when the proposal is no longer open at now.
type VoteStore interface {
	Record(ctx context.Context, vote voteModels.Vote, now time.Time) (*models.Recorded, error)
}

// Counter is the proposal side of a vote: a guarded count increment.
type Counter interface {
	AddVote(ctx context.Context, id string, choice voteModels.Choice, now time.Time) (voteModels.Counts, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
