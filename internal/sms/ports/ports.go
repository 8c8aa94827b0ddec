// Package ports defines the collaborators of the SMS coordinator.
package ports

import (
	"context"

	proposalModels "commonvote/internal/proposal/models"
	tallyModels "commonvote/internal/tally/models"
	voteModels "commonvote/internal/vote/models"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
)

// MemberResolver finds the group of a sender. ok is false for unknown phones.
type MemberResolver interface {
	ResolveMemberGroup(ctx context.Context, number phone.Number) (groupID string, ok bool, err error)
}

type Proposals interface {
	ResolveShortCode(ctx context.Context, groupID, code string) (id string, ok bool, err error)
	Get(ctx context.Context, id string) (*proposalModels.Proposal, error)
}

type Tally interface {
	SubmitVote(ctx context.Context, proposalID string, voter phone.Number, choice voteModels.Choice) (*tallyModels.Result, error)
}

// Sender delivers replies when the carrier does not take them in the
// webhook response.
type Sender interface {
	Send(ctx context.Context, to phone.Number, body string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
