package models

import (
	"time"

	voteModels "commonvote/internal/vote/models"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusVotingOpen Status = "voting_open"
	StatusClosed     Status = "closed"
)

// Outcome is decided when voting closes.
type Outcome string

const (
	OutcomePending Outcome = ""
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
)

// DecideOutcome applies a simple majority of cast ballots.
func DecideOutcome(counts voteModels.Counts) Outcome {
	if counts.Total() > 0 && counts.Yes*2 > counts.Total() {
		return OutcomePassed
	}
	return OutcomeFailed
}

type Proposal struct {
	ID        string
	GroupID   string
	Title     string
	Body      string
	Status    Status
	ShortCode string
	OpensAt   time.Time
	ClosesAt  time.Time
	Counts    voteModels.Counts
	Outcome   Outcome
	CreatedAt time.Time
}

// IsOpenForVoting reports whether a ballot cast at now may be counted.
func (p *Proposal) IsOpenForVoting(now time.Time) bool {
	return p.Status == StatusVotingOpen && !now.Before(p.OpensAt) && now.Before(p.ClosesAt)
}

// DeadlinePassed reports an open proposal whose window has ended but which
// has not been closed yet.
func (p *Proposal) DeadlinePassed(now time.Time) bool {
	return p.Status == StatusVotingOpen && !now.Before(p.ClosesAt)
}

// Close moves the proposal to Closed and records the outcome.
func (p *Proposal) Close() {
	p.Status = StatusClosed
	p.Outcome = DecideOutcome(p.Counts)
}

// Tally is the public view of a proposal's counts.
type Tally struct {
	ProposalID string
	ShortCode  string
	Status     Status
	Outcome    Outcome
	Counts     voteModels.Counts
	ClosesAt   time.Time
}

func (p *Proposal) Tally() Tally {
	return Tally{
		ProposalID: p.ID,
		ShortCode:  p.ShortCode,
		Status:     p.Status,
		Outcome:    p.Outcome,
		Counts:     p.Counts,
		ClosesAt:   p.ClosesAt,
	}
}

// StartResult is returned by StartVoting. Broadcast is empty unless the
// proposal was started by this call.
type StartResult struct {
	Outcome   StartOutcome
	Proposal  *Proposal
	Broadcast BroadcastResult
}

// BroadcastResult counts ballot prompts handed to the transport.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// StartOutcome is the result of asking to open voting.
type StartOutcome string

const (
	StartOK          StartOutcome = "started"
	StartAlreadyOpen StartOutcome = "already_open"
	StartNotDraft    StartOutcome = "not_draft"
)

// CloseOutcome is the result of asking to close voting.
type CloseOutcome string

const (
	CloseOK            CloseOutcome = "closed"
	CloseAlreadyClosed CloseOutcome = "already_closed"
	CloseNotStarted    CloseOutcome = "not_started"
)

type CloseResult struct {
	Outcome  CloseOutcome
	Proposal *Proposal
}
