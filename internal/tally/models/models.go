// Package models defines the outcomes of submitting a vote.
package models

import voteModels "commonvote/internal/vote/models"

// Outcome is the result of SubmitVote. Every outcome is a normal value; only
// infrastructure failures are returned as errors.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeDuplicateVote    Outcome = "duplicate_vote"
	OutcomeProposalNotOpen  Outcome = "proposal_not_open"
	OutcomeVoterNotEligible Outcome = "voter_not_eligible"
)

// Result describes a submission. Counts is the snapshot taken with the
// accepted vote; Existing is the binding choice on a DuplicateVote.
type Result struct {
	Outcome  Outcome
	Counts   voteModels.Counts
	Existing voteModels.Choice
}

// Recorded is what a vote store reports for one insert-if-absent attempt.
type Recorded struct {
	Counts voteModels.Counts
	// Duplicate is set when a vote already existed; nothing was written.
	Duplicate bool
	Existing  voteModels.Choice
}
