package models

import (
	"time"

	"commonvote/pkg/phone"
)

// Choice is a ballot value.
type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

func (c Choice) IsValid() bool {
	return c == ChoiceYes || c == ChoiceNo
}

// Keyword is the SMS spelling of the choice.
func (c Choice) Keyword() string {
	if c == ChoiceYes {
		return "YES"
	}
	return "NO"
}

// Intent is a parsed SMS ballot. ShortCode is not yet resolved to a proposal.
type Intent struct {
	Choice    Choice
	ShortCode string
}

// Vote is a recorded ballot. At most one exists per proposal and voter.
type Vote struct {
	ProposalID string
	VoterPhone phone.Number
	Choice     Choice
	RecordedAt time.Time
}

// Counts is the running tally of a proposal.
type Counts struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}

func (c Counts) Total() int { return c.Yes + c.No }

// Add returns the counts with one more ballot for choice.
func (c Counts) Add(choice Choice) Counts {
	if choice == ChoiceYes {
		c.Yes++
	} else {
		c.No++
	}
	return c
}
