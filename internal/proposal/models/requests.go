package models

import "time"

type CreateProposalRequest struct {
	GroupID string `json:"group_id" validate:"required,max=64"`
	Title   string `json:"title" validate:"required,max=200"`
	Body    string `json:"body" validate:"max=4000"`
}

type StartVotingRequest struct {
	// Duration overrides the default voting window, e.g. "48h".
	Duration string `json:"duration,omitempty"`
}

type ProposalResponse struct {
	ID        string     `json:"id"`
	GroupID   string     `json:"group_id"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	ShortCode string     `json:"short_code,omitempty"`
	OpensAt   *time.Time `json:"opens_at,omitempty"`
	ClosesAt  *time.Time `json:"closes_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type StartVotingResponse struct {
	Outcome   StartOutcome     `json:"outcome"`
	Proposal  ProposalResponse `json:"proposal"`
	Broadcast BroadcastResult  `json:"broadcast"`
}

type CloseVotingResponse struct {
	Outcome  CloseOutcome     `json:"outcome"`
	Proposal ProposalResponse `json:"proposal"`
}

type TallyResponse struct {
	ProposalID string  `json:"proposal_id"`
	ShortCode  string  `json:"short_code,omitempty"`
	Status     Status  `json:"status"`
	Outcome    Outcome `json:"outcome,omitempty"`
	Yes        int     `json:"yes"`
	No         int     `json:"no"`
}

func NewProposalResponse(p *Proposal) ProposalResponse {
	resp := ProposalResponse{
		ID:        p.ID,
		GroupID:   p.GroupID,
		Title:     p.Title,
		Status:    p.Status,
		ShortCode: p.ShortCode,
		CreatedAt: p.CreatedAt,
	}
	if !p.OpensAt.IsZero() {
		opens, closes := p.OpensAt, p.ClosesAt
		resp.OpensAt = &opens
		resp.ClosesAt = &closes
	}
	return resp
}

func NewTallyResponse(t Tally) TallyResponse {
	return TallyResponse{
		ProposalID: t.ProposalID,
		ShortCode:  t.ShortCode,
		Status:     t.Status,
		Outcome:    t.Outcome,
		Yes:        t.Counts.Yes,
		No:         t.Counts.No,
	}
}
