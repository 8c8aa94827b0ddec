// Package service implements vote submission with exactly-once counting per
// voter and proposal.
package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"commonvote/internal/tally/metrics"
	"commonvote/internal/tally/models"
	"commonvote/internal/tally/ports"
	voteModels "commonvote/internal/vote/models"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/platform/sentinel"
	"commonvote/pkg/requestcontext"
)

// Type aliases for interfaces from ports package.
type (
	ProposalReader = ports.ProposalReader
	Membership     = ports.Membership
	VoteStore      = ports.VoteStore
	AuditPublisher = ports.AuditPublisher
)

type Service struct {
	proposals      ProposalReader
	membership     Membership
	votes          VoteStore
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	tracer         trace.Tracer
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

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(proposals ProposalReader, membership Membership, votes VoteStore, opts ...Option) (*Service, error) {
	if proposals == nil {
		return nil, errors.New("proposal reader is required")
	}
	if membership == nil {
		return nil, errors.New("membership lookup is required")
	}
	if votes == nil {
		return nil, errors.New("vote store is required")
	}
	svc := &Service{
		proposals:  proposals,
		membership: membership,
		votes:      votes,
		logger:     slog.Default(),
		tracer:     otel.Tracer("commonvote/tally"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SubmitVote checks, in order, that the proposal is open, that the voter is a
// verified member of its group and that the voter has not voted yet, then
// records the vote and the count increment together.
func (s *Service) SubmitVote(ctx context.Context, proposalID string, voter phone.Number, choice voteModels.Choice) (*models.Result, error) {
	ctx, span := s.tracer.Start(ctx, "tally.SubmitVote", trace.WithAttributes(
		attribute.String("proposal.id", proposalID),
		attribute.String("vote.choice", string(choice)),
	))
	defer span.End()

	result, err := s.submit(ctx, proposalID, voter, choice)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit vote failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("vote.outcome", string(result.Outcome)))

	if s.metrics != nil {
		s.metrics.IncVote(string(result.Outcome))
	}
	action := audit.EventVoteAccepted
	if result.Outcome != models.OutcomeAccepted {
		action = audit.EventVoteRejected
	}
	s.logAudit(ctx, audit.Event{
		Subject:    voter.String(),
		Action:     string(action),
		ProposalID: proposalID,
		Decision:   string(result.Outcome),
		Reason:     string(choice),
	}, "phone", phone.Mask(voter), "yes", result.Counts.Yes, "no", result.Counts.No)
	return result, nil
}

func (s *Service) submit(ctx context.Context, proposalID string, voter phone.Number, choice voteModels.Choice) (*models.Result, error) {
	if !choice.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "choice must be yes or no")
	}
	now := requestcontext.Now(ctx)

	p, err := s.proposals.Get(ctx, proposalID)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return &models.Result{Outcome: models.OutcomeProposalNotOpen}, nil
	}
	if err != nil {
		return nil, err
	}
	if !p.IsOpenForVoting(now) {
		return &models.Result{Outcome: models.OutcomeProposalNotOpen, Counts: p.Counts}, nil
	}

	eligible, err := s.membership.IsVerifiedMember(ctx, voter, p.GroupID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check membership")
	}
	if !eligible {
		return &models.Result{Outcome: models.OutcomeVoterNotEligible, Counts: p.Counts}, nil
	}

	rec, err := s.votes.Record(ctx, voteModels.Vote{
		ProposalID: proposalID,
		VoterPhone: voter,
		Choice:     choice,
		RecordedAt: now,
	}, now)
	if errors.Is(err, sentinel.ErrInvalidState) || errors.Is(err, sentinel.ErrNotFound) {
		return &models.Result{Outcome: models.OutcomeProposalNotOpen, Counts: p.Counts}, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record vote")
	}
	if rec.Duplicate {
		return &models.Result{Outcome: models.OutcomeDuplicateVote, Existing: rec.Existing, Counts: p.Counts}, nil
	}
	return &models.Result{Outcome: models.OutcomeAccepted, Counts: rec.Counts}, nil
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
