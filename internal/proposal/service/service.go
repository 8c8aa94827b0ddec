// Package service manages the proposal lifecycle: creation, opening and
// closing of voting windows, short-code resolution and tallies.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"commonvote/internal/proposal/metrics"
	"commonvote/internal/proposal/models"
	"commonvote/internal/proposal/ports"
	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/platform/sentinel"
	"commonvote/pkg/requestcontext"
)

// Type aliases for interfaces from ports package.
type (
	Store          = ports.Store
	MemberLister   = ports.MemberLister
	Sender         = ports.Sender
	AuditPublisher = ports.AuditPublisher
)

const (
	defaultVotingDuration = 7 * 24 * time.Hour
	broadcastConcurrency  = 8
)

var errUnchanged = errors.New("proposal unchanged")

type Service struct {
	store          Store
	members        MemberLister
	sender         Sender
	auditPublisher AuditPublisher
	logger         *slog.Logger
	metrics        *metrics.Metrics
	votingDuration time.Duration
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

// WithBroadcast sends a ballot prompt to every verified member of the group
// when voting starts.
func WithBroadcast(members MemberLister, sender Sender) Option {
	return func(s *Service) {
		s.members = members
		s.sender = sender
	}
}

func WithVotingDuration(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.votingDuration = d
		}
	}
}

func New(store Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("proposal store is required")
	}
	svc := &Service{
		store:          store,
		logger:         slog.Default(),
		votingDuration: defaultVotingDuration,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Create stores a new draft proposal.
func (s *Service) Create(ctx context.Context, groupID, title, body string) (*models.Proposal, error) {
	if groupID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "group_id is required")
	}
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "title is required")
	}

	p := &models.Proposal{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Title:     title,
		Body:      body,
		Status:    models.StatusDraft,
		CreatedAt: requestcontext.Now(ctx),
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create proposal")
	}

	s.logAudit(ctx, audit.Event{
		Subject:    p.ID,
		Action:     string(audit.EventProposalCreated),
		ProposalID: p.ID,
		Decision:   string(p.Status),
		ActorID:    requestcontext.ActorID(ctx),
		Client:     requestcontext.Client(ctx),
	}, "group_id", groupID)
	return p, nil
}

// Get returns the proposal, closing it first if its deadline has passed.
func (s *Service) Get(ctx context.Context, id string) (*models.Proposal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "proposal not found")
	}
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	return s.closeIfDue(ctx, p)
}

func (s *Service) closeIfDue(ctx context.Context, p *models.Proposal) (*models.Proposal, error) {
	now := requestcontext.Now(ctx)
	if !p.DeadlinePassed(now) {
		return p, nil
	}
	closed, err := s.store.Update(ctx, p.ID, func(_ context.Context, p *models.Proposal) error {
		if !p.DeadlinePassed(now) {
			return errUnchanged
		}
		p.Close()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		latest, err := s.store.Get(ctx, p.ID)
		if err != nil {
			return nil, s.translate(err)
		}
		return latest, nil
	}
	if err != nil {
		return nil, s.translate(err)
	}
	s.recordClosed(ctx, closed, "deadline")
	return closed, nil
}

// IsOpenForVoting reports whether a ballot cast now would be counted.
func (s *Service) IsOpenForVoting(ctx context.Context, id string) (bool, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return p.IsOpenForVoting(requestcontext.Now(ctx)), nil
}

// StartVoting opens a draft for the given duration (the default when zero),
// assigns it the next short code of its group and broadcasts the ballot.
func (s *Service) StartVoting(ctx context.Context, id string, duration time.Duration) (*models.StartResult, error) {
	if duration <= 0 {
		duration = s.votingDuration
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if outcome, ok := startRefusal(current); ok {
		return &models.StartResult{Outcome: outcome, Proposal: current}, nil
	}

	now := requestcontext.Now(ctx)
	var refused models.StartOutcome
	started, err := s.store.Update(ctx, id, func(ctx context.Context, p *models.Proposal) error {
		if outcome, ok := startRefusal(p); ok {
			refused = outcome
			return errUnchanged
		}
		// Allocated under the proposal lock so a refused start never uses a code.
		code, err := s.store.NextShortCode(ctx, p.GroupID)
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.New(dErrors.CodeConflict, "no short codes left for group")
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to allocate short code")
		}
		p.Status = models.StatusVotingOpen
		p.ShortCode = code
		p.OpensAt = now
		p.ClosesAt = now.Add(duration)
		return nil
	})
	if errors.Is(err, errUnchanged) {
		latest, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, s.translate(err)
		}
		return &models.StartResult{Outcome: refused, Proposal: latest}, nil
	}
	if err != nil {
		return nil, s.translate(err)
	}

	if s.metrics != nil {
		s.metrics.IncTransition(string(models.StatusVotingOpen), "admin")
	}
	s.logAudit(ctx, audit.Event{
		Subject:    started.ID,
		Action:     string(audit.EventVotingStarted),
		ProposalID: started.ID,
		Decision:   string(started.Status),
		ActorID:    requestcontext.ActorID(ctx),
		Client:     requestcontext.Client(ctx),
	}, "short_code", started.ShortCode, "closes_at", started.ClosesAt)

	return &models.StartResult{
		Outcome:   models.StartOK,
		Proposal:  started,
		Broadcast: s.broadcast(ctx, started),
	}, nil
}

func startRefusal(p *models.Proposal) (models.StartOutcome, bool) {
	switch p.Status {
	case models.StatusDraft:
		return "", false
	case models.StatusVotingOpen:
		return models.StartAlreadyOpen, true
	default:
		return models.StartNotDraft, true
	}
}

// broadcast is best effort: failures are counted and logged, never retried.
func (s *Service) broadcast(ctx context.Context, p *models.Proposal) models.BroadcastResult {
	if s.members == nil || s.sender == nil {
		return models.BroadcastResult{}
	}
	recipients, err := s.members.ListVerifiedMembers(ctx, p.GroupID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list members for broadcast",
			"proposal_id", p.ID,
			"error", err,
		)
		return models.BroadcastResult{}
	}

	body := BallotPrompt(p)
	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)
	for _, to := range recipients {
		g.Go(func() error {
			if err := s.sender.Send(gctx, to, body); err != nil {
				failed.Add(1)
				s.logger.WarnContext(ctx, "ballot prompt not delivered",
					"proposal_id", p.ID,
					"phone", phone.Mask(to),
					"error", err,
				)
				return nil
			}
			sent.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := models.BroadcastResult{Sent: int(sent.Load()), Failed: int(failed.Load())}
	if s.metrics != nil {
		s.metrics.AddBroadcast(result.Sent, result.Failed)
	}
	s.logger.InfoContext(ctx, "ballot broadcast",
		"proposal_id", p.ID,
		"sent", result.Sent,
		"failed", result.Failed,
	)
	return result
}

// BallotPrompt is the SMS sent to members when voting opens.
func BallotPrompt(p *models.Proposal) string {
	return fmt.Sprintf("Vote on proposal %s: %s\nVoting closes %s UTC.\nReply YES%s or NO%s",
		p.ShortCode, p.Title, p.ClosesAt.UTC().Format("2006-01-02 15:04"), p.ShortCode, p.ShortCode)
}

// CloseVoting closes an open proposal ahead of its deadline.
func (s *Service) CloseVoting(ctx context.Context, id string) (*models.CloseResult, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if outcome, ok := closeRefusal(current); ok {
		return &models.CloseResult{Outcome: outcome, Proposal: current}, nil
	}

	var refused models.CloseOutcome
	closed, err := s.store.Update(ctx, id, func(_ context.Context, p *models.Proposal) error {
		if outcome, ok := closeRefusal(p); ok {
			refused = outcome
			return errUnchanged
		}
		p.Close()
		return nil
	})
	if errors.Is(err, errUnchanged) {
		latest, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, s.translate(err)
		}
		return &models.CloseResult{Outcome: refused, Proposal: latest}, nil
	}
	if err != nil {
		return nil, s.translate(err)
	}

	s.recordClosed(ctx, closed, "admin")
	return &models.CloseResult{Outcome: models.CloseOK, Proposal: closed}, nil
}

func closeRefusal(p *models.Proposal) (models.CloseOutcome, bool) {
	switch p.Status {
	case models.StatusVotingOpen:
		return "", false
	case models.StatusClosed:
		return models.CloseAlreadyClosed, true
	default:
		return models.CloseNotStarted, true
	}
}

// CloseExpired closes every proposal whose deadline has passed. Readers close
// lazily as well, so this only keeps stored state tidy.
func (s *Service) CloseExpired(ctx context.Context) (int, error) {
	closed, err := s.store.CloseDue(ctx, requestcontext.Now(ctx))
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to close expired proposals")
	}
	for _, p := range closed {
		s.recordClosed(ctx, p, "deadline")
	}
	return len(closed), nil
}

// RunCloser calls CloseExpired every interval until ctx is done.
func (s *Service) RunCloser(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.CloseExpired(ctx); err != nil {
				s.logger.ErrorContext(ctx, "proposal close sweep failed", "error", err)
			}
		}
	}
}

// ResolveShortCode maps a group's short code to a proposal id.
func (s *Service) ResolveShortCode(ctx context.Context, groupID, code string) (string, bool, error) {
	p, err := s.store.FindByShortCode(ctx, groupID, code)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve short code")
	}
	return p.ID, true, nil
}

// GetTally returns the counts and status, applying lazy close.
func (s *Service) GetTally(ctx context.Context, id string) (*models.Tally, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t := p.Tally()
	return &t, nil
}

func (s *Service) recordClosed(ctx context.Context, p *models.Proposal, trigger string) {
	if s.metrics != nil {
		s.metrics.IncTransition(string(models.StatusClosed), trigger)
	}
	s.logAudit(ctx, audit.Event{
		Subject:    p.ID,
		Action:     string(audit.EventVotingClosed),
		ProposalID: p.ID,
		Decision:   string(p.Outcome),
		Reason:     trigger,
		ActorID:    requestcontext.ActorID(ctx),
		Client:     requestcontext.Client(ctx),
	}, "yes", p.Counts.Yes, "no", p.Counts.No)
}

func (s *Service) translate(err error) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "proposal not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "proposal store failure")
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
