// Package service turns inbound SMS into votes and picks the reply for every
// outcome.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	proposalModels "commonvote/internal/proposal/models"
	"commonvote/internal/sms/metrics"
	"commonvote/internal/sms/models"
	"commonvote/internal/sms/ports"
	tallyModels "commonvote/internal/tally/models"
	"commonvote/internal/vote/parser"
	"commonvote/pkg/phone"
	"commonvote/pkg/platform/audit"
	"commonvote/pkg/requestcontext"
)

// Type aliases for interfaces from ports package.
type (
	MemberResolver = ports.MemberResolver
	Proposals      = ports.Proposals
	Tally          = ports.Tally
	AuditPublisher = ports.AuditPublisher
)

const titlePreviewLen = 30

const (
	textUnknownSender   = "Phone number not registered. Please register with your group before voting."
	textHelp            = "Invalid vote format. Reply YES### or NO### (e.g. YES001)."
	textUnknownProposal = "Invalid proposal code: %s"
	textAccepted        = "Vote recorded: %s for %s\nCurrent tally: %d YES, %d NO"
	textDuplicate       = "You already voted %s on proposal %s"
	textNotStarted      = "Voting on proposal %s has not started"
	textClosed          = "Voting deadline passed for proposal %s"
	textNotEligible     = "Phone number not verified for this group. Please complete verification first."
	textError           = "Error recording vote. Please try again."
)

type Service struct {
	members            MemberResolver
	proposals          Proposals
	tally              Tally
	auditPublisher     AuditPublisher
	logger             *slog.Logger
	metrics            *metrics.Metrics
	tracer             trace.Tracer
	defaultCountryCode string
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

// WithDefaultCountryCode is used to normalise senders without a leading +.
func WithDefaultCountryCode(cc string) Option {
	return func(s *Service) {
		s.defaultCountryCode = cc
	}
}

func New(members MemberResolver, proposals Proposals, tally Tally, opts ...Option) (*Service, error) {
	if members == nil {
		return nil, errors.New("member resolver is required")
	}
	if proposals == nil {
		return nil, errors.New("proposals are required")
	}
	if tally == nil {
		return nil, errors.New("tally is required")
	}
	svc := &Service{
		members:            members,
		proposals:          proposals,
		tally:              tally,
		logger:             slog.Default(),
		tracer:             otel.Tracer("commonvote/sms"),
		defaultCountryCode: "1",
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// HandleInbound produces exactly one reply for msg. Malformed input and
// collaborator failures become replies; nothing is returned as an error.
func (s *Service) HandleInbound(ctx context.Context, msg models.InboundMessage) models.Reply {
	ctx, span := s.tracer.Start(ctx, "sms.HandleInbound", trace.WithAttributes(
		attribute.String("sms.message_sid", msg.MessageSID),
	))
	defer span.End()

	number, err := phone.Normalize(msg.From, s.defaultCountryCode)
	if err != nil {
		return s.finish(ctx, msg, "", models.Reply{Kind: models.ReplyUnknownSender, Text: textUnknownSender})
	}
	reply := s.route(ctx, number, msg.Body)
	span.SetAttributes(attribute.String("sms.reply_kind", string(reply.Kind)))
	return s.finish(ctx, msg, number, reply)
}

func (s *Service) route(ctx context.Context, number phone.Number, body string) models.Reply {
	groupID, ok, err := s.members.ResolveMemberGroup(ctx, number)
	if err != nil {
		return s.failed(ctx, "resolve member group", number, err)
	}
	if !ok {
		return models.Reply{Kind: models.ReplyUnknownSender, Text: textUnknownSender}
	}

	intent, ok := parser.Parse(body)
	if !ok {
		return models.Reply{Kind: models.ReplyHelp, Text: textHelp}
	}

	proposalID, ok, err := s.proposals.ResolveShortCode(ctx, groupID, intent.ShortCode)
	if err != nil {
		return s.failed(ctx, "resolve short code", number, err)
	}
	if !ok {
		return models.Reply{Kind: models.ReplyUnknownProposal, Text: fmt.Sprintf(textUnknownProposal, intent.ShortCode)}
	}

	res, err := s.tally.SubmitVote(ctx, proposalID, number, intent.Choice)
	if err != nil {
		return s.failed(ctx, "submit vote", number, err)
	}

	switch res.Outcome {
	case tallyModels.OutcomeAccepted:
		return models.Reply{
			Kind: models.ReplyAccepted,
			Text: fmt.Sprintf(textAccepted, intent.Choice.Keyword(), s.titlePreview(ctx, proposalID, intent.ShortCode),
				res.Counts.Yes, res.Counts.No),
		}
	case tallyModels.OutcomeDuplicateVote:
		return models.Reply{
			Kind: models.ReplyDuplicate,
			Text: fmt.Sprintf(textDuplicate, res.Existing.Keyword(), intent.ShortCode),
		}
	case tallyModels.OutcomeProposalNotOpen:
		return s.notOpen(ctx, proposalID, intent.ShortCode)
	case tallyModels.OutcomeVoterNotEligible:
		return models.Reply{Kind: models.ReplyNotEligible, Text: textNotEligible}
	default:
		return s.failed(ctx, "submit vote", number, fmt.Errorf("unexpected outcome %q", res.Outcome))
	}
}

func (s *Service) titlePreview(ctx context.Context, proposalID, code string) string {
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return "proposal " + code
	}
	title := strings.TrimSpace(p.Title)
	if r := []rune(title); len(r) > titlePreviewLen {
		return string(r[:titlePreviewLen]) + "..."
	}
	return title
}

// notOpen tells a proposal that has not opened yet apart from a closed one.
func (s *Service) notOpen(ctx context.Context, proposalID, code string) models.Reply {
	p, err := s.proposals.Get(ctx, proposalID)
	if err == nil && (p.Status == proposalModels.StatusDraft || requestcontext.Now(ctx).Before(p.OpensAt)) {
		return models.Reply{Kind: models.ReplyNotStarted, Text: fmt.Sprintf(textNotStarted, code)}
	}
	return models.Reply{Kind: models.ReplyClosed, Text: fmt.Sprintf(textClosed, code)}
}

func (s *Service) failed(ctx context.Context, step string, number phone.Number, err error) models.Reply {
	s.logger.ErrorContext(ctx, "inbound sms failed",
		"step", step,
		"phone", phone.Mask(number),
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	return models.Reply{Kind: models.ReplyError, Text: textError}
}

func (s *Service) finish(ctx context.Context, msg models.InboundMessage, number phone.Number, reply models.Reply) models.Reply {
	if s.metrics != nil {
		s.metrics.IncInbound(string(reply.Kind))
	}
	subject := number.String()
	if subject == "" {
		subject = msg.From
	}
	s.logAudit(ctx, audit.Event{
		Subject:  subject,
		Action:   string(audit.EventSMSInbound),
		Decision: string(reply.Kind),
		Reason:   msg.MessageSID,
	}, "phone", phone.Mask(number))
	return reply
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
