package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and routing per sink.
type EventCategory string

const (
	// CategoryCompliance covers events that make up the voting record:
	// accepted and rejected votes, proposal lifecycle transitions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to abuse monitoring:
	// OTP issuance and verification outcomes, rate limit denials.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine traffic useful for debugging,
	// such as every inbound SMS and its reply class.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the phone number or proposal the event is about.
	Subject  string
	Action   string
	Purpose  string
	Decision string
	Reason   string
	// ProposalID is set on vote and lifecycle events.
	ProposalID string
	RequestID  string
	// ActorID tracks the administrator behind governance actions.
	ActorID string
	// Client names the HTTP client the administrator used.
	Client string
}

type AuditEvent string

const (
	// OTP events
	EventOTPRequested      AuditEvent = "otp_requested"
	EventOTPRateLimited    AuditEvent = "otp_rate_limited"
	EventOTPVerified       AuditEvent = "otp_verified"
	EventOTPVerifyFailed   AuditEvent = "otp_verify_failed"
	EventOTPDeliveryFailed AuditEvent = "otp_delivery_failed"
	EventRateLimitReset    AuditEvent = "rate_limit_reset"

	// Vote events
	EventVoteAccepted AuditEvent = "vote_accepted"
	EventVoteRejected AuditEvent = "vote_rejected"

	// Proposal lifecycle events
	EventProposalCreated AuditEvent = "proposal_created"
	EventVotingStarted   AuditEvent = "voting_started"
	EventVotingClosed    AuditEvent = "voting_closed"

	// SMS events
	EventSMSInbound AuditEvent = "sms_inbound"
)

// eventCategories maps each audit event to its category.
var eventCategories = map[AuditEvent]EventCategory{
	EventVoteAccepted:    CategoryCompliance,
	EventVoteRejected:    CategoryCompliance,
	EventProposalCreated: CategoryCompliance,
	EventVotingStarted:   CategoryCompliance,
	EventVotingClosed:    CategoryCompliance,

	EventOTPRequested:      CategorySecurity,
	EventOTPRateLimited:    CategorySecurity,
	EventOTPVerified:       CategorySecurity,
	EventOTPVerifyFailed:   CategorySecurity,
	EventOTPDeliveryFailed: CategorySecurity,
	EventRateLimitReset:    CategorySecurity,

	EventSMSInbound: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
