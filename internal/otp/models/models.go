package models

import (
	"time"

	dErrors "commonvote/pkg/domain-errors"
	"commonvote/pkg/phone"
)

// Purpose tags a challenge so codes for different flows never collide for the
// same phone.
type Purpose string

const (
	PurposeRegistration  Purpose = "registration"
	PurposeVoting        Purpose = "voting"
	PurposePasswordReset Purpose = "password_reset"
)

func (p Purpose) IsValid() bool {
	switch p {
	case PurposeRegistration, PurposeVoting, PurposePasswordReset:
		return true
	}
	return false
}

func (p Purpose) String() string { return string(p) }

// ParsePurpose validates a purpose received from a client.
func ParsePurpose(s string) (Purpose, error) {
	p := Purpose(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown otp purpose: "+s)
	}
	return p, nil
}

// ChallengeKey identifies the single active challenge for a phone and purpose.
type ChallengeKey struct {
	Phone   phone.Number
	Purpose Purpose
}

func (k ChallengeKey) String() string {
	return "otp:" + string(k.Purpose) + ":" + string(k.Phone)
}

// Challenge is the server-side record of an issued code. Only the HMAC of the
// code is kept.
type Challenge struct {
	Phone        phone.Number `json:"phone"`
	Purpose      Purpose      `json:"purpose"`
	CodeHash     []byte       `json:"code_hash"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	AttemptsUsed int          `json:"attempts_used"`
	MaxAttempts  int          `json:"max_attempts"`
	Consumed     bool         `json:"consumed"`
}

func (c *Challenge) Key() ChallengeKey {
	return ChallengeKey{Phone: c.Phone, Purpose: c.Purpose}
}

// IsExpired reports whether now is past the expiry instant.
func (c *Challenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

func (c *Challenge) IsExhausted() bool {
	return c.AttemptsUsed >= c.MaxAttempts
}

func (c *Challenge) AttemptsRemaining() int {
	if c.IsExhausted() {
		return 0
	}
	return c.MaxAttempts - c.AttemptsUsed
}

// RequestStatus is the outcome of asking for a new code.
type RequestStatus string

const (
	RequestSent        RequestStatus = "sent"
	RequestRateLimited RequestStatus = "rate_limited"
)

// RequestResult is returned by Request. The code itself is never part of it.
type RequestResult struct {
	Status     RequestStatus
	ExpiresAt  time.Time
	RetryAfter time.Duration
	// Delivered is false when the outbound transport refused the message.
	// The challenge remains valid either way.
	Delivered bool
}

// VerifyOutcome is the outcome of a verification attempt.
type VerifyOutcome string

const (
	OutcomeVerified    VerifyOutcome = "verified"
	OutcomeInvalidCode VerifyOutcome = "invalid_code"
	OutcomeExpired     VerifyOutcome = "expired"
	OutcomeExhausted   VerifyOutcome = "exhausted"
	OutcomeNotFound    VerifyOutcome = "not_found"
)

// State classifies the stored challenge for a status read.
type State string

const (
	StateActive    State = "active"
	StateExpired   State = "expired"
	StateExhausted State = "exhausted"
	StateNotFound  State = "not_found"
)

// Status describes the challenge for a phone and purpose. A consumed challenge
// reads as StateNotFound.
type Status struct {
	State              State
	HasActive          bool
	AttemptsRemaining  int
	SecondsUntilExpiry int
	ExpiresAt          time.Time
}
