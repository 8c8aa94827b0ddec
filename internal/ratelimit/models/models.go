package models

import (
	"time"

	dErrors "commonvote/pkg/domain-errors"
)

// Action names a rate-limited operation. Counters are kept per (phone, action).
type Action string

const (
	// ActionOTPRequest covers every OTP request for a phone, across purposes.
	ActionOTPRequest Action = "otp_request"
)

// IsValid checks if the action is one of the supported enum values.
func (a Action) IsValid() bool {
	return a == ActionOTPRequest
}

// ParseAction creates an Action from a string, validating it.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown rate limit action")
	}
	return a, nil
}

// Window is a fixed counting window: it opens on the first counted request and
// resets once Length has elapsed since then.
type Window struct {
	Limit  int
	Length time.Duration
}

// Policy is the set of windows that must all have room for a request to pass.
type Policy []Window

// DefaultOTPPolicy is one request per minute and five per hour.
func DefaultOTPPolicy() Policy {
	return Policy{
		{Limit: 1, Length: time.Minute},
		{Limit: 5, Length: time.Hour},
	}
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed bool `json:"allowed"`
	// Limit and Remaining describe the window with the least room left.
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	// RetryAfter is only set when not allowed: the time until every blocking
	// window has reset.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds for headers.
func (r *RateLimitResult) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	secs := int(r.RetryAfter / time.Second)
	if r.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

// ResetResponse is returned by the admin reset route.
type ResetResponse struct {
	Phone  string `json:"phone"`
	Action Action `json:"action"`
	Reset  bool   `json:"reset"`
}
