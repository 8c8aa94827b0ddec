// Package models holds the member records consulted for sender identity and
// vote eligibility.
package models

import (
	"time"

	"commonvote/pkg/phone"
)

// Member is a phone number registered to exactly one group. Only members
// whose phone has been verified by OTP may vote or receive ballots.
type Member struct {
	Phone         phone.Number
	GroupID       string
	DisplayName   string
	PhoneVerified bool
	CreatedAt     time.Time
}
