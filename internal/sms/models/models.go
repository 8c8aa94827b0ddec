// Package models holds inbound SMS messages and the replies sent back.
package models

import (
	"encoding/xml"
	"time"
)

// InboundMessage is one SMS received from the carrier. From is the raw sender
// value; it is normalised before any lookup.
type InboundMessage struct {
	From       string    `json:"from"`
	Body       string    `json:"body"`
	MessageSID string    `json:"message_sid,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ReplyKind classifies a reply. Each coordinator path has its own kind.
type ReplyKind string

const (
	ReplyUnknownSender   ReplyKind = "unknown_sender"
	ReplyHelp            ReplyKind = "help"
	ReplyUnknownProposal ReplyKind = "unknown_proposal"
	ReplyAccepted        ReplyKind = "accepted"
	ReplyDuplicate       ReplyKind = "duplicate_vote"
	ReplyNotStarted      ReplyKind = "not_started"
	ReplyClosed          ReplyKind = "closed"
	ReplyNotEligible     ReplyKind = "not_eligible"
	ReplyError           ReplyKind = "error"
)

type Reply struct {
	Kind ReplyKind
	Text string
}

// InboundSMSRequest is the JSON form of the webhook. Carriers post the same
// fields form-encoded as From, Body and MessageSid.
type InboundSMSRequest struct {
	From       string `json:"from" validate:"required,max=32"`
	Body       string `json:"body" validate:"max=1600"`
	MessageSID string `json:"message_sid" validate:"max=64"`
}

type ReplyResponse struct {
	Reply string    `json:"reply,omitempty"`
	Kind  ReplyKind `json:"kind,omitempty"`
	// Queued is set when the message was handed to the queue and the reply
	// will be sent through the carrier.
	Queued bool `json:"queued,omitempty"`
}

// TwiML is the carrier webhook response document.
type TwiML struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}
