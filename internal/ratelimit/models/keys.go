package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// to prevent key collision attacks where user-controlled identifiers containing
// ':' could manipulate adjacent rate limit counters.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewKey builds the counter key for an action on a phone number.
func NewKey(action Action, phone string) string {
	return "rl:" + SanitizeKeySegment(string(action)) + ":" + SanitizeKeySegment(phone)
}
