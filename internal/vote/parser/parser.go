// Package parser turns inbound SMS text into ballot intents.
package parser

import (
	"regexp"
	"strings"

	"commonvote/internal/vote/models"
)

// ShortCodeDigits is the fixed width of a proposal short code.
const ShortCodeDigits = 3

// ASCII letters only; (?i) would also match Unicode folds such as U+017F.
var ballot = regexp.MustCompile(`^\s*([Yy][Ee][Ss]|[Nn][Oo])(\d{3})\s*$`)

// Parse returns the intent expressed by raw, or false when raw is not exactly
// YES<ddd> or NO<ddd> (case-insensitive, surrounding whitespace ignored).
func Parse(raw string) (models.Intent, bool) {
	m := ballot.FindStringSubmatch(raw)
	if m == nil {
		return models.Intent{}, false
	}
	choice := models.ChoiceNo
	if strings.ToUpper(m[1]) == "YES" {
		choice = models.ChoiceYes
	}
	return models.Intent{Choice: choice, ShortCode: m[2]}, true
}
