package parser

import (
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"

	"commonvote/internal/vote/models"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   models.Intent
		wantOK bool
	}{
		{"upper yes", "YES001", models.Intent{Choice: models.ChoiceYes, ShortCode: "001"}, true},
		{"lower yes", "yes001", models.Intent{Choice: models.ChoiceYes, ShortCode: "001"}, true},
		{"mixed case", "Yes001", models.Intent{Choice: models.ChoiceYes, ShortCode: "001"}, true},
		{"padded", " YES001 ", models.Intent{Choice: models.ChoiceYes, ShortCode: "001"}, true},
		{"tabs and newline", "\tno042\n", models.Intent{Choice: models.ChoiceNo, ShortCode: "042"}, true},
		{"no", "NO999", models.Intent{Choice: models.ChoiceNo, ShortCode: "999"}, true},
		{"zero code", "no000", models.Intent{Choice: models.ChoiceNo, ShortCode: "000"}, true},

		{"short code too short", "YES01", models.Intent{}, false},
		{"short code too long", "YES0012", models.Intent{}, false},
		{"unknown keyword", "MAYBE001", models.Intent{}, false},
		{"prefix only", "YES", models.Intent{}, false},
		{"space inside", "YES 001", models.Intent{}, false},
		{"trailing text", "YES001 please", models.Intent{}, false},
		{"leading text", "vote YES001", models.Intent{}, false},
		{"non numeric", "YESabc", models.Intent{}, false},
		{"unicode digits", "YES٠٠١", models.Intent{}, false},
		{"empty", "", models.Intent{}, false},
		{"whitespace", "   ", models.Intent{}, false},
		{"y abbreviation", "Y001", models.Intent{}, false},
		{"long s fold", "YE\u017f001", models.Intent{}, false},
		{"fullwidth letters", "\uff39\uff25\uff33001", models.Intent{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func FuzzParse(f *testing.F) {
	for _, seed := range []string{"YES001", " no123 ", "MAYBE001", "YES0012", "YE\u017f001", ""} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, raw string) {
		intent, ok := Parse(raw)
		if !ok {
			return
		}
		if !intent.Choice.IsValid() {
			t.Fatalf("invalid choice %q from %q", intent.Choice, raw)
		}
		for _, r := range raw {
			if r > unicode.MaxASCII {
				t.Fatalf("accepted non-ASCII rune %q in %q", r, raw)
			}
		}
		if len(intent.ShortCode) != ShortCodeDigits {
			t.Fatalf("short code %q from %q", intent.ShortCode, raw)
		}
	})
}
