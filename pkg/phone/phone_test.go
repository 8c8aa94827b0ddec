package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "commonvote/pkg/domain-errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"us number", "+15551234567", true},
		{"kenyan number", "+254712345678", true},
		{"shortest allowed", "+1234567", true},
		{"longest allowed", "+123456789012345", true},
		{"too short", "+123456", false},
		{"too long", "+1234567890123456", false},
		{"missing plus", "15551234567", false},
		{"leading zero country", "+05551234567", false},
		{"letters", "+1555CALLNOW", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.input)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, dErrors.Is(err, dErrors.CodeValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.input, n.String())
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		country string
		want    Number
	}{
		{"already e164", "+15551234567", "1", "+15551234567"},
		{"formatted us", "(555) 123-4567", "1", "+15551234567"},
		{"national with trunk zero", "0712 345 678", "254", "+254712345678"},
		{"international 00 prefix", "00254712345678", "1", "+254712345678"},
		{"country code without plus", "254712345678", "254", "+254712345678"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input, tt.country)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("garbage stays invalid", func(t *testing.T) {
		_, err := Normalize("call me", "1")
		assert.Error(t, err)
	})
}

func TestMask(t *testing.T) {
	assert.Equal(t, "+155***4567", Mask("+15551234567"))
	assert.Equal(t, "***", Mask("+12345"))
}
