package phone

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reasonOf(t *testing.T, err error) Reason {
	t.Helper()
	var rej *RejectionError
	require.True(t, errors.As(err, &rej), "expected RejectionError, got %v", err)
	return rej.Reason
}

func TestNormalizeAcceptedForms(t *testing.T) {
	n := New()

	inputs := []string{
		"+254712345678",
		"254712345678",
		"0712345678",
		"712345678",
		"+254 712 345 678",
		"(0712) 345-678",
		" 254-712-345-678 ",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := n.Normalize(in)
			require.NoError(t, err)
			assert.Equal(t, "712345678", got)
		})
	}
}

func TestNormalizeSecondaryPrefix(t *testing.T) {
	got, err := New().Normalize("0110345678")
	require.NoError(t, err)
	assert.Equal(t, "110345678", got)
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		reason Reason
	}{
		{"empty", "", EmptyInput},
		{"whitespace", "   ", EmptyInput},
		{"undefined literal", "undefined", EmptyInput},
		{"null literal", "null", EmptyInput},
		{"letters only", "abc", EmptyInput},
		{"plus only", "+", EmptyInput},
		{"country code too short", "+25471234567", BadLength},
		{"country code too long", "+2547123456789", BadLength},
		{"bare country code too short", "25471234567", BadLength},
		{"trunk too short", "071234567", BadLength},
		{"trunk too long", "07123456789", BadLength},
		{"foreign country code", "+44712345678", UnrecognizedFormat},
		{"eight digits", "71234567", UnrecognizedFormat},
		{"ten digits no prefix", "7123456789", UnrecognizedFormat},
		{"bad prefix", "0812345678", InvalidPrefix},
		{"bad prefix bare", "912345678", InvalidPrefix},
		{"bad prefix international", "+254512345678", InvalidPrefix},
	}

	n := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.input)
			require.Error(t, err)
			assert.Empty(t, got)
			assert.Equal(t, tt.reason, reasonOf(t, err))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := New()
	for _, in := range []string{"+254712345678", "0110345678", "712345678"} {
		first, err := n.Normalize(in)
		require.NoError(t, err)

		second, err := n.Normalize(first)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}

func TestNormalizeConfigurablePrefixes(t *testing.T) {
	n := New(WithPrefixes("8"))

	got, err := n.Normalize("0812345678")
	require.NoError(t, err)
	assert.Equal(t, "812345678", got)

	_, err = n.Normalize("0712345678")
	assert.Equal(t, InvalidPrefix, reasonOf(t, err))
}

func TestNormalizeIgnoresInvalidPrefixOptions(t *testing.T) {
	n := New(WithPrefixes("77", "x", ""))

	got, err := n.Normalize("0712345678")
	require.NoError(t, err)
	assert.Equal(t, "712345678", got)
}

func TestNormalizeCountryCode(t *testing.T) {
	n := New(WithCountryCode("+255"))

	got, err := n.Normalize("+255712345678")
	require.NoError(t, err)
	assert.Equal(t, "712345678", got)
	assert.Equal(t, "+255712345678", n.E164(got))
}

func TestRejectionMessages(t *testing.T) {
	for _, r := range []Reason{EmptyInput, BadLength, UnrecognizedFormat, InvalidPrefix} {
		err := &RejectionError{Reason: r}
		assert.NotEmpty(t, err.Message())
		assert.Contains(t, err.Error(), string(r))
	}
}

func TestMask(t *testing.T) {
	assert.Equal(t, "******678", Mask("712345678"))
	assert.Equal(t, "**", Mask("12"))
}
