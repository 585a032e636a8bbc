package model

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		expected  string
		expectErr bool
	}{
		{name: "zero", input: "0", expected: "0"},
		{name: "empty is zero", input: "", expected: "0"},
		{name: "whitespace trimmed", input: "  42  ", expected: "42"},
		{name: "beyond uint64", input: "340282366920938463463374607431768211456", expected: "340282366920938463463374607431768211456"},
		{name: "negative", input: "-1", expectErr: true},
		{name: "non-numeric", input: "abc", expectErr: true},
		{name: "decimal point", input: "1.5", expectErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			n, err := ParseAmount(tt.input)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, FormatAmount(n))
		})
	}
}

func TestFormatAmount_Roundtrip(t *testing.T) {
	t.Parallel()

	n := new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	parsed, err := ParseAmount(FormatAmount(n))
	require.NoError(t, err)
	assert.Zero(t, n.Cmp(parsed))
}
