package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidSymbol(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		symbol string
		valid  bool
	}{
		{name: "minimum length", symbol: "ACM", valid: true},
		{name: "maximum length", symbol: "ACMEHOLDCO", valid: true},
		{name: "too short", symbol: "AB", valid: false},
		{name: "too long", symbol: "ACMEHOLDCOX", valid: false},
		{name: "lowercase rejected", symbol: "acme", valid: false},
		{name: "mixed case rejected", symbol: "Acme", valid: false},
		{name: "digits rejected", symbol: "ACM3", valid: false},
		{name: "empty", symbol: "", valid: false},
		{name: "whitespace", symbol: "AC ME", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.valid, ValidSymbol(tt.symbol))
		})
	}
}

func TestValidName(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidName("OK"))
	assert.True(t, ValidName("Acme Corporation"))
	assert.True(t, ValidName(strings.Repeat("x", MaxNameLen)))
	assert.False(t, ValidName("x"))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName(strings.Repeat("x", MaxNameLen+1)))
}

func TestValidDecimals(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidDecimals(0))
	assert.True(t, ValidDecimals(9))
	assert.False(t, ValidDecimals(-1))
	assert.False(t, ValidDecimals(10))
}

func TestValidSplitRatio(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidSplitRatio(1))
	assert.True(t, ValidSplitRatio(7))
	assert.True(t, ValidSplitRatio(MaxSplitRatio))
	assert.False(t, ValidSplitRatio(0))
	assert.False(t, ValidSplitRatio(-3))
	assert.False(t, ValidSplitRatio(MaxSplitRatio+1))
}
