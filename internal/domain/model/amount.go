package model

import (
	"fmt"
	"math/big"
	"strings"
)

// Amounts are stored as NUMERIC(78,0) strings and computed with big.Int, so
// split multiplication can never overflow a machine word.

// ParseAmount parses a non-negative integer amount string.
func ParseAmount(s string) (*big.Int, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("parse amount %q: not a base-10 integer", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("parse amount %q: negative", s)
	}
	return n, nil
}

// FormatAmount renders n in the canonical storage form.
func FormatAmount(n *big.Int) string {
	return n.String()
}
