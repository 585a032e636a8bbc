package model

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

// Metadata constraints enforced at token creation.
const (
	MinSymbolLen = 3
	MaxSymbolLen = 10
	MinNameLen   = 2
	MaxNameLen   = 50
	MaxDecimals  = 9
)

var symbolPattern = regexp.MustCompile(`^[A-Z]{3,10}$`)

// Token is the configuration record for one issued security. A token is
// superseded (active = false) when a stock split creates its successor
// generation; balances of an inactive token remain readable but immutable.
type Token struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	Symbol             string     `db:"symbol" json:"symbol"`
	Name               string     `db:"name" json:"name"`
	Decimals           int        `db:"decimals" json:"decimals"`
	TotalSupply        string     `db:"total_supply" json:"total_supply"` // NUMERIC(78,0) as string
	Authority          string     `db:"authority" json:"authority"`
	Active             bool       `db:"active" json:"active"`
	Generation         int        `db:"generation" json:"generation"`
	PredecessorTokenID *uuid.UUID `db:"predecessor_token_id" json:"predecessor_token_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// ValidSymbol reports whether s is 3-10 uppercase ASCII letters.
func ValidSymbol(s string) bool {
	return symbolPattern.MatchString(s)
}

// ValidName reports whether n is within the 2-50 character bound.
func ValidName(n string) bool {
	return len(n) >= MinNameLen && len(n) <= MaxNameLen
}

// ValidDecimals reports whether d is within the 0-9 bound.
func ValidDecimals(d int) bool {
	return d >= 0 && d <= MaxDecimals
}
