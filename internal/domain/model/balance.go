package model

import (
	"time"

	"github.com/google/uuid"
)

// Balance is the holding of one wallet in one token, in smallest units.
type Balance struct {
	TokenID             uuid.UUID `db:"token_id"`
	Wallet              string    `db:"wallet"`
	Amount              string    `db:"amount"` // NUMERIC(78,0) as string
	LastUpdatedSequence int64     `db:"last_updated_sequence"`
	CreatedAt           time.Time `db:"created_at"`
	UpdatedAt           time.Time `db:"updated_at"`
}
