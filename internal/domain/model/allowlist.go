package model

import (
	"time"

	"github.com/google/uuid"
)

type AllowlistStatus string

const (
	AllowlistApproved AllowlistStatus = "APPROVED"
	AllowlistRevoked  AllowlistStatus = "REVOKED"
)

// AllowlistEntry records a wallet's approval state for one token. Entries are
// never deleted, only toggled, so the approval history stays auditable and
// re-approving a wallet is idempotent.
type AllowlistEntry struct {
	TokenID    uuid.UUID       `db:"token_id"`
	Wallet     string          `db:"wallet"`
	Status     AllowlistStatus `db:"status"`
	ApprovedBy string          `db:"approved_by"`
	ApprovedAt time.Time       `db:"approved_at"`
	RevokedAt  *time.Time      `db:"revoked_at"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
}

// IsApproved reports whether the entry grants gate passage. A nil entry is
// equivalent to revoked (default-deny).
func (e *AllowlistEntry) IsApproved() bool {
	return e != nil && e.Status == AllowlistApproved
}
