package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxSplitRatio is the documented upper bound for a stock split multiplier.
const MaxSplitRatio = 1000

type SplitState string

const (
	SplitInitiated SplitState = "INITIATED"
	SplitMigrating SplitState = "MIGRATING"
	SplitCompleted SplitState = "COMPLETED"
)

// Split tracks one stock split from initiation through per-holder migration.
// HolderCount is frozen at execution time; the split completes when
// HoldersMigrated reaches it.
type Split struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	OldTokenID      uuid.UUID  `db:"old_token_id" json:"old_token_id"`
	NewTokenID      uuid.UUID  `db:"new_token_id" json:"new_token_id"`
	Ratio           int64      `db:"ratio" json:"ratio"`
	State           SplitState `db:"state" json:"state"`
	HolderCount     int64      `db:"holder_count" json:"holder_count"`
	HoldersMigrated int64      `db:"holders_migrated" json:"holders_migrated"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// ValidSplitRatio reports whether r is a positive integer within bounds.
func ValidSplitRatio(r int64) bool {
	return r > 0 && r <= MaxSplitRatio
}
