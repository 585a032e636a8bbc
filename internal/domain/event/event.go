package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeTokenInitialized   Type = "TOKEN_INITIALIZED"
	TypeWalletApproved     Type = "WALLET_APPROVED"
	TypeWalletRevoked      Type = "WALLET_REVOKED"
	TypeTokensMinted       Type = "TOKENS_MINTED"
	TypeTransferConfirmed  Type = "TRANSFER_CONFIRMED"
	TypeTransferRejected   Type = "TRANSFER_REJECTED"
	TypeStockSplitExecuted Type = "STOCK_SPLIT_EXECUTED"
	TypeHolderMigrated     Type = "HOLDER_MIGRATED"
	TypeSymbolChanged      Type = "SYMBOL_CHANGED"
)

// LedgerEvent is one immutable entry in the append-only log. Sequence is a
// global monotonic height assigned at append time; per token, committed
// sequences are strictly increasing because writers are serialized per token.
type LedgerEvent struct {
	Sequence  int64           `db:"sequence" json:"sequence"`
	Type      Type            `db:"event_type" json:"type"`
	TokenID   uuid.UUID       `db:"token_id" json:"token_id"`
	Payload   json.RawMessage `db:"payload" json:"payload"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Decode unmarshals the payload into v.
func (e *LedgerEvent) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// New builds an unsequenced event; the store assigns the sequence on append.
func New(t Type, tokenID uuid.UUID, payload any) (*LedgerEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return &LedgerEvent{Type: t, TokenID: tokenID, Payload: raw}, nil
}
