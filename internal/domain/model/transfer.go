package model

import (
	"time"

	"github.com/google/uuid"
)

type TransferResult string

const (
	TransferConfirmed TransferResult = "CONFIRMED"
	TransferRejected  TransferResult = "REJECTED"
)

// RejectReason identifies which gate blocked a rejected transfer.
type RejectReason string

const (
	RejectSenderNotApproved    RejectReason = "SENDER_NOT_APPROVED"
	RejectRecipientNotApproved RejectReason = "RECIPIENT_NOT_APPROVED"
	RejectInsufficientBalance  RejectReason = "INSUFFICIENT_BALANCE"
)

// TransferRecord is the authoritative audit trail entry for one transfer
// attempt. Rejected attempts are recorded too, with the reason, so blocked
// transfers are auditable rather than silently dropped.
type TransferRecord struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	TokenID      uuid.UUID      `db:"token_id" json:"token_id"`
	FromWallet   string         `db:"from_wallet" json:"from_wallet"`
	ToWallet     string         `db:"to_wallet" json:"to_wallet"`
	Amount       string         `db:"amount" json:"amount"`
	Sequence     int64          `db:"sequence" json:"sequence"`
	Result       TransferResult `db:"result" json:"result"`
	RejectReason *RejectReason  `db:"reject_reason" json:"reject_reason,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}
