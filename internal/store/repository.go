package store

import (
	"context"

	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/google/uuid"
)

// Tx is a single atomic unit of work over ledger state. All methods see a
// consistent snapshot; nothing is visible to readers until the enclosing
// Within commits. Entity getters return (nil, nil) when the record does not
// exist, matching database/sql no-rows handling.
type Tx interface {
	GetToken(ctx context.Context, id uuid.UUID) (*model.Token, error)
	InsertToken(ctx context.Context, t *model.Token) error
	UpdateToken(ctx context.Context, t *model.Token) error

	GetAllowlistEntry(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error)
	UpsertAllowlistEntry(ctx context.Context, e *model.AllowlistEntry) error

	GetBalance(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.Balance, error)
	// AdjustBalance applies a signed delta to (tokenID, wallet), creating the
	// row on first credit. sequence records the event that caused the change.
	AdjustBalance(ctx context.Context, tokenID uuid.UUID, wallet string, delta string, sequence int64) error
	// CountHolders counts the token's balance rows, zero balances included.
	CountHolders(ctx context.Context, tokenID uuid.UUID) (int64, error)

	InsertTransferRecord(ctx context.Context, r *model.TransferRecord) error

	GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error)
	InsertSplit(ctx context.Context, s *model.Split) error
	UpdateSplit(ctx context.Context, s *model.Split) error
	IsHolderMigrated(ctx context.Context, splitID uuid.UUID, wallet string) (bool, error)
	MarkHolderMigrated(ctx context.Context, splitID uuid.UUID, wallet string) error

	// AppendEvent assigns the next global sequence and stages the event for
	// commit. The returned sequence is written back into ev.
	AppendEvent(ctx context.Context, ev *event.LedgerEvent) (int64, error)
}

// Store is the single source of truth for ledger state. Mutations run inside
// Within; reads outside a Tx observe committed state only.
type Store interface {
	// Within runs fn as one atomic unit of work. Writers are serialized per
	// token: fn does not start until exclusive access to every token in
	// lockTokens is held, so a gate check inside fn can never observe state
	// that a concurrent revoke is mutating. An error from fn rolls back
	// every staged change, including appended events.
	Within(ctx context.Context, lockTokens []uuid.UUID, fn func(tx Tx) error) error

	GetToken(ctx context.Context, id uuid.UUID) (*model.Token, error)
	// ListTokens returns every token, all generations included, ordered by
	// creation time.
	ListTokens(ctx context.Context) ([]model.Token, error)
	GetAllowlistEntry(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error)
	GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error)
	ListHolders(ctx context.Context, tokenID uuid.UUID) ([]model.Balance, error)
	ListTransfers(ctx context.Context, tokenID uuid.UUID, limit int) ([]model.TransferRecord, error)

	// ListEvents returns the token's events in ascending sequence order.
	// upToSequence <= 0 means no bound.
	ListEvents(ctx context.Context, tokenID uuid.UUID, upToSequence int64) ([]event.LedgerEvent, error)
	// LatestSequence returns the highest committed sequence for the token,
	// or 0 when the token has no events.
	LatestSequence(ctx context.Context, tokenID uuid.UUID) (int64, error)
}
