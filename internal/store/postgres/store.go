package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/store"
	"github.com/google/uuid"
)

// Store implements store.Store on postgres. Per-token writer serialization
// comes from SELECT ... FOR UPDATE on the token rows at the start of every
// Within; the event append shares the transaction with the mutation it
// records.
type Store struct {
	db        *DB
	tokens    *TokenRepo
	allowlist *AllowlistRepo
	balances  *BalanceRepo
	transfers *TransferRepo
	splits    *SplitRepo
	events    *EventRepo
}

var _ store.Store = (*Store)(nil)

func NewStore(db *DB) *Store {
	return &Store{
		db:        db,
		tokens:    NewTokenRepo(db),
		allowlist: NewAllowlistRepo(db),
		balances:  NewBalanceRepo(db),
		transfers: NewTransferRepo(db),
		splits:    NewSplitRepo(db),
		events:    NewEventRepo(db),
	}
}

func (s *Store) Within(ctx context.Context, lockTokens []uuid.UUID, fn func(tx store.Tx) error) error {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	// Lock token rows in a global order so two transactions holding
	// different tokens never wait on each other.
	for _, id := range sortedUnique(lockTokens) {
		if err := s.tokens.LockTx(ctx, sqlTx, id); err != nil {
			sqlTx.Rollback()
			return err
		}
	}

	if err := fn(&pgTx{store: s, tx: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func sortedUnique(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (s *Store) GetToken(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	return s.tokens.Get(ctx, id)
}

func (s *Store) ListTokens(ctx context.Context) ([]model.Token, error) {
	return s.tokens.List(ctx)
}

func (s *Store) GetAllowlistEntry(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error) {
	return s.allowlist.Get(ctx, tokenID, wallet)
}

func (s *Store) GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error) {
	return s.splits.Get(ctx, id)
}

func (s *Store) ListHolders(ctx context.Context, tokenID uuid.UUID) ([]model.Balance, error) {
	return s.balances.ListByToken(ctx, tokenID)
}

func (s *Store) ListTransfers(ctx context.Context, tokenID uuid.UUID, limit int) ([]model.TransferRecord, error) {
	return s.transfers.ListByToken(ctx, tokenID, limit)
}

func (s *Store) ListEvents(ctx context.Context, tokenID uuid.UUID, upToSequence int64) ([]event.LedgerEvent, error) {
	return s.events.ListByToken(ctx, tokenID, upToSequence)
}

func (s *Store) LatestSequence(ctx context.Context, tokenID uuid.UUID) (int64, error) {
	return s.events.LatestSequence(ctx, tokenID)
}

// pgTx adapts the repo layer to store.Tx over one *sql.Tx.
type pgTx struct {
	store *Store
	tx    *sql.Tx
}

var _ store.Tx = (*pgTx)(nil)

func (t *pgTx) GetToken(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	return t.store.tokens.GetTx(ctx, t.tx, id)
}

func (t *pgTx) InsertToken(ctx context.Context, tok *model.Token) error {
	return t.store.tokens.InsertTx(ctx, t.tx, tok)
}

func (t *pgTx) UpdateToken(ctx context.Context, tok *model.Token) error {
	return t.store.tokens.UpdateTx(ctx, t.tx, tok)
}

func (t *pgTx) GetAllowlistEntry(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error) {
	return t.store.allowlist.GetTx(ctx, t.tx, tokenID, wallet)
}

func (t *pgTx) UpsertAllowlistEntry(ctx context.Context, e *model.AllowlistEntry) error {
	return t.store.allowlist.UpsertTx(ctx, t.tx, e)
}

func (t *pgTx) GetBalance(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.Balance, error) {
	return t.store.balances.GetTx(ctx, t.tx, tokenID, wallet)
}

func (t *pgTx) AdjustBalance(ctx context.Context, tokenID uuid.UUID, wallet string, delta string, sequence int64) error {
	return t.store.balances.AdjustTx(ctx, t.tx, tokenID, wallet, delta, sequence)
}

func (t *pgTx) CountHolders(ctx context.Context, tokenID uuid.UUID) (int64, error) {
	return t.store.balances.CountByTokenTx(ctx, t.tx, tokenID)
}

func (t *pgTx) InsertTransferRecord(ctx context.Context, r *model.TransferRecord) error {
	return t.store.transfers.InsertTx(ctx, t.tx, r)
}

func (t *pgTx) GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error) {
	return t.store.splits.GetTx(ctx, t.tx, id)
}

func (t *pgTx) InsertSplit(ctx context.Context, s *model.Split) error {
	return t.store.splits.InsertTx(ctx, t.tx, s)
}

func (t *pgTx) UpdateSplit(ctx context.Context, s *model.Split) error {
	return t.store.splits.UpdateTx(ctx, t.tx, s)
}

func (t *pgTx) IsHolderMigrated(ctx context.Context, splitID uuid.UUID, wallet string) (bool, error) {
	return t.store.splits.IsHolderMigratedTx(ctx, t.tx, splitID, wallet)
}

func (t *pgTx) MarkHolderMigrated(ctx context.Context, splitID uuid.UUID, wallet string) error {
	return t.store.splits.MarkHolderMigratedTx(ctx, t.tx, splitID, wallet)
}

func (t *pgTx) AppendEvent(ctx context.Context, ev *event.LedgerEvent) (int64, error) {
	return t.store.events.AppendTx(ctx, t.tx, ev)
}
