// Package memory provides an in-memory Store for unit tests and local
// development. It implements the same per-token serialization and
// all-or-nothing commit semantics as the postgres store: mutations are
// staged in a transaction and applied only when the unit of work succeeds.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/store"
	"github.com/google/uuid"
)

type Store struct {
	mu        sync.RWMutex
	tokens    map[uuid.UUID]model.Token
	allow     map[string]model.AllowlistEntry // keyed by model.AllowlistKey
	balances  map[string]model.Balance        // keyed by model.BalanceKey
	splits    map[uuid.UUID]model.Split
	migrated  map[uuid.UUID]map[string]time.Time
	transfers []model.TransferRecord
	events    []event.LedgerEvent

	// seq mirrors a BIGSERIAL: aborted transactions may burn sequences,
	// leaving gaps, but committed sequences per token are strictly
	// increasing because writers are serialized per token.
	seq atomic.Int64

	locksMu sync.Mutex
	locks   map[uuid.UUID]*sync.Mutex
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tokens:   make(map[uuid.UUID]model.Token),
		allow:    make(map[string]model.AllowlistEntry),
		balances: make(map[string]model.Balance),
		splits:   make(map[uuid.UUID]model.Split),
		migrated: make(map[uuid.UUID]map[string]time.Time),
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// Within acquires the per-token locks in canonical order (deadlock-free for
// the two-token migration case), runs fn against a staged view, and applies
// the staged changes only when fn succeeds.
func (s *Store) Within(ctx context.Context, lockTokens []uuid.UUID, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	locks := s.acquire(lockTokens)
	defer func() {
		for i := len(locks) - 1; i >= 0; i-- {
			locks[i].Unlock()
		}
	}()

	tx := &memTx{
		s:        s,
		tokens:   make(map[uuid.UUID]*model.Token),
		allow:    make(map[string]*model.AllowlistEntry),
		balances: make(map[string]*model.Balance),
		splits:   make(map[uuid.UUID]*model.Split),
		migrated: make(map[uuid.UUID]map[string]bool),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) acquire(lockTokens []uuid.UUID) []*sync.Mutex {
	ids := make([]uuid.UUID, 0, len(lockTokens))
	seen := make(map[uuid.UUID]bool, len(lockTokens))
	for _, id := range lockTokens {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	locks := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		s.locksMu.Lock()
		l, ok := s.locks[id]
		if !ok {
			l = &sync.Mutex{}
			s.locks[id] = l
		}
		s.locksMu.Unlock()
		l.Lock()
		locks = append(locks, l)
	}
	return locks
}

// --- committed read side ---

func (s *Store) GetToken(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tokens[id]; ok {
		c := t
		return &c, nil
	}
	return nil, nil
}

func (s *Store) ListTokens(ctx context.Context) ([]model.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Token, 0, len(s.tokens))
	for _, t := range s.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) GetAllowlistEntry(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.allow[model.AllowlistKey(tokenID, wallet)]; ok {
		c := e
		return &c, nil
	}
	return nil, nil
}

func (s *Store) GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sp, ok := s.splits[id]; ok {
		c := sp
		return &c, nil
	}
	return nil, nil
}

func (s *Store) ListHolders(ctx context.Context, tokenID uuid.UUID) ([]model.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Balance
	for _, b := range s.balances {
		if b.TokenID == tokenID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Wallet < out[j].Wallet })
	return out, nil
}

func (s *Store) ListTransfers(ctx context.Context, tokenID uuid.UUID, limit int) ([]model.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.TransferRecord
	for i := len(s.transfers) - 1; i >= 0; i-- {
		if s.transfers[i].TokenID != tokenID {
			continue
		}
		out = append(out, s.transfers[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListEvents(ctx context.Context, tokenID uuid.UUID, upToSequence int64) ([]event.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []event.LedgerEvent
	for _, ev := range s.events {
		if ev.TokenID != tokenID {
			continue
		}
		if upToSequence > 0 && ev.Sequence > upToSequence {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) LatestSequence(ctx context.Context, tokenID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest int64
	for _, ev := range s.events {
		if ev.TokenID == tokenID && ev.Sequence > latest {
			latest = ev.Sequence
		}
	}
	return latest, nil
}

// --- staged transaction ---

type memTx struct {
	s         *Store
	tokens    map[uuid.UUID]*model.Token
	allow     map[string]*model.AllowlistEntry
	balances  map[string]*model.Balance
	splits    map[uuid.UUID]*model.Split
	migrated  map[uuid.UUID]map[string]bool
	transfers []model.TransferRecord
	events    []event.LedgerEvent
}

var _ store.Tx = (*memTx)(nil)

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range tx.tokens {
		s.tokens[id] = *t
	}
	for k, e := range tx.allow {
		s.allow[k] = *e
	}
	for k, b := range tx.balances {
		s.balances[k] = *b
	}
	for id, sp := range tx.splits {
		s.splits[id] = *sp
	}
	for splitID, wallets := range tx.migrated {
		m, ok := s.migrated[splitID]
		if !ok {
			m = make(map[string]time.Time)
			s.migrated[splitID] = m
		}
		for w := range wallets {
			m[w] = time.Now().UTC()
		}
	}
	s.transfers = append(s.transfers, tx.transfers...)
	s.events = append(s.events, tx.events...)
}

func (tx *memTx) GetToken(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	if t, ok := tx.tokens[id]; ok {
		c := *t
		return &c, nil
	}
	return tx.s.GetToken(ctx, id)
}

func (tx *memTx) InsertToken(ctx context.Context, t *model.Token) error {
	existing, err := tx.GetToken(ctx, t.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("insert token: %s already exists", t.ID)
	}
	c := *t
	tx.tokens[t.ID] = &c
	return nil
}

func (tx *memTx) UpdateToken(ctx context.Context, t *model.Token) error {
	existing, err := tx.GetToken(ctx, t.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("update token: %s not found", t.ID)
	}
	c := *t
	tx.tokens[t.ID] = &c
	return nil
}

func (tx *memTx) GetAllowlistEntry(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error) {
	if e, ok := tx.allow[model.AllowlistKey(tokenID, wallet)]; ok {
		c := *e
		return &c, nil
	}
	return tx.s.GetAllowlistEntry(ctx, tokenID, wallet)
}

func (tx *memTx) UpsertAllowlistEntry(ctx context.Context, e *model.AllowlistEntry) error {
	c := *e
	tx.allow[model.AllowlistKey(e.TokenID, e.Wallet)] = &c
	return nil
}

func (tx *memTx) GetBalance(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.Balance, error) {
	if b, ok := tx.balances[model.BalanceKey(tokenID, wallet)]; ok {
		c := *b
		return &c, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	if b, ok := tx.s.balances[model.BalanceKey(tokenID, wallet)]; ok {
		c := b
		return &c, nil
	}
	return nil, nil
}

func (tx *memTx) AdjustBalance(ctx context.Context, tokenID uuid.UUID, wallet string, delta string, sequence int64) error {
	d, ok := new(big.Int).SetString(delta, 10)
	if !ok {
		return fmt.Errorf("adjust balance: bad delta %q", delta)
	}

	cur, err := tx.GetBalance(ctx, tokenID, wallet)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if cur == nil {
		cur = &model.Balance{
			TokenID:   tokenID,
			Wallet:    wallet,
			Amount:    "0",
			CreatedAt: now,
		}
	}
	amount, err := model.ParseAmount(cur.Amount)
	if err != nil {
		return err
	}
	amount.Add(amount, d)
	if amount.Sign() < 0 {
		return fmt.Errorf("adjust balance: %s would go negative for wallet %s", tokenID, wallet)
	}
	cur.Amount = model.FormatAmount(amount)
	cur.LastUpdatedSequence = sequence
	cur.UpdatedAt = now
	tx.balances[model.BalanceKey(tokenID, wallet)] = cur
	return nil
}

func (tx *memTx) CountHolders(ctx context.Context, tokenID uuid.UUID) (int64, error) {
	seen := make(map[string]bool)
	tx.s.mu.RLock()
	for _, b := range tx.s.balances {
		if b.TokenID == tokenID {
			seen[b.Wallet] = true
		}
	}
	tx.s.mu.RUnlock()
	for _, b := range tx.balances {
		if b.TokenID == tokenID {
			seen[b.Wallet] = true
		}
	}
	return int64(len(seen)), nil
}

func (tx *memTx) InsertTransferRecord(ctx context.Context, r *model.TransferRecord) error {
	tx.transfers = append(tx.transfers, *r)
	return nil
}

func (tx *memTx) GetSplit(ctx context.Context, id uuid.UUID) (*model.Split, error) {
	if sp, ok := tx.splits[id]; ok {
		c := *sp
		return &c, nil
	}
	return tx.s.GetSplit(ctx, id)
}

func (tx *memTx) InsertSplit(ctx context.Context, sp *model.Split) error {
	c := *sp
	tx.splits[sp.ID] = &c
	return nil
}

func (tx *memTx) UpdateSplit(ctx context.Context, sp *model.Split) error {
	c := *sp
	tx.splits[sp.ID] = &c
	return nil
}

func (tx *memTx) IsHolderMigrated(ctx context.Context, splitID uuid.UUID, wallet string) (bool, error) {
	if tx.migrated[splitID][wallet] {
		return true, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	_, ok := tx.s.migrated[splitID][wallet]
	return ok, nil
}

func (tx *memTx) MarkHolderMigrated(ctx context.Context, splitID uuid.UUID, wallet string) error {
	m, ok := tx.migrated[splitID]
	if !ok {
		m = make(map[string]bool)
		tx.migrated[splitID] = m
	}
	m[wallet] = true
	return nil
}

func (tx *memTx) AppendEvent(ctx context.Context, ev *event.LedgerEvent) (int64, error) {
	ev.Sequence = tx.s.seq.Add(1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	tx.events = append(tx.events, *ev)
	return ev.Sequence, nil
}
