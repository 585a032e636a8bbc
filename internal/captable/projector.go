// Package captable reconstructs ownership snapshots by folding the
// append-only event log. The projector never mutates upstream state; it is a
// read-only, eventually-consistent consumer that applies events strictly in
// sequence order.
package captable

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/cache"
	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/metrics"
	"github.com/google/uuid"
)

// snapshotCacheSize bounds how many per-token snapshots stay resident.
const snapshotCacheSize = 256

// EventSource is the read side of the event log the projector folds.
type EventSource interface {
	ListEvents(ctx context.Context, tokenID uuid.UUID, upToSequence int64) ([]event.LedgerEvent, error)
	LatestSequence(ctx context.Context, tokenID uuid.UUID) (int64, error)
}

// Holder is one cap table row.
type Holder struct {
	Wallet     string `json:"wallet"`
	Balance    string `json:"balance"`
	Percentage string `json:"percentage"`
	Approved   bool   `json:"approved"`
}

// Snapshot is a point-in-time ownership view. Holders are sorted by balance
// descending, wallet ascending on ties, so two replays of the same log are
// bit-identical.
type Snapshot struct {
	TokenID      uuid.UUID `json:"token_id"`
	AsOfSequence int64     `json:"as_of_sequence"`
	TotalSupply  string    `json:"total_supply"`
	Holders      []Holder  `json:"holders"`
}

// Projector folds ledger events into cap table snapshots, caching the latest
// snapshot per token. The cache is invalidated by any newer event sequence
// for that token.
type Projector struct {
	source EventSource
	logger *slog.Logger
	cache  *cache.LRU[uuid.UUID, cached]
}

type cached struct {
	snap *Snapshot
	seq  int64
}

func NewProjector(source EventSource, logger *slog.Logger) *Projector {
	return &Projector{
		source: source,
		logger: logger.With("component", "captable"),
		cache:  cache.NewLRU[uuid.UUID, cached](snapshotCacheSize),
	}
}

// CapTable returns the token's ownership snapshot. A nil asOfSequence means
// the latest; otherwise the snapshot is reconstructed as of that ledger
// height. Historical queries bypass the cache.
func (p *Projector) CapTable(ctx context.Context, tokenID uuid.UUID, asOfSequence *int64) (*Snapshot, error) {
	if asOfSequence != nil {
		return p.replay(ctx, tokenID, *asOfSequence)
	}

	latest, err := p.source.LatestSequence(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("latest sequence: %w", err)
	}

	if c, ok := p.cache.Get(tokenID); ok && c.seq == latest {
		metrics.CapTableBuilds.WithLabelValues("cache").Inc()
		return c.snap, nil
	}

	snap, err := p.replay(ctx, tokenID, 0)
	if err != nil {
		return nil, err
	}

	p.cache.Put(tokenID, cached{snap: snap, seq: latest})
	return snap, nil
}

func (p *Projector) replay(ctx context.Context, tokenID uuid.UUID, upTo int64) (*Snapshot, error) {
	start := time.Now()
	events, err := p.source.ListEvents(ctx, tokenID, upTo)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	snap, err := Project(tokenID, events)
	if err != nil {
		return nil, err
	}
	metrics.CapTableBuilds.WithLabelValues("replay").Inc()
	metrics.CapTableBuildLatency.Observe(time.Since(start).Seconds())
	p.logger.Debug("cap table replayed",
		"token_id", tokenID, "events", len(events), "as_of", snap.AsOfSequence)
	return snap, nil
}

// Project is the pure fold: it applies events in the given (ascending
// sequence) order to an empty accumulator and renders the snapshot. It holds
// no hidden state, so identical inputs always produce identical outputs.
func Project(tokenID uuid.UUID, events []event.LedgerEvent) (*Snapshot, error) {
	acc := accumulator{
		balances: make(map[string]*big.Int),
		approved: make(map[string]bool),
		supply:   big.NewInt(0),
	}
	for i := range events {
		if err := acc.apply(&events[i]); err != nil {
			return nil, err
		}
	}
	return acc.snapshot(tokenID), nil
}

type accumulator struct {
	balances map[string]*big.Int
	approved map[string]bool
	supply   *big.Int
	lastSeq  int64
}

func (a *accumulator) apply(ev *event.LedgerEvent) error {
	if ev.Sequence <= a.lastSeq {
		return fmt.Errorf("event %d out of order after %d", ev.Sequence, a.lastSeq)
	}
	a.lastSeq = ev.Sequence

	switch ev.Type {
	case event.TypeTokensMinted:
		var p event.TokensMinted
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if err := a.credit(p.Recipient, p.Amount); err != nil {
			return err
		}
		return a.setSupply(p.NewSupply)

	case event.TypeTransferConfirmed:
		var p event.TransferConfirmed
		if err := ev.Decode(&p); err != nil {
			return err
		}
		if err := a.debit(p.From, p.Amount); err != nil {
			return err
		}
		return a.credit(p.To, p.Amount)

	case event.TypeHolderMigrated:
		var p event.HolderMigrated
		if err := ev.Decode(&p); err != nil {
			return err
		}
		a.approved[p.Wallet] = p.Approved
		return a.credit(p.Wallet, p.NewBalance)

	case event.TypeStockSplitExecuted:
		var p event.StockSplitExecuted
		if err := ev.Decode(&p); err != nil {
			return err
		}
		return a.setSupply(p.TotalSupply)

	case event.TypeWalletApproved:
		var p event.WalletApproved
		if err := ev.Decode(&p); err != nil {
			return err
		}
		a.approved[p.Wallet] = true

	case event.TypeWalletRevoked:
		var p event.WalletRevoked
		if err := ev.Decode(&p); err != nil {
			return err
		}
		a.approved[p.Wallet] = false
	}

	// TokenInitialized, TransferRejected, SymbolChanged carry no balance
	// effect.
	return nil
}

func (a *accumulator) credit(wallet, amount string) error {
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("bad amount %q", amount)
	}
	cur, ok := a.balances[wallet]
	if !ok {
		cur = big.NewInt(0)
		a.balances[wallet] = cur
	}
	cur.Add(cur, n)
	return nil
}

func (a *accumulator) debit(wallet, amount string) error {
	n, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("bad amount %q", amount)
	}
	cur, ok := a.balances[wallet]
	if !ok {
		cur = big.NewInt(0)
		a.balances[wallet] = cur
	}
	cur.Sub(cur, n)
	return nil
}

func (a *accumulator) setSupply(s string) error {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("bad supply %q", s)
	}
	a.supply = n
	return nil
}

func (a *accumulator) snapshot(tokenID uuid.UUID) *Snapshot {
	holders := make([]Holder, 0, len(a.balances))
	for wallet, bal := range a.balances {
		if bal.Sign() <= 0 {
			continue
		}
		holders = append(holders, Holder{
			Wallet:     wallet,
			Balance:    bal.String(),
			Percentage: percentage(bal, a.supply),
			Approved:   a.approved[wallet],
		})
	}
	sort.Slice(holders, func(i, j int) bool {
		bi, _ := new(big.Int).SetString(holders[i].Balance, 10)
		bj, _ := new(big.Int).SetString(holders[j].Balance, 10)
		switch bi.Cmp(bj) {
		case 1:
			return true
		case -1:
			return false
		default:
			return holders[i].Wallet < holders[j].Wallet
		}
	})
	return &Snapshot{
		TokenID:      tokenID,
		AsOfSequence: a.lastSeq,
		TotalSupply:  a.supply.String(),
		Holders:      holders,
	}
}

// percentage renders balance/supply*100 with fixed 4-decimal precision.
func percentage(balance, supply *big.Int) string {
	if supply.Sign() <= 0 {
		return "0.0000"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Mul(balance, big.NewInt(100)), supply)
	return r.FloatString(4)
}
