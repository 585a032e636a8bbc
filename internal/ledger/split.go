package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ExecuteStockSplit creates the successor token generation with ratio-scaled
// supply and freezes the old one. Holder balances do NOT move here; each
// holder is migrated separately via MigrateHolderSplit so the split never
// needs one unbounded operation over the whole holder set.
//
// Commit order is create-new-then-deactivate-old, inside one unit of work, so
// an interrupted split can never leave the issuer with zero token
// generations.
func (s *Service) ExecuteStockSplit(ctx context.Context, caller string, oldTokenID uuid.UUID, ratio int64, newSymbol, newName string) (*model.Split, *model.Token, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ExecuteStockSplit")
	defer span.End()

	if !model.ValidSplitRatio(ratio) {
		return nil, nil, s.fail(span, "execute_stock_split", Errf(KindInvalidSplitRatio, "ratio %d must be in 1..%d", ratio, model.MaxSplitRatio))
	}
	if !model.ValidSymbol(newSymbol) {
		return nil, nil, s.fail(span, "execute_stock_split", Errf(KindInvalidMetadata, "symbol %q: must be %d-%d uppercase letters", newSymbol, model.MinSymbolLen, model.MaxSymbolLen))
	}
	if !model.ValidName(newName) {
		return nil, nil, s.fail(span, "execute_stock_split", Errf(KindInvalidMetadata, "name %q: must be %d-%d characters", newName, model.MinNameLen, model.MaxNameLen))
	}

	var (
		split     *model.Split
		newTok    *model.Token
		committed []event.LedgerEvent
	)
	err := s.store.Within(ctx, []uuid.UUID{oldTokenID}, func(tx store.Tx) error {
		oldTok, err := s.activeToken(ctx, tx, oldTokenID)
		if err != nil {
			return err
		}
		if oldTok.Authority != caller {
			return Errf(KindUnauthorized, "caller %s is not the authority of token %s", caller, oldTokenID)
		}

		oldSupply, err := model.ParseAmount(oldTok.TotalSupply)
		if err != nil {
			return err
		}
		newSupply := new(big.Int).Mul(oldSupply, big.NewInt(ratio))

		holderCount, err := tx.CountHolders(ctx, oldTokenID)
		if err != nil {
			return err
		}

		now := s.nowFn()
		newTok = &model.Token{
			ID:                 uuid.New(),
			Symbol:             newSymbol,
			Name:               newName,
			Decimals:           oldTok.Decimals,
			TotalSupply:        model.FormatAmount(newSupply),
			Authority:          oldTok.Authority,
			Active:             true,
			Generation:         oldTok.Generation + 1,
			PredecessorTokenID: &oldTok.ID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := tx.InsertToken(ctx, newTok); err != nil {
			return err
		}

		oldTok.Active = false
		oldTok.UpdatedAt = now
		if err := tx.UpdateToken(ctx, oldTok); err != nil {
			return err
		}

		state := model.SplitMigrating
		var completedAt *time.Time
		if holderCount == 0 {
			state = model.SplitCompleted
			completedAt = &now
		}
		split = &model.Split{
			ID:          uuid.New(),
			OldTokenID:  oldTokenID,
			NewTokenID:  newTok.ID,
			Ratio:       ratio,
			State:       state,
			HolderCount: holderCount,
			CreatedAt:   now,
			UpdatedAt:   now,
			CompletedAt: completedAt,
		}
		if err := tx.InsertSplit(ctx, split); err != nil {
			return err
		}

		ev, err := event.New(event.TypeStockSplitExecuted, newTok.ID, event.StockSplitExecuted{
			SplitID:     split.ID,
			OldTokenID:  oldTokenID,
			Ratio:       ratio,
			Symbol:      newSymbol,
			Name:        newName,
			TotalSupply: model.FormatAmount(newSupply),
			HolderCount: holderCount,
		})
		if err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}
		committed = append(committed, *ev)
		return nil
	})
	if err != nil {
		return nil, nil, s.fail(span, "execute_stock_split", err)
	}

	span.SetAttributes(
		attribute.String("split_id", split.ID.String()),
		attribute.Int64("ratio", ratio),
	)
	s.finish(ctx, "execute_stock_split", committed,
		"split_id", split.ID, "old_token_id", oldTokenID, "new_token_id", newTok.ID,
		"ratio", ratio, "holder_count", split.HolderCount)
	return split, newTok, nil
}

// MigrateHolderSplit moves one holder's position onto the split's successor
// token: new balance = old balance × ratio, exact integer arithmetic, and the
// wallet's allowlist status is carried over unchanged. Migration is
// write-once per holder — a second call for the same wallet fails with
// AlreadyMigrated, which is what makes the whole migration resumable after a
// crash without double-crediting.
func (s *Service) MigrateHolderSplit(ctx context.Context, caller string, splitID uuid.UUID, wallet string) (*model.Split, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.MigrateHolderSplit")
	defer span.End()

	head, err := s.store.GetSplit(ctx, splitID)
	if err != nil {
		return nil, s.fail(span, "migrate_holder_split", err)
	}
	if head == nil {
		return nil, s.fail(span, "migrate_holder_split", Errf(KindNotFound, "split %s not found", splitID))
	}

	var (
		split     *model.Split
		committed []event.LedgerEvent
	)
	err = s.store.Within(ctx, []uuid.UUID{head.OldTokenID, head.NewTokenID}, func(tx store.Tx) error {
		split, err = tx.GetSplit(ctx, splitID)
		if err != nil {
			return err
		}
		if split == nil {
			return Errf(KindNotFound, "split %s not found", splitID)
		}

		oldTok, err := tx.GetToken(ctx, split.OldTokenID)
		if err != nil {
			return err
		}
		if oldTok == nil {
			return Errf(KindNotFound, "token %s not found", split.OldTokenID)
		}
		if oldTok.Authority != caller {
			return Errf(KindUnauthorized, "caller %s is not the authority of token %s", caller, split.OldTokenID)
		}

		migrated, err := tx.IsHolderMigrated(ctx, splitID, wallet)
		if err != nil {
			return err
		}
		if migrated {
			return Errf(KindAlreadyMigrated, "wallet %s already migrated for split %s", wallet, splitID)
		}

		bal, err := tx.GetBalance(ctx, split.OldTokenID, wallet)
		if err != nil {
			return err
		}
		if bal == nil {
			return Errf(KindNotFound, "wallet %s holds no balance of token %s", wallet, split.OldTokenID)
		}
		oldAmount, err := model.ParseAmount(bal.Amount)
		if err != nil {
			return err
		}
		newAmount := new(big.Int).Mul(oldAmount, big.NewInt(split.Ratio))

		// Approval status is carried over as-is, not re-derived. It rides
		// in the migration event so a replay of the new token's log yields
		// the same allowlist view the store holds.
		entry, err := tx.GetAllowlistEntry(ctx, split.OldTokenID, wallet)
		if err != nil {
			return err
		}

		ev, err := event.New(event.TypeHolderMigrated, split.NewTokenID, event.HolderMigrated{
			SplitID:    splitID,
			OldTokenID: split.OldTokenID,
			Wallet:     wallet,
			Ratio:      split.Ratio,
			OldBalance: model.FormatAmount(oldAmount),
			NewBalance: model.FormatAmount(newAmount),
			Approved:   entry.IsApproved(),
		})
		if err != nil {
			return err
		}
		seq, err := tx.AppendEvent(ctx, ev)
		if err != nil {
			return err
		}

		if newAmount.Sign() > 0 {
			if err := tx.AdjustBalance(ctx, split.NewTokenID, wallet, model.FormatAmount(newAmount), seq); err != nil {
				return err
			}
		}

		if entry != nil {
			clone := *entry
			clone.TokenID = split.NewTokenID
			clone.UpdatedAt = s.nowFn()
			if err := tx.UpsertAllowlistEntry(ctx, &clone); err != nil {
				return err
			}
		}

		if err := tx.MarkHolderMigrated(ctx, splitID, wallet); err != nil {
			return err
		}
		split.HoldersMigrated++
		split.UpdatedAt = s.nowFn()
		if split.HoldersMigrated >= split.HolderCount {
			split.State = model.SplitCompleted
			done := s.nowFn()
			split.CompletedAt = &done
		}
		if err := tx.UpdateSplit(ctx, split); err != nil {
			return err
		}
		committed = append(committed, *ev)
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "migrate_holder_split", err)
	}

	s.finish(ctx, "migrate_holder_split", committed,
		"split_id", splitID, "wallet", wallet,
		"migrated", split.HoldersMigrated, "of", split.HolderCount)
	return split, nil
}

// UpdateTokenMetadata changes symbol/name in place. This is the cheap
// corporate action: no generation bump, no balance or supply change.
func (s *Service) UpdateTokenMetadata(ctx context.Context, caller string, tokenID uuid.UUID, newSymbol, newName string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.UpdateTokenMetadata")
	defer span.End()

	if !model.ValidSymbol(newSymbol) {
		return s.fail(span, "update_token_metadata", Errf(KindInvalidMetadata, "symbol %q: must be %d-%d uppercase letters", newSymbol, model.MinSymbolLen, model.MaxSymbolLen))
	}
	if !model.ValidName(newName) {
		return s.fail(span, "update_token_metadata", Errf(KindInvalidMetadata, "name %q: must be %d-%d characters", newName, model.MinNameLen, model.MaxNameLen))
	}

	var committed []event.LedgerEvent
	err := s.store.Within(ctx, []uuid.UUID{tokenID}, func(tx store.Tx) error {
		tok, err := s.activeToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if tok.Authority != caller {
			return Errf(KindUnauthorized, "caller %s is not the authority of token %s", caller, tokenID)
		}

		ev, err := event.New(event.TypeSymbolChanged, tokenID, event.SymbolChanged{
			OldSymbol: tok.Symbol,
			NewSymbol: newSymbol,
			OldName:   tok.Name,
			NewName:   newName,
		})
		if err != nil {
			return err
		}
		if _, err := tx.AppendEvent(ctx, ev); err != nil {
			return err
		}

		tok.Symbol = newSymbol
		tok.Name = newName
		tok.UpdatedAt = s.nowFn()
		if err := tx.UpdateToken(ctx, tok); err != nil {
			return err
		}
		committed = append(committed, *ev)
		return nil
	})
	if err != nil {
		return s.fail(span, "update_token_metadata", err)
	}

	s.finish(ctx, "update_token_metadata", committed,
		"token_id", tokenID, "symbol", newSymbol)
	return nil
}

// GetSplit returns the split, or NotFound.
func (s *Service) GetSplit(ctx context.Context, splitID uuid.UUID) (*model.Split, error) {
	split, err := s.store.GetSplit(ctx, splitID)
	if err != nil {
		return nil, err
	}
	if split == nil {
		return nil, Errf(KindNotFound, "split %s not found", splitID)
	}
	return split, nil
}
