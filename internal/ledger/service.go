package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/metrics"
	"github.com/Zernach/chainequity-sub000/internal/store"
	"github.com/Zernach/chainequity-sub000/internal/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventPublisher pushes committed events to live subscribers. Publishing is
// best-effort: the store commit is the source of truth and a publish failure
// never fails the operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev event.LedgerEvent) error
}

// Service is the single writer for all ledger state: it enforces the
// allowlist gate on mints and transfers, executes corporate actions, and
// appends every accepted state transition to the event log atomically with
// the mutation it records.
type Service struct {
	store     store.Store
	publisher EventPublisher
	logger    *slog.Logger
	tracer    trace.Tracer
	nowFn     func() time.Time
}

type Option func(*Service)

// WithPublisher sets the post-commit event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithNowFunc overrides the clock, for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Service) { s.nowFn = now }
}

func New(st store.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: logger.With("component", "ledger"),
		tracer: tracing.Tracer("ledger"),
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeToken creates a new generation-zero token with the caller as its
// authority and zero supply.
func (s *Service) InitializeToken(ctx context.Context, caller, symbol, name string, decimals int) (*model.Token, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.InitializeToken")
	defer span.End()

	if !model.ValidSymbol(symbol) {
		return nil, s.fail(span, "initialize_token", Errf(KindInvalidMetadata, "symbol %q: must be %d-%d uppercase letters", symbol, model.MinSymbolLen, model.MaxSymbolLen))
	}
	if !model.ValidName(name) {
		return nil, s.fail(span, "initialize_token", Errf(KindInvalidMetadata, "name %q: must be %d-%d characters", name, model.MinNameLen, model.MaxNameLen))
	}
	if !model.ValidDecimals(decimals) {
		return nil, s.fail(span, "initialize_token", Errf(KindInvalidMetadata, "decimals %d: must be 0-%d", decimals, model.MaxDecimals))
	}

	now := s.nowFn()
	tok := &model.Token{
		ID:          uuid.New(),
		Symbol:      symbol,
		Name:        name,
		Decimals:    decimals,
		TotalSupply: "0",
		Authority:   caller,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var committed []event.LedgerEvent
	err := s.store.Within(ctx, nil, func(tx store.Tx) error {
		if err := tx.InsertToken(ctx, tok); err != nil {
			return err
		}
		ev, err := event.New(event.TypeTokenInitialized, tok.ID, event.TokenInitialized{
			Symbol:    symbol,
			Name:      name,
			Decimals:  decimals,
			Authority: caller,
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
		return nil, s.fail(span, "initialize_token", err)
	}

	span.SetAttributes(attribute.String("token_id", tok.ID.String()))
	s.finish(ctx, "initialize_token", committed,
		"token_id", tok.ID, "symbol", symbol)
	return tok, nil
}

// ApproveWallet puts wallet on the token's allowlist. Approving an already
// approved wallet is a documented no-op success and emits no event.
func (s *Service) ApproveWallet(ctx context.Context, caller string, tokenID uuid.UUID, wallet string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.ApproveWallet")
	defer span.End()

	var committed []event.LedgerEvent
	err := s.store.Within(ctx, []uuid.UUID{tokenID}, func(tx store.Tx) error {
		tok, err := s.activeToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if tok.Authority != caller {
			return Errf(KindUnauthorized, "caller %s is not the authority of token %s", caller, tokenID)
		}

		entry, err := tx.GetAllowlistEntry(ctx, tokenID, wallet)
		if err != nil {
			return err
		}
		if entry.IsApproved() {
			return nil // idempotent re-approval
		}

		now := s.nowFn()
		if entry == nil {
			entry = &model.AllowlistEntry{
				TokenID:   tokenID,
				Wallet:    wallet,
				CreatedAt: now,
			}
		}
		entry.Status = model.AllowlistApproved
		entry.ApprovedBy = caller
		entry.ApprovedAt = now
		entry.RevokedAt = nil
		entry.UpdatedAt = now
		if err := tx.UpsertAllowlistEntry(ctx, entry); err != nil {
			return err
		}

		ev, err := event.New(event.TypeWalletApproved, tokenID, event.WalletApproved{
			Wallet:     wallet,
			ApprovedBy: caller,
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
		return s.fail(span, "approve_wallet", err)
	}

	s.finish(ctx, "approve_wallet", committed, "token_id", tokenID, "wallet", wallet)
	return nil
}

// RevokeWallet removes gate passage for wallet, effective immediately for
// every transfer validated after the commit. Revoking a wallet that was
// never approved fails with NotFound; revoking an already revoked wallet is
// a no-op success.
func (s *Service) RevokeWallet(ctx context.Context, caller string, tokenID uuid.UUID, wallet string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.RevokeWallet")
	defer span.End()

	var committed []event.LedgerEvent
	err := s.store.Within(ctx, []uuid.UUID{tokenID}, func(tx store.Tx) error {
		tok, err := s.activeToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if tok.Authority != caller {
			return Errf(KindUnauthorized, "caller %s is not the authority of token %s", caller, tokenID)
		}

		entry, err := tx.GetAllowlistEntry(ctx, tokenID, wallet)
		if err != nil {
			return err
		}
		if entry == nil {
			return Errf(KindNotFound, "wallet %s has no allowlist entry for token %s", wallet, tokenID)
		}
		if entry.Status == model.AllowlistRevoked {
			return nil
		}

		now := s.nowFn()
		entry.Status = model.AllowlistRevoked
		entry.RevokedAt = &now
		entry.UpdatedAt = now
		if err := tx.UpsertAllowlistEntry(ctx, entry); err != nil {
			return err
		}

		ev, err := event.New(event.TypeWalletRevoked, tokenID, event.WalletRevoked{
			Wallet:    wallet,
			RevokedBy: caller,
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
		return s.fail(span, "revoke_wallet", err)
	}

	s.finish(ctx, "revoke_wallet", committed, "token_id", tokenID, "wallet", wallet)
	return nil
}

// IsApproved reports whether wallet currently passes the token's gate.
// Absence of an entry is equivalent to revoked.
func (s *Service) IsApproved(ctx context.Context, tokenID uuid.UUID, wallet string) (bool, error) {
	entry, err := s.store.GetAllowlistEntry(ctx, tokenID, wallet)
	if err != nil {
		return false, fmt.Errorf("get allowlist entry: %w", err)
	}
	return entry.IsApproved(), nil
}

// MintTokens credits amount to an approved recipient and grows total supply.
// Mint is a one-sided gate: only the recipient is checked.
func (s *Service) MintTokens(ctx context.Context, caller string, tokenID uuid.UUID, recipient, amount string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.MintTokens")
	defer span.End()

	qty, err := model.ParseAmount(amount)
	if err != nil || qty.Sign() <= 0 {
		return s.fail(span, "mint_tokens", Errf(KindInvalidAmount, "mint amount %q must be a positive integer", amount))
	}

	var committed []event.LedgerEvent
	err = s.store.Within(ctx, []uuid.UUID{tokenID}, func(tx store.Tx) error {
		tok, err := s.activeToken(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		if tok.Authority != caller {
			return Errf(KindUnauthorized, "caller %s is not the authority of token %s", caller, tokenID)
		}

		entry, err := tx.GetAllowlistEntry(ctx, tokenID, recipient)
		if err != nil {
			return err
		}
		if !entry.IsApproved() {
			return NotApprovedErr(GateRecipient, recipient)
		}

		supply, err := model.ParseAmount(tok.TotalSupply)
		if err != nil {
			return err
		}
		newSupply := new(big.Int).Add(supply, qty)

		ev, err := event.New(event.TypeTokensMinted, tokenID, event.TokensMinted{
			Recipient: recipient,
			Amount:    model.FormatAmount(qty),
			NewSupply: model.FormatAmount(newSupply),
		})
		if err != nil {
			return err
		}
		seq, err := tx.AppendEvent(ctx, ev)
		if err != nil {
			return err
		}

		if err := tx.AdjustBalance(ctx, tokenID, recipient, model.FormatAmount(qty), seq); err != nil {
			return err
		}
		tok.TotalSupply = model.FormatAmount(newSupply)
		tok.UpdatedAt = s.nowFn()
		if err := tx.UpdateToken(ctx, tok); err != nil {
			return err
		}
		committed = append(committed, *ev)
		return nil
	})
	if err != nil {
		return s.fail(span, "mint_tokens", err)
	}

	s.finish(ctx, "mint_tokens", committed,
		"token_id", tokenID, "recipient", recipient, "amount", amount)
	return nil
}

// Transfer moves amount between two wallets. Both sides of the gate and the
// sender balance are checked before any mutation, so a partial application
// (debit without credit or vice versa) is never observable. Rejections are
// returned as typed errors AND recorded as audit TransferRecords plus a
// TransferRejected event — the one case where a failed operation commits.
func (s *Service) Transfer(ctx context.Context, tokenID uuid.UUID, from, to, amount string) (*model.TransferRecord, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.Transfer")
	defer span.End()

	qty, err := model.ParseAmount(amount)
	if err != nil || qty.Sign() <= 0 {
		return nil, s.fail(span, "transfer", Errf(KindInvalidAmount, "transfer amount %q must be a positive integer", amount))
	}

	var (
		committed []event.LedgerEvent
		record    *model.TransferRecord
		opErr     error
	)
	err = s.store.Within(ctx, []uuid.UUID{tokenID}, func(tx store.Tx) error {
		if _, err := s.activeToken(ctx, tx, tokenID); err != nil {
			return err
		}

		// Dual-sided gate, both sides evaluated before any mutation.
		senderEntry, err := tx.GetAllowlistEntry(ctx, tokenID, from)
		if err != nil {
			return err
		}
		recipientEntry, err := tx.GetAllowlistEntry(ctx, tokenID, to)
		if err != nil {
			return err
		}

		var reason model.RejectReason
		switch {
		case !senderEntry.IsApproved():
			reason = model.RejectSenderNotApproved
			opErr = NotApprovedErr(GateSender, from)
		case !recipientEntry.IsApproved():
			reason = model.RejectRecipientNotApproved
			opErr = NotApprovedErr(GateRecipient, to)
		default:
			bal, err := tx.GetBalance(ctx, tokenID, from)
			if err != nil {
				return err
			}
			held := big.NewInt(0)
			if bal != nil {
				if held, err = model.ParseAmount(bal.Amount); err != nil {
					return err
				}
			}
			if held.Cmp(qty) < 0 {
				reason = model.RejectInsufficientBalance
				opErr = Errf(KindInsufficientBalance, "wallet %s holds %s, needs %s", from, held, qty)
			}
		}

		if opErr != nil {
			rejected, err := s.recordRejection(ctx, tx, tokenID, from, to, qty, reason)
			if err != nil {
				return err
			}
			record = rejected.record
			committed = append(committed, rejected.event)
			return nil // commit the audit trail, surface opErr to the caller
		}

		ev, err := event.New(event.TypeTransferConfirmed, tokenID, event.TransferConfirmed{
			From:   from,
			To:     to,
			Amount: model.FormatAmount(qty),
		})
		if err != nil {
			return err
		}
		seq, err := tx.AppendEvent(ctx, ev)
		if err != nil {
			return err
		}

		debit := new(big.Int).Neg(qty)
		if err := tx.AdjustBalance(ctx, tokenID, from, model.FormatAmount(debit), seq); err != nil {
			return err
		}
		if err := tx.AdjustBalance(ctx, tokenID, to, model.FormatAmount(qty), seq); err != nil {
			return err
		}

		record = &model.TransferRecord{
			ID:         uuid.New(),
			TokenID:    tokenID,
			FromWallet: from,
			ToWallet:   to,
			Amount:     model.FormatAmount(qty),
			Sequence:   seq,
			Result:     model.TransferConfirmed,
			CreatedAt:  s.nowFn(),
		}
		if err := tx.InsertTransferRecord(ctx, record); err != nil {
			return err
		}
		committed = append(committed, *ev)
		return nil
	})
	if err != nil {
		return nil, s.fail(span, "transfer", err)
	}

	if opErr != nil {
		metrics.TransfersTotal.WithLabelValues("rejected").Inc()
		s.finish(ctx, "transfer_rejected", committed,
			"token_id", tokenID, "from", from, "to", to, "reason", string(KindOf(opErr)))
		span.SetStatus(codes.Error, opErr.Error())
		return record, opErr
	}

	metrics.TransfersTotal.WithLabelValues("confirmed").Inc()
	s.finish(ctx, "transfer", committed,
		"token_id", tokenID, "from", from, "to", to, "amount", amount)
	return record, nil
}

type rejection struct {
	record *model.TransferRecord
	event  event.LedgerEvent
}

func (s *Service) recordRejection(ctx context.Context, tx store.Tx, tokenID uuid.UUID, from, to string, qty *big.Int, reason model.RejectReason) (*rejection, error) {
	ev, err := event.New(event.TypeTransferRejected, tokenID, event.TransferRejected{
		From:   from,
		To:     to,
		Amount: model.FormatAmount(qty),
		Reason: string(reason),
	})
	if err != nil {
		return nil, err
	}
	seq, err := tx.AppendEvent(ctx, ev)
	if err != nil {
		return nil, err
	}

	r := reason
	record := &model.TransferRecord{
		ID:           uuid.New(),
		TokenID:      tokenID,
		FromWallet:   from,
		ToWallet:     to,
		Amount:       model.FormatAmount(qty),
		Sequence:     seq,
		Result:       model.TransferRejected,
		RejectReason: &r,
		CreatedAt:    s.nowFn(),
	}
	if err := tx.InsertTransferRecord(ctx, record); err != nil {
		return nil, err
	}
	return &rejection{record: record, event: *ev}, nil
}

// GetToken returns the token, or NotFound.
func (s *Service) GetToken(ctx context.Context, tokenID uuid.UUID) (*model.Token, error) {
	tok, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	if tok == nil {
		return nil, Errf(KindNotFound, "token %s not found", tokenID)
	}
	return tok, nil
}

// GetBalance returns the wallet's holding of the token, "0" when it has none.
func (s *Service) GetBalance(ctx context.Context, tokenID uuid.UUID, wallet string) (string, error) {
	holders, err := s.store.ListHolders(ctx, tokenID)
	if err != nil {
		return "", fmt.Errorf("list holders: %w", err)
	}
	for _, b := range holders {
		if b.Wallet == wallet {
			return b.Amount, nil
		}
	}
	return "0", nil
}

// activeToken loads the token inside tx and requires it to exist and be the
// live generation.
func (s *Service) activeToken(ctx context.Context, tx store.Tx, tokenID uuid.UUID) (*model.Token, error) {
	tok, err := tx.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, Errf(KindNotFound, "token %s not found", tokenID)
	}
	if !tok.Active {
		return nil, Errf(KindInactiveToken, "token %s was superseded by a split", tokenID)
	}
	return tok, nil
}

// fail records the failure on the span and metric counters.
func (s *Service) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.OpsTotal.WithLabelValues(op, "error").Inc()
	return err
}

// finish logs the committed operation and publishes its events downstream.
func (s *Service) finish(ctx context.Context, op string, events []event.LedgerEvent, args ...any) {
	metrics.OpsTotal.WithLabelValues(op, "ok").Inc()
	s.logger.Info(op, args...)
	for _, ev := range events {
		metrics.EventsAppended.WithLabelValues(string(ev.Type)).Inc()
		if s.publisher == nil {
			continue
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			metrics.StreamPublishErrors.Inc()
			s.logger.Warn("event publish failed",
				"type", ev.Type, "sequence", ev.Sequence, "error", err)
		}
	}
}
