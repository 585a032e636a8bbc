// Package reconciliation audits committed ledger state against the event
// log. The log is the source of truth: for every token the service replays
// all events through the pure cap table fold and compares the result with
// the stored balances and total supply. Any drift means a mutation was
// committed without its event, or vice versa, and is alerted on.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/alert"
	"github.com/Zernach/chainequity-sub000/internal/captable"
	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/metrics"
	"github.com/google/uuid"
)

// Source is the committed-state read side the auditor needs.
type Source interface {
	ListTokens(ctx context.Context) ([]model.Token, error)
	ListHolders(ctx context.Context, tokenID uuid.UUID) ([]model.Balance, error)
	ListEvents(ctx context.Context, tokenID uuid.UUID, upToSequence int64) ([]event.LedgerEvent, error)
}

// WalletDrift is one wallet whose stored balance disagrees with the replay.
type WalletDrift struct {
	Wallet   string `json:"wallet"`
	Stored   string `json:"stored"`
	Replayed string `json:"replayed"`
}

// TokenResult holds the audit outcome for one token.
type TokenResult struct {
	TokenID        uuid.UUID     `json:"token_id"`
	Symbol         string        `json:"symbol"`
	StoredSupply   string        `json:"stored_supply"`
	ReplayedSupply string        `json:"replayed_supply"`
	DriftedWallets []WalletDrift `json:"drifted_wallets,omitempty"`
	IsMatch        bool          `json:"is_match"`
	CheckedAt      time.Time     `json:"checked_at"`
}

// RunResult aggregates a full audit run.
type RunResult struct {
	Total      int           `json:"total"`
	Matched    int           `json:"matched"`
	Mismatched int           `json:"mismatched"`
	Errors     int           `json:"errors"`
	Tokens     []TokenResult `json:"tokens"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Service runs ledger audits, on demand or periodically.
type Service struct {
	source  Source
	alerter alert.Alerter
	logger  *slog.Logger
}

func NewService(source Source, alerter alert.Alerter, logger *slog.Logger) *Service {
	if alerter == nil {
		alerter = &alert.NoopAlerter{}
	}
	return &Service{
		source:  source,
		alerter: alerter,
		logger:  logger.With("component", "reconciliation"),
	}
}

// Reconcile audits every token once and reports the aggregate result.
func (s *Service) Reconcile(ctx context.Context) (*RunResult, error) {
	result := &RunResult{StartedAt: time.Now().UTC()}

	tokens, err := s.source.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	for i := range tokens {
		tok := &tokens[i]
		res, err := s.reconcileToken(ctx, tok)
		if err != nil {
			s.logger.Warn("token audit failed",
				"token_id", tok.ID, "symbol", tok.Symbol, "error", err)
			result.Errors++
			continue
		}
		result.Tokens = append(result.Tokens, *res)
		result.Total++
		if res.IsMatch {
			result.Matched++
			continue
		}
		result.Mismatched++
		s.alertMismatch(ctx, tok, res)
	}

	result.FinishedAt = time.Now().UTC()

	metrics.ReconcileRunsTotal.Inc()
	if result.Mismatched > 0 {
		metrics.ReconcileMismatchesTotal.Add(float64(result.Mismatched))
	}

	s.logger.Info("ledger audit completed",
		"total", result.Total, "matched", result.Matched,
		"mismatched", result.Mismatched, "errors", result.Errors,
	)
	return result, nil
}

// reconcileToken replays the token's event log and diffs it against the
// stored balances and supply.
func (s *Service) reconcileToken(ctx context.Context, tok *model.Token) (*TokenResult, error) {
	res := &TokenResult{
		TokenID:      tok.ID,
		Symbol:       tok.Symbol,
		StoredSupply: tok.TotalSupply,
		CheckedAt:    time.Now().UTC(),
		IsMatch:      true,
	}

	events, err := s.source.ListEvents(ctx, tok.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	snap, err := captable.Project(tok.ID, events)
	if err != nil {
		return nil, fmt.Errorf("replay events: %w", err)
	}
	res.ReplayedSupply = snap.TotalSupply

	if res.ReplayedSupply != res.StoredSupply {
		res.IsMatch = false
	}

	stored, err := s.source.ListHolders(ctx, tok.ID)
	if err != nil {
		return nil, fmt.Errorf("list holders: %w", err)
	}

	replayed := make(map[string]string, len(snap.Holders))
	for _, h := range snap.Holders {
		replayed[h.Wallet] = h.Balance
	}

	for _, b := range stored {
		want, ok := replayed[b.Wallet]
		if !ok {
			want = "0"
		}
		delete(replayed, b.Wallet)
		if b.Amount != want {
			res.IsMatch = false
			res.DriftedWallets = append(res.DriftedWallets, WalletDrift{
				Wallet: b.Wallet, Stored: b.Amount, Replayed: want,
			})
		}
	}
	// Wallets the replay produced but the store never saw.
	for wallet, want := range replayed {
		res.IsMatch = false
		res.DriftedWallets = append(res.DriftedWallets, WalletDrift{
			Wallet: wallet, Stored: "0", Replayed: want,
		})
	}

	return res, nil
}

func (s *Service) alertMismatch(ctx context.Context, tok *model.Token, res *TokenResult) {
	_ = s.alerter.Send(ctx, alert.Alert{
		Type:    alert.TypeSupplyMismatch,
		Token:   tok.Symbol,
		Title:   "Ledger state diverged from event log",
		Message: fmt.Sprintf("%d wallet(s) drifted on token %s", len(res.DriftedWallets), tok.ID),
		Fields: map[string]string{
			"stored_supply":   res.StoredSupply,
			"replayed_supply": res.ReplayedSupply,
			"drifted_wallets": fmt.Sprintf("%d", len(res.DriftedWallets)),
		},
	})
}

// RunPeriodic audits at the given interval until the context is cancelled.
func (s *Service) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}

	s.logger.Info("periodic ledger audit started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic ledger audit stopping")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Reconcile(ctx); err != nil {
				s.logger.Warn("periodic ledger audit failed", "error", err)
			}
		}
	}
}
