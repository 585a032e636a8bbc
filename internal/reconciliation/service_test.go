package reconciliation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/alert"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/ledger"
	"github.com/Zernach/chainequity-sub000/internal/store"
	"github.com/Zernach/chainequity-sub000/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authority = "authority-wallet"
	walletA   = "wallet-a"
	walletB   = "wallet-b"
)

type captureAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (c *captureAlerter) Send(_ context.Context, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureAlerter) all() []alert.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]alert.Alert(nil), c.alerts...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedConsistentLedger drives real operations through the ledger service so
// stored state and event log agree by construction.
func seedConsistentLedger(t *testing.T, st *memory.Store) *model.Token {
	t.Helper()
	ctx := context.Background()
	svc := ledger.New(st, discardLogger())

	tok, err := svc.InitializeToken(ctx, authority, "ACME", "Acme Corporation", 2)
	require.NoError(t, err)
	require.NoError(t, svc.ApproveWallet(ctx, authority, tok.ID, walletA))
	require.NoError(t, svc.ApproveWallet(ctx, authority, tok.ID, walletB))
	require.NoError(t, svc.MintTokens(ctx, authority, tok.ID, walletA, "1000"))
	_, err = svc.Transfer(ctx, tok.ID, walletA, walletB, "400")
	require.NoError(t, err)
	return tok
}

func TestReconcile_ConsistentLedgerMatches(t *testing.T) {
	t.Parallel()

	st := memory.New()
	tok := seedConsistentLedger(t, st)
	alerts := &captureAlerter{}
	svc := NewService(st, alerts, discardLogger())

	res, err := svc.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Mismatched)
	assert.Equal(t, 0, res.Errors)
	require.Len(t, res.Tokens, 1)

	tr := res.Tokens[0]
	assert.Equal(t, tok.ID, tr.TokenID)
	assert.True(t, tr.IsMatch)
	assert.Equal(t, "1000", tr.StoredSupply)
	assert.Equal(t, "1000", tr.ReplayedSupply)
	assert.Empty(t, tr.DriftedWallets)
	assert.Empty(t, alerts.all())
}

func TestReconcile_DetectsBalanceDrift(t *testing.T) {
	t.Parallel()

	st := memory.New()
	tok := seedConsistentLedger(t, st)
	ctx := context.Background()

	// Tamper with a stored balance without a corresponding event.
	err := st.Within(ctx, nil, func(tx store.Tx) error {
		return tx.AdjustBalance(ctx, tok.ID, walletB, "99", 0)
	})
	require.NoError(t, err)

	alerts := &captureAlerter{}
	svc := NewService(st, alerts, discardLogger())

	res, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Mismatched)
	require.Len(t, res.Tokens, 1)

	tr := res.Tokens[0]
	assert.False(t, tr.IsMatch)
	require.Len(t, tr.DriftedWallets, 1)
	assert.Equal(t, walletB, tr.DriftedWallets[0].Wallet)
	assert.Equal(t, "499", tr.DriftedWallets[0].Stored)
	assert.Equal(t, "400", tr.DriftedWallets[0].Replayed)

	sent := alerts.all()
	require.Len(t, sent, 1)
	assert.Equal(t, alert.TypeSupplyMismatch, sent[0].Type)
	assert.Equal(t, "ACME", sent[0].Token)
	assert.Equal(t, "1", sent[0].Fields["drifted_wallets"])
}

func TestReconcile_DetectsSupplyDrift(t *testing.T) {
	t.Parallel()

	st := memory.New()
	tok := seedConsistentLedger(t, st)
	ctx := context.Background()

	err := st.Within(ctx, nil, func(tx store.Tx) error {
		cur, err := tx.GetToken(ctx, tok.ID)
		if err != nil {
			return err
		}
		cur.TotalSupply = "9999"
		return tx.UpdateToken(ctx, cur)
	})
	require.NoError(t, err)

	alerts := &captureAlerter{}
	svc := NewService(st, alerts, discardLogger())

	res, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Len(t, res.Tokens, 1)
	tr := res.Tokens[0]
	assert.False(t, tr.IsMatch)
	assert.Equal(t, "9999", tr.StoredSupply)
	assert.Equal(t, "1000", tr.ReplayedSupply)
	assert.Empty(t, tr.DriftedWallets)
	require.Len(t, alerts.all(), 1)
}

func TestReconcile_SplitInFlightIsConsistent(t *testing.T) {
	t.Parallel()

	st := memory.New()
	tok := seedConsistentLedger(t, st)
	ctx := context.Background()
	lsvc := ledger.New(st, discardLogger())

	split, _, err := lsvc.ExecuteStockSplit(ctx, authority, tok.ID, 3, "ACME", "Acme Corporation")
	require.NoError(t, err)

	// Only one of two holders migrated: the new token's stored balances are
	// still a faithful image of its event log.
	_, err = lsvc.MigrateHolderSplit(ctx, authority, split.ID, walletA)
	require.NoError(t, err)

	svc := NewService(st, &captureAlerter{}, discardLogger())
	res, err := svc.Reconcile(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Matched)
	assert.Equal(t, 0, res.Mismatched)
}

func TestRunPeriodic_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	st := memory.New()
	seedConsistentLedger(t, st)
	svc := NewService(st, &captureAlerter{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.RunPeriodic(ctx, 10*time.Millisecond) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop after cancel")
	}
}
