package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/google/uuid"
)

type BalanceRepo struct {
	db *DB
}

func NewBalanceRepo(db *DB) *BalanceRepo {
	return &BalanceRepo{db: db}
}

// AdjustTx applies a signed delta to (tokenID, wallet), creating the row on
// first credit. The amount column carries a CHECK (amount >= 0), so a debit
// past zero fails the transaction rather than going negative.
func (r *BalanceRepo) AdjustTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID, wallet string, delta string, sequence int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balances (token_id, wallet, amount, last_updated_sequence)
		VALUES ($1, $2, $3::numeric, $4)
		ON CONFLICT (token_id, wallet) DO UPDATE SET
			amount = balances.amount + $3::numeric,
			last_updated_sequence = GREATEST(balances.last_updated_sequence, $4),
			updated_at = now()
	`, tokenID, wallet, delta, sequence)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	return nil
}

func (r *BalanceRepo) GetTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID, wallet string) (*model.Balance, error) {
	var b model.Balance
	err := tx.QueryRowContext(ctx, `
		SELECT token_id, wallet, amount::text, last_updated_sequence, created_at, updated_at
		FROM balances
		WHERE token_id = $1 AND wallet = $2
	`, tokenID, wallet).Scan(
		&b.TokenID, &b.Wallet, &b.Amount, &b.LastUpdatedSequence, &b.CreatedAt, &b.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

func (r *BalanceRepo) CountByTokenTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM balances WHERE token_id = $1
	`, tokenID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count holders: %w", err)
	}
	return n, nil
}

func (r *BalanceRepo) ListByToken(ctx context.Context, tokenID uuid.UUID) ([]model.Balance, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT token_id, wallet, amount::text, last_updated_sequence, created_at, updated_at
		FROM balances
		WHERE token_id = $1
		ORDER BY wallet
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var balances []model.Balance
	for rows.Next() {
		var b model.Balance
		if err := rows.Scan(
			&b.TokenID, &b.Wallet, &b.Amount, &b.LastUpdatedSequence, &b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
