package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/google/uuid"
)

type TransferRepo struct {
	db *DB
}

func NewTransferRepo(db *DB) *TransferRepo {
	return &TransferRepo{db: db}
}

func (r *TransferRepo) InsertTx(ctx context.Context, tx *sql.Tx, rec *model.TransferRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transfer_records (id, token_id, from_wallet, to_wallet, amount, sequence, result, reject_reason, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
	`, rec.ID, rec.TokenID, rec.FromWallet, rec.ToWallet, rec.Amount, rec.Sequence, rec.Result, rec.RejectReason, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transfer record: %w", err)
	}
	return nil
}

func (r *TransferRepo) ListByToken(ctx context.Context, tokenID uuid.UUID, limit int) ([]model.TransferRecord, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, token_id, from_wallet, to_wallet, amount::text, sequence, result, reject_reason, created_at
		FROM transfer_records
		WHERE token_id = $1
		ORDER BY sequence DESC
		LIMIT $2
	`, tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transfer records: %w", err)
	}
	defer rows.Close()

	var records []model.TransferRecord
	for rows.Next() {
		var rec model.TransferRecord
		if err := rows.Scan(&rec.ID, &rec.TokenID, &rec.FromWallet, &rec.ToWallet,
			&rec.Amount, &rec.Sequence, &rec.Result, &rec.RejectReason, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transfer record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
