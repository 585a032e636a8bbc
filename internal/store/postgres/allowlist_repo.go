package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/google/uuid"
)

type AllowlistRepo struct {
	db *DB
}

func NewAllowlistRepo(db *DB) *AllowlistRepo {
	return &AllowlistRepo{db: db}
}

const allowlistColumns = `token_id, wallet, status, approved_by, approved_at,
	revoked_at, created_at, updated_at`

func scanAllowlistEntry(row *sql.Row) (*model.AllowlistEntry, error) {
	var e model.AllowlistEntry
	err := row.Scan(
		&e.TokenID, &e.Wallet, &e.Status, &e.ApprovedBy, &e.ApprovedAt,
		&e.RevokedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan allowlist entry: %w", err)
	}
	return &e, nil
}

func (r *AllowlistRepo) GetTx(ctx context.Context, tx *sql.Tx, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+allowlistColumns+`
		FROM allowlist_entries
		WHERE token_id = $1 AND wallet = $2
	`, tokenID, wallet)
	return scanAllowlistEntry(row)
}

func (r *AllowlistRepo) Get(ctx context.Context, tokenID uuid.UUID, wallet string) (*model.AllowlistEntry, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+allowlistColumns+`
		FROM allowlist_entries
		WHERE token_id = $1 AND wallet = $2
	`, tokenID, wallet)
	return scanAllowlistEntry(row)
}

// UpsertTx creates the entry on first approval and toggles it afterwards;
// entries are never deleted.
func (r *AllowlistRepo) UpsertTx(ctx context.Context, tx *sql.Tx, e *model.AllowlistEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO allowlist_entries (token_id, wallet, status, approved_by,
			approved_at, revoked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (token_id, wallet) DO UPDATE SET
			status = EXCLUDED.status,
			approved_by = EXCLUDED.approved_by,
			approved_at = EXCLUDED.approved_at,
			revoked_at = EXCLUDED.revoked_at,
			updated_at = EXCLUDED.updated_at
	`, e.TokenID, e.Wallet, e.Status, e.ApprovedBy,
		e.ApprovedAt, e.RevokedAt, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert allowlist entry: %w", err)
	}
	return nil
}
