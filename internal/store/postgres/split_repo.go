package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/google/uuid"
)

type SplitRepo struct {
	db *DB
}

func NewSplitRepo(db *DB) *SplitRepo {
	return &SplitRepo{db: db}
}

const splitColumns = `id, old_token_id, new_token_id, ratio, state,
	holder_count, holders_migrated, created_at, updated_at, completed_at`

func scanSplit(row *sql.Row) (*model.Split, error) {
	var s model.Split
	err := row.Scan(
		&s.ID, &s.OldTokenID, &s.NewTokenID, &s.Ratio, &s.State,
		&s.HolderCount, &s.HoldersMigrated, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan split: %w", err)
	}
	return &s, nil
}

func (r *SplitRepo) GetTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Split, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+splitColumns+`
		FROM splits
		WHERE id = $1
	`, id)
	return scanSplit(row)
}

func (r *SplitRepo) Get(ctx context.Context, id uuid.UUID) (*model.Split, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+splitColumns+`
		FROM splits
		WHERE id = $1
	`, id)
	return scanSplit(row)
}

func (r *SplitRepo) InsertTx(ctx context.Context, tx *sql.Tx, s *model.Split) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO splits (id, old_token_id, new_token_id, ratio, state,
			holder_count, holders_migrated, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.ID, s.OldTokenID, s.NewTokenID, s.Ratio, s.State,
		s.HolderCount, s.HoldersMigrated, s.CreatedAt, s.UpdatedAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert split: %w", err)
	}
	return nil
}

func (r *SplitRepo) UpdateTx(ctx context.Context, tx *sql.Tx, s *model.Split) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE splits SET
			state = $2,
			holders_migrated = $3,
			updated_at = $4,
			completed_at = $5
		WHERE id = $1
	`, s.ID, s.State, s.HoldersMigrated, s.UpdatedAt, s.CompletedAt)
	if err != nil {
		return fmt.Errorf("update split: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update split rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update split: %s not found", s.ID)
	}
	return nil
}

// IsHolderMigratedTx reports whether the wallet already has a write-once
// migration marker for the split.
func (r *SplitRepo) IsHolderMigratedTx(ctx context.Context, tx *sql.Tx, splitID uuid.UUID, wallet string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM split_migrations WHERE split_id = $1 AND wallet = $2)
	`, splitID, wallet).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration marker: %w", err)
	}
	return exists, nil
}

func (r *SplitRepo) MarkHolderMigratedTx(ctx context.Context, tx *sql.Tx, splitID uuid.UUID, wallet string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO split_migrations (split_id, wallet) VALUES ($1, $2)
	`, splitID, wallet)
	if err != nil {
		return fmt.Errorf("mark holder migrated: %w", err)
	}
	return nil
}
