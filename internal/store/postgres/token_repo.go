package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/google/uuid"
)

type TokenRepo struct {
	db *DB
}

func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{db: db}
}

const tokenColumns = `id, symbol, name, decimals, total_supply::text, authority,
	active, generation, predecessor_token_id, created_at, updated_at`

func scanToken(row *sql.Row) (*model.Token, error) {
	var t model.Token
	err := row.Scan(
		&t.ID, &t.Symbol, &t.Name, &t.Decimals, &t.TotalSupply, &t.Authority,
		&t.Active, &t.Generation, &t.PredecessorTokenID, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan token: %w", err)
	}
	return &t, nil
}

// GetTx loads the token inside tx. The row is already locked by the
// enclosing unit of work's FOR UPDATE on the tokens table.
func (r *TokenRepo) GetTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*model.Token, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (r *TokenRepo) Get(ctx context.Context, id uuid.UUID) (*model.Token, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (r *TokenRepo) List(ctx context.Context) ([]model.Token, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []model.Token
	for rows.Next() {
		var t model.Token
		if err := rows.Scan(
			&t.ID, &t.Symbol, &t.Name, &t.Decimals, &t.TotalSupply, &t.Authority,
			&t.Active, &t.Generation, &t.PredecessorTokenID, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (r *TokenRepo) InsertTx(ctx context.Context, tx *sql.Tx, t *model.Token) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tokens (id, symbol, name, decimals, total_supply, authority,
			active, generation, predecessor_token_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)
	`, t.ID, t.Symbol, t.Name, t.Decimals, t.TotalSupply, t.Authority,
		t.Active, t.Generation, t.PredecessorTokenID, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (r *TokenRepo) UpdateTx(ctx context.Context, tx *sql.Tx, t *model.Token) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE tokens SET
			symbol = $2,
			name = $3,
			total_supply = $4::numeric,
			active = $5,
			updated_at = $6
		WHERE id = $1
	`, t.ID, t.Symbol, t.Name, t.TotalSupply, t.Active, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update token rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update token: %s not found", t.ID)
	}
	return nil
}

// LockTx takes a row-level exclusive lock on the token, serializing all
// writers of that token for the duration of the transaction. Locking a
// not-yet-existing token is a no-op.
func (r *TokenRepo) LockTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var locked uuid.UUID
	err := tx.QueryRowContext(ctx, `
		SELECT id FROM tokens WHERE id = $1 FOR UPDATE
	`, id).Scan(&locked)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lock token: %w", err)
	}
	return nil
}
