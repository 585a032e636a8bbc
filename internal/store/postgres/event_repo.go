package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Zernach/chainequity-sub000/internal/domain/event"
	"github.com/google/uuid"
)

type EventRepo struct {
	db *DB
}

func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// AppendTx inserts the event and assigns its global sequence from the
// BIGSERIAL, inside the same transaction as the state mutation it records —
// both commit or neither does.
func (r *EventRepo) AppendTx(ctx context.Context, tx *sql.Tx, ev *event.LedgerEvent) (int64, error) {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_events (event_type, token_id, payload)
		VALUES ($1, $2, $3)
		RETURNING sequence, created_at
	`, ev.Type, ev.TokenID, []byte(ev.Payload)).Scan(&ev.Sequence, &ev.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return ev.Sequence, nil
}

func (r *EventRepo) ListByToken(ctx context.Context, tokenID uuid.UUID, upToSequence int64) ([]event.LedgerEvent, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	query := `
		SELECT sequence, event_type, token_id, payload, created_at
		FROM ledger_events
		WHERE token_id = $1
	`
	args := []any{tokenID}
	if upToSequence > 0 {
		query += ` AND sequence <= $2`
		args = append(args, upToSequence)
	}
	query += ` ORDER BY sequence ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []event.LedgerEvent
	for rows.Next() {
		var ev event.LedgerEvent
		var payload []byte
		if err := rows.Scan(&ev.Sequence, &ev.Type, &ev.TokenID, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (r *EventRepo) LatestSequence(ctx context.Context, tokenID uuid.UUID) (int64, error) {
	ctx, cancel := withTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var seq sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM ledger_events WHERE token_id = $1
	`, tokenID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("latest sequence: %w", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
