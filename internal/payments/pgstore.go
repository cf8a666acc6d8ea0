package payments

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps payment records in Postgres.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Save inserts a pending payment and returns its id.
func (s PGStore) Save(ctx context.Context, in SaveInput) (int64, error) {
	var id int64
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO payments (account_id, component, area, item_id, user_id, amount, currency, gateway, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'helloasso', $8)
		RETURNING id`,
		in.AccountID, in.Component, in.Area, in.ItemID, in.UserID, in.Amount, in.Currency, StatusPending,
	).Scan(&id)
	return id, err
}

// Get loads one payment record.
func (s PGStore) Get(ctx context.Context, id int64) (Record, error) {
	var rec Record
	err := s.Pool.QueryRow(ctx, `
		SELECT id, account_id, component, area, item_id, user_id, amount, currency, gateway, status, created_at, updated_at
		FROM payments
		WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.AccountID, &rec.Component, &rec.Area, &rec.ItemID, &rec.UserID,
		&rec.Amount, &rec.Currency, &rec.Gateway, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return rec, err
}

// MarkDelivered flips the status of a pending payment. The WHERE clause makes
// the transition single-shot under concurrent duplicate returns.
func (s PGStore) MarkDelivered(ctx context.Context, id int64) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE payments
		SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		StatusDelivered, id, StatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
