package audit

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists audit entries in the helloasso_logs table.
type PGStore struct {
	Pool *pgxpool.Pool
}

// Append inserts one entry.
func (s PGStore) Append(ctx context.Context, e Entry) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO helloasso_logs
			(payment_id, user_id, action, status, amount, reference, message, response_code, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.PaymentID, e.UserID, e.Action, e.Status, e.Amount,
		e.Reference, e.Message, e.ResponseCode, e.IP, e.CreatedAt,
	)
	return err
}

// ListByPayment returns all entries for a payment, newest first.
func (s PGStore) ListByPayment(ctx context.Context, paymentID int64) ([]Entry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, payment_id, user_id, action, status, amount, reference, message, response_code, ip_address, created_at
		FROM helloasso_logs
		WHERE payment_id = $1
		ORDER BY created_at DESC, id DESC`, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEntries(rows)
}

// List returns a page of entries, optionally filtered by status, together
// with the total count for pagination.
func (s PGStore) List(ctx context.Context, status string, limit, offset int) ([]Entry, int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	status = strings.TrimSpace(status)

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, payment_id, user_id, action, status, amount, reference, message, response_code, ip_address, created_at
			FROM helloasso_logs
			ORDER BY created_at DESC, id DESC
			LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.Pool.Query(ctx, `
			SELECT id, payment_id, user_id, action, status, amount, reference, message, response_code, ip_address, created_at
			FROM helloasso_logs
			WHERE status = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2 OFFSET $3`, status, limit, offset)
	}
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries, err := collectEntries(rows)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if status == "" {
		err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM helloasso_logs`).Scan(&total)
	} else {
		err = s.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM helloasso_logs WHERE status = $1`, status).Scan(&total)
	}
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Stats aggregates count and amount sums per status over entries that carry
// an amount.
func (s PGStore) Stats(ctx context.Context) ([]StatusStat, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0)
		FROM helloasso_logs
		WHERE amount > 0
		GROUP BY status
		ORDER BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []StatusStat
	for rows.Next() {
		var st StatusStat
		if err := rows.Scan(&st.Status, &st.Count, &st.Total); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func collectEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.UserID, &e.Action, &e.Status, &e.Amount,
			&e.Reference, &e.Message, &e.ResponseCode, &e.IP, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
