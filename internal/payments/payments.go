package payments

import (
	"context"
	"errors"
	"time"
)

// Payment statuses. A payment is created pending and moves to delivered
// exactly once, when verification succeeds and the entitlement has been
// handed to the host framework.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
)

// ErrNotFound is returned when no payment exists for the requested id.
var ErrNotFound = errors.New("payments: not found")

// Record mirrors the host framework's payment row. The gateway never deletes
// records and only ever performs the pending -> delivered transition.
type Record struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"accountId"`
	Component string    `json:"component"`
	Area      string    `json:"area"`
	ItemID    int64     `json:"itemId"`
	UserID    int64     `json:"userId"`
	Amount    float64   `json:"amount"`
	Currency  string    `json:"currency"`
	Gateway   string    `json:"gateway"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SaveInput captures the fields needed to create a pending payment before the
// payer is redirected.
type SaveInput struct {
	AccountID int64
	Component string
	Area      string
	ItemID    int64
	UserID    int64
	Amount    float64
	Currency  string
}

// Store is the host collaborator holding pending payments.
type Store interface {
	Save(ctx context.Context, in SaveInput) (int64, error)
	Get(ctx context.Context, id int64) (Record, error)
	// MarkDelivered transitions a pending payment to delivered. It reports
	// whether this call performed the transition, so callers can keep the
	// delivery side effect to exactly one invocation.
	MarkDelivered(ctx context.Context, id int64) (bool, error)
}
