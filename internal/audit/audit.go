package audit

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Actions recorded by the gateway lifecycle.
const (
	ActionPaymentInitiation = "payment_initiation"
	ActionTokenRequest      = "token_request"
	ActionCheckoutIntent    = "checkout_intent_creation"
	ActionVerification      = "payment_verification"
	ActionPaymentReturn     = "payment_return"
	ActionPaymentCancelled  = "payment_cancelled"
	ActionTechnicalError    = "payment_technical_error"
)

// Entry statuses.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
	StatusFraud     = "fraud_detected"
)

// Entry is one append-only audit record. PaymentID is 0 for actions that are
// not payment-scoped (token requests).
type Entry struct {
	ID           int64     `json:"id"`
	PaymentID    int64     `json:"paymentId"`
	UserID       int64     `json:"userId"`
	Action       string    `json:"action"`
	Status       string    `json:"status"`
	Amount       float64   `json:"amount"`
	Reference    string    `json:"reference,omitempty"`
	Message      string    `json:"message,omitempty"`
	ResponseCode int       `json:"responseCode,omitempty"`
	IP           string    `json:"ip,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// StatusStat aggregates entries per status for the admin statistics view.
type StatusStat struct {
	Status string  `json:"status"`
	Count  int64   `json:"count"`
	Total  float64 `json:"total"`
}

// Store persists audit entries. Entries are never updated or deleted by the
// gateway; retention is a host concern.
type Store interface {
	Append(ctx context.Context, e Entry) error
	ListByPayment(ctx context.Context, paymentID int64) ([]Entry, error)
	List(ctx context.Context, status string, limit, offset int) ([]Entry, int64, error)
	Stats(ctx context.Context) ([]StatusStat, error)
}

// Recorder is the write-side interface handed to components that only append.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Service appends audit entries and mirrors each one to the structured log.
// A failed insert must never abort a payment flow, so Record swallows store
// errors after logging them.
type Service struct {
	Store Store
	Log   zerolog.Logger
}

// Record persists one entry.
func (s *Service) Record(ctx context.Context, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	evt := s.Log.Info()
	if e.Status == StatusError || e.Status == StatusFraud {
		evt = s.Log.Warn()
	}
	evt.Int64("payment_id", e.PaymentID).
		Int64("user_id", e.UserID).
		Str("action", e.Action).
		Str("status", e.Status).
		Float64("amount", e.Amount).
		Str("reference", e.Reference).
		Int("response_code", e.ResponseCode).
		Str("ip", e.IP).
		Msg(e.Message)

	if s.Store == nil {
		return
	}
	if err := s.Store.Append(ctx, e); err != nil {
		s.Log.Error().Err(err).
			Str("action", e.Action).
			Int64("payment_id", e.PaymentID).
			Msg("append audit entry")
	}
}
