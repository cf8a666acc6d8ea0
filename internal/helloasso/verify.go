package helloasso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/edupay/helloasso-gateway/internal/audit"
	"github.com/edupay/helloasso-gateway/internal/common"
	"github.com/edupay/helloasso-gateway/internal/obs"
	"github.com/edupay/helloasso-gateway/internal/payments"
	"github.com/edupay/helloasso-gateway/internal/settings"
)

// Payment states that count as a captured payment on the provider side.
const (
	stateAuthorized = "Authorized"
	stateProcessed  = "Processed"
)

// flexInt64 tolerates providers returning numbers as JSON strings.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) >= 2 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		*f = flexInt64(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexInt64(n)
	return nil
}

type orderPayment struct {
	Amount int64  `json:"amount"`
	State  string `json:"state"`
}

type orderResource struct {
	ID     *int64 `json:"id"`
	Amount struct {
		Total int64 `json:"total"`
	} `json:"amount"`
	Payments []orderPayment `json:"payments"`
}

type intentResource struct {
	ID       int64          `json:"id"`
	Order    *orderResource `json:"order"`
	Metadata *struct {
		MoodlePaymentID *flexInt64 `json:"moodle_payment_id"`
	} `json:"metadata"`
}

// VerifyPayment re-derives the truth of a claimed payment from the provider's
// own records. The redirect query parameters that brought the payer back are
// attacker-controlled; nothing they claim is trusted until every gate here
// passes. The routine is read-only against the provider and safe to repeat.
func (c *Client) VerifyPayment(ctx context.Context, cfg settings.Gateway, intentID, claimedOrderID int64, pending payments.Record) bool {
	log := c.Log.With().
		Int64("payment_id", pending.ID).
		Int64("checkout_intent_id", intentID).
		Logger()

	ok := c.verify(ctx, cfg, intentID, claimedOrderID, pending, log)
	result := "rejected"
	if ok {
		result = "verified"
		log.Info().Msg("payment verified against provider records")
	}
	if obs.PaymentVerificationsTotal != nil {
		obs.PaymentVerificationsTotal.WithLabelValues(result).Inc()
	}
	return ok
}

func (c *Client) verify(ctx context.Context, cfg settings.Gateway, intentID, claimedOrderID int64, pending payments.Record, log zerolog.Logger) bool {
	if intentID == 0 {
		log.Warn().Msg("verification failed: missing checkout intent id")
		return false
	}
	if cfg.OrgSlug == "" {
		log.Warn().Msg("verification failed: organization slug not configured")
		return false
	}

	// A fresh token per verification: revoked credentials must not be masked
	// by a token issued earlier in the payment's life.
	token, err := c.FetchToken(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("verification failed: cannot obtain provider token")
		return false
	}

	resource, status, err := c.fetchIntent(ctx, cfg, token, intentID)
	if err != nil {
		c.recordVerifyAttempt(ctx, pending, audit.StatusError, status, "fetch checkout intent: "+err.Error())
		log.Warn().Err(err).Int("http_status", status).Msg("verification failed: cannot fetch checkout intent")
		return false
	}
	c.recordVerifyAttempt(ctx, pending, audit.StatusSuccess, status,
		fmt.Sprintf("checkout intent %d fetched", intentID))

	if resource.Order == nil || resource.Order.ID == nil {
		log.Warn().Msg("verification failed: no order attached to checkout intent")
		return false
	}
	orderID := *resource.Order.ID

	if claimedOrderID != 0 && claimedOrderID != orderID {
		log.Warn().
			Int64("claimed_order_id", claimedOrderID).
			Int64("order_id", orderID).
			Msg("verification failed: claimed order id does not match provider order")
		return false
	}

	expected := common.ToMinorUnits(pending.Amount)
	if resource.Order.Amount.Total != expected {
		log.Warn().
			Int64("expected_cents", expected).
			Int64("order_total_cents", resource.Order.Amount.Total).
			Msg("verification failed: order total does not match expected amount")
		return false
	}

	if !firstCapturedPaymentMatches(resource.Order.Payments, expected, log) {
		return false
	}

	if resource.Metadata != nil && resource.Metadata.MoodlePaymentID != nil {
		if got := int64(*resource.Metadata.MoodlePaymentID); got != pending.ID {
			log.Warn().
				Int64("metadata_payment_id", got).
				Msg("verification failed: metadata bound to a different payment")
			return false
		}
	}

	return true
}

// firstCapturedPaymentMatches checks the first Authorized or Processed entry.
// Scanning past the first state match is forbidden: a mismatched captured
// payment fails verification even if a later entry would match.
func firstCapturedPaymentMatches(entries []orderPayment, expected int64, log zerolog.Logger) bool {
	for _, p := range entries {
		if p.State != stateAuthorized && p.State != stateProcessed {
			continue
		}
		if p.Amount != expected {
			log.Warn().
				Int64("expected_cents", expected).
				Int64("payment_cents", p.Amount).
				Str("payment_state", p.State).
				Msg("verification failed: captured payment amount does not match")
			return false
		}
		return true
	}
	log.Warn().Msg("verification failed: no authorized or processed payment on order")
	return false
}

func (c *Client) fetchIntent(ctx context.Context, cfg settings.Gateway, token string, intentID int64) (intentResource, int, error) {
	endpoint := fmt.Sprintf("%s/v5/organizations/%s/checkout-intents/%d", cfg.APIBase(), cfg.OrgSlug, intentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return intentResource{}, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return intentResource{}, 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return intentResource{}, resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return intentResource{}, resp.StatusCode, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}
	var resource intentResource
	if err := json.Unmarshal(body, &resource); err != nil {
		return intentResource{}, resp.StatusCode, fmt.Errorf("parse checkout intent: %w", err)
	}
	return resource, resp.StatusCode, nil
}

func (c *Client) recordVerifyAttempt(ctx context.Context, pending payments.Record, status string, code int, msg string) {
	c.record(ctx, audit.Entry{
		PaymentID:    pending.ID,
		UserID:       pending.UserID,
		Action:       audit.ActionVerification,
		Status:       status,
		Amount:       pending.Amount,
		Message:      msg,
		ResponseCode: code,
	})
}
