package host

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/edupay/helloasso-gateway/internal/payments"
)

// Deliverer hands a verified payment to the host framework so the purchased
// item (course enrolment, etc.) is unlocked.
type Deliverer interface {
	Deliver(ctx context.Context, rec payments.Record) error
}

// HTTPDeliverer posts delivery notifications to the host framework's signed
// internal endpoint.
type HTTPDeliverer struct {
	URL    string
	Secret string
	Client *http.Client
}

type deliveryPayload struct {
	PaymentID int64   `json:"paymentId"`
	Component string  `json:"component"`
	Area      string  `json:"area"`
	ItemID    int64   `json:"itemId"`
	UserID    int64   `json:"userId"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// Deliver posts the payment to the host endpoint. Any non-2xx response is an
// error so the caller keeps the payment pending and a later return attempt
// can retry.
func (d *HTTPDeliverer) Deliver(ctx context.Context, rec payments.Record) error {
	body, err := json.Marshal(deliveryPayload{
		PaymentID: rec.ID,
		Component: rec.Component,
		Area:      rec.Area,
		ItemID:    rec.ItemID,
		UserID:    rec.UserID,
		Amount:    rec.Amount,
		Currency:  rec.Currency,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	ts := time.Now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(d.Secret, ts, rec.ID, body))

	client := d.Client
	if client == nil {
		client = HTTPClient(10 * time.Second)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("host delivery rejected: status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// ComputeSignature calculates the delivery signature: HMAC-SHA256 over
// "<ts>.<paymentID>.<body>" using the shared secret.
func ComputeSignature(secret string, ts int64, paymentID int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(strconv.FormatInt(paymentID, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns a client configured for delivery calls with tracing on
// the outbound transport.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(&http.Transport{}),
	}
}
