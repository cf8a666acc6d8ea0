package helloasso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/edupay/helloasso-gateway/internal/audit"
	"github.com/edupay/helloasso-gateway/internal/common"
	"github.com/edupay/helloasso-gateway/internal/settings"
)

// Payer is the optional structured payer block forwarded to the provider.
type Payer struct {
	Email     string
	FirstName string
	LastName  string
	City      string
	ZipCode   string
	Country   string
}

// CheckoutRequest describes one checkout intent to create. The three URLs
// must already carry the payment id and anti-forgery token.
type CheckoutRequest struct {
	PaymentID  int64
	UserID     int64
	Amount     float64
	ItemName   string
	PayerEmail string
	Payer      *Payer
	ReturnURL  string
	BackURL    string
	ErrorURL   string
}

// CheckoutIntent is the provider's answer: where to send the payer.
type CheckoutIntent struct {
	ID          int64  `json:"id"`
	RedirectURL string `json:"redirectUrl"`
}

type intentMetadata struct {
	MoodlePaymentID int64 `json:"moodle_payment_id"`
	MoodleUserID    int64 `json:"moodle_user_id"`
}

type intentPayload struct {
	TotalAmount      int64          `json:"totalAmount"`
	InitialAmount    int64          `json:"initialAmount"`
	ItemName         string         `json:"itemName"`
	BackURL          string         `json:"backUrl"`
	ErrorURL         string         `json:"errorUrl"`
	ReturnURL        string         `json:"returnUrl"`
	ContainsDonation bool           `json:"containsDonation"`
	Payer            map[string]any `json:"payer,omitempty"`
	Metadata         intentMetadata `json:"metadata"`
}

// CreateCheckoutIntent registers a checkout intent with the provider and
// returns the redirect URL for the payer. One checkout_intent_creation audit
// entry is written per attempt.
func (c *Client) CreateCheckoutIntent(ctx context.Context, cfg settings.Gateway, req CheckoutRequest) (CheckoutIntent, error) {
	if req.Amount <= 0 {
		return CheckoutIntent{}, common.NewAppError(common.CodeInvalidAmount,
			"payment amount must be positive", http.StatusBadRequest, nil)
	}
	if !cfg.Complete() {
		return CheckoutIntent{}, common.NewAppError(common.CodeConfigError,
			"payment gateway is not fully configured", http.StatusInternalServerError, nil)
	}

	token, err := c.FetchToken(ctx, cfg)
	if err != nil {
		return CheckoutIntent{}, common.NewAppError(common.CodeTokenError,
			"cannot authenticate with payment provider", http.StatusBadGateway, err)
	}

	cents := common.ToMinorUnits(req.Amount)
	payload := intentPayload{
		TotalAmount:      cents,
		InitialAmount:    cents,
		ItemName:         req.ItemName,
		BackURL:          req.BackURL,
		ErrorURL:         req.ErrorURL,
		ReturnURL:        req.ReturnURL,
		ContainsDonation: false,
		Payer:            payerBlock(req),
		Metadata: intentMetadata{
			MoodlePaymentID: req.PaymentID,
			MoodleUserID:    req.UserID,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return CheckoutIntent{}, common.NewAppError(common.CodeCheckoutError, "encode checkout payload", http.StatusInternalServerError, err)
	}

	endpoint := fmt.Sprintf("%s/v5/organizations/%s/checkout-intents", cfg.APIBase(), cfg.OrgSlug)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return CheckoutIntent{}, common.NewAppError(common.CodeCheckoutError, "build checkout request", http.StatusInternalServerError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		c.recordCheckoutAttempt(ctx, req, audit.StatusError, 0, "", "checkout request failed: "+err.Error())
		return CheckoutIntent{}, common.NewAppError(common.CodeCheckoutError,
			"checkout request to payment provider failed", http.StatusBadGateway, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.recordCheckoutAttempt(ctx, req, audit.StatusError, resp.StatusCode, "", "read checkout response: "+err.Error())
		return CheckoutIntent{}, common.NewAppError(common.CodeCheckoutError, "read checkout response", http.StatusBadGateway, err)
	}

	var intent CheckoutIntent
	_ = json.Unmarshal(respBody, &intent)

	if resp.StatusCode == http.StatusOK && intent.RedirectURL != "" {
		reference := fmt.Sprintf("CHECKOUT-%d", intent.ID)
		c.recordCheckoutAttempt(ctx, req, audit.StatusSuccess, resp.StatusCode, reference, "checkout intent created")
		return intent, nil
	}

	msg := providerMessage(respBody)
	if msg == "" {
		msg = "missing redirect URL"
	}
	c.recordCheckoutAttempt(ctx, req, audit.StatusError, resp.StatusCode, "",
		fmt.Sprintf("checkout intent rejected: %s (HTTP %d)", msg, resp.StatusCode))
	return CheckoutIntent{}, common.NewAppError(common.CodeCheckoutError,
		"payment provider rejected the checkout intent: "+msg, http.StatusBadGateway, nil)
}

// payerBlock builds the payer section. The provider only accepts 3-letter
// country codes; a 2-letter host code is dropped rather than sent invalid.
func payerBlock(req CheckoutRequest) map[string]any {
	if req.Payer == nil {
		if strings.TrimSpace(req.PayerEmail) == "" {
			return nil
		}
		return map[string]any{"email": req.PayerEmail}
	}
	block := map[string]any{}
	set := func(key, val string) {
		if strings.TrimSpace(val) != "" {
			block[key] = val
		}
	}
	set("email", req.Payer.Email)
	set("firstName", req.Payer.FirstName)
	set("lastName", req.Payer.LastName)
	set("city", req.Payer.City)
	set("zipCode", req.Payer.ZipCode)
	if country := strings.TrimSpace(req.Payer.Country); len(country) == 3 {
		block["country"] = country
	}
	if len(block) == 0 {
		return nil
	}
	return block
}

func providerMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	if len(envelope.Errors) > 0 {
		return envelope.Errors[0].Message
	}
	return ""
}

func (c *Client) recordCheckoutAttempt(ctx context.Context, req CheckoutRequest, status string, code int, reference, msg string) {
	c.record(ctx, audit.Entry{
		PaymentID:    req.PaymentID,
		UserID:       req.UserID,
		Action:       audit.ActionCheckoutIntent,
		Status:       status,
		Amount:       req.Amount,
		Reference:    reference,
		Message:      msg,
		ResponseCode: code,
	})
}
