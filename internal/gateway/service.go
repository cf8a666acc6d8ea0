// Package gateway is the facade tying the payment flow together: it owns the
// pending-payment lifecycle, the anti-forgery boundary at the redirect
// endpoints and the hand-off to the host framework once a payment is proven.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/edupay/helloasso-gateway/internal/audit"
	"github.com/edupay/helloasso-gateway/internal/common"
	"github.com/edupay/helloasso-gateway/internal/helloasso"
	"github.com/edupay/helloasso-gateway/internal/host"
	"github.com/edupay/helloasso-gateway/internal/obs"
	"github.com/edupay/helloasso-gateway/internal/payments"
	"github.com/edupay/helloasso-gateway/internal/session"
	"github.com/edupay/helloasso-gateway/internal/settings"
)

// SupportedCurrency is the only currency the provider accepts.
const SupportedCurrency = "EUR"

// ClaimSucceeded is the provider redirect code that allows verification to
// even be attempted.
const ClaimSucceeded = "succeeded"

// Provider is the part of the HelloAsso client the facade depends on.
type Provider interface {
	CreateCheckoutIntent(ctx context.Context, cfg settings.Gateway, req helloasso.CheckoutRequest) (helloasso.CheckoutIntent, error)
	VerifyPayment(ctx context.Context, cfg settings.Gateway, intentID, claimedOrderID int64, pending payments.Record) bool
}

// Service orchestrates initiation, completion and cancellation. All
// collaborators are injected; the service holds no per-request state.
type Service struct {
	Payments      payments.Store
	Settings      settings.Store
	Sessions      session.TokenStore
	Audit         audit.Recorder
	Provider      Provider
	Deliverer     host.Deliverer
	PublicBaseURL string
	Validate      *validator.Validate
	Log           zerolog.Logger
}

// PayerInfo is the optional structured payer forwarded to the provider.
type PayerInfo struct {
	Email     string `json:"email" validate:"omitempty,email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	City      string `json:"city"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

// InitiateRequest starts a payment for one purchasable item.
type InitiateRequest struct {
	AccountID  int64      `json:"accountId" validate:"required,gt=0"`
	Component  string     `json:"component" validate:"required"`
	Area       string     `json:"area" validate:"required"`
	ItemID     int64      `json:"itemId" validate:"required,gt=0"`
	UserID     int64      `json:"userId" validate:"required,gt=0"`
	Amount     float64    `json:"amount" validate:"required,gt=0"`
	Currency   string     `json:"currency" validate:"required"`
	ItemName   string     `json:"itemName" validate:"required"`
	PayerEmail string     `json:"payerEmail" validate:"required,email"`
	Payer      *PayerInfo `json:"payer"`

	IP string `json:"-"`
}

// InitiateResult carries the redirect target back to the caller.
type InitiateResult struct {
	PaymentID   int64  `json:"paymentId"`
	RedirectURL string `json:"redirectUrl"`
}

// InitiatePayment validates the request, records the pending payment, issues
// the anti-forgery token and asks the provider for a checkout intent.
func (s *Service) InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	res, err := s.initiate(ctx, req)
	result := "success"
	if err != nil {
		result = "error"
	}
	if obs.PaymentInitiationsTotal != nil {
		obs.PaymentInitiationsTotal.WithLabelValues(result).Inc()
	}
	return res, err
}

func (s *Service) initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	if s.Validate != nil {
		if err := s.Validate.Struct(req); err != nil {
			return InitiateResult{}, common.NewAppError(common.CodeValidationError,
				"invalid payment request", http.StatusBadRequest, err)
		}
	}
	if !strings.EqualFold(strings.TrimSpace(req.Currency), SupportedCurrency) {
		return InitiateResult{}, common.NewAppError(common.CodeInvalidCurrency,
			"only EUR payments are supported", http.StatusBadRequest, nil)
	}

	paymentID, err := s.Payments.Save(ctx, payments.SaveInput{
		AccountID: req.AccountID,
		Component: req.Component,
		Area:      req.Area,
		ItemID:    req.ItemID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  SupportedCurrency,
	})
	if err != nil {
		return InitiateResult{}, fmt.Errorf("save pending payment: %w", err)
	}

	token, err := s.Sessions.Issue(ctx, paymentID)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("issue return token: %w", err)
	}

	cfg, err := s.Settings.Gateway(ctx)
	if err != nil {
		return InitiateResult{}, common.NewAppError(common.CodeConfigError,
			"cannot load gateway settings", http.StatusInternalServerError, err)
	}

	intent, err := s.Provider.CreateCheckoutIntent(ctx, cfg, helloasso.CheckoutRequest{
		PaymentID:  paymentID,
		UserID:     req.UserID,
		Amount:     req.Amount,
		ItemName:   req.ItemName,
		PayerEmail: req.PayerEmail,
		Payer:      providerPayer(req.Payer),
		ReturnURL:  s.callbackURL("return", paymentID, token),
		BackURL:    s.callbackURL("cancel", paymentID, ""),
		ErrorURL:   s.callbackURL("error", paymentID, token),
	})
	if err != nil {
		s.record(ctx, audit.Entry{
			PaymentID: paymentID,
			UserID:    req.UserID,
			Action:    audit.ActionPaymentInitiation,
			Status:    audit.StatusError,
			Amount:    req.Amount,
			Message:   "checkout intent creation failed: " + err.Error(),
			IP:        req.IP,
		})
		return InitiateResult{}, err
	}

	s.record(ctx, audit.Entry{
		PaymentID: paymentID,
		UserID:    req.UserID,
		Action:    audit.ActionPaymentInitiation,
		Status:    audit.StatusSuccess,
		Amount:    req.Amount,
		Reference: fmt.Sprintf("CHECKOUT-%d", intent.ID),
		Message:   "payment initiated, payer redirected to provider",
		IP:        req.IP,
	})
	return InitiateResult{PaymentID: paymentID, RedirectURL: intent.RedirectURL}, nil
}

// CompleteInput carries the untrusted claim parameters from the provider
// redirect.
type CompleteInput struct {
	PaymentID      int64
	Token          string
	IntentID       int64
	ClaimedCode    string
	ClaimedOrderID int64
	IP             string
}

// CompleteResult reports what the completion attempt did.
type CompleteResult struct {
	Delivered        bool
	AlreadyDelivered bool
}

// CompletePayment is the trust boundary for the redirect return. The
// anti-forgery token is checked before anything else; only a "succeeded"
// claim reaches the verifier; only a verified payment reaches the host.
// Duplicate return-page loads for an already delivered payment succeed
// without a second delivery.
func (s *Service) CompletePayment(ctx context.Context, in CompleteInput) (CompleteResult, error) {
	if err := s.checkReturnToken(ctx, in.PaymentID, in.Token, in.IP); err != nil {
		return CompleteResult{}, err
	}

	rec, err := s.Payments.Get(ctx, in.PaymentID)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			return CompleteResult{}, common.NewAppError(common.CodePaymentNotFound,
				"payment not found", http.StatusNotFound, nil)
		}
		return CompleteResult{}, fmt.Errorf("load payment: %w", err)
	}

	if rec.Status == payments.StatusDelivered {
		s.record(ctx, audit.Entry{
			PaymentID: rec.ID,
			UserID:    rec.UserID,
			Action:    audit.ActionPaymentReturn,
			Status:    audit.StatusSuccess,
			Amount:    rec.Amount,
			Message:   "duplicate return for an already delivered payment",
			IP:        in.IP,
		})
		return CompleteResult{AlreadyDelivered: true}, nil
	}

	if in.ClaimedCode != ClaimSucceeded {
		s.record(ctx, audit.Entry{
			PaymentID: rec.ID,
			UserID:    rec.UserID,
			Action:    audit.ActionPaymentReturn,
			Status:    audit.StatusError,
			Amount:    rec.Amount,
			Message:   "provider returned code " + strconv.Quote(in.ClaimedCode),
			IP:        in.IP,
		})
		return CompleteResult{}, common.NewAppError(common.CodePaymentNotCompleted,
			"the payment was not completed", http.StatusBadRequest, nil)
	}

	cfg, err := s.Settings.Gateway(ctx)
	if err != nil {
		return CompleteResult{}, common.NewAppError(common.CodeConfigError,
			"cannot load gateway settings", http.StatusInternalServerError, err)
	}

	if !s.Provider.VerifyPayment(ctx, cfg, in.IntentID, in.ClaimedOrderID, rec) {
		s.record(ctx, audit.Entry{
			PaymentID: rec.ID,
			UserID:    rec.UserID,
			Action:    audit.ActionPaymentReturn,
			Status:    audit.StatusError,
			Amount:    rec.Amount,
			Message:   "provider records do not confirm the claimed payment",
			IP:        in.IP,
		})
		return CompleteResult{}, common.NewAppError(common.CodeVerificationFailed,
			"payment verification failed", http.StatusBadRequest, nil)
	}

	if err := s.deliver(ctx, rec); err != nil {
		s.record(ctx, audit.Entry{
			PaymentID: rec.ID,
			UserID:    rec.UserID,
			Action:    audit.ActionPaymentReturn,
			Status:    audit.StatusError,
			Amount:    rec.Amount,
			Message:   "entitlement delivery failed: " + err.Error(),
			IP:        in.IP,
		})
		return CompleteResult{}, fmt.Errorf("deliver entitlement: %w", err)
	}

	s.record(ctx, audit.Entry{
		PaymentID: rec.ID,
		UserID:    rec.UserID,
		Action:    audit.ActionPaymentReturn,
		Status:    audit.StatusSuccess,
		Amount:    rec.Amount,
		Reference: fmt.Sprintf("ORDER-%d", in.ClaimedOrderID),
		Message:   "payment verified and entitlement delivered",
		IP:        in.IP,
	})
	return CompleteResult{Delivered: true}, nil
}

// deliver hands the payment to the host once and flips the record. The host
// endpoint is idempotent per payment id, so a concurrent duplicate return at
// worst repeats a call the host dedupes; the status transition itself only
// ever happens once.
func (s *Service) deliver(ctx context.Context, rec payments.Record) error {
	err := s.Deliverer.Deliver(ctx, rec)
	result := "success"
	if err != nil {
		result = "error"
	}
	if obs.EntitlementDeliveriesTotal != nil {
		obs.EntitlementDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if err != nil {
		return err
	}
	if _, err := s.Payments.MarkDelivered(ctx, rec.ID); err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// CancelPayment records that the payer backed out. No provider calls, no
// entitlement mutation.
func (s *Service) CancelPayment(ctx context.Context, paymentID int64, ip string) error {
	rec, err := s.Payments.Get(ctx, paymentID)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			return common.NewAppError(common.CodePaymentNotFound, "payment not found", http.StatusNotFound, nil)
		}
		return fmt.Errorf("load payment: %w", err)
	}
	s.record(ctx, audit.Entry{
		PaymentID: rec.ID,
		UserID:    rec.UserID,
		Action:    audit.ActionPaymentCancelled,
		Status:    audit.StatusCancelled,
		Amount:    rec.Amount,
		Message:   "payment cancelled by the payer",
		IP:        ip,
	})
	return nil
}

// ReportError records a technical failure reported by the provider's error
// redirect. The token still guards the endpoint: a forged error callback is
// fraud, not a technical incident.
func (s *Service) ReportError(ctx context.Context, paymentID int64, token, providerCode, ip string) error {
	if err := s.checkReturnToken(ctx, paymentID, token, ip); err != nil {
		return err
	}
	rec, err := s.Payments.Get(ctx, paymentID)
	if err != nil {
		if errors.Is(err, payments.ErrNotFound) {
			return common.NewAppError(common.CodePaymentNotFound, "payment not found", http.StatusNotFound, nil)
		}
		return fmt.Errorf("load payment: %w", err)
	}
	s.record(ctx, audit.Entry{
		PaymentID: rec.ID,
		UserID:    rec.UserID,
		Action:    audit.ActionTechnicalError,
		Status:    audit.StatusError,
		Amount:    rec.Amount,
		Message:   "provider reported a technical error, code " + strconv.Quote(providerCode),
		IP:        ip,
	})
	return nil
}

// Debug reports whether the gateway is configured to expose error detail.
func (s *Service) Debug(ctx context.Context) bool {
	cfg, err := s.Settings.Gateway(ctx)
	if err != nil {
		return false
	}
	return cfg.Debug
}

func (s *Service) checkReturnToken(ctx context.Context, paymentID int64, token, ip string) error {
	ok, err := s.Sessions.Validate(ctx, paymentID, token)
	if err != nil && !errors.Is(err, session.ErrNoToken) {
		return fmt.Errorf("validate return token: %w", err)
	}
	if err != nil || !ok {
		s.record(ctx, audit.Entry{
			PaymentID: paymentID,
			Action:    audit.ActionPaymentReturn,
			Status:    audit.StatusFraud,
			Message:   "anti-forgery token mismatch on redirect return",
			IP:        ip,
		})
		return common.NewAppError(common.CodeFraudDetected,
			"the payment could not be validated", http.StatusForbidden, nil)
	}
	return nil
}

func (s *Service) callbackURL(kind string, paymentID int64, token string) string {
	base := strings.TrimRight(s.PublicBaseURL, "/")
	q := url.Values{}
	q.Set("paymentid", strconv.FormatInt(paymentID, 10))
	if token != "" {
		q.Set("token", token)
	}
	return base + "/api/v1/payments/" + kind + "?" + q.Encode()
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.Audit != nil {
		s.Audit.Record(ctx, e)
	}
}

func providerPayer(p *PayerInfo) *helloasso.Payer {
	if p == nil {
		return nil
	}
	return &helloasso.Payer{
		Email:     p.Email,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		City:      p.City,
		ZipCode:   p.ZipCode,
		Country:   p.Country,
	}
}
