package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/edupay/helloasso-gateway/internal/common"
)

// Handler exposes the payment endpoints. The three GET endpoints are where
// the provider redirects the payer's browser, so their query parameters are
// untrusted input.
type Handler struct {
	Svc *Service
	Log zerolog.Logger
}

// Mount registers the payment routes on the router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/api/v1/payments", h.Initiate)
	r.Get("/api/v1/payments/return", h.Return)
	r.Get("/api/v1/payments/cancel", h.Cancel)
	r.Get("/api/v1/payments/error", h.Error)
}

// Initiate starts a payment and returns the provider redirect URL.
func (h *Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return
	}
	req.IP = common.ClientIP(r)

	res, err := h.Svc.InitiatePayment(r.Context(), req)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": res})
}

// Return handles the provider success redirect.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.Svc.CompletePayment(r.Context(), CompleteInput{
		PaymentID:      parseID(q.Get("paymentid")),
		Token:          q.Get("token"),
		IntentID:       parseID(q.Get("checkoutIntentId")),
		ClaimedCode:    q.Get("code"),
		ClaimedOrderID: parseID(q.Get("orderId")),
		IP:             common.ClientIP(r),
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	msg := "payment confirmed"
	if res.AlreadyDelivered {
		msg = "payment already confirmed"
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"status":  "delivered",
		"message": msg,
	}})
}

// Cancel handles the provider back redirect.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.CancelPayment(r.Context(), parseID(r.URL.Query().Get("paymentid")), common.ClientIP(r)); err != nil {
		h.renderError(w, r, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"status":  "cancelled",
		"message": "the payment was cancelled; no charge was made",
	}})
}

// Error handles the provider error redirect.
func (h *Handler) Error(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.Svc.ReportError(r.Context(),
		parseID(q.Get("paymentid")), q.Get("token"), q.Get("code"), common.ClientIP(r))
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	body := map[string]any{
		"status":  "error",
		"message": "the payment could not be processed; you have not been charged",
	}
	if h.Svc.Debug(r.Context()) {
		body["providerCode"] = q.Get("code")
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": body})
}

// renderError logs full detail with payment context and renders a generic
// message; internals reach the client only in debug mode.
func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	message := "payment processing failed"

	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus
		code = appErr.Code
		message = appErr.Message
	}

	h.Log.Error().Err(err).
		Str("code", code).
		Str("path", r.URL.Path).
		Str("ip", common.ClientIP(r)).
		Msg("payment request failed")

	var details any
	if h.Svc != nil && h.Svc.Debug(r.Context()) {
		details = err.Error()
	}
	common.JSONError(w, status, code, message, details)
}

func parseID(raw string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
