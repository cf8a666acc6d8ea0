package audit

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/edupay/helloasso-gateway/internal/common"
)

var knownStatuses = map[string]bool{
	StatusSuccess:   true,
	StatusError:     true,
	StatusCancelled: true,
	StatusFraud:     true,
}

// AdminHandler exposes the payment audit trail to operators: a filterable
// log listing, per-payment history, and per-status statistics.
type AdminHandler struct {
	Store    Store
	PageSize int
}

type listResponse struct {
	Data       []Entry `json:"data"`
	Pagination struct {
		Page       int   `json:"page"`
		PerPage    int   `json:"perPage"`
		TotalItems int64 `json:"totalItems"`
	} `json:"pagination"`
}

// List returns a page of audit entries, newest first, optionally filtered by
// status.
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit store unavailable", nil)
		return
	}
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	if status != "" && !knownStatuses[status] {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unknown status filter", nil)
		return
	}
	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	perPage := parsePositiveInt(r.URL.Query().Get("perPage"), h.pageSize())

	entries, total, err := h.Store.List(r.Context(), status, perPage, (page-1)*perPage)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	resp := listResponse{Data: entries}
	resp.Pagination.Page = page
	resp.Pagination.PerPage = perPage
	resp.Pagination.TotalItems = total
	common.JSON(w, http.StatusOK, resp)
}

// ByPayment returns the full audit trail for one payment.
func (h *AdminHandler) ByPayment(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit store unavailable", nil)
		return
	}
	paymentID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("paymentId")), 10, 64)
	if err != nil || paymentID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "paymentId is required", nil)
		return
	}
	entries, err := h.Store.ListByPayment(r.Context(), paymentID)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	if entries == nil {
		entries = []Entry{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": entries})
}

// Stats returns per-status counts and amount totals.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "audit store unavailable", nil)
		return
	}
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
		return
	}
	if stats == nil {
		stats = []StatusStat{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": stats})
}

func (h *AdminHandler) pageSize() int {
	if h.PageSize > 0 {
		return h.PageSize
	}
	return 50
}

func parsePositiveInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
