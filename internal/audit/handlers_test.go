package audit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edupay/helloasso-gateway/internal/audit"
)

type fakeStore struct {
	entries   []audit.Entry
	appendErr error
}

func (f *fakeStore) Append(_ context.Context, e audit.Entry) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeStore) ListByPayment(_ context.Context, paymentID int64) ([]audit.Entry, error) {
	var out []audit.Entry
	for _, e := range f.entries {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) List(_ context.Context, status string, limit, offset int) ([]audit.Entry, int64, error) {
	var filtered []audit.Entry
	for _, e := range f.entries {
		if status == "" || e.Status == status {
			filtered = append(filtered, e)
		}
	}
	total := int64(len(filtered))
	if offset >= len(filtered) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(filtered) {
		end = len(filtered)
	}
	return filtered[offset:end], total, nil
}

func (f *fakeStore) Stats(context.Context) ([]audit.StatusStat, error) {
	byStatus := map[string]*audit.StatusStat{}
	for _, e := range f.entries {
		if e.Amount <= 0 {
			continue
		}
		st, ok := byStatus[e.Status]
		if !ok {
			st = &audit.StatusStat{Status: e.Status}
			byStatus[e.Status] = st
		}
		st.Count++
		st.Total += e.Amount
	}
	var out []audit.StatusStat
	for _, st := range byStatus {
		out = append(out, *st)
	}
	return out, nil
}

func TestRecordAppendsEntry(t *testing.T) {
	store := &fakeStore{}
	svc := &audit.Service{Store: store, Log: zerolog.Nop()}

	svc.Record(context.Background(), audit.Entry{
		PaymentID: 42,
		UserID:    7,
		Action:    audit.ActionPaymentReturn,
		Status:    audit.StatusSuccess,
		Amount:    10,
	})

	require.Len(t, store.entries, 1)
	require.Equal(t, int64(42), store.entries[0].PaymentID)
	require.False(t, store.entries[0].CreatedAt.IsZero())
}

func TestRecordSurvivesStoreFailure(t *testing.T) {
	store := &fakeStore{appendErr: context.DeadlineExceeded}
	svc := &audit.Service{Store: store, Log: zerolog.Nop()}

	require.NotPanics(t, func() {
		svc.Record(context.Background(), audit.Entry{Action: audit.ActionTokenRequest, Status: audit.StatusError})
	})
}

func TestAdminList(t *testing.T) {
	store := &fakeStore{}
	now := time.Now()
	for i, status := range []string{audit.StatusSuccess, audit.StatusError, audit.StatusFraud, audit.StatusSuccess} {
		store.entries = append(store.entries, audit.Entry{
			ID:        int64(i + 1),
			PaymentID: int64(i + 1),
			Action:    audit.ActionPaymentReturn,
			Status:    status,
			Amount:    25,
			CreatedAt: now,
		})
	}
	handler := &audit.AdminHandler{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs?status=success", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data       []audit.Entry `json:"data"`
		Pagination struct {
			TotalItems int64 `json:"totalItems"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	require.Equal(t, int64(2), resp.Pagination.TotalItems)
}

func TestAdminListRejectsUnknownStatus(t *testing.T) {
	handler := &audit.AdminHandler{Store: &fakeStore{}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs?status=bogus", nil)
	rec := httptest.NewRecorder()
	handler.List(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminByPayment(t *testing.T) {
	store := &fakeStore{entries: []audit.Entry{
		{ID: 1, PaymentID: 5, Action: audit.ActionPaymentInitiation, Status: audit.StatusSuccess},
		{ID: 2, PaymentID: 6, Action: audit.ActionPaymentInitiation, Status: audit.StatusSuccess},
		{ID: 3, PaymentID: 5, Action: audit.ActionPaymentReturn, Status: audit.StatusError},
	}}
	handler := &audit.AdminHandler{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs/payment?paymentId=5", nil)
	rec := httptest.NewRecorder()
	handler.ByPayment(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []audit.Entry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
}

func TestAdminStats(t *testing.T) {
	store := &fakeStore{entries: []audit.Entry{
		{Status: audit.StatusSuccess, Amount: 10},
		{Status: audit.StatusSuccess, Amount: 15},
		{Status: audit.StatusError, Amount: 20},
		{Status: audit.StatusError},
	}}
	handler := &audit.AdminHandler{Store: store}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/logs/stats", nil)
	rec := httptest.NewRecorder()
	handler.Stats(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []audit.StatusStat `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	for _, st := range resp.Data {
		switch st.Status {
		case audit.StatusSuccess:
			require.Equal(t, int64(2), st.Count)
			require.InDelta(t, 25.0, st.Total, 0.001)
		case audit.StatusError:
			require.Equal(t, int64(1), st.Count)
			require.InDelta(t, 20.0, st.Total, 0.001)
		}
	}
}
