package gateway_test

import (
	"context"
	"net/url"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/edupay/helloasso-gateway/internal/audit"
	"github.com/edupay/helloasso-gateway/internal/common"
	"github.com/edupay/helloasso-gateway/internal/gateway"
	"github.com/edupay/helloasso-gateway/internal/helloasso"
	"github.com/edupay/helloasso-gateway/internal/payments"
	"github.com/edupay/helloasso-gateway/internal/session"
	"github.com/edupay/helloasso-gateway/internal/settings"
)

type fakePayments struct {
	nextID int64
	items  map[int64]payments.Record
	saves  int
}

func newFakePayments() *fakePayments {
	return &fakePayments{items: map[int64]payments.Record{}}
}

func (f *fakePayments) Save(_ context.Context, in payments.SaveInput) (int64, error) {
	f.nextID++
	f.saves++
	f.items[f.nextID] = payments.Record{
		ID: f.nextID, AccountID: in.AccountID, Component: in.Component, Area: in.Area,
		ItemID: in.ItemID, UserID: in.UserID, Amount: in.Amount, Currency: in.Currency,
		Gateway: "helloasso", Status: payments.StatusPending,
	}
	return f.nextID, nil
}

func (f *fakePayments) Get(_ context.Context, id int64) (payments.Record, error) {
	rec, ok := f.items[id]
	if !ok {
		return payments.Record{}, payments.ErrNotFound
	}
	return rec, nil
}

func (f *fakePayments) MarkDelivered(_ context.Context, id int64) (bool, error) {
	rec, ok := f.items[id]
	if !ok || rec.Status != payments.StatusPending {
		return false, nil
	}
	rec.Status = payments.StatusDelivered
	f.items[id] = rec
	return true, nil
}

type fakeSessions struct {
	tokens map[int64]string
}

func newFakeSessions() *fakeSessions { return &fakeSessions{tokens: map[int64]string{}} }

func (f *fakeSessions) Issue(_ context.Context, paymentID int64) (string, error) {
	token := "tok-" + strconv.FormatInt(paymentID, 10)
	f.tokens[paymentID] = token
	return token, nil
}

func (f *fakeSessions) Validate(_ context.Context, paymentID int64, token string) (bool, error) {
	stored, ok := f.tokens[paymentID]
	if !ok {
		return false, session.ErrNoToken
	}
	return stored == token, nil
}

type fakeProvider struct {
	intent      helloasso.CheckoutIntent
	intentErr   error
	verified    bool
	createCalls int
	verifyCalls int
	lastReq     helloasso.CheckoutRequest
}

func (f *fakeProvider) CreateCheckoutIntent(_ context.Context, _ settings.Gateway, req helloasso.CheckoutRequest) (helloasso.CheckoutIntent, error) {
	f.createCalls++
	f.lastReq = req
	if f.intentErr != nil {
		return helloasso.CheckoutIntent{}, f.intentErr
	}
	return f.intent, nil
}

func (f *fakeProvider) VerifyPayment(_ context.Context, _ settings.Gateway, _, _ int64, _ payments.Record) bool {
	f.verifyCalls++
	return f.verified
}

type fakeDeliverer struct {
	calls int
	err   error
}

func (f *fakeDeliverer) Deliver(context.Context, payments.Record) error {
	f.calls++
	return f.err
}

type captureAudit struct {
	entries []audit.Entry
}

func (c *captureAudit) Record(_ context.Context, e audit.Entry) {
	c.entries = append(c.entries, e)
}

func (c *captureAudit) last() audit.Entry {
	return c.entries[len(c.entries)-1]
}

type fixture struct {
	svc       *gateway.Service
	payments  *fakePayments
	sessions  *fakeSessions
	provider  *fakeProvider
	deliverer *fakeDeliverer
	audit     *captureAudit
}

func newFixture() *fixture {
	f := &fixture{
		payments:  newFakePayments(),
		sessions:  newFakeSessions(),
		provider:  &fakeProvider{intent: helloasso.CheckoutIntent{ID: 555, RedirectURL: "https://pay.example/555"}, verified: true},
		deliverer: &fakeDeliverer{},
		audit:     &captureAudit{},
	}
	f.svc = &gateway.Service{
		Payments:      f.payments,
		Settings:      settings.Static{Config: settings.Gateway{ClientID: "id", ClientSecret: "secret", OrgSlug: "org"}},
		Sessions:      f.sessions,
		Audit:         f.audit,
		Provider:      f.provider,
		Deliverer:     f.deliverer,
		PublicBaseURL: "https://edu.example",
		Validate:      validator.New(),
		Log:           zerolog.Nop(),
	}
	return f
}

func validInitiate() gateway.InitiateRequest {
	return gateway.InitiateRequest{
		AccountID: 1, Component: "enrol_fee", Area: "fee", ItemID: 3, UserID: 9,
		Amount: 10.00, Currency: "EUR", ItemName: "Course fee", PayerEmail: "p@example.org",
	}
}

func TestInitiatePayment(t *testing.T) {
	f := newFixture()

	res, err := f.svc.InitiatePayment(context.Background(), validInitiate())
	require.NoError(t, err)
	require.Equal(t, int64(1), res.PaymentID)
	require.Equal(t, "https://pay.example/555", res.RedirectURL)

	rec, err := f.payments.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, rec.Status)

	// The success and error callbacks carry the anti-forgery token; the
	// cancel callback does not.
	ret, err := url.Parse(f.provider.lastReq.ReturnURL)
	require.NoError(t, err)
	require.Equal(t, "1", ret.Query().Get("paymentid"))
	require.Equal(t, f.sessions.tokens[1], ret.Query().Get("token"))

	errURL, err := url.Parse(f.provider.lastReq.ErrorURL)
	require.NoError(t, err)
	require.Equal(t, f.sessions.tokens[1], errURL.Query().Get("token"))

	back, err := url.Parse(f.provider.lastReq.BackURL)
	require.NoError(t, err)
	require.Empty(t, back.Query().Get("token"))

	last := f.audit.last()
	require.Equal(t, audit.ActionPaymentInitiation, last.Action)
	require.Equal(t, audit.StatusSuccess, last.Status)
	require.Equal(t, "CHECKOUT-555", last.Reference)
}

func TestInitiateRejectsNonEuroBeforeProvider(t *testing.T) {
	f := newFixture()
	req := validInitiate()
	req.Currency = "USD"

	_, err := f.svc.InitiatePayment(context.Background(), req)
	require.Equal(t, common.CodeInvalidCurrency, common.ErrorCode(err))
	require.Zero(t, f.provider.createCalls)
	require.Zero(t, f.payments.saves)
}

func TestInitiateValidation(t *testing.T) {
	f := newFixture()
	req := validInitiate()
	req.PayerEmail = "not-an-email"

	_, err := f.svc.InitiatePayment(context.Background(), req)
	require.Equal(t, common.CodeValidationError, common.ErrorCode(err))
	require.Zero(t, f.provider.createCalls)
}

func TestInitiateProviderFailureAudited(t *testing.T) {
	f := newFixture()
	f.provider.intentErr = common.NewAppError(common.CodeCheckoutError, "provider rejected the checkout intent", 502, nil)

	_, err := f.svc.InitiatePayment(context.Background(), validInitiate())
	require.Equal(t, common.CodeCheckoutError, common.ErrorCode(err))

	last := f.audit.last()
	require.Equal(t, audit.ActionPaymentInitiation, last.Action)
	require.Equal(t, audit.StatusError, last.Status)
}

func initiated(t *testing.T, f *fixture) (int64, string) {
	t.Helper()
	res, err := f.svc.InitiatePayment(context.Background(), validInitiate())
	require.NoError(t, err)
	return res.PaymentID, f.sessions.tokens[res.PaymentID]
}

func TestCompletePayment(t *testing.T) {
	f := newFixture()
	id, token := initiated(t, f)

	res, err := f.svc.CompletePayment(context.Background(), gateway.CompleteInput{
		PaymentID: id, Token: token, IntentID: 555, ClaimedCode: gateway.ClaimSucceeded, ClaimedOrderID: 7,
	})
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.Equal(t, 1, f.deliverer.calls)
	require.Equal(t, 1, f.provider.verifyCalls)

	rec, err := f.payments.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, payments.StatusDelivered, rec.Status)

	last := f.audit.last()
	require.Equal(t, audit.ActionPaymentReturn, last.Action)
	require.Equal(t, audit.StatusSuccess, last.Status)
}

func TestCompleteTokenMismatchIsFraudAndShortCircuits(t *testing.T) {
	f := newFixture()
	id, _ := initiated(t, f)

	_, err := f.svc.CompletePayment(context.Background(), gateway.CompleteInput{
		PaymentID: id, Token: "forged", IntentID: 555, ClaimedCode: gateway.ClaimSucceeded,
	})
	require.Equal(t, common.CodeFraudDetected, common.ErrorCode(err))
	require.Zero(t, f.provider.verifyCalls)
	require.Zero(t, f.deliverer.calls)

	last := f.audit.last()
	require.Equal(t, audit.StatusFraud, last.Status)
}

func TestCompleteUnknownPaymentTokenIsFraud(t *testing.T) {
	f := newFixture()

	_, err := f.svc.CompletePayment(context.Background(), gateway.CompleteInput{
		PaymentID: 99, Token: "anything", ClaimedCode: gateway.ClaimSucceeded,
	})
	require.Equal(t, common.CodeFraudDetected, common.ErrorCode(err))
	require.Zero(t, f.provider.verifyCalls)
}

func TestCompleteNonSucceededCodeNeverCallsVerifier(t *testing.T) {
	f := newFixture()
	id, token := initiated(t, f)

	_, err := f.svc.CompletePayment(context.Background(), gateway.CompleteInput{
		PaymentID: id, Token: token, IntentID: 555, ClaimedCode: "refused",
	})
	require.Equal(t, common.CodePaymentNotCompleted, common.ErrorCode(err))
	require.Zero(t, f.provider.verifyCalls)
	require.Zero(t, f.deliverer.calls)

	// A declined payment is an error, not fraud.
	last := f.audit.last()
	require.Equal(t, audit.StatusError, last.Status)
}

func TestCompleteVerificationFailure(t *testing.T) {
	f := newFixture()
	f.provider.verified = false
	id, token := initiated(t, f)

	_, err := f.svc.CompletePayment(context.Background(), gateway.CompleteInput{
		PaymentID: id, Token: token, IntentID: 555, ClaimedCode: gateway.ClaimSucceeded,
	})
	require.Equal(t, common.CodeVerificationFailed, common.ErrorCode(err))
	require.Zero(t, f.deliverer.calls)

	rec, err := f.payments.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, rec.Status)
}

func TestCompleteDuplicateReturnIsIdempotent(t *testing.T) {
	f := newFixture()
	id, token := initiated(t, f)

	in := gateway.CompleteInput{
		PaymentID: id, Token: token, IntentID: 555, ClaimedCode: gateway.ClaimSucceeded,
	}
	first, err := f.svc.CompletePayment(context.Background(), in)
	require.NoError(t, err)
	require.True(t, first.Delivered)

	second, err := f.svc.CompletePayment(context.Background(), in)
	require.NoError(t, err)
	require.True(t, second.AlreadyDelivered)
	require.Equal(t, 1, f.deliverer.calls)
	require.Equal(t, 1, f.provider.verifyCalls)
}

func TestCompleteDeliveryFailureKeepsPaymentPending(t *testing.T) {
	f := newFixture()
	f.deliverer.err = context.DeadlineExceeded
	id, token := initiated(t, f)

	_, err := f.svc.CompletePayment(context.Background(), gateway.CompleteInput{
		PaymentID: id, Token: token, IntentID: 555, ClaimedCode: gateway.ClaimSucceeded,
	})
	require.Error(t, err)

	rec, err := f.payments.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, payments.StatusPending, rec.Status)
}

func TestCancelPayment(t *testing.T) {
	f := newFixture()
	id, _ := initiated(t, f)
	before := f.provider.createCalls

	require.NoError(t, f.svc.CancelPayment(context.Background(), id, "198.51.100.7"))
	require.Equal(t, before, f.provider.createCalls)
	require.Zero(t, f.provider.verifyCalls)
	require.Zero(t, f.deliverer.calls)

	last := f.audit.last()
	require.Equal(t, audit.ActionPaymentCancelled, last.Action)
	require.Equal(t, audit.StatusCancelled, last.Status)
	require.Equal(t, "198.51.100.7", last.IP)
}

func TestReportError(t *testing.T) {
	f := newFixture()
	id, token := initiated(t, f)

	require.NoError(t, f.svc.ReportError(context.Background(), id, token, "card_declined", "198.51.100.7"))
	last := f.audit.last()
	require.Equal(t, audit.ActionTechnicalError, last.Action)
	require.Equal(t, audit.StatusError, last.Status)
	require.Contains(t, last.Message, "card_declined")

	err := f.svc.ReportError(context.Background(), id, "forged", "x", "198.51.100.7")
	require.Equal(t, common.CodeFraudDetected, common.ErrorCode(err))
	require.Equal(t, audit.StatusFraud, f.audit.last().Status)
}
