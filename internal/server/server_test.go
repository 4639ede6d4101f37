package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	accountdomain "github.com/smallbiznis/tally/internal/account/domain"
	"github.com/smallbiznis/tally/internal/config"
	"github.com/smallbiznis/tally/internal/identity"
	"github.com/smallbiznis/tally/internal/identityctx"
	ledgerdomain "github.com/smallbiznis/tally/internal/ledger/domain"
	subscriptiondomain "github.com/smallbiznis/tally/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/tally/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/tally/internal/webhook/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(_ context.Context, token string) (identityctx.Identity, error) {
	switch token {
	case "user-token":
		return identityctx.Identity{AccountID: "acct_1"}, nil
	case "admin-token":
		return identityctx.Identity{AccountID: "admin_1", Admin: true}, nil
	default:
		return identityctx.Identity{}, identity.ErrInvalidToken
	}
}

type fakeLedgerService struct {
	consumeErr error
	grantErr   error
	adjustErr  error
	adjusted   []ledgerdomain.AdjustRequest
}

func (f *fakeLedgerService) Grant(_ context.Context, req ledgerdomain.GrantRequest) (*ledgerdomain.BalanceSnapshot, error) {
	if f.grantErr != nil {
		return nil, f.grantErr
	}
	return &ledgerdomain.BalanceSnapshot{AccountID: req.AccountID, Balance: req.Amount, Lifetime: req.Amount}, nil
}

func (f *fakeLedgerService) GrantTx(_ context.Context, _ *gorm.DB, req ledgerdomain.GrantRequest) (*ledgerdomain.BalanceSnapshot, error) {
	return &ledgerdomain.BalanceSnapshot{AccountID: req.AccountID, Balance: req.Amount}, nil
}

func (f *fakeLedgerService) Consume(_ context.Context, req ledgerdomain.ConsumeRequest) (*ledgerdomain.ConsumeResult, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	return &ledgerdomain.ConsumeResult{ProductID: req.ProductID, CreditsSpent: 1}, nil
}

func (f *fakeLedgerService) AdminAdjust(_ context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.BalanceSnapshot, error) {
	f.adjusted = append(f.adjusted, req)
	if f.adjustErr != nil {
		return nil, f.adjustErr
	}
	return &ledgerdomain.BalanceSnapshot{AccountID: req.AccountID, Balance: 25 + req.Delta, Lifetime: 100}, nil
}

func (f *fakeLedgerService) History(_ context.Context, _ string) (*ledgerdomain.AccountHistory, error) {
	return &ledgerdomain.AccountHistory{}, nil
}

func (f *fakeLedgerService) Balance(_ context.Context, accountID string) (*ledgerdomain.BalanceSnapshot, error) {
	return &ledgerdomain.BalanceSnapshot{
		AccountID: accountID,
		Balance:   25,
		Lifetime:  100,
		UpdatedAt: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}, nil
}

type fakeUsageService struct{}

func (fakeUsageService) Summary(_ context.Context, _ string, _ int) (*usagedomain.UsageSummary, error) {
	return &usagedomain.UsageSummary{
		TotalsByProduct: map[string]int64{"image.generate": 5},
		TotalCredits:    5,
	}, nil
}

type fakeAccountService struct {
	createErr error
}

func (f *fakeAccountService) Create(_ context.Context, req accountdomain.CreateAccountRequest) (*accountdomain.Account, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &accountdomain.Account{ID: req.AccountID}, nil
}

func (f *fakeAccountService) Get(_ context.Context, accountID string) (*accountdomain.Account, error) {
	return &accountdomain.Account{ID: accountID}, nil
}

func (f *fakeAccountService) Suspend(_ context.Context, _, _ string) error { return nil }

func (f *fakeAccountService) Unsuspend(_ context.Context, _, _ string) error { return nil }

func (f *fakeAccountService) Delete(_ context.Context, _, _ string) error { return nil }

type fakeSubscriptionService struct {
	createErr error
	getErr    error
}

func (f *fakeSubscriptionService) Create(_ context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &subscriptiondomain.Subscription{ID: req.SubscriptionID, Status: subscriptiondomain.StatusPendingApproval}, nil
}

func (f *fakeSubscriptionService) GetByID(_ context.Context, subscriptionID string) (*subscriptiondomain.Subscription, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &subscriptiondomain.Subscription{ID: subscriptionID, AccountID: "acct_1", Status: subscriptiondomain.StatusActive}, nil
}

func (f *fakeSubscriptionService) Activate(_ context.Context, _ string, _, _ time.Time) error {
	return nil
}

func (f *fakeSubscriptionService) ActivateTx(_ context.Context, _ *gorm.DB, _ string, _, _ time.Time) error {
	return nil
}

type fakeWebhookService struct {
	outcome webhookdomain.Outcome
	err     error
}

func (f *fakeWebhookService) Ingest(_ context.Context, _ webhookdomain.InboundEvent) (webhookdomain.Outcome, error) {
	return f.outcome, f.err
}

type fakeLimiter struct {
	allowed bool
}

func (f *fakeLimiter) Allow(_ context.Context, _, _ string) (bool, error) {
	return f.allowed, nil
}

type serverFixture struct {
	ledger       *fakeLedgerService
	account      *fakeAccountService
	subscription *fakeSubscriptionService
	webhook      *fakeWebhookService
	limiter      *fakeLimiter
}

func newTestServer(t *testing.T) (*Server, *serverFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fixture := &serverFixture{
		ledger:       &fakeLedgerService{},
		account:      &fakeAccountService{},
		subscription: &fakeSubscriptionService{},
		webhook:      &fakeWebhookService{outcome: webhookdomain.OutcomeProcessed},
		limiter:      &fakeLimiter{allowed: true},
	}
	engine := NewEngine(zap.NewNop(), prometheus.NewRegistry())
	srv := NewServer(ServerParams{
		Gin:             engine,
		Cfg:             config.Config{},
		Verifier:        fakeVerifier{},
		AccountSvc:      fixture.account,
		LedgerSvc:       fixture.ledger,
		UsageSvc:        fakeUsageService{},
		SubscriptionSvc: fixture.subscription,
		WebhookSvc:      fixture.webhook,
		Limiter:         fixture.limiter,
	})
	return srv, fixture
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestBalanceEnvelope(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/credits/balance", "user-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(25), body["balance"])
	assert.Equal(t, float64(100), body["lifetime"])
}

func TestMissingTokenUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/credits/balance", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "unauthorized", body["error"])
}

func TestConsumeInsufficientBalanceEnvelope(t *testing.T) {
	srv, fixture := newTestServer(t)
	fixture.ledger.consumeErr = ledgerdomain.ErrInsufficientBalance

	rec := doRequest(t, srv, http.MethodPost, "/credits/consume", "user-token", gin.H{"productId": "image.generate"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "insufficient_balance", body["error"])
}

func TestConsumeSuspendedAccount(t *testing.T) {
	srv, fixture := newTestServer(t)
	fixture.ledger.consumeErr = accountdomain.ErrSuspended

	rec := doRequest(t, srv, http.MethodPost, "/credits/consume", "user-token", gin.H{"productId": "image.generate"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "account_suspended", decodeBody(t, rec)["error"])
}

func TestConsumeRateLimited(t *testing.T) {
	srv, fixture := newTestServer(t)
	fixture.limiter.allowed = false

	rec := doRequest(t, srv, http.MethodPost, "/credits/consume", "user-token", gin.H{"productId": "image.generate"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody(t, rec)["error"])
}

func TestGrantRequiresAdmin(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/credits/grant", "user-token", gin.H{"accountId": "acct_1", "amount": 10})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeBody(t, rec)["error"])

	rec = doRequest(t, srv, http.MethodPost, "/credits/grant", "admin-token", gin.H{"accountId": "acct_1", "amount": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["success"])
}

func TestGrantNegativeAmountRoutesToAdjustment(t *testing.T) {
	srv, fixture := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/credits/grant", "admin-token", gin.H{"accountId": "acct_1", "amount": -10})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(15), body["balance"])

	require.Len(t, fixture.ledger.adjusted, 1)
	assert.Equal(t, int64(-10), fixture.ledger.adjusted[0].Delta)
	assert.Equal(t, "admin_1", fixture.ledger.adjusted[0].ActorID)
}

func TestGrantNegativeAmountHonorsBalancePolicy(t *testing.T) {
	srv, fixture := newTestServer(t)
	fixture.ledger.adjustErr = ledgerdomain.ErrNegativeBalance

	rec := doRequest(t, srv, http.MethodPost, "/credits/grant", "admin-token", gin.H{"accountId": "acct_1", "amount": -99})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", decodeBody(t, rec)["error"])
}

func TestCreateSubscriptionDuplicateConflict(t *testing.T) {
	srv, fixture := newTestServer(t)
	fixture.subscription.createErr = subscriptiondomain.ErrAlreadyExists

	rec := doRequest(t, srv, http.MethodPost, "/subscriptions", "admin-token", gin.H{"subscriptionId": "I-SUB1", "accountId": "acct_1"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody(t, rec)["error"])
}

func TestGetSubscription(t *testing.T) {
	srv, fixture := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/subscriptions/I-SUB1", "admin-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "I-SUB1", body["subscriptionId"])
	assert.Equal(t, "ACTIVE", body["status"])

	fixture.subscription.getErr = subscriptiondomain.ErrNotFound
	rec = doRequest(t, srv, http.MethodGet, "/subscriptions/I-GHOST", "admin-token", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])
}

func TestCreateAccountConflict(t *testing.T) {
	srv, fixture := newTestServer(t)
	fixture.account.createErr = accountdomain.ErrAlreadyExists

	rec := doRequest(t, srv, http.MethodPost, "/accounts", "admin-token", gin.H{"accountId": "acct_1"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decodeBody(t, rec)["error"])
}

func TestWebhookStatusMapping(t *testing.T) {
	srv, fixture := newTestServer(t)
	payload := gin.H{"id": "WH-1", "event_type": "PAYMENT.SALE.COMPLETED", "resource": gin.H{"billing_agreement_id": "I-SUB1"}}

	rec := doRequest(t, srv, http.MethodPost, "/webhooks/provider", "", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "processed", decodeBody(t, rec)["outcome"])

	fixture.webhook.outcome = webhookdomain.OutcomeDuplicate
	rec = doRequest(t, srv, http.MethodPost, "/webhooks/provider", "", payload)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate", decodeBody(t, rec)["outcome"])

	fixture.webhook.outcome = ""
	fixture.webhook.err = webhookdomain.ErrDeferred
	rec = doRequest(t, srv, http.MethodPost, "/webhooks/provider", "", payload)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "event_deferred", decodeBody(t, rec)["error"])

	fixture.webhook.err = subscriptiondomain.ErrNotFound
	rec = doRequest(t, srv, http.MethodPost, "/webhooks/provider", "", payload)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["error"])

	fixture.webhook.err = errors.New("boom")
	rec = doRequest(t, srv, http.MethodPost, "/webhooks/provider", "", payload)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeBody(t, rec)["error"])
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
