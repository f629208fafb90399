package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/draftpulse/contest-payments/internal/domain"
	"github.com/draftpulse/contest-payments/internal/http/handler"
	"github.com/draftpulse/contest-payments/internal/http/router"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/resilience"
	"github.com/draftpulse/contest-payments/internal/security"
	"github.com/draftpulse/contest-payments/internal/service"
)

const (
	testProvider      = "paypal"
	testWebhookSecret = "whsec-integration-only"
	testJWTSecret     = "0123456789abcdef0123456789abcdef"
)

type fakeOrderClient struct {
	mu       sync.Mutex
	created  int
	captured int
}

func (c *fakeOrderClient) CreateOrder(_ context.Context, _ int64, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	return fmt.Sprintf("ORD-%03d", c.created), nil
}

func (c *fakeOrderClient) CaptureOrder(_ context.Context, orderID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captured++
	return "CAP-" + orderID, nil
}

func (c *fakeOrderClient) createdOrders() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created
}

type fakePayoutClient struct {
	mu    sync.Mutex
	fail  error
	calls int
}

func (c *fakePayoutClient) SendPayout(_ context.Context, _ service.PayoutRequest) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.fail != nil {
		return "", c.fail
	}
	return fmt.Sprintf("BATCH-%03d", c.calls), nil
}

func (c *fakePayoutClient) failWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = err
}

// testEnv wires the full HTTP stack over an in-memory database and fake
// provider clients. Each test gets its own isolated instance.
type testEnv struct {
	store   *repository.Store
	jwt     *security.JWTManager
	orders  *fakeOrderClient
	payouts *fakePayoutClient
	server  *httptest.Server
	client  *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.Account{},
		&domain.LedgerEntry{},
		&domain.Transaction{},
		&domain.TransactionEvent{},
		&domain.WebhookLock{},
		&domain.PayoutItem{},
		&domain.OperationSwitch{},
		&domain.IdempotencyRecord{},
	); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := resilience.NewRegistry(logger, resilience.Options{
		Retry: resilience.RetryPolicy{
			MaxRetries: 2,
			BaseDelay:  time.Millisecond,
			MaxDelay:   5 * time.Millisecond,
		},
		Breaker: resilience.BreakerConfig{
			FailureThreshold:    100,
			ResetTimeout:        time.Second,
			HalfOpenMaxAttempts: 1,
		},
		Budget: resilience.BudgetConfig{
			MaxTokens:  1000,
			RefillRate: 1000,
		},
	})

	store := repository.NewStore(db)
	orders := &fakeOrderClient{}
	payouts := &fakePayoutClient{}

	locks := service.NewWebhookLockService(store.WebhookLocks, registry, nil, time.Minute, logger)
	processor := service.NewProcessor(store, registry, logger)
	ledgerSvc := service.NewLedgerService(store.Ledger, registry, logger)
	switches := service.NewSwitchService(store.Switches, nil, registry, 0, logger)
	rates := service.StaticExchangeRateSource{"EUR/USD": 1.10}
	withdrawals := service.NewWithdrawalService(store, ledgerSvc, rates, payouts, registry, switches,
		service.WithdrawalConfig{Provider: testProvider, FeeBps: 0, MinMinorUnits: 100}, logger)
	deposits := service.NewDepositService(store, orders, registry, switches,
		service.DepositConfig{Provider: testProvider, MinMinorUnits: 100}, logger)

	jwtMgr := security.NewJWTManager("contest-payments", "contest-clients", testJWTSecret)

	r := router.New(router.Dependencies{
		Logger:              logger,
		JWT:                 jwtMgr,
		Payments:            handler.NewPaymentHandler(withdrawals, deposits, ledgerSvc),
		Webhooks:            handler.NewWebhookHandler(locks, processor, map[string]string{testProvider: testWebhookSecret}, logger),
		Switches:            handler.NewSwitchHandler(switches, logger),
		Health:              handler.NewHealthHandler(db, nil),
		APIRateLimitRPM:     1000,
		WebhookRateLimitRPM: 1000,
		Idempotency:         service.NewDBIdempotencyStore(db),
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{
		store:   store,
		jwt:     jwtMgr,
		orders:  orders,
		payouts: payouts,
		server:  srv,
		client:  srv.Client(),
	}
}

func (e *testEnv) token(t *testing.T, userID string, scopes ...string) string {
	t.Helper()
	token, err := e.jwt.SignScopedToken(userID, scopes, 15*time.Minute)
	if err != nil {
		t.Fatalf("sign token for %s: %v", userID, err)
	}
	return token
}

// grant seeds a user balance directly through the ledger, the way the seed
// tool does it.
func (e *testEnv) grant(t *testing.T, userID string, amountMinorUnits int64) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.store.Ledger.CreateAccountIfMissing(ctx, userID); err != nil {
		t.Fatalf("create account for %s: %v", userID, err)
	}
	_, err := e.store.Ledger.ApplyBalanceMutation(ctx, repository.BalanceMutation{
		UserID:           userID,
		AmountMinorUnits: amountMinorUnits,
		Direction:        repository.DirectionCredit,
		IdempotencyKey:   fmt.Sprintf("seed:%s:%s", t.Name(), userID),
		Note:             "test grant",
	})
	if err != nil {
		t.Fatalf("grant balance for %s: %v", userID, err)
	}
}

func (e *testEnv) account(t *testing.T, userID string) *domain.Account {
	t.Helper()
	acct, err := e.store.Ledger.FindAccountByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("find account %s: %v", userID, err)
	}
	return acct
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do issues a request against the test server and returns the raw response
// body alongside the closed response.
func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return resp, raw
}

func (e *testEnv) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, apiEnvelope) {
	t.Helper()
	resp, raw := e.do(t, method, path, body, headers)
	var env apiEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope from %q: %v", raw, err)
	}
	return resp, env
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// postWebhook signs and delivers a provider event, returning the ack body.
func (e *testEnv) postWebhook(t *testing.T, body []byte) (*http.Response, map[string]any) {
	t.Helper()
	resp, raw := e.do(t, http.MethodPost, "/webhooks/"+testProvider, body, map[string]string{
		"X-Webhook-Signature": security.SignWebhookPayload(testWebhookSecret, body),
	})
	var ack map[string]any
	if err := json.Unmarshal(raw, &ack); err != nil {
		t.Fatalf("decode webhook ack from %q: %v", raw, err)
	}
	return resp, ack
}

func captureCompletedBody(eventID, orderID, captureID, value string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"event_type": "PAYMENT.CAPTURE.COMPLETED",
		"resource": {
			"id": %q,
			"amount": {"value": %q, "currency_code": "USD"},
			"supplementary_data": {"related_ids": {"order_id": %q}}
		}
	}`, eventID, captureID, value, orderID))
}

func captureRefundedBody(eventID, refundID, captureID, value string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"event_type": "PAYMENT.CAPTURE.REFUNDED",
		"resource": {
			"id": %q,
			"amount": {"value": %q, "currency_code": "USD"},
			"links": [{"rel": "up", "href": "https://api.paypal.com/v2/payments/captures/%s"}]
		}
	}`, eventID, refundID, value, captureID))
}

func payoutItemFailedBody(eventID, batchRef, senderItemID, reason string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"event_type": "PAYMENT.PAYOUTS-ITEM.FAILED",
		"resource": {
			"payout_item": {"sender_item_id": %q},
			"payout_batch_id": %q,
			"errors": {"message": %q}
		}
	}`, eventID, senderItemID, batchRef, reason))
}

func payoutBatchSuccessBody(eventID, batchRef string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"event_type": "PAYMENT.PAYOUTSBATCH.SUCCESS",
		"resource": {"batch_header": {"payout_batch_id": %q}}
	}`, eventID, batchRef))
}
