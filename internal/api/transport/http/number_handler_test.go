package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	providerdomain "github.com/FlashTheFire/NexNum-sub011/internal/provider/domain"

	"github.com/FlashTheFire/NexNum-sub011/internal/health"
	"github.com/FlashTheFire/NexNum-sub011/internal/opaqueid"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/app"
	"github.com/FlashTheFire/NexNum-sub011/internal/purchase/domain"
	"github.com/FlashTheFire/NexNum-sub011/internal/sequencer"
)

type mockPurchaseAPI struct{ mock.Mock }

func (m *mockPurchaseAPI) Purchase(ctx context.Context, req app.PurchaseRequest) (*app.PurchaseResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*app.PurchaseResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPurchaseAPI) GetNumberState(ctx context.Context, userID, numberID uuid.UUID) (*app.NumberState, error) {
	args := m.Called(ctx, userID, numberID)
	if r := args.Get(0); r != nil {
		return r.(*app.NumberState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPurchaseAPI) CancelNumber(ctx context.Context, userID, numberID uuid.UUID) (*domain.Number, error) {
	args := m.Called(ctx, userID, numberID)
	if r := args.Get(0); r != nil {
		return r.(*domain.Number), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPurchaseAPI) CompleteNumber(ctx context.Context, userID, numberID uuid.UUID) (*domain.Number, error) {
	args := m.Called(ctx, userID, numberID)
	if r := args.Get(0); r != nil {
		return r.(*domain.Number), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPurchaseAPI) ListNumbers(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Number, error) {
	args := m.Called(ctx, userID, limit, offset)
	if r := args.Get(0); r != nil {
		return r.([]*domain.Number), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPurchaseAPI) Balance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type mockSmsIngest struct{ mock.Mock }

func (m *mockSmsIngest) HandleInbound(ctx context.Context, providerName, activationID string, msgs []sequencer.InboundMessage) (*sequencer.Result, error) {
	args := m.Called(ctx, providerName, activationID, msgs)
	if r := args.Get(0); r != nil {
		return r.(*sequencer.Result), args.Error(1)
	}
	return nil, args.Error(1)
}

type staticKeys map[string]uuid.UUID

var errUnknownKey = errors.New("unknown api key")

func (s staticKeys) Validate(ctx context.Context, keyHash string) (uuid.UUID, error) {
	if id, ok := s[keyHash]; ok {
		return id, nil
	}
	return uuid.Nil, errUnknownKey
}

const testAPIKey = "test-api-key-1"

type apiFixture struct {
	router    chi.Router
	purchases *mockPurchaseAPI
	ingest    *mockSmsIngest
	monitor   *health.Monitor
	userID    uuid.UUID
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	purchases := &mockPurchaseAPI{}
	ingest := &mockSmsIngest{}
	monitor := health.NewMonitor(health.NewMemoryStore(), nil, health.Options{}, logger)
	userID := uuid.New()

	router := NewRouter(RouterDeps{
		Numbers:      NewNumberHandler(purchases, opaqueid.New(0xfeedface), logger),
		Webhooks:     NewWebhookHandler(ingest, logger),
		Admin:        NewAdminHandler(monitor, logger),
		APIKeys:      staticKeys{HashAPIKey(testAPIKey): userID},
		AdminToken:   "admin-secret",
		WebhookToken: "hook-secret",
		Logger:       logger,
	})
	return &apiFixture{router: router, purchases: purchases, ingest: ingest, monitor: monitor, userID: userID}
}

func (f *apiFixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func authHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + testAPIKey}
}

func sampleNumber(userID uuid.UUID) *domain.Number {
	return &domain.Number{
		ID:           uuid.New(),
		UserID:       userID,
		ProviderName: "smsmain",
		ActivationID: "act-1",
		PhoneNumber:  "79001234567",
		CountryCode:  "ru",
		ServiceCode:  "tg",
		Price:        decimal.RequireFromString("5.00"),
		Status:       domain.NumberActive,
		PurchasedAt:  time.Now().UTC(),
		ExpiresAt:    time.Now().UTC().Add(20 * time.Minute),
	}
}

func TestPurchaseEndpointCreated(t *testing.T) {
	f := newAPIFixture(t)
	number := sampleNumber(f.userID)
	f.purchases.On("Purchase", mock.Anything, mock.MatchedBy(func(req app.PurchaseRequest) bool {
		return req.UserID == f.userID && req.CountryCode == "ru" && req.ServiceCode == "tg"
	})).Return(&app.PurchaseResult{Number: number}, nil)

	rec := f.do(http.MethodPost, "/api/v1/numbers/purchase", PurchaseNumberRequest{
		CountryCode:    "ru",
		ServiceCode:    "tg",
		IdempotencyKey: "client-key-001",
	}, authHeaders())

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp PurchaseNumberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, number.ID.String(), resp.Number.ID)
	assert.Equal(t, "5.00", resp.Number.Price)
	assert.NotEmpty(t, resp.Number.Ref)
	assert.False(t, resp.Replayed)
	f.purchases.AssertExpectations(t)
}

func TestPurchaseEndpointReplayed(t *testing.T) {
	f := newAPIFixture(t)
	number := sampleNumber(f.userID)
	f.purchases.On("Purchase", mock.Anything, mock.Anything).
		Return(&app.PurchaseResult{Number: number, Replayed: true}, nil)

	rec := f.do(http.MethodPost, "/api/v1/numbers/purchase", PurchaseNumberRequest{
		CountryCode:    "ru",
		ServiceCode:    "tg",
		IdempotencyKey: "client-key-001",
	}, authHeaders())

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPurchaseEndpointRequiresAuth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/numbers/purchase", PurchaseNumberRequest{
		CountryCode: "ru", ServiceCode: "tg", IdempotencyKey: "client-key-001",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/numbers/purchase", nil,
		map[string]string{"Authorization": "Bearer wrong-key"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseEndpointValidation(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/numbers/purchase", PurchaseNumberRequest{
		CountryCode: "ru", ServiceCode: "tg", // missing idempotency key
	}, authHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseEndpointErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"insufficient balance", &domain.InsufficientBalanceError{
			Required:  decimal.RequireFromString("5.00"),
			Available: decimal.RequireFromString("1.00"),
		}, http.StatusPaymentRequired},
		{"out of stock", domain.ErrOutOfStock, http.StatusGone},
		{"lock contended", domain.ErrPurchaseInProgress, http.StatusConflict},
		{"no offers", domain.ErrOfferNotFound, http.StatusNotFound},
		{"provider down", &providerdomain.ProviderAPIError{
			ProviderName: "smsmain", Operation: providerdomain.OpGetNumber, StatusCode: 503,
		}, http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newAPIFixture(t)
			f.purchases.On("Purchase", mock.Anything, mock.Anything).Return(nil, tc.err)

			rec := f.do(http.MethodPost, "/api/v1/numbers/purchase", PurchaseNumberRequest{
				CountryCode: "ru", ServiceCode: "tg", IdempotencyKey: "client-key-001",
			}, authHeaders())
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestInsufficientBalanceBodyDetails(t *testing.T) {
	f := newAPIFixture(t)
	f.purchases.On("Purchase", mock.Anything, mock.Anything).Return(nil, &domain.InsufficientBalanceError{
		Required:  decimal.RequireFromString("5.00"),
		Available: decimal.RequireFromString("1.25"),
	})

	rec := f.do(http.MethodPost, "/api/v1/numbers/purchase", PurchaseNumberRequest{
		CountryCode: "ru", ServiceCode: "tg", IdempotencyKey: "client-key-001",
	}, authHeaders())

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "INSUFFICIENT_BALANCE", resp.Code)
	assert.Equal(t, "5.00", resp.Required)
	assert.Equal(t, "1.25", resp.Available)
}

func TestGetNumberIncludesMessages(t *testing.T) {
	f := newAPIFixture(t)
	number := sampleNumber(f.userID)
	f.purchases.On("GetNumberState", mock.Anything, f.userID, number.ID).Return(&app.NumberState{
		Number: number,
		Messages: []*domain.SmsMessage{
			{Ordinal: 1, Code: "1234", Content: "code 1234", ReceivedAt: time.Now()},
		},
	}, nil)

	rec := f.do(http.MethodGet, "/api/v1/numbers/"+number.ID.String(), nil, authHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp NumberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, "1234", resp.Messages[0].Code)
}

func TestCancelNumberEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	number := sampleNumber(f.userID)
	cancelled := *number
	cancelled.Status = domain.NumberCancelled
	cancelled.Refunded = true
	f.purchases.On("CancelNumber", mock.Anything, f.userID, number.ID).Return(&cancelled, nil)

	rec := f.do(http.MethodPost, "/api/v1/numbers/"+number.ID.String()+"/cancel", nil, authHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	var resp NumberResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.NumberCancelled, resp.Status)
	assert.True(t, resp.Refunded)
}

func TestWebhookEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest.On("HandleInbound", mock.Anything, "smsmain", "act-7", mock.Anything).
		Return(&sequencer.Result{Stored: 1, RequestedNext: true}, nil)

	rec := f.do(http.MethodPost, "/api/v1/webhooks/sms/smsmain", InboundWebhookRequest{
		ActivationID: "act-7",
		Messages:     []InboundWebhookMessage{{Content: "code 9999"}},
	}, map[string]string{"X-Webhook-Token": "hook-secret"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp InboundWebhookResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Stored)
	assert.True(t, resp.RequestedNext)
}

func TestWebhookRequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodPost, "/api/v1/webhooks/sms/smsmain", InboundWebhookRequest{
		ActivationID: "act-7",
		Messages:     []InboundWebhookMessage{{Content: "code 9999"}},
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookTerminalNumberIsAcknowledged(t *testing.T) {
	f := newAPIFixture(t)
	f.ingest.On("HandleInbound", mock.Anything, "smsmain", "act-7", mock.Anything).
		Return(nil, domain.ErrNumberTerminal)

	rec := f.do(http.MethodPost, "/api/v1/webhooks/sms/smsmain", InboundWebhookRequest{
		ActivationID: "act-7",
		Messages:     []InboundWebhookMessage{{Content: "code 9999"}},
	}, map[string]string{"X-Webhook-Token": "hook-secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminFleetHealth(t *testing.T) {
	f := newAPIFixture(t)
	f.monitor.RecordRequest(context.Background(), "smsmain", true, 100)

	rec := f.do(http.MethodGet, "/api/v1/admin/providers/health", nil,
		map[string]string{"X-Admin-Token": "admin-secret"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []health.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "smsmain", resp[0].ProviderName)
	assert.Equal(t, health.StatusHealthy, resp[0].Status)
}

func TestAdminCircuitOverride(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	f.monitor.RecordRequest(ctx, "smsmain", true, 50)

	rec := f.do(http.MethodPost, "/api/v1/admin/providers/smsmain/circuit/open", nil,
		map[string]string{"X-Admin-Token": "admin-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.monitor.IsAvailable(ctx, "smsmain"))

	rec = f.do(http.MethodPost, "/api/v1/admin/providers/smsmain/circuit/close", nil,
		map[string]string{"X-Admin-Token": "admin-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.monitor.IsAvailable(ctx, "smsmain"))
}

func TestIntQueryRejectsOverflowAndGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/numbers?limit=99999999999999999999&offset=-3", nil)
	assert.Equal(t, 20, intQuery(req, "limit", 20))
	assert.Equal(t, 0, intQuery(req, "offset", 0))

	req = httptest.NewRequest(http.MethodGet, "/numbers?limit=50&offset=abc", nil)
	assert.Equal(t, 50, intQuery(req, "limit", 20))
	assert.Equal(t, 0, intQuery(req, "offset", 0))
}

func TestAdminRequiresToken(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/api/v1/admin/providers/health", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
