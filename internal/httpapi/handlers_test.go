package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/offlinequeue"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store/memory"
)

const testManagerPIN = "246810"

type testEnv struct {
	api     *API
	handler http.Handler
	queue   *offlinequeue.Queue
}

// newTestEnv builds the full API over the seeded memory store so handler
// tests exercise the real service and auth paths.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("SEED_ADMIN_PASSWORD", "")
	t.Setenv("SEED_CASHIER_PASSWORD", "")
	t.Setenv("INVOICE_PREFIX", "")

	repo := memory.NewSeeded()
	svc := service.New(repo, service.Options{})
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, testManagerPIN, repo)
	queue := offlinequeue.New(offlinequeue.NewMemoryBackend(), svc, offlinequeue.Options{PollInterval: time.Hour})

	api := New(svc, auth, Options{AllowedOrigin: "*", Queue: queue})
	return &testEnv{api: api, handler: api.Handler(), queue: queue}
}

func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestEnv(t).api
}

type call struct {
	method string
	path   string
	token  string
	body   any
	header map[string]string
	noCSRF bool
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &body)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.method != http.MethodGet && !c.noCSRF {
		req.Header.Set("X-CSRF-Token", e.api.generateCSRFToken())
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := e.do(t, call{method: http.MethodPost, path: "/api/v1/auth/login",
		body: domain.LoginRequest{Username: username, Password: password}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, call{method: http.MethodGet, path: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody[map[string]any](t, rec)["ok"])
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)
	env.login(t, "admin", "admin123")

	rec := env.do(t, call{method: http.MethodPost, path: "/api/v1/auth/login",
		body: domain.LoginRequest{Username: "admin", Password: "wrongpassword"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProductsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, call{method: http.MethodGet, path: "/api/v1/products"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := env.login(t, "cashier", "cashier123")
	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/products", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string][]domain.Product](t, rec)
	assert.Len(t, body["products"], 8)
}

func TestCheckoutEndpointCommitsAndReplays(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "cashier", "cashier123")

	req := domain.CheckoutRequest{
		OpID:  "op-http-1",
		Lines: []domain.CheckoutLine{{ProductID: "prd_tea", Qty: 2}},
	}
	rec := env.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", token: token, body: req})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decodeBody[domain.CheckoutResponse](t, rec)
	assert.Equal(t, "INV-000001", first.Invoice.InvoiceNumber)
	// 2 x 145 at 5% tax.
	assert.InDelta(t, 304.5, first.Invoice.GrandTotal, 0.001)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", token: token, body: req})
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decodeBody[domain.CheckoutResponse](t, rec)
	assert.True(t, replay.Duplicate)
	assert.Equal(t, first.Invoice.ID, replay.Invoice.ID)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/invoices?number=INV-000001", token: token})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/products/prd_tea", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 118, decodeBody[map[string]domain.Product](t, rec)["product"].Stock)
}

func TestCheckoutEndpointMapsBusinessErrors(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", token: token,
		body: domain.CheckoutRequest{Lines: []domain.CheckoutLine{{ProductID: "prd_rice", Qty: 41}}}})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "insufficient_stock", decodeBody[errorBody](t, rec).Code)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", token: token,
		body: domain.CheckoutRequest{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decodeBody[errorBody](t, rec).Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/invoices/inv_missing", token: token})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExchangeEndpointRejectsOverReturn(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, call{method: http.MethodPost, path: "/api/v1/checkout", token: token,
		body: domain.CheckoutRequest{Lines: []domain.CheckoutLine{{ProductID: "prd_tea", Qty: 1}}}})
	require.Equal(t, http.StatusCreated, rec.Code)
	invoice := decodeBody[domain.CheckoutResponse](t, rec).Invoice

	exchange := domain.ExchangeRequest{
		OriginalInvoiceID: invoice.ID,
		Returns:           []domain.ExchangeReturnRequest{{ProductID: "prd_tea", Qty: 2}},
		NewItems:          []domain.ExchangeNewRequest{{ProductID: "prd_coffee", Qty: 1}},
	}
	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/exchanges/preview", token: token, body: exchange})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_return_quantity", decodeBody[errorBody](t, rec).Code)

	exchange.Returns[0].Qty = 1
	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/exchanges", token: token, body: exchange})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeBody[domain.ExchangeResponse](t, rec)
	require.NotNil(t, resp.NewInvoice)
	// Coffee 210 against a tea credit of 145, both before tax.
	assert.InDelta(t, 65.0, resp.Exchange.Difference, 0.001)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/invoices/" + invoice.ID + "/exchanges", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[map[string][]domain.Exchange](t, rec)["exchanges"], 1)
}

func TestAdminRoutesAcceptManagerOverride(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "cashier", "cashier123")
	adjust := domain.StockAdjustmentRequest{ProductID: "prd_soap", Delta: -2, Reason: "shelf damage"}

	rec := env.do(t, call{method: http.MethodPost, path: "/api/v1/inventory/adjust", token: token, body: adjust})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/inventory/adjust", token: token, body: adjust,
		header: map[string]string{"X-Manager-PIN": testManagerPIN}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 198, decodeBody[map[string]domain.Product](t, rec)["product"].Stock)

	admin := env.login(t, "admin", "admin123")
	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/inventory/logs?product_id=prd_soap&type=adjustment", token: admin})
	require.Equal(t, http.StatusOK, rec.Code)
	logs := decodeBody[map[string][]domain.InventoryLog](t, rec)["logs"]
	require.Len(t, logs, 1)
	assert.Equal(t, "cashier", logs[0].UserID)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/inventory/logs?from=yesterday", token: admin})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsAndCashierAdministration(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin", "admin123")

	prefix := "pos"
	rec := env.do(t, call{method: http.MethodPatch, path: "/api/v1/settings", token: admin,
		body: domain.SettingsUpdateRequest{InvoicePrefix: &prefix}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "POS", decodeBody[map[string]domain.Settings](t, rec)["settings"].InvoicePrefix)

	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/users/cashiers", token: admin,
		body: domain.CashierCreateRequest{Username: "tilltwo", Password: "secret12"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	env.login(t, "tilltwo", "secret12")
}

func TestSyncOperationsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "cashier", "cashier123")

	payload := func(qty int) json.RawMessage {
		raw, _ := json.Marshal(domain.CheckoutRequest{Lines: []domain.CheckoutLine{{ProductID: "prd_rice", Qty: qty}}})
		return raw
	}
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	req := domain.SyncOperationsRequest{
		TerminalID: "till-1",
		Operations: []domain.QueuedOperation{
			{ID: "q1", OpID: "op-sync-1", Type: domain.OpTypeCheckout, Payload: payload(1), CreatedAt: base},
			{ID: "q2", OpID: "op-sync-2", Type: domain.OpTypeCheckout, Payload: payload(500), CreatedAt: base.Add(time.Minute)},
			{ID: "q3", OpID: "op-sync-3", Type: domain.OpTypeCheckout, Payload: payload(1), CreatedAt: base.Add(2 * time.Minute)},
		},
	}

	rec := env.do(t, call{method: http.MethodPost, path: "/api/v1/sync/operations", token: token, body: req, noCSRF: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[domain.SyncOperationsResponse](t, rec)
	require.Len(t, resp.Statuses, 3)
	assert.Equal(t, service.SyncAccepted, resp.Statuses[0].Status)
	assert.Equal(t, service.SyncFailed, resp.Statuses[1].Status)
	assert.Equal(t, service.SyncSkipped, resp.Statuses[2].Status)
}

func TestOfflineQueueEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t, "cashier", "cashier123")

	rec := env.do(t, call{method: http.MethodPut, path: "/api/v1/offline/status", token: token,
		body: offlineStatusRequest{Online: false}})
	require.Equal(t, http.StatusOK, rec.Code)

	payload, _ := json.Marshal(domain.CheckoutRequest{Lines: []domain.CheckoutLine{{ProductID: "prd_chips", Qty: 3}}})
	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/offline/queue", token: token,
		body: offlineEnqueueRequest{Type: domain.OpTypeCheckout, Payload: payload}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/offline/drain", token: token})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/offline/queue", token: token})
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decodeBody[struct {
		Online     bool                 `json:"online"`
		Operations []offlinequeue.Entry `json:"operations"`
	}](t, rec)
	assert.False(t, pending.Online)
	require.Len(t, pending.Operations, 1)
	assert.Equal(t, offlinequeue.StateQueued, pending.Operations[0].State)

	env.queue.SetOnline(true)
	rec = env.do(t, call{method: http.MethodPost, path: "/api/v1/offline/drain", token: token})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decodeBody[map[string]any](t, rec)["applied"])

	rec = env.do(t, call{method: http.MethodGet, path: "/api/v1/products/prd_chips", token: token})
	assert.Equal(t, 247, decodeBody[map[string]domain.Product](t, rec)["product"].Stock)
}

func TestClassifyErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{&service.ValidationError{Field: "lines", Message: "required"}, http.StatusBadRequest, "validation_failed"},
		{&service.NotFoundError{Entity: "product", ID: "x"}, http.StatusNotFound, "not_found"},
		{&service.InsufficientStockError{ProductID: "x"}, http.StatusConflict, "insufficient_stock"},
		{&service.ReturnWindowExceededError{Days: 9, Limit: 7}, http.StatusUnprocessableEntity, "return_window_exceeded"},
		{&service.InvalidReturnQuantityError{ProductID: "x"}, http.StatusUnprocessableEntity, "invalid_return_quantity"},
		{&service.ProductNotInOriginalInvoiceError{ProductID: "x"}, http.StatusUnprocessableEntity, "product_not_in_original_invoice"},
		{fmt.Errorf("checkout: %w", &service.TransactionConflictError{Attempts: 5}), http.StatusServiceUnavailable, "transaction_conflict"},
		{service.ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		status, code := classify(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}
