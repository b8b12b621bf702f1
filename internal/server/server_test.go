package server_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"farmstore/internal/config"
	"farmstore/internal/domain/model"
	"farmstore/internal/handler"
	"farmstore/internal/metrics"
	"farmstore/internal/middleware"
	"farmstore/internal/repository/repotest"
	"farmstore/internal/server"
	"farmstore/internal/usecase"
	"farmstore/internal/validator"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	jwtSecret     = "api-test-secret"
	webhookSecret = "api-test-hook"
)

type counterIDs struct{ n atomic.Int64 }

func (g *counterIDs) NewID() string {
	return fmt.Sprintf("%06x-api", g.n.Add(1))
}

type stoppedClock struct{}

func (stoppedClock) Now() time.Time {
	return time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
}

type api struct {
	t       *testing.T
	srv     *httptest.Server
	store   *repotest.Store
	metrics *metrics.Metrics
}

func newAPI(t *testing.T) *api {
	t.Helper()

	cfg := config.Config{Port: "0", JWTSecret: jwtSecret, PaymentWebhookSecret: webhookSecret}
	store := repotest.NewStore()
	m := metrics.New()
	logger := zap.NewNop()
	ids := &counterIDs{}
	clock := stoppedClock{}

	ledger := usecase.NewInventoryLedger(store, clock, logger, m)
	pricing := usecase.PricingPolicy{
		TaxBasisPoints: 1000,
		DeliveryFees:   map[model.DeliveryMethod]int64{model.DeliveryLocalDelivery: 500, model.DeliveryShipping: 1200},
	}
	checkoutUC := usecase.NewCheckoutUsecase(store, ledger, validator.NewCheckoutValidator(), nil, ids, clock, pricing, logger, m)
	orderUC := usecase.NewOrderUsecase(store, ledger, nil, ids, clock, logger, m)
	productUC := usecase.NewProductUsecase(store.Products(), store, clock, logger)

	s := server.New(cfg, logger, m, server.Handlers{
		Products:      handler.NewProductHandler(productUC),
		AdminProducts: handler.NewAdminProductHandler(productUC),
		Checkout:      handler.NewCheckoutHandler(checkoutUC),
		Orders:        handler.NewOrderHandler(orderUC),
		AdminOrders:   handler.NewAdminOrderHandler(usecase.NewAdminOrderUsecase(store)),
		Inventory:     handler.NewInventoryHandler(ledger),
		Payments:      handler.NewPaymentHandler(orderUC),
	})
	ts := httptest.NewServer(s.Echo())
	t.Cleanup(ts.Close)

	return &api{t: t, srv: ts, store: store, metrics: m}
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

// do sends body as JSON and decodes the response into out (if non-nil).
func (a *api) do(method, path string, body any, out any, headers ...string) int {
	a.t.Helper()

	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		payload = b
	}
	req, err := http.NewRequest(method, a.srv.URL+path, bytes.NewReader(payload))
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	res, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(a.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func bearer(tok string) []string {
	return []string{"Authorization", "Bearer " + tok}
}

type orderDTO struct {
	ID          int64  `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Total       int64  `json:"total"`
	Items       []struct {
		ProductID int64 `json:"product_id"`
		Quantity  int64 `json:"quantity"`
	} `json:"items"`
}

type errorDTO struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ProductID int64  `json:"product_id"`
}

func checkoutBody(productID, qty int64) map[string]any {
	return map[string]any{
		"items":           []map[string]any{{"product_id": productID, "quantity": qty}},
		"customer":        map[string]any{"name": "Hanako", "email": "hanako@example.com"},
		"delivery_method": "pickup",
	}
}

func TestAPI_Healthz(t *testing.T) {
	a := newAPI(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_CheckoutLifecycle(t *testing.T) {
	a := newAPI(t)
	admin := token(t, "admin-1", "ADMIN")
	staff := token(t, "staff-1", "STAFF")

	//管理者が商品登録
	var product struct {
		ID             int64 `json:"id"`
		AvailableStock int64 `json:"available_stock"`
	}
	status := a.do(http.MethodPost, "/admin/products", map[string]any{
		"name": "Eggs", "category": "dairy", "price": 400, "stock_quantity": 3, "is_active": true,
	}, &product, bearer(admin)...)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(3), product.AvailableStock)

	//公開一覧に出る
	var list struct {
		Items []struct {
			ID int64 `json:"id"`
		} `json:"items"`
		Total int64 `json:"total"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/products?q=egg", nil, &list))
	assert.Equal(t, int64(1), list.Total)

	//チェックアウト
	var order orderDTO
	status = a.do(http.MethodPost, "/checkout", checkoutBody(product.ID, 2), &order, handler.IdempotencyKeyHeader, "cart-1")
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, int64(880), order.Total)

	//同じキーなら同じ注文が200で返る
	var replay orderDTO
	status = a.do(http.MethodPost, "/checkout", checkoutBody(product.ID, 2), &replay, handler.IdempotencyKeyHeader, "cart-1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, order.ID, replay.ID)

	//在庫不足は409
	var conflict errorDTO
	status = a.do(http.MethodPost, "/checkout", checkoutBody(product.ID, 2), &conflict)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, usecase.CodeInsufficientStock, conflict.Error)
	assert.Equal(t, product.ID, conflict.ProductID)

	//決済コールバック
	var paid orderDTO
	status = a.do(http.MethodPost, "/payments/callback", map[string]any{
		"order_id": order.ID, "success": true, "amount": order.Total, "reference": "pi_1",
	}, &paid, middleware.WebhookSecretHeader, webhookSecret)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "paid", paid.Status)

	//スタッフが進める
	var processing orderDTO
	status = a.do(http.MethodPatch, fmt.Sprintf("/orders/%d", order.ID), map[string]string{"status": "processing"}, &processing, bearer(staff)...)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "processing", processing.Status)

	//飛び越しは409
	var invalid errorDTO
	status = a.do(http.MethodPatch, fmt.Sprintf("/orders/%d", order.ID), map[string]string{"status": "delivered"}, &invalid, bearer(staff)...)
	require.Equal(t, http.StatusConflict, status)
	assert.Equal(t, usecase.CodeInvalidTransition, invalid.Error)

	var got orderDTO
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, fmt.Sprintf("/orders/%d", order.ID), nil, &got, bearer(staff)...))
	assert.Equal(t, "processing", got.Status)

	//管理者の一覧と監査ログ
	var orders struct {
		Items []orderDTO `json:"items"`
		Total int64      `json:"total"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/admin/orders?status=processing", nil, &orders, bearer(admin)...))
	assert.Equal(t, int64(1), orders.Total)

	var audits struct {
		Items []model.AuditLog `json:"items"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, "/admin/audit-logs?resource_type=order", nil, &audits, bearer(admin)...))
	assert.Len(t, audits.Items, 2)
}

func TestAPI_Inventory(t *testing.T) {
	a := newAPI(t)
	admin := token(t, "admin-1", "ADMIN")
	p := a.store.Seed(model.Product{Name: "Honey", Price: 1500, StockQuantity: 4, IsActive: true})

	var adjusted struct {
		Product  model.Product           `json:"product"`
		LogEntry model.InventoryLogEntry `json:"log_entry"`
	}
	status := a.do(http.MethodPost, fmt.Sprintf("/inventory/%d/adjust", p.ID), map[string]any{"quantity": 10, "note": "recount"}, &adjusted, bearer(admin)...)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(10), adjusted.Product.StockQuantity)
	assert.Equal(t, model.InventoryChangeSet, adjusted.LogEntry.ChangeType)

	var missing errorDTO
	status = a.do(http.MethodPost, fmt.Sprintf("/inventory/%d/adjust", p.ID), map[string]any{"note": "no qty"}, &missing, bearer(admin)...)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, usecase.CodeValidation, missing.Error)

	var logs struct {
		Items []model.InventoryLogEntry `json:"items"`
	}
	require.Equal(t, http.StatusOK, a.do(http.MethodGet, fmt.Sprintf("/inventory/%d/logs", p.ID), nil, &logs, bearer(admin)...))
	require.Len(t, logs.Items, 1)

	var notFound errorDTO
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/inventory/999/logs", nil, &notFound, bearer(admin)...))
	assert.Equal(t, usecase.CodeNotFound, notFound.Error)
}

func TestAPI_AuthBoundaries(t *testing.T) {
	a := newAPI(t)
	staff := token(t, "staff-1", "STAFF")

	tests := []struct {
		name    string
		method  string
		path    string
		headers []string
		want    int
	}{
		{"orders without token", http.MethodGet, "/orders/1", nil, http.StatusUnauthorized},
		{"inventory as staff", http.MethodGet, "/inventory/1/logs", bearer(staff), http.StatusForbidden},
		{"admin orders as staff", http.MethodGet, "/admin/orders", bearer(staff), http.StatusForbidden},
		{"callback without secret", http.MethodPost, "/payments/callback", nil, http.StatusUnauthorized},
		{"callback with wrong secret", http.MethodPost, "/payments/callback", []string{middleware.WebhookSecretHeader, "nope"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, a.do(tt.method, tt.path, map[string]any{}, nil, tt.headers...))
		})
	}
}

func TestAPI_BadInput(t *testing.T) {
	a := newAPI(t)
	staff := token(t, "staff-1", "STAFF")

	var e errorDTO
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/products?page=abc", nil, &e))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/orders/abc", nil, &e, bearer(staff)...))
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPatch, "/orders/1", map[string]string{}, &e, bearer(staff)...))
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/products/42", nil, &e))
	assert.Equal(t, usecase.CodeNotFound, e.Error)

	var v errorDTO
	body := checkoutBody(1, 1)
	body["customer"] = map[string]any{"name": "Hanako", "email": "not-an-email"}
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/checkout", body, &v))
	assert.Equal(t, usecase.CodeValidation, v.Error)
}

func TestAPI_MetricsEndpoint(t *testing.T) {
	a := newAPI(t)
	a.do(http.MethodGet, "/healthz", nil, nil)

	res, err := a.srv.Client().Get(a.srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), `farmstore_http_requests_total{method="GET",route="/healthz",status="200"} 1`)
}
