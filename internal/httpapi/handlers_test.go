package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tdpos/backend/internal/cache"
	"tdpos/backend/internal/domain"
	"tdpos/backend/internal/metrics"
	"tdpos/backend/internal/receipt"
	"tdpos/backend/internal/service"
	"tdpos/backend/internal/store/memory"
)

const (
	adminEmail   = "admin@tdholdings.co.ls"
	cashierEmail = "cashier@tdholdings.co.ls"
)

// newTestAPI wires a seeded memory store, the real service and a real
// AuthManager so handler tests run the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := memory.NewSeeded(memory.SeedCredentials{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.New(repo, cache.NewMemoryCartCache(), nil, m, service.Options{
		Receipt: receipt.Renderer{Company: "TD Holdings", Currency: "M"},
	})
	auth := NewAuthManager("test-secret-key-that-is-long-enough", time.Hour)

	return New(svc, auth, Options{AllowedOrigin: "*", Metrics: m, Gatherer: reg})
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler, email, password string) string {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: email, Password: password})
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
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestLoginRejectsWrongPasswordAndUnknownFields(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: adminEmail, Password: "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "UNAUTHORIZED", body.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": adminEmail, "password": "x", "pin": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginReturnsEmployeeWithoutPasswordHash(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Email: cashierEmail, Password: memory.DefaultCashierPassword})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "$2a$")
	assert.Contains(t, rec.Body.String(), `"role":"Cashier"`)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/products", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCashierCannotManageCatalog(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/branches", token, domain.BranchRequest{Name: "TD Mafeteng", Location: "Mafeteng"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products?category=tire", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Products []domain.Product `json:"products"`
	}](t, rec)
	require.Len(t, body.Products, 3)
	for _, p := range body.Products {
		assert.Equal(t, domain.CategoryTire, p.Category)
	}
}

func TestAdminCreatesProductWithAttributes(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, adminEmail, memory.DefaultAdminPassword)

	payload := map[string]any{
		"product_name":     "Kids Summer Bale",
		"product_price":    "1800",
		"product_quantity": 5,
		"category":         "bale",
		"commodity":        "clothing",
		"grade":            "B",
		"branch_ids":       []string{"br-maseru"},
		"attributes": map[string]any{
			"bale_weight":    "45.5",
			"bale_category":  "kids",
			"origin_country": "UK",
			"bale_count":     120,
		},
	}
	rec := doJSON(t, h, http.MethodPost, "/api/v1/products", token, payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec).Product
	require.NotEmpty(t, created.ID)
	bale, ok := created.Attributes.(domain.BaleAttributes)
	require.True(t, ok)
	assert.True(t, bale.Weight.Equal(decimal.RequireFromString("45.5")))

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/products/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateBranchRejectsUnknownDistrict(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, adminEmail, memory.DefaultAdminPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/branches", token, domain.BranchRequest{Name: "TD Durban", Location: "Durban"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.NotNil(t, body.Details)
}

func TestCartCheckoutFlow(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/items", token, domain.CartItemRequest{ProductID: "prd-tire-205", Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[struct {
		Cart service.CartView `json:"cart"`
	}](t, rec).Cart
	assert.Equal(t, "br-maseru", view.BranchID)
	require.Len(t, view.Items, 1)
	assert.True(t, view.Totals.Total.Equal(decimal.NewFromInt(2900)))

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/checkout", token, domain.CheckoutRequest{
		PaymentMethod:  "Cash",
		AmountReceived: decimal.NewFromInt(3000),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decodeBody[service.CheckoutResult](t, rec)
	assert.True(t, result.Order.TotalAmount.Equal(decimal.NewFromInt(2900)))
	assert.True(t, result.Order.ChangeAmount.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, domain.PaymentCash, result.Order.PaymentMethod)
	assert.Equal(t, "emp-cashier", result.Order.CashierID)
	assert.NotEmpty(t, result.Receipt.EscposBase64)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/pos/cart", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view = decodeBody[struct {
		Cart service.CartView `json:"cart"`
	}](t, rec).Cart
	assert.Empty(t, view.Items)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/products/prd-tire-205", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	product := decodeBody[struct {
		Product domain.Product `json:"product"`
	}](t, rec).Product
	assert.Equal(t, 22, product.Quantity)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/orders/"+result.Order.ID+"/receipt", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rcpt := decodeBody[receipt.Receipt](t, rec)
	assert.Equal(t, result.Order.OrderNumber, rcpt.OrderNumber)
}

func TestAddBeyondStockReturnsWarning(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/items?branch_id=br-maseru", token, domain.CartItemRequest{ProductID: "prd-tire-195", Quantity: 10})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[struct {
		Cart service.CartView `json:"cart"`
	}](t, rec).Cart
	assert.Empty(t, view.Items)
	require.NotNil(t, view.Warning)
	assert.Equal(t, 6, view.Warning.Available)
	assert.Equal(t, 10, view.Warning.Requested)
}

func TestCashierCannotSellAtAnotherBranch(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/pos/cart?branch_id=br-leribe", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCheckoutValidationErrors(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/checkout", token, domain.CheckoutRequest{PaymentMethod: "cash", AmountReceived: decimal.NewFromInt(10)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "EMPTY_CART", decodeBody[errorBody](t, rec).Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/items", token, domain.CartItemRequest{ProductID: "prd-bale-mixed", Quantity: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/checkout", token, domain.CheckoutRequest{PaymentMethod: "card"})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "MISSING_REFERENCE", decodeBody[errorBody](t, rec).Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/checkout", token, domain.CheckoutRequest{PaymentMethod: "cash", AmountReceived: decimal.NewFromInt(100)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_PAYMENT", decodeBody[errorBody](t, rec).Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/pos/cart", token, nil)
	view := decodeBody[struct {
		Cart service.CartView `json:"cart"`
	}](t, rec).Cart
	assert.Len(t, view.Items, 1)
}

func TestHoldAndResumeCart(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/items", token, domain.CartItemRequest{ProductID: "prd-tire-205", Quantity: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/hold", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	held := decodeBody[service.HoldResult](t, rec)
	require.NotEmpty(t, held.HoldID)
	assert.Empty(t, held.Cart.Items)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/pos/cart/held", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	parked := decodeBody[struct {
		Held []cache.HeldCart `json:"held"`
	}](t, rec).Held
	require.Len(t, parked, 1)
	assert.Equal(t, held.HoldID, parked[0].Key)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/resume/"+held.HoldID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decodeBody[struct {
		Cart service.CartView `json:"cart"`
	}](t, rec).Cart
	require.Len(t, view.Items, 1)
	assert.Equal(t, "prd-tire-205", view.Items[0].Product.ID)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/resume/"+held.HoldID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscardHeldCart(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/items", token, domain.CartItemRequest{ProductID: "prd-tire-205", Quantity: 1})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/hold", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	held := decodeBody[service.HoldResult](t, rec)

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/pos/cart/held/"+held.HoldID, token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodDelete, "/api/v1/pos/cart/held/"+held.HoldID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodPost, "/api/v1/pos/cart/resume/"+held.HoldID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpenDrawerReturnsKickCommand(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, cashierEmail, memory.DefaultCashierPassword)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pos/drawer", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cmd := decodeBody[receipt.DrawerCommand](t, rec)
	assert.Equal(t, receipt.OpenDrawer().CommandBase64, cmd.CommandBase64)
}

func TestDashboardAndExportForAdmin(t *testing.T) {
	h := newTestAPI(t).Handler()
	token := login(t, h, adminEmail, memory.DefaultAdminPassword)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/dashboard?period=monthly", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody[map[string]json.RawMessage](t, rec)
	assert.Contains(t, body, "total_stock_value")
	assert.Contains(t, body, "stock_by_store")
	assert.NotContains(t, body, "errors")

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard/metrics/out_of_stock", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prd-tire-265")

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard/metrics/profit_margin", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard/metrics/low_stock?threshold=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/v1/dashboard/export.xlsx", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.XLSXContentType, rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "PK"))
}

func TestMetricsEndpointExposesRequestHistogram(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tdpos_http_request_duration_seconds")
}

func TestUnknownRouteReturnsJSONNotFound(t *testing.T) {
	h := newTestAPI(t).Handler()

	rec := doJSON(t, h, http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decodeBody[errorBody](t, rec).Code)
}
