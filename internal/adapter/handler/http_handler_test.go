package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/vending/internal/adapter/storage"
	"github.com/rl1809/vending/internal/core/service"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  json.RawMessage `json:"errors"`
}

type fixture struct {
	e            *echo.Echo
	auth         *service.AuthService
	products     *service.ProductService
	transactions *service.TransactionService
}

func newFixture(t *testing.T, throttlePerHour int) *fixture {
	t.Helper()
	repo := storage.NewMemoryAdapter()
	cache := storage.NewMemoryCache()

	f := &fixture{
		e:            echo.New(),
		auth:         service.NewAuthService(repo, "test-secret", time.Hour),
		products:     service.NewProductService(repo, cache, time.Minute, 0),
		transactions: service.NewTransactionService(repo, cache, nil, 0),
	}
	f.e.Use(Logger)
	NewHTTPHandler(f.products, f.transactions, f.auth).Register(f.e, throttlePerHour)
	return f
}

func (f *fixture) token(t *testing.T, username string, staff bool) string {
	t.Helper()
	_, token, err := f.auth.Signup(context.Background(), service.SignupInput{Username: username, Password: "pw", IsStaff: staff})
	require.NoError(t, err)
	return token
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, 0)

	rec, _ := f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
}

func TestSignupAndToken(t *testing.T) {
	f := newFixture(t, 0)

	rec, env := f.do(t, http.MethodPost, "/api/signup", map[string]string{"username": "alice", "password": "pw"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var auth AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &auth))
	assert.NotEmpty(t, auth.Token)
	assert.Equal(t, "alice", auth.User.Username)

	rec, _ = f.do(t, http.MethodPost, "/api/signup", map[string]string{"username": "alice", "password": "pw"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = f.do(t, http.MethodPost, "/api/signup", map[string]string{"username": "bob"}, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "error", env.Status)
	assert.Contains(t, string(env.Errors), "Password")

	rec, env = f.do(t, http.MethodPost, "/api/token", map[string]string{"username": "alice", "password": "pw"}, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &auth))

	rec, env = f.do(t, http.MethodGet, "/api/users/me", nil, auth.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	var me UserResponse
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "alice", me.Username)

	rec, _ = f.do(t, http.MethodPost, "/api/token", map[string]string{"username": "alice", "password": "nope"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequiresAuthentication(t *testing.T) {
	f := newFixture(t, 0)

	rec, _ := f.do(t, http.MethodGet, "/api/products", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/transactions", nil, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProductRoutes_StaffOnlyWrites(t *testing.T) {
	f := newFixture(t, 0)
	staff := f.token(t, "admin", true)
	user := f.token(t, "alice", false)

	coke := map[string]any{"name": "coke", "price": "20.00", "quantity": 5}

	rec, _ := f.do(t, http.MethodPost, "/api/products", coke, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, env := f.do(t, http.MethodPost, "/api/products", coke, staff)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created ProductResponse
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "20.00", created.Price)

	rec, _ = f.do(t, http.MethodPost, "/api/products", coke, staff)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/products", map[string]any{"name": "fanta"}, staff)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := fmt.Sprintf("/api/products/%d", created.ID)
	rec, env = f.do(t, http.MethodPatch, path, map[string]any{"quantity": 9}, staff)
	require.Equal(t, http.StatusOK, rec.Code)
	var patched ProductResponse
	require.NoError(t, json.Unmarshal(env.Data, &patched))
	assert.Equal(t, 9, patched.Quantity)
	assert.Equal(t, "20.00", patched.Price)

	rec, _ = f.do(t, http.MethodPut, path, map[string]any{"name": "coke", "price": "21.00", "quantity": 9, "version": 0}, staff)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = f.do(t, http.MethodGet, path, nil, user)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, path, nil, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, path, nil, staff)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = f.do(t, http.MethodGet, path, nil, user)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/products/abc", nil, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurchaseFlow(t *testing.T) {
	f := newFixture(t, 0)
	staff := f.token(t, "admin", true)
	user := f.token(t, "alice", false)
	other := f.token(t, "bob", false)

	rec, env := f.do(t, http.MethodPost, "/api/products", map[string]any{"name": "coke", "price": "20.00", "quantity": 5}, staff)
	require.Equal(t, http.StatusCreated, rec.Code)
	var coke ProductResponse
	require.NoError(t, json.Unmarshal(env.Data, &coke))
	purchasePath := fmt.Sprintf("/api/products/%d/purchase", coke.ID)

	rec, env = f.do(t, http.MethodPost, purchasePath, map[string]any{"quantity": 2}, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var trx TransactionResponse
	require.NoError(t, json.Unmarshal(env.Data, &trx))
	assert.Equal(t, "40.00", trx.TotalAmount)
	assert.Equal(t, "completed", trx.Status)
	assert.Equal(t, "app", trx.PaymentMethod)
	require.NotNil(t, trx.Product)
	assert.Equal(t, 3, trx.Product.Quantity)

	rec, env = f.do(t, http.MethodPost, purchasePath, map[string]any{"quantity": 10, "payment_method": "Cash"}, user)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var stock StockError
	require.NoError(t, json.Unmarshal(env.Errors, &stock))
	assert.Equal(t, 3, stock.Available)
	assert.Equal(t, 10, stock.Requested)

	rec, _ = f.do(t, http.MethodPost, purchasePath, map[string]any{"quantity": 1, "payment_method": "card"}, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, purchasePath, map[string]any{"quantity": 0}, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/api/products", nil, user)
	require.Equal(t, http.StatusOK, rec.Code)
	var products ProductPageResponse
	require.NoError(t, json.Unmarshal(env.Data, &products))
	require.Len(t, products.Results, 1)
	assert.Equal(t, 3, products.Results[0].Quantity)

	rec, env = f.do(t, http.MethodGet, "/api/transactions", nil, user)
	require.Equal(t, http.StatusOK, rec.Code)
	var transactions TransactionPageResponse
	require.NoError(t, json.Unmarshal(env.Data, &transactions))
	assert.Equal(t, 1, transactions.Count)

	rec, env = f.do(t, http.MethodGet, "/api/transactions", nil, other)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &transactions))
	assert.Equal(t, 0, transactions.Count)

	trxPath := fmt.Sprintf("/api/transactions/%d", trx.ID)
	rec, _ = f.do(t, http.MethodGet, trxPath, nil, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = f.do(t, http.MethodPatch, trxPath, map[string]any{"quantity": 4}, user)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(env.Data, &trx))
	assert.Equal(t, "80.00", trx.TotalAmount)

	rec, _ = f.do(t, http.MethodPut, trxPath, map[string]any{"quantity": 20}, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, trxPath, nil, other)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, trxPath, nil, user)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = f.do(t, http.MethodDelete, trxPath, nil, user)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	product, err := f.products.Get(context.Background(), coke.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, product.Quantity)
}

func TestListProducts_QueryValidation(t *testing.T) {
	f := newFixture(t, 0)
	user := f.token(t, "alice", false)

	rec, _ := f.do(t, http.MethodGet, "/api/products?price=abc", nil, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/products?page=0", nil, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/products?ordering=stock", nil, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/transactions?status=refunded", nil, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProductRoutes_Throttled(t *testing.T) {
	f := newFixture(t, 2)
	user := f.token(t, "alice", false)

	for i := 0; i < 2; i++ {
		rec, _ := f.do(t, http.MethodGet, "/api/products", nil, user)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec, _ := f.do(t, http.MethodGet, "/api/products", nil, user)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// other users have their own budget
	rec, _ = f.do(t, http.MethodGet, "/api/products", nil, f.token(t, "bob", false))
	assert.Equal(t, http.StatusOK, rec.Code)

	// transactions are not throttled
	rec, _ = f.do(t, http.MethodGet, "/api/transactions", nil, user)
	assert.Equal(t, http.StatusOK, rec.Code)
}
