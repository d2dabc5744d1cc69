package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/ec-stock-reservation/internal/api/middleware"
	"github.com/example/ec-stock-reservation/internal/auth"
	"github.com/example/ec-stock-reservation/internal/command"
	"github.com/example/ec-stock-reservation/internal/domain/order"
	"github.com/example/ec-stock-reservation/internal/event"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store"
	"github.com/example/ec-stock-reservation/internal/infrastructure/store/mocks"
	"github.com/example/ec-stock-reservation/internal/query"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	router *gin.Engine
	db     *mocks.MemoryDB
	outbox *mocks.OutboxRepository
	jwt    *auth.JWTService
}

func newTestServer(withAuth bool) *testServer {
	db := mocks.NewMemoryDB()
	orders := mocks.NewOrderRepository(db)
	outbox := mocks.NewOutboxRepository(db)

	orderSvc := order.NewService(db, orders, outbox, "orders.events")
	handlers := NewHandlers(zap.NewNop(),
		command.NewHandler(zap.NewNop(), orderSvc),
		query.NewHandler(nil, orders, outbox, event.ProducerOrderService),
	)

	s := &testServer{db: db, outbox: outbox}
	var authMiddleware gin.HandlerFunc
	if withAuth {
		s.jwt = auth.NewJWTService("test-secret-key", 15*time.Minute)
		authMiddleware = middleware.AuthMiddleware(s.jwt)
	}
	s.router = NewRouter(zap.NewNop(), handlers, authMiddleware)
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) bearer(t *testing.T, customerID string) map[string]string {
	t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(customerID)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

const validOrder = `{"customerId":"customer-1","items":[{"sku":"SKU-RED-TSHIRT","quantity":2}]}`

// ============================================
// Place Order Tests
// ============================================

func TestHandlers_PlaceOrder_Created(t *testing.T) {
	s := newTestServer(false)

	rec := s.do(t, http.MethodPost, "/orders", validOrder, nil)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp placeOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.OrderID)
	assert.Equal(t, store.OrderStatusCreated, resp.Status)
	_, err := uuid.Parse(resp.CorrelationID)
	assert.NoError(t, err)
	assert.Equal(t, resp.CorrelationID, rec.Header().Get(CorrelationHeader))

	records := s.db.OutboxRecords()
	require.Len(t, records, 1)
	assert.Equal(t, resp.OrderID, records[0].AggregateID)
	assert.Equal(t, event.TypeOrderPlaced, records[0].EventType)
}

func TestHandlers_PlaceOrder_PropagatesCorrelationID(t *testing.T) {
	s := newTestServer(false)
	correlationID := uuid.New().String()

	rec := s.do(t, http.MethodPost, "/orders", validOrder, map[string]string{CorrelationHeader: correlationID})

	require.Equal(t, http.StatusCreated, rec.Code)
	env, err := event.Decode(s.db.OutboxRecords()[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, correlationID, env.CorrelationID)
}

func TestHandlers_PlaceOrder_BadRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		headers map[string]string
	}{
		{"invalid json", `{"customerId":`, nil},
		{"no items", `{"customerId":"c","items":[]}`, nil},
		{"missing items", `{"customerId":"c"}`, nil},
		{"zero quantity", `{"customerId":"c","items":[{"sku":"A","quantity":0}]}`, nil},
		{"negative quantity", `{"customerId":"c","items":[{"sku":"A","quantity":-1}]}`, nil},
		{"missing sku", `{"customerId":"c","items":[{"quantity":1}]}`, nil},
		{"quantity above limit", `{"customerId":"c","items":[{"sku":"A","quantity":9223372036854775807}]}`, nil},
		{"missing customer", `{"items":[{"sku":"A","quantity":1}]}`, nil},
		{"correlation not uuid", validOrder, map[string]string{CorrelationHeader: "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(false)

			rec := s.do(t, http.MethodPost, "/orders", tt.body, tt.headers)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
			assert.Empty(t, s.db.Orders())
			assert.Empty(t, s.db.OutboxRecords())
		})
	}
}

func TestHandlers_PlaceOrder_StoreFailure(t *testing.T) {
	s := newTestServer(false)
	s.db.BeginErr = assert.AnError

	rec := s.do(t, http.MethodPost, "/orders", validOrder, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to place order"}`, rec.Body.String())
}

// ============================================
// Auth Tests
// ============================================

func TestHandlers_PlaceOrder_Auth(t *testing.T) {
	s := newTestServer(true)

	rec := s.do(t, http.MethodPost, "/orders", validOrder, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", validOrder, s.bearer(t, "customer-2"))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/orders", `{"items":[{"sku":"SKU-BLUE-CAP","quantity":1}]}`, s.bearer(t, "customer-2"))
	require.Equal(t, http.StatusCreated, rec.Code)

	orders := s.db.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "customer-2", orders[0].CustomerID)
}

func TestHandlers_GetOrder_Auth(t *testing.T) {
	s := newTestServer(true)
	rec := s.do(t, http.MethodPost, "/orders", validOrder, s.bearer(t, "customer-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var placed placeOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))

	rec = s.do(t, http.MethodGet, "/orders/"+placed.OrderID, "", s.bearer(t, "customer-1"))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/orders/"+placed.OrderID, "", s.bearer(t, "someone-else"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// ============================================
// Get Order Tests
// ============================================

func TestHandlers_GetOrder(t *testing.T) {
	s := newTestServer(false)
	rec := s.do(t, http.MethodPost, "/orders", validOrder, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var placed placeOrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &placed))

	rec = s.do(t, http.MethodGet, "/orders/"+placed.OrderID, "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var got query.OrderReadModel
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, placed.OrderID, got.OrderID)
	assert.Equal(t, "customer-1", got.CustomerID)
	assert.Equal(t, []event.OrderItem{{SKU: "SKU-RED-TSHIRT", Quantity: 2}}, got.Items)
}

func TestHandlers_GetOrder_NotFound(t *testing.T) {
	s := newTestServer(false)

	rec := s.do(t, http.MethodGet, "/orders/missing", "", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"order not found"}`, rec.Body.String())
}

// ============================================
// Health Tests
// ============================================

func TestHandlers_Health(t *testing.T) {
	s := newTestServer(true)
	s.do(t, http.MethodPost, "/orders", validOrder, s.bearer(t, "customer-1"))

	rec := s.do(t, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"UP","outboxPending":1}`, rec.Body.String())
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	s := newTestServer(false)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/nope", "", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, s.do(t, http.MethodDelete, "/health", "", nil).Code)
}
