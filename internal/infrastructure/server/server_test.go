package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution_gateway/internal/config"
	"execution_gateway/internal/core"
	"execution_gateway/internal/gateway"
	"execution_gateway/internal/infrastructure/health"
	"execution_gateway/internal/mock"
)

type noopLogger struct{}

func (l *noopLogger) Debug(msg string, fields ...interface{})               {}
func (l *noopLogger) Info(msg string, fields ...interface{})                {}
func (l *noopLogger) Warn(msg string, fields ...interface{})                {}
func (l *noopLogger) Error(msg string, fields ...interface{})               {}
func (l *noopLogger) Fatal(msg string, fields ...interface{})               {}
func (l *noopLogger) WithField(key string, value interface{}) core.ILogger  { return l }
func (l *noopLogger) WithFields(fields map[string]interface{}) core.ILogger { return l }

func testServer(t *testing.T, venue core.IVenueAdapter) (*Server, *gateway.ExecutionGateway) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Execution.MaxRetries = 1
	cfg.Execution.RetryBaseDelayMs = 1
	cfg.Execution.RetryMaxDelayMs = 5

	g := gateway.New(cfg, &noopLogger{})
	g.RegisterVenue(venue)
	t.Cleanup(g.Stop)

	hm := health.NewHealthManager(nil)
	return NewServer("127.0.0.1:0", g, hm, &noopLogger{}), g
}

func decisionBody(t *testing.T, decisionID string) *bytes.Buffer {
	t.Helper()
	payload := map[string]interface{}{
		"decision_id":            decisionID,
		"signal_id":              uuid.NewString(),
		"symbol":                 "BTCUSDT",
		"direction":              "long",
		"order_type":             "limit",
		"risk_adjusted_quantity": 1.0,
		"entry_price":            50000.0,
		"stop_loss":              49000.0,
		"venue":                  "default",
		"timestamp":              time.Now().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return bytes.NewBuffer(body)
}

func doRequest(s *Server, method, path string, body *bytes.Buffer) *httptest.ResponseRecorder {
	if body == nil {
		body = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "ok", payload["status"])
	assert.Equal(t, 0.0, payload["active_orders"])
	assert.NotEmpty(t, payload["timestamp"])
}

func TestServer_HealthCountsTrackedOrders(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	decisionID := uuid.NewString()
	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, decisionID)).Code)
	// A duplicate does not create a second order.
	require.Equal(t, http.StatusOK, doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, decisionID)).Code)

	rec := doRequest(s, http.MethodGet, "/health", nil)
	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 1.0, payload["active_orders"])
}

func TestServer_HealthUnhealthy(t *testing.T) {
	cfg := config.DefaultConfig()
	g := gateway.New(cfg, &noopLogger{})
	g.RegisterVenue(mock.NewVenue("default"))
	t.Cleanup(g.Stop)

	hm := health.NewHealthManager(nil)
	hm.Register("venue", func() error { return fmt.Errorf("down") })
	s := NewServer("127.0.0.1:0", g, hm, &noopLogger{})

	rec := doRequest(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_PlaceOrder(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result core.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, core.OrderStatusFilled, result.Status)
	assert.NotEmpty(t, result.OrderID)
}

func TestServer_PlaceOrderDuplicate(t *testing.T) {
	venue := mock.NewVenue("default")
	s, _ := testServer(t, venue)

	decisionID := uuid.NewString()

	rec1 := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, decisionID))
	require.Equal(t, http.StatusOK, rec1.Code)
	rec2 := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, decisionID))
	require.Equal(t, http.StatusOK, rec2.Code)

	var first, second core.ExecutionResult
	require.NoError(t, json.Unmarshal(rec1.Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &second))

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 1, venue.PlaceCalls())
}

func TestServer_PlaceOrderValidationError(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	body := bytes.NewBufferString(`{"decision_id":"not-a-uuid","symbol":"BTCUSDT","direction":"long","order_type":"limit","risk_adjusted_quantity":1,"entry_price":50000,"stop_loss":49000}`)
	rec := doRequest(s, http.MethodPost, "/v1/orders", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
}

func TestServer_PlaceOrderMalformedJSON(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodPost, "/v1/orders", bytes.NewBufferString("{not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERIALIZATION_ERROR")
}

func TestServer_GetOrder(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doRequest(s, http.MethodGet, "/v1/orders/"+result.OrderID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	var lc map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lc))
	assert.Equal(t, "filled", lc["state"])
	assert.NotEmpty(t, lc["history"])
}

func TestServer_GetOrderStatus(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doRequest(s, http.MethodGet, "/v1/orders/"+result.OrderID+"/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"filled"`)
}

func TestServer_GetOrderNotFound(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodGet, "/v1/orders/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestServer_CancelOrder(t *testing.T) {
	venue := mock.NewVenue("default").WithPartialFills(0.5)
	s, _ := testServer(t, venue)

	rec := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doRequest(s, http.MethodDelete, "/v1/orders/"+result.OrderID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled":true`)
}

func TestServer_CancelTerminalOrder(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.ExecutionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	rec = doRequest(s, http.MethodDelete, "/v1/orders/"+result.OrderID, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "EXECUTION_ERROR")
}

func TestServer_CancelUnknownOrder(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodDelete, "/v1/orders/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Stats(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/v1/orders/stats", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "orders_by_state")
	assert.Contains(t, rec.Body.String(), "circuit_breakers")
}

func TestServer_ActiveOrders(t *testing.T) {
	venue := mock.NewVenue("default").WithPartialFills(0.5)
	s, _ := testServer(t, venue)

	rec := doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/v1/orders/active", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "partially_filled")
}

func TestServer_BreakerForceOpenAndClose(t *testing.T) {
	venue := mock.NewVenue("default")
	s, g := testServer(t, venue)

	rec := doRequest(s, http.MethodPost, "/v1/breakers/default/open", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"open"`)

	// Orders are rejected while forced open.
	rec = doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, venue.PlaceCalls())

	rec = doRequest(s, http.MethodPost, "/v1/breakers/default/close", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	cb, err := g.Breaker("default")
	require.NoError(t, err)
	assert.Equal(t, "closed", cb.State().String())

	rec = doRequest(s, http.MethodPost, "/v1/orders", decisionBody(t, uuid.NewString()))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_BreakerUnknownVenue(t *testing.T) {
	s, _ := testServer(t, mock.NewVenue("default"))

	rec := doRequest(s, http.MethodPost, "/v1/breakers/nowhere/open", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
