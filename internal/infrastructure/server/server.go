// Package server exposes the gateway control API over HTTP/JSON.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"execution_gateway/internal/core"
	"execution_gateway/internal/gateway"
	apperrors "execution_gateway/pkg/errors"
)

// Server is the HTTP control plane of the execution gateway.
type Server struct {
	addr    string
	logger  core.ILogger
	gateway *gateway.ExecutionGateway
	hm      core.IHealthMonitor
	srv     *http.Server
}

// NewServer creates the control API server.
func NewServer(addr string, g *gateway.ExecutionGateway, hm core.IHealthMonitor, logger core.ILogger) *Server {
	s := &Server{
		addr:    addr,
		logger:  logger.WithField("component", "api_server"),
		gateway: g,
		hm:      hm,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/orders", s.handlePlaceOrder)
	mux.HandleFunc("GET /v1/orders/stats", s.handleStats)
	mux.HandleFunc("GET /v1/orders/active", s.handleActiveOrders)
	mux.HandleFunc("GET /v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("GET /v1/orders/{id}/status", s.handleGetOrderStatus)
	mux.HandleFunc("DELETE /v1/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("POST /v1/breakers/{venue}/open", s.handleForceOpen)
	mux.HandleFunc("POST /v1/breakers/{venue}/close", s.handleForceClose)

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the underlying handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Starting API server", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server failed", "error", err)
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	code := apperrors.KindOf(err).Code()
	if status == http.StatusNotFound {
		code = "NOT_FOUND"
	}
	s.writeJSON(w, status, errorResponse{Error: errorBody{
		Code:    code,
		Message: err.Error(),
	}})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":        "ok",
		"active_orders": s.gateway.Manager().Len(),
		"timestamp":     time.Now(),
	}

	status := http.StatusOK
	if s.hm != nil {
		health["components"] = s.hm.GetStatus()
		if !s.hm.IsHealthy() {
			health["status"] = "unhealthy"
			status = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, status, health)
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var decision core.OrderDecision
	if err := json.NewDecoder(r.Body).Decode(&decision); err != nil {
		s.writeError(w, apperrors.Serialization("decoding order decision: %v", err))
		return
	}

	result, err := s.gateway.PlaceOrder(r.Context(), &decision)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	lc, err := s.gateway.GetOrderStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, lc)
}

func (s *Server) handleGetOrderStatus(w http.ResponseWriter, r *http.Request) {
	lc, err := s.gateway.GetOrderStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id": lc.OrderID,
		"status":   lc.State,
	})
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if err := s.gateway.CancelOrder(r.Context(), orderID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":  orderID,
		"cancelled": true,
	})
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": s.gateway.ActiveOrders(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gateway.Stats())
}

func (s *Server) handleForceOpen(w http.ResponseWriter, r *http.Request) {
	venue := r.PathValue("venue")
	cb, err := s.gateway.Breaker(venue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cb.ForceOpen()
	s.logger.Warn("Circuit breaker forced open", "venue", venue)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"venue": venue,
		"state": cb.State().String(),
	})
}

func (s *Server) handleForceClose(w http.ResponseWriter, r *http.Request) {
	venue := r.PathValue("venue")
	cb, err := s.gateway.Breaker(venue)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cb.ForceClose()
	s.logger.Info("Circuit breaker forced closed", "venue", venue)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"venue": venue,
		"state": cb.State().String(),
	})
}
