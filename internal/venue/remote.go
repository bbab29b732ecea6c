// Package venue contains adapters for external trading venues.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"execution_gateway/internal/core"
	apperrors "execution_gateway/pkg/errors"
	gatewayhttp "execution_gateway/pkg/http"
	"execution_gateway/pkg/websocket"
)

// FillHandler receives execution events streamed by the venue.
type FillHandler func(orderID string, fill core.PartialFill)

// Remote implements core.IVenueAdapter against a venue's REST API, with an
// optional websocket stream for fill events.
type Remote struct {
	name   string
	client *gatewayhttp.Client
	ws     *websocket.Client
	logger core.ILogger

	onFill FillHandler
}

// NewRemote creates an adapter for the venue at baseURL. wsURL may be empty
// when the venue has no execution stream.
func NewRemote(name, baseURL, wsURL string, signer gatewayhttp.Signer, logger core.ILogger) *Remote {
	r := &Remote{
		name:   name,
		client: gatewayhttp.NewClient(baseURL, 10*time.Second, signer),
		logger: logger.WithField("venue", name),
	}
	if wsURL != "" {
		r.ws = websocket.NewClient(wsURL, r.handleStreamMessage, r.logger)
	}
	return r
}

// SetFillHandler registers the callback invoked for each streamed fill.
func (r *Remote) SetFillHandler(h FillHandler) {
	r.onFill = h
}

// Start begins the fill stream, if configured.
func (r *Remote) Start() {
	if r.ws != nil {
		r.ws.Start()
	}
}

// Stop tears down the fill stream.
func (r *Remote) Stop() {
	if r.ws != nil {
		r.ws.Stop()
	}
}

type fillEvent struct {
	OrderID string           `json:"order_id"`
	Fill    core.PartialFill `json:"fill"`
}

func (r *Remote) handleStreamMessage(message []byte) {
	var event fillEvent
	if err := json.Unmarshal(message, &event); err != nil {
		r.logger.Warn("Dropping malformed fill event", "error", err)
		return
	}
	if r.onFill != nil {
		r.onFill(event.OrderID, event.Fill)
	}
}

func (r *Remote) GetName() string {
	return r.name
}

func (r *Remote) GetVenueInfo(ctx context.Context, symbol string) (*core.VenueInfo, error) {
	body, err := r.client.Get(ctx, "/v1/venue-info", map[string]string{"symbol": symbol})
	if err != nil {
		return nil, gatewayhttp.ToTradingError(err)
	}

	var info core.VenueInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, apperrors.Serialization("decoding venue info: %v", err)
	}
	return &info, nil
}

// PlaceOrder submits the order. The request id doubles as the venue
// idempotency key, so resubmitting after a timeout is safe.
func (r *Remote) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.VenueOrderResult, error) {
	body, err := r.client.Post(ctx, "/v1/orders", req)
	if err != nil {
		return nil, gatewayhttp.ToTradingError(err)
	}

	var result core.VenueOrderResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, apperrors.Serialization("decoding order result: %v", err)
	}
	return &result, nil
}

func (r *Remote) CancelOrder(ctx context.Context, orderID string) error {
	_, err := r.client.Delete(ctx, "/v1/orders/"+orderID, nil)
	if err != nil {
		return gatewayhttp.ToTradingError(err)
	}
	return nil
}

func (r *Remote) GetOrderStatus(ctx context.Context, orderID string) (core.OrderStatus, error) {
	body, err := r.client.Get(ctx, "/v1/orders/"+orderID+"/status", nil)
	if err != nil {
		return "", gatewayhttp.ToTradingError(err)
	}

	var payload struct {
		Status core.OrderStatus `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", apperrors.Serialization("decoding order status: %v", err)
	}
	return payload.Status, nil
}

func (r *Remote) AmendOrder(ctx context.Context, orderID string, newPrice, newQuantity *float64) error {
	params := map[string]string{}
	if newPrice != nil {
		params["price"] = fmt.Sprintf("%v", *newPrice)
	}
	if newQuantity != nil {
		params["quantity"] = fmt.Sprintf("%v", *newQuantity)
	}
	if len(params) == 0 {
		return apperrors.Validation("amend requires a new price or quantity")
	}

	_, err := r.client.Put(ctx, "/v1/orders/"+orderID, params)
	if err != nil {
		return gatewayhttp.ToTradingError(err)
	}
	return nil
}

func (r *Remote) GetAccountInfo(ctx context.Context) (*core.AccountInfo, error) {
	body, err := r.client.Get(ctx, "/v1/account", nil)
	if err != nil {
		return nil, gatewayhttp.ToTradingError(err)
	}

	var account core.AccountInfo
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, apperrors.Serialization("decoding account info: %v", err)
	}
	return &account, nil
}

// ValidateOrder checks the request against the venue's published rules.
func (r *Remote) ValidateOrder(ctx context.Context, req *core.OrderRequest) error {
	info, err := r.GetVenueInfo(ctx, req.Symbol)
	if err != nil {
		return err
	}
	if req.Quantity < info.MinOrderSize {
		return fmt.Errorf("%w: quantity %v below minimum %v", apperrors.ErrInvalidOrderParameter, req.Quantity, info.MinOrderSize)
	}
	if info.MaxOrderSize > 0 && req.Quantity > info.MaxOrderSize {
		return fmt.Errorf("%w: quantity %v above maximum %v", apperrors.ErrInvalidOrderParameter, req.Quantity, info.MaxOrderSize)
	}
	if req.Price < info.MinPrice || (info.MaxPrice > 0 && req.Price > info.MaxPrice) {
		return fmt.Errorf("%w: price %v outside [%v, %v]", apperrors.ErrInvalidOrderParameter, req.Price, info.MinPrice, info.MaxPrice)
	}
	return nil
}
