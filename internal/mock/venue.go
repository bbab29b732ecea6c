// Package mock provides an in-process venue adapter for tests and local runs.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"execution_gateway/internal/core"
	apperrors "execution_gateway/pkg/errors"
	"execution_gateway/pkg/tradingutils"
)

const mockFeeRate = 0.001 // 0.1%

// Venue implements core.IVenueAdapter against in-memory state. Failure
// injection drives the retry and breaker paths in tests.
type Venue struct {
	name string
	info *core.VenueInfo

	mu     sync.RWMutex
	orders map[string]*core.VenueOrderResult

	// Injection knobs
	failuresLeft    int
	failureErr      error
	delay           time.Duration
	partialRatio    float64 // first-attempt fill ratio; 0 disables partial fills
	rejectNextOrder bool

	placeCalls  int
	cancelCalls int
	statusCalls int
}

// NewVenue creates a mock venue with permissive default trading rules.
func NewVenue(name string) *Venue {
	return &Venue{
		name:   name,
		orders: make(map[string]*core.VenueOrderResult),
		info: &core.VenueInfo{
			Name:         name,
			TickSize:     0.01,
			LotSize:      0.001,
			MinOrderSize: 0.001,
			MaxOrderSize: 1_000_000,
			MinPrice:     0.01,
			MaxPrice:     10_000_000,
			SupportedOrderTypes: []core.OrderType{
				core.OrderTypeMarket, core.OrderTypeLimit, core.OrderTypeStop, core.OrderTypeStopLimit,
			},
		},
	}
}

// WithFailures makes the next n placements fail with the given error.
func (v *Venue) WithFailures(n int, err error) *Venue {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failuresLeft = n
	v.failureErr = err
	return v
}

// WithFailureMessage makes the next n placements fail with a free-form
// execution error, exercising the vocabulary classifier.
func (v *Venue) WithFailureMessage(n int, msg string) *Venue {
	return v.WithFailures(n, apperrors.Execution("%s", msg))
}

// WithDelay adds latency to every venue call.
func (v *Venue) WithDelay(d time.Duration) *Venue {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delay = d
	return v
}

// WithPartialFills makes placements fill only ratio of the requested
// quantity, reporting the rest on the next status poll.
func (v *Venue) WithPartialFills(ratio float64) *Venue {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.partialRatio = ratio
	return v
}

// PlaceCalls returns how many placement attempts reached the venue.
func (v *Venue) PlaceCalls() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.placeCalls
}

// CancelCalls returns how many cancel attempts reached the venue.
func (v *Venue) CancelCalls() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cancelCalls
}

func (v *Venue) GetName() string {
	return v.name
}

func (v *Venue) GetVenueInfo(ctx context.Context, symbol string) (*core.VenueInfo, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	info := *v.info
	return &info, nil
}

func (v *Venue) sleep(ctx context.Context) error {
	v.mu.RLock()
	delay := v.delay
	v.mu.RUnlock()
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return apperrors.Transport("venue call aborted: %v", ctx.Err())
	case <-time.After(delay):
		return nil
	}
}

// PlaceOrder fills the order against the mock book. Placement is idempotent
// on the request id: replays return the recorded result without refilling.
func (v *Venue) PlaceOrder(ctx context.Context, req *core.OrderRequest) (*core.VenueOrderResult, error) {
	if err := v.sleep(ctx); err != nil {
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.placeCalls++

	if existing, ok := v.orders[req.ID]; ok {
		cp := *existing
		return &cp, nil
	}

	if v.failuresLeft > 0 {
		v.failuresLeft--
		return nil, v.failureErr
	}

	if err := v.validateLocked(req); err != nil {
		return nil, err
	}

	fillQty := req.Quantity
	status := core.OrderStatusFilled
	if v.partialRatio > 0 && v.partialRatio < 1 {
		fillQty = tradingutils.RoundQuantityToLot(req.Quantity*v.partialRatio, v.info.LotSize)
		if fillQty <= 0 {
			fillQty = v.info.LotSize
		}
		status = core.OrderStatusPartiallyFilled
	}

	now := time.Now()
	result := &core.VenueOrderResult{
		OrderID:        req.ID,
		Status:         status,
		FilledQuantity: fillQty,
		AveragePrice:   req.Price,
		Commission:     tradingutils.Commission(req.Price, fillQty, mockFeeRate),
		Fills: []core.PartialFill{{
			FillID:     uuid.NewString(),
			Quantity:   fillQty,
			Price:      req.Price,
			Timestamp:  now,
			Commission: tradingutils.Commission(req.Price, fillQty, mockFeeRate),
		}},
	}
	if status == core.OrderStatusFilled {
		result.FilledAt = &now
	}

	v.orders[req.ID] = result
	cp := *result
	return &cp, nil
}

func (v *Venue) validateLocked(req *core.OrderRequest) error {
	if req.Quantity < v.info.MinOrderSize {
		return fmt.Errorf("%w: quantity %v below minimum %v", apperrors.ErrInvalidOrderParameter, req.Quantity, v.info.MinOrderSize)
	}
	if req.Quantity > v.info.MaxOrderSize {
		return fmt.Errorf("%w: quantity %v above maximum %v", apperrors.ErrInvalidOrderParameter, req.Quantity, v.info.MaxOrderSize)
	}
	if req.Price < v.info.MinPrice || req.Price > v.info.MaxPrice {
		return fmt.Errorf("%w: price %v outside [%v, %v]", apperrors.ErrInvalidOrderParameter, req.Price, v.info.MinPrice, v.info.MaxPrice)
	}
	return nil
}

func (v *Venue) CancelOrder(ctx context.Context, orderID string) error {
	if err := v.sleep(ctx); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.cancelCalls++

	order, ok := v.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if order.Status == core.OrderStatusFilled || order.Status == core.OrderStatusCancelled {
		return apperrors.Execution("cannot cancel order in status %s", order.Status)
	}

	order.Status = core.OrderStatusCancelled
	return nil
}

func (v *Venue) GetOrderStatus(ctx context.Context, orderID string) (core.OrderStatus, error) {
	if err := v.sleep(ctx); err != nil {
		return "", err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.statusCalls++

	order, ok := v.orders[orderID]
	if !ok {
		return "", apperrors.ErrOrderNotFound
	}
	return order.Status, nil
}

func (v *Venue) AmendOrder(ctx context.Context, orderID string, newPrice, newQuantity *float64) error {
	if err := v.sleep(ctx); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	order, ok := v.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if order.Status != core.OrderStatusSubmitted && order.Status != core.OrderStatusPartiallyFilled {
		return apperrors.Execution("cannot amend order in status %s", order.Status)
	}
	if newPrice != nil {
		order.AveragePrice = *newPrice
	}
	if newQuantity != nil && *newQuantity < order.FilledQuantity {
		return fmt.Errorf("%w: amended quantity %v below filled %v", apperrors.ErrInvalidOrderParameter, *newQuantity, order.FilledQuantity)
	}
	return nil
}

func (v *Venue) GetAccountInfo(ctx context.Context) (*core.AccountInfo, error) {
	if err := v.sleep(ctx); err != nil {
		return nil, err
	}

	return &core.AccountInfo{
		AccountID:        "mock-" + v.name,
		TotalBalance:     1_000_000,
		AvailableBalance: 1_000_000,
	}, nil
}

func (v *Venue) ValidateOrder(ctx context.Context, req *core.OrderRequest) error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.validateLocked(req)
}
