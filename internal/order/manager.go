package order

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"execution_gateway/internal/core"
	apperrors "execution_gateway/pkg/errors"
)

// Manager is the in-memory lifecycle store. All mutation goes through the
// transition table; illegal edges are rejected, never silently absorbed.
type Manager struct {
	mu     sync.RWMutex
	orders map[string]*Lifecycle

	logger core.ILogger
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		orders: make(map[string]*Lifecycle),
		logger: logger,
	}
}

// Create registers a new lifecycle in Created and returns its order id.
func (m *Manager) Create(decision *core.OrderDecision, venue string) (*Lifecycle, error) {
	now := time.Now()
	lc := &Lifecycle{
		OrderID:           uuid.NewString(),
		ClientDecisionID:  decision.DecisionID,
		Symbol:            decision.Symbol,
		Side:              decision.Direction.Side(),
		Venue:             venue,
		State:             StateCreated,
		RequestedQuantity: decision.RiskAdjustedQuantity,
		EntryPrice:        decision.EntryPrice,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[lc.OrderID]; exists {
		return nil, apperrors.Data("order id collision: %s", lc.OrderID)
	}
	m.orders[lc.OrderID] = lc

	m.logger.Debug("Order lifecycle created",
		"order_id", lc.OrderID,
		"decision_id", lc.ClientDecisionID,
		"symbol", lc.Symbol)

	return lc.clone(), nil
}

// Transition moves an order to the given state if the edge is legal.
func (m *Manager) Transition(orderID string, to State, reason string) error {
	return m.TransitionWithMetadata(orderID, to, reason, nil)
}

// TransitionWithMetadata is Transition with extra context recorded on the
// history entry.
func (m *Manager) TransitionWithMetadata(orderID string, to State, reason string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(orderID, to, reason, metadata)
}

func (m *Manager) transitionLocked(orderID string, to State, reason string, metadata map[string]interface{}) error {
	lc, ok := m.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if !CanTransition(lc.State, to) {
		return apperrors.Execution("invalid order state transition %s -> %s for order %s", lc.State, to, orderID)
	}

	now := time.Now()
	lc.History = append(lc.History, StateTransition{
		From:      lc.State,
		To:        to,
		Timestamp: now,
		Reason:    reason,
		Metadata:  metadata,
	})
	lc.State = to
	lc.UpdatedAt = now

	m.logger.Debug("Order state transition",
		"order_id", orderID,
		"from", lc.History[len(lc.History)-1].From,
		"to", to,
		"reason", reason)

	return nil
}

// Get returns a snapshot of the lifecycle for the given order id.
func (m *Manager) Get(orderID string) (*Lifecycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lc, ok := m.orders[orderID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	return lc.clone(), nil
}

// GetByClientID returns the lifecycle created for a client decision id.
func (m *Manager) GetByClientID(clientID string) (*Lifecycle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, lc := range m.orders {
		if lc.ClientDecisionID == clientID {
			return lc.clone(), nil
		}
	}
	return nil, apperrors.ErrOrderNotFound
}

// Exists reports whether a lifecycle exists for the client decision id.
func (m *Manager) Exists(clientID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, lc := range m.orders {
		if lc.ClientDecisionID == clientID {
			return true
		}
	}
	return false
}

// ListByState returns snapshots of every order currently in the given state.
func (m *Manager) ListByState(state State) []*Lifecycle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Lifecycle
	for _, lc := range m.orders {
		if lc.State == state {
			out = append(out, lc.clone())
		}
	}
	return out
}

// ListActive returns snapshots of every non-terminal order.
func (m *Manager) ListActive() []*Lifecycle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Lifecycle
	for _, lc := range m.orders {
		if !lc.State.Terminal() {
			out = append(out, lc.clone())
		}
	}
	return out
}

// ListExpired returns every non-terminal order whose expiry has passed.
// Expired-but-live orders are never reaped; they surface here for
// operational follow-up.
func (m *Manager) ListExpired() []*Lifecycle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var out []*Lifecycle
	for _, lc := range m.orders {
		if lc.Expired(now) {
			out = append(out, lc.clone())
		}
	}
	return out
}

// SetExpiry stamps an expiry time on the order.
func (m *Manager) SetExpiry(orderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lc, ok := m.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	lc.ExpiresAt = &at
	lc.UpdatedAt = time.Now()
	return nil
}

// UpdateMetadata merges the given entries into the order's metadata map.
func (m *Manager) UpdateMetadata(orderID string, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lc, ok := m.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if lc.Metadata == nil {
		lc.Metadata = make(map[string]interface{}, len(metadata))
	}
	for k, v := range metadata {
		lc.Metadata[k] = v
	}
	lc.UpdatedAt = time.Now()
	return nil
}

// ApplyVenueResult folds a placement or status result into the lifecycle:
// records fills, recomputes the volume-weighted average price, and advances
// the state. A venue reporting filled quantity without a fill list gets one
// synthetic fill so the reconciliation invariants still hold.
func (m *Manager) ApplyVenueResult(orderID string, result *core.VenueOrderResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lc, ok := m.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}

	fills := result.Fills
	if len(fills) == 0 && result.FilledQuantity > 0 {
		fills = []core.PartialFill{{
			FillID:     uuid.NewString(),
			Quantity:   result.FilledQuantity,
			Price:      result.AveragePrice,
			Timestamp:  time.Now(),
			Commission: result.Commission,
		}}
	}

	// Stage the new fills first; the lifecycle is untouched until the
	// resulting state transition is known to be legal.
	var fresh []core.PartialFill
	total := lc.FilledQuantity
	for _, fill := range fills {
		if hasFill(lc.Fills, fill.FillID) || hasFill(fresh, fill.FillID) {
			continue
		}
		if fill.Quantity <= 0 {
			return apperrors.Data("fill %s has non-positive quantity %v", fill.FillID, fill.Quantity)
		}
		remaining := lc.RequestedQuantity - total
		if remaining < 0 {
			remaining = 0
		}
		if fill.Quantity > remaining+quantityEpsilon {
			return apperrors.Data("fill %s quantity %v exceeds remaining %v on order %s",
				fill.FillID, fill.Quantity, remaining, orderID)
		}
		fresh = append(fresh, fill)
		total += fill.Quantity
	}

	var target State
	var reason string
	switch {
	case len(fresh) > 0 && total >= lc.RequestedQuantity-quantityEpsilon:
		target, reason = StateFilled, "fully filled"
	case len(fresh) > 0:
		target, reason = StatePartiallyFilled, "partial fill"
	}
	if target != "" && !CanTransition(lc.State, target) {
		return apperrors.Execution("invalid order state transition %s -> %s for order %s",
			lc.State, target, orderID)
	}

	for _, fill := range fresh {
		lc.FilledQuantity += fill.Quantity
		lc.Commission += fill.Commission
		lc.Fills = append(lc.Fills, fill)
	}
	lc.AveragePrice = vwap(lc.Fills)

	if target != "" {
		if err := m.transitionLocked(orderID, target, reason, nil); err != nil {
			return err
		}
	}

	lc.UpdatedAt = time.Now()
	return nil
}

const quantityEpsilon = 1e-9

// vwap computes the average price from the ground-truth fill list rather
// than maintaining it incrementally, so it cannot drift from the fills.
func vwap(fills []core.PartialFill) float64 {
	var notional, qty float64
	for _, f := range fills {
		notional += f.Price * f.Quantity
		qty += f.Quantity
	}
	if qty <= 0 {
		return 0
	}
	return notional / qty
}

func hasFill(fills []core.PartialFill, fillID string) bool {
	for _, f := range fills {
		if f.FillID == fillID {
			return true
		}
	}
	return false
}

// FinalizeExecution records the pipeline outcome on the lifecycle so
// duplicate submissions can replay the original response.
func (m *Manager) FinalizeExecution(orderID, executionID string, elapsed time.Duration, retries int, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lc, ok := m.orders[orderID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	lc.ExecutionID = executionID
	lc.ExecutionTimeMs = elapsed.Milliseconds()
	lc.RetryCount = retries
	lc.ErrorMessage = errMsg
	lc.UpdatedAt = time.Now()
	return nil
}

// Stats returns the count of orders per lifecycle state.
func (m *Manager) Stats() map[State]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[State]int)
	for _, lc := range m.orders {
		stats[lc.State]++
	}
	return stats
}

// ReapTerminal removes terminal orders last updated before the cutoff and
// returns the reaped lifecycles so the caller can drop its own references.
func (m *Manager) ReapTerminal(cutoff time.Time) []*Lifecycle {
	m.mu.Lock()
	defer m.mu.Unlock()

	var reaped []*Lifecycle
	for id, lc := range m.orders {
		if lc.State.Terminal() && lc.UpdatedAt.Before(cutoff) {
			reaped = append(reaped, lc.clone())
			delete(m.orders, id)
		}
	}

	if len(reaped) > 0 {
		m.logger.Info("Reaped terminal orders", "count", len(reaped))
	}
	return reaped
}

// Len returns the number of tracked orders.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

func (m *Manager) String() string {
	return fmt.Sprintf("order.Manager(%d orders)", m.Len())
}
