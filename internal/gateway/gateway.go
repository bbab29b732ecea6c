// Package gateway implements the order execution pipeline: idempotent
// submission, per-venue circuit breaking, retries with backoff, and order
// lifecycle tracking.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"execution_gateway/internal/config"
	"execution_gateway/internal/core"
	"execution_gateway/internal/order"
	"execution_gateway/internal/risk"
	"execution_gateway/pkg/concurrency"
	apperrors "execution_gateway/pkg/errors"
	"execution_gateway/pkg/retry"
	"execution_gateway/pkg/telemetry"
	"execution_gateway/pkg/tradingutils"
)

// ExecutionGateway routes order decisions to venue adapters. One instance
// serves all venues; per-venue state (breaker, adapter) hangs off the
// registration.
type ExecutionGateway struct {
	cfg     *config.Config
	logger  core.ILogger
	manager *order.Manager
	policy  retry.Policy
	metrics *telemetry.MetricsHolder

	mu       sync.RWMutex
	venues   map[string]core.IVenueAdapter
	breakers map[string]*risk.CircuitBreaker

	// Dedup index: client decision id -> order id. Guarded separately from
	// the venue map; the janitor takes this lock while reaping.
	dedupMu sync.RWMutex
	dedup   map[string]string
	flight  singleflight.Group

	limiter *rate.Limiter
	pool    *concurrency.WorkerPool
}

// New creates a gateway with no venues registered.
func New(cfg *config.Config, logger core.ILogger) *ExecutionGateway {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "execution",
		MaxWorkers:  cfg.Execution.MaxConcurrentOrders,
		MaxCapacity: cfg.Concurrency.ExecutionPoolBuffer,
	}, logger)

	limit := rate.Limit(cfg.Execution.RateLimitPerSecond)
	if limit <= 0 {
		limit = rate.Inf
	}

	return &ExecutionGateway{
		cfg:     cfg,
		logger:  logger.WithField("component", "gateway"),
		manager: order.NewManager(logger),
		policy: retry.Policy{
			MaxAttempts: cfg.Execution.MaxRetries,
			BaseDelay:   cfg.Execution.RetryBaseDelay(),
			MaxDelay:    cfg.Execution.RetryMaxDelay(),
		},
		metrics:  telemetry.GetGlobalMetrics(),
		venues:   make(map[string]core.IVenueAdapter),
		breakers: make(map[string]*risk.CircuitBreaker),
		dedup:    make(map[string]string),
		limiter:  rate.NewLimiter(limit, cfg.Execution.MaxConcurrentOrders),
		pool:     pool,
	}
}

// Manager exposes the lifecycle store for the control API.
func (g *ExecutionGateway) Manager() *order.Manager {
	return g.manager
}

// RegisterVenue adds an adapter and creates its circuit breaker.
func (g *ExecutionGateway) RegisterVenue(adapter core.IVenueAdapter) {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := adapter.GetName()
	g.venues[name] = adapter
	g.breakers[name] = risk.NewCircuitBreaker(
		g.cfg.CircuitBreaker.FailureThreshold,
		g.cfg.CircuitBreaker.RecoveryTimeout(),
	)
	g.metrics.SetCircuitBreakerOpen(name, false)

	g.logger.Info("Venue registered", "venue", name)
}

func (g *ExecutionGateway) venueFor(name string) (core.IVenueAdapter, *risk.CircuitBreaker, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adapter, ok := g.venues[name]
	if !ok {
		return nil, nil, apperrors.Validation("unknown venue %q", name)
	}
	return adapter, g.breakers[name], nil
}

// Breaker returns the circuit breaker for a venue, for the control API.
func (g *ExecutionGateway) Breaker(venue string) (*risk.CircuitBreaker, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cb, ok := g.breakers[venue]
	if !ok {
		return nil, apperrors.Validation("unknown venue %q", venue)
	}
	return cb, nil
}

// Stop drains the worker pool.
func (g *ExecutionGateway) Stop() {
	g.pool.Stop()
}

// PlaceOrder executes a decision. Submissions are idempotent on the client
// decision id: a duplicate replays the recorded outcome instead of reaching
// the venue again, and concurrent duplicates share one in-flight execution.
func (g *ExecutionGateway) PlaceOrder(ctx context.Context, decision *core.OrderDecision) (*core.ExecutionResult, error) {
	if err := decision.Validate(); err != nil {
		return nil, err
	}

	venueName := decision.Venue
	if venueName == "" {
		venueName = g.cfg.Execution.DefaultVenue
	}

	type outcome struct {
		result *core.ExecutionResult
		err    error
	}

	v, _, _ := g.flight.Do(decision.DecisionID, func() (interface{}, error) {
		// Replay path: the decision was already accepted.
		g.dedupMu.RLock()
		orderID, seen := g.dedup[decision.DecisionID]
		g.dedupMu.RUnlock()

		if seen {
			res, err := g.replay(orderID)
			g.metrics.OrdersDuplicate.Add(ctx, 1)
			g.logger.Info("Duplicate submission replayed",
				"decision_id", decision.DecisionID,
				"order_id", orderID)
			return outcome{res, err}, nil
		}

		lc, err := g.manager.Create(decision, venueName)
		if err != nil {
			return outcome{nil, err}, nil
		}
		g.attachDecisionContext(lc.OrderID, decision)

		g.dedupMu.Lock()
		g.dedup[decision.DecisionID] = lc.OrderID
		g.dedupMu.Unlock()

		var res *core.ExecutionResult
		var execErr error
		g.pool.SubmitAndWait(func() {
			res, execErr = g.execute(ctx, decision, venueName, lc.OrderID)
		})
		return outcome{res, execErr}, nil
	})

	out := v.(outcome)
	return out.result, out.err
}

// attachDecisionContext copies the upstream risk and signal fields onto the
// lifecycle metadata. The gateway carries them through without interpreting.
func (g *ExecutionGateway) attachDecisionContext(orderID string, decision *core.OrderDecision) {
	md := map[string]interface{}{
		"signal_id":        decision.SignalID,
		"risk_amount":      decision.RiskAmount,
		"risk_percentage":  decision.RiskPercentage,
		"confidence_score": decision.ConfidenceScore,
		"confluence_score": decision.ConfluenceScore,
	}
	if err := g.manager.UpdateMetadata(orderID, md); err != nil {
		g.logger.Warn("Failed to attach decision context", "order_id", orderID, "error", err)
	}
}

// execute runs the submission pipeline for a freshly created lifecycle. The
// configured order timeout bounds the whole attempt loop, backoff sleeps
// included.
func (g *ExecutionGateway) execute(ctx context.Context, decision *core.OrderDecision, venueName, orderID string) (result *core.ExecutionResult, err error) {
	start := time.Now()
	executionID := uuid.NewString()
	retries := 0

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Execution.OrderTimeout())
	defer cancel()

	defer func() {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if ferr := g.manager.FinalizeExecution(orderID, executionID, time.Since(start), retries, msg); ferr != nil {
			g.logger.Warn("Failed to record execution outcome", "order_id", orderID, "error", ferr)
		}
		g.updateActiveGauge(venueName)
		g.metrics.ExecutionLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	adapter, breaker, err := g.venueFor(venueName)
	if err != nil {
		g.failOrder(orderID, order.StateRejected, "unknown venue")
		return nil, err
	}

	req, err := g.buildRequest(ctx, adapter, decision, orderID)
	if err != nil {
		g.failOrder(orderID, order.StateRejected, err.Error())
		return nil, err
	}

	if err := g.manager.Transition(orderID, order.StateValidated, "validated against venue rules"); err != nil {
		return nil, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		g.failOrder(orderID, order.StateFailed, "rate limiter wait aborted")
		return nil, apperrors.Transport("rate limiter wait aborted: %v", err)
	}

	if !breaker.Admit() {
		g.metrics.SetCircuitBreakerOpen(venueName, true)
		g.failOrder(orderID, order.StateFailed, "circuit breaker open")
		g.metrics.OrdersFailedTotal.Add(ctx, 1)
		return nil, apperrors.BreakerOpen(venueName)
	}
	g.metrics.SetCircuitBreakerOpen(venueName, breaker.State() == risk.CircuitOpen)

	if err := g.manager.Transition(orderID, order.StateSubmitted, "submitting to venue"); err != nil {
		return nil, err
	}
	g.metrics.OrdersPlacedTotal.Add(ctx, 1)

	venueResult, attempts, err := g.placeWithRetry(ctx, adapter, breaker, req, venueName)
	retries = attempts
	if err != nil {
		// Any submission-loop failure ends Failed, terminal venue refusals
		// and breaker denials included; Rejected is reserved for orders the
		// venue never saw (request validation).
		g.failOrder(orderID, order.StateFailed, err.Error())
		g.metrics.OrdersFailedTotal.Add(ctx, 1)
		return nil, err
	}

	if err := g.manager.Transition(orderID, order.StateAcknowledged, "venue acknowledged"); err != nil {
		return nil, err
	}

	if !g.cfg.Execution.EnablePartialFills && venueResult.Status == core.OrderStatusPartiallyFilled {
		// Partial fills disabled: treat the reported quantity as final.
		venueResult.Status = core.OrderStatusFilled
	}

	if err := g.manager.ApplyVenueResult(orderID, venueResult); err != nil {
		return nil, err
	}

	lc, err := g.manager.Get(orderID)
	if err != nil {
		return nil, err
	}

	if lc.State == order.StateFilled {
		g.metrics.OrdersFilledTotal.Add(ctx, 1)
		g.metrics.VolumeTotal.Add(ctx, lc.FilledQuantity)
	}

	result = g.buildResult(lc, executionID, start, retries, "")
	g.logger.Info("Order executed",
		"order_id", orderID,
		"decision_id", decision.DecisionID,
		"venue", venueName,
		"state", lc.State,
		"filled", lc.FilledQuantity,
		"retries", retries)

	return result, nil
}

// buildRequest snaps the decision onto the venue's tick and lot grid and
// validates it against the venue rules.
func (g *ExecutionGateway) buildRequest(ctx context.Context, adapter core.IVenueAdapter, decision *core.OrderDecision, orderID string) (*core.OrderRequest, error) {
	req := &core.OrderRequest{
		ID:        orderID,
		Symbol:    decision.Symbol,
		Side:      decision.Direction.Side(),
		Type:      decision.OrderType,
		Quantity:  decision.RiskAdjustedQuantity,
		Price:     decision.EntryPrice,
		Timestamp: time.Now(),
	}

	info, err := adapter.GetVenueInfo(ctx, decision.Symbol)
	if err == nil && info != nil {
		req.Price = tradingutils.RoundPriceToTick(req.Price, info.TickSize)
		req.Quantity = tradingutils.RoundQuantityToLot(req.Quantity, info.LotSize)
	}

	if err := adapter.ValidateOrder(ctx, req); err != nil {
		return nil, err
	}
	return req, nil
}

// placeWithRetry drives the placement attempts. maxRetries bounds retries,
// not total attempts: maxRetries=2 means up to 3 venue calls.
func (g *ExecutionGateway) placeWithRetry(ctx context.Context, adapter core.IVenueAdapter, breaker *risk.CircuitBreaker, req *core.OrderRequest, venueName string) (*core.VenueOrderResult, int, error) {
	var lastErr error

	for attempt := 0; attempt <= g.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := g.policy.Delay(attempt)
			g.metrics.OrderRetriesTotal.Add(ctx, 1)
			g.logger.Warn("Retrying order placement",
				"order_id", req.ID,
				"venue", venueName,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return nil, attempt, abortErr(ctx, "placement")
			case <-time.After(delay):
			}

			if !breaker.Admit() {
				g.metrics.SetCircuitBreakerOpen(venueName, true)
				return nil, attempt, apperrors.BreakerOpen(venueName)
			}
		}

		result, err := adapter.PlaceOrder(ctx, req)
		if err == nil {
			breaker.RecordSuccess()
			g.metrics.SetCircuitBreakerOpen(venueName, false)
			return result, attempt, nil
		}
		lastErr = err

		if countsAsVenueFailure(err) {
			breaker.RecordFailure()
			g.metrics.SetCircuitBreakerOpen(venueName, breaker.State() == risk.CircuitOpen)
		}

		if retry.Classify(err) == retry.NoRetry {
			return nil, attempt, err
		}
		if ctx.Err() != nil {
			return nil, attempt, abortErr(ctx, "placement")
		}
	}

	return nil, g.policy.MaxAttempts, fmt.Errorf("placement retries exhausted after %d attempts: %w", g.policy.MaxAttempts+1, lastErr)
}

// abortErr maps a cancelled context to the surfaced pipeline error. A blown
// deadline reads as a timeout so the lifecycle failure reason says so.
func abortErr(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.Transport("%s timeout: %v", op, ctx.Err())
	}
	return apperrors.Transport("%s aborted: %v", op, ctx.Err())
}

// countsAsVenueFailure reports whether an error should feed the breaker.
// Client-side refusals say nothing about venue health.
func countsAsVenueFailure(err error) bool {
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindRiskLimit, apperrors.KindSerialization, apperrors.KindBreakerOpen:
		return false
	default:
		return true
	}
}

func (g *ExecutionGateway) failOrder(orderID string, to order.State, reason string) {
	if err := g.manager.Transition(orderID, to, reason); err != nil {
		g.logger.Warn("Failed to mark order terminal", "order_id", orderID, "state", to, "error", err)
	}
}

// CancelOrder cancels a live order. Only acknowledged or partially filled
// orders can be cancelled; terminal orders report an execution error.
func (g *ExecutionGateway) CancelOrder(ctx context.Context, orderID string) error {
	lc, err := g.manager.Get(orderID)
	if err != nil {
		return err
	}

	switch lc.State {
	case order.StateAcknowledged, order.StatePartiallyFilled:
	default:
		if lc.State.Terminal() {
			return apperrors.Execution("cannot cancel order %s in terminal state %s", orderID, lc.State)
		}
		return apperrors.Execution("cannot cancel order %s while %s", orderID, lc.State)
	}

	adapter, breaker, err := g.venueFor(lc.Venue)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Execution.OrderTimeout())
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= g.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return abortErr(ctx, "cancel")
			case <-time.After(g.policy.Delay(attempt)):
			}
		}

		err = adapter.CancelOrder(ctx, orderID)
		if err == nil {
			breaker.RecordSuccess()
			if terr := g.manager.Transition(orderID, order.StateCancelled, "cancelled by client"); terr != nil {
				return terr
			}
			g.updateActiveGauge(lc.Venue)
			g.logger.Info("Order cancelled", "order_id", orderID, "venue", lc.Venue)
			return nil
		}
		lastErr = err

		if countsAsVenueFailure(err) {
			breaker.RecordFailure()
		}
		if retry.Classify(err) == retry.NoRetry {
			return err
		}
	}

	return fmt.Errorf("cancel retries exhausted: %w", lastErr)
}

// GetOrderStatus returns the tracked lifecycle for an order. Orders the
// gateway does not track are looked up at the venue directly.
func (g *ExecutionGateway) GetOrderStatus(ctx context.Context, orderID string) (*order.Lifecycle, error) {
	lc, err := g.manager.Get(orderID)
	if err == nil {
		return lc, nil
	}
	if !errors.Is(err, apperrors.ErrOrderNotFound) {
		return nil, err
	}

	// Fall back to the venues for orders placed out of band.
	g.mu.RLock()
	adapters := make([]core.IVenueAdapter, 0, len(g.venues))
	for _, a := range g.venues {
		adapters = append(adapters, a)
	}
	g.mu.RUnlock()

	for _, adapter := range adapters {
		status, verr := adapter.GetOrderStatus(ctx, orderID)
		if verr != nil {
			continue
		}
		return &order.Lifecycle{
			OrderID: orderID,
			Venue:   adapter.GetName(),
			State:   venueStatusToState(status),
		}, nil
	}

	return nil, apperrors.ErrOrderNotFound
}

func venueStatusToState(status core.OrderStatus) order.State {
	switch status {
	case core.OrderStatusPending, core.OrderStatusSubmitted:
		return order.StateSubmitted
	case core.OrderStatusPartiallyFilled:
		return order.StatePartiallyFilled
	case core.OrderStatusFilled:
		return order.StateFilled
	case core.OrderStatusCancelled:
		return order.StateCancelled
	case core.OrderStatusRejected:
		return order.StateRejected
	default:
		return order.StateSubmitted
	}
}

// ActiveOrders returns all tracked non-terminal orders.
func (g *ExecutionGateway) ActiveOrders() []*order.Lifecycle {
	return g.manager.ListActive()
}

// Stats summarizes gateway state for the control API.
func (g *ExecutionGateway) Stats() map[string]interface{} {
	states := g.manager.Stats()
	byState := make(map[string]int, len(states))
	for state, count := range states {
		byState[string(state)] = count
	}

	g.mu.RLock()
	breakers := make(map[string]interface{}, len(g.breakers))
	for venue, cb := range g.breakers {
		breakers[venue] = map[string]interface{}{
			"state":         cb.State().String(),
			"failure_count": cb.FailureCount(),
		}
	}
	g.mu.RUnlock()

	g.dedupMu.RLock()
	dedupSize := len(g.dedup)
	g.dedupMu.RUnlock()

	return map[string]interface{}{
		"orders_by_state":  byState,
		"tracked_orders":   g.manager.Len(),
		"dedup_entries":    dedupSize,
		"circuit_breakers": breakers,
		"worker_pool":      g.pool.Stats(),
	}
}

// replay reconstructs the original response for a duplicate submission.
func (g *ExecutionGateway) replay(orderID string) (*core.ExecutionResult, error) {
	lc, err := g.manager.Get(orderID)
	if err != nil {
		return nil, err
	}

	if lc.State == order.StateFailed || lc.State == order.StateRejected {
		if lc.ErrorMessage != "" {
			return nil, replayError(lc.ErrorMessage)
		}
		return nil, apperrors.Execution("order %s ended in state %s", orderID, lc.State)
	}

	return g.buildResult(lc, lc.ExecutionID, lc.CreatedAt, lc.RetryCount, lc.ErrorMessage), nil
}

// replayError rebuilds a structured error from the recorded message so the
// duplicate gets the same status code class as the original response.
func replayError(msg string) error {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "validation") || strings.Contains(lower, "invalid") {
		return apperrors.Validation("%s", msg)
	}
	return apperrors.Execution("%s", msg)
}

func (g *ExecutionGateway) buildResult(lc *order.Lifecycle, executionID string, start time.Time, retries int, errMsg string) *core.ExecutionResult {
	result := &core.ExecutionResult{
		ExecutionID:     executionID,
		DecisionID:      lc.ClientDecisionID,
		OrderID:         lc.OrderID,
		Status:          stateToVenueStatus(lc.State),
		FilledQuantity:  lc.FilledQuantity,
		AveragePrice:    lc.AveragePrice,
		Commission:      lc.Commission,
		SubmittedAt:     lc.CreatedAt,
		ExecutionTimeMs: lc.ExecutionTimeMs,
		RetryCount:      retries,
		ErrorMessage:    errMsg,
		Fills:           lc.Fills,
	}
	if lc.FilledQuantity > 0 {
		result.Slippage = tradingutils.Slippage(lc.EntryPrice, lc.AveragePrice)
	}
	if lc.State == order.StateFilled {
		t := lc.UpdatedAt
		result.FilledAt = &t
	}
	if result.ExecutionTimeMs == 0 {
		result.ExecutionTimeMs = time.Since(start).Milliseconds()
	}
	return result
}

func stateToVenueStatus(state order.State) core.OrderStatus {
	switch state {
	case order.StateCreated, order.StateValidated:
		return core.OrderStatusPending
	case order.StateSubmitted, order.StateAcknowledged:
		return core.OrderStatusSubmitted
	case order.StatePartiallyFilled:
		return core.OrderStatusPartiallyFilled
	case order.StateFilled:
		return core.OrderStatusFilled
	case order.StateCancelled:
		return core.OrderStatusCancelled
	default:
		return core.OrderStatusRejected
	}
}

func (g *ExecutionGateway) updateActiveGauge(venueName string) {
	count := int64(0)
	for _, lc := range g.manager.ListActive() {
		if lc.Venue == venueName {
			count++
		}
	}
	g.metrics.SetActiveOrders(venueName, count)
}
