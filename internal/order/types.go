// Package order tracks the lifecycle of every order the gateway manages.
package order

import (
	"time"

	"execution_gateway/internal/core"
)

// State is a lifecycle state of a managed order.
type State string

const (
	StateCreated         State = "created"
	StateValidated       State = "validated"
	StateSubmitted       State = "submitted"
	StateAcknowledged    State = "acknowledged"
	StatePartiallyFilled State = "partially_filled"
	StateFilled          State = "filled"
	StateCancelled       State = "cancelled"
	StateRejected        State = "rejected"
	StateExpired         State = "expired"
	StateFailed          State = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected, StateExpired, StateFailed:
		return true
	default:
		return false
	}
}

// transitions is the full lifecycle graph. Absent entries are illegal.
var transitions = map[State][]State{
	StateCreated:         {StateValidated, StateRejected, StateFailed},
	StateValidated:       {StateSubmitted, StateRejected, StateFailed},
	StateSubmitted:       {StateAcknowledged, StateRejected, StateFailed, StateExpired},
	StateAcknowledged:    {StatePartiallyFilled, StateFilled, StateCancelled, StateRejected, StateExpired, StateFailed},
	StatePartiallyFilled: {StatePartiallyFilled, StateFilled, StateCancelled, StateExpired, StateFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StateTransition records one lifecycle edge taken by an order.
type StateTransition struct {
	From      State                  `json:"from"`
	To        State                  `json:"to"`
	Timestamp time.Time              `json:"timestamp"`
	Reason    string                 `json:"reason,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Lifecycle is the tracked state of one order. The manager hands out deep
// copies; callers never share the internal record.
type Lifecycle struct {
	OrderID           string             `json:"order_id"`
	ClientDecisionID  string             `json:"client_decision_id"`
	Symbol            string             `json:"symbol"`
	Side              core.OrderSide     `json:"side"`
	Venue             string             `json:"venue"`
	State             State              `json:"state"`
	RequestedQuantity float64            `json:"requested_quantity"`
	FilledQuantity    float64            `json:"filled_quantity"`
	AveragePrice      float64            `json:"average_price"`
	Commission        float64            `json:"commission"`
	EntryPrice        float64            `json:"entry_price"`
	Fills             []core.PartialFill `json:"fills,omitempty"`
	History           []StateTransition  `json:"history"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
	ExpiresAt         *time.Time         `json:"expires_at,omitempty"`

	// Metadata is opaque to the lifecycle machinery; the pipeline uses it to
	// carry upstream risk and signal context alongside the order.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Execution outcome, recorded when the submission pipeline finishes so
	// idempotent replays can reconstruct the original response.
	ExecutionID     string `json:"execution_id,omitempty"`
	ExecutionTimeMs int64  `json:"execution_time_ms,omitempty"`
	RetryCount      int    `json:"retry_count,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`
}

func (l *Lifecycle) clone() *Lifecycle {
	cp := *l
	cp.Fills = append([]core.PartialFill(nil), l.Fills...)
	cp.History = append([]StateTransition(nil), l.History...)
	if l.Metadata != nil {
		cp.Metadata = make(map[string]interface{}, len(l.Metadata))
		for k, v := range l.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// Expired reports whether the order has an expiry in the past and is still
// awaiting completion.
func (l *Lifecycle) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now) && !l.State.Terminal()
}

// RemainingQuantity is the quantity still open on the order.
func (l *Lifecycle) RemainingQuantity() float64 {
	remaining := l.RequestedQuantity - l.FilledQuantity
	if remaining < 0 {
		return 0
	}
	return remaining
}
