// Package core defines the shared types and interfaces of the execution gateway.
package core

import (
	"time"

	"github.com/google/uuid"

	apperrors "execution_gateway/pkg/errors"
)

// Direction is the trade direction of an order decision.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OrderType identifies how an order executes on a venue.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// OrderSide is the venue-neutral buy/sell side derived from a Direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Side maps a decision direction to the venue order side.
func (d Direction) Side() OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus is the status a venue reports for an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// OrderDecision is the upstream decision the gateway executes. Risk and
// confluence fields are carried through untouched; the gateway only
// re-checks structural invariants.
type OrderDecision struct {
	DecisionID           string    `json:"decision_id"`
	SignalID             string    `json:"signal_id"`
	Symbol               string    `json:"symbol"`
	Direction            Direction `json:"direction"`
	OrderType            OrderType `json:"order_type"`
	RiskAdjustedQuantity float64   `json:"risk_adjusted_quantity"`
	EntryPrice           float64   `json:"entry_price"`
	StopLoss             float64   `json:"stop_loss"`
	TakeProfit           *float64  `json:"take_profit,omitempty"`
	Venue                string    `json:"venue,omitempty"`

	RiskAmount      float64 `json:"risk_amount"`
	RiskPercentage  float64 `json:"risk_percentage"`
	Leverage        float64 `json:"leverage"`
	PortfolioValue  float64 `json:"portfolio_value"`
	AvailableMargin float64 `json:"available_margin"`
	CurrentExposure float64 `json:"current_exposure"`
	ConfidenceScore float64 `json:"confidence_score"`
	ConfluenceScore float64 `json:"confluence_score"`
	RiskRewardRatio float64 `json:"risk_reward_ratio"`

	Timestamp time.Time `json:"timestamp"`
}

// Validate re-checks the structural invariants of a decision. Domain
// validation runs upstream; this is the last line before the pipeline.
func (d *OrderDecision) Validate() error {
	if _, err := uuid.Parse(d.DecisionID); err != nil {
		return apperrors.Validation("invalid decision id %q: %v", d.DecisionID, err)
	}
	if d.Symbol == "" {
		return apperrors.Validation("symbol is required")
	}
	switch d.Direction {
	case DirectionLong, DirectionShort:
	default:
		return apperrors.Validation("invalid direction %q", d.Direction)
	}
	switch d.OrderType {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
	default:
		return apperrors.Validation("invalid order type %q", d.OrderType)
	}
	if d.RiskAdjustedQuantity <= 0 {
		return apperrors.Validation("quantity must be positive, got %v", d.RiskAdjustedQuantity)
	}
	if d.EntryPrice <= 0 {
		return apperrors.Validation("entry price must be positive, got %v", d.EntryPrice)
	}
	if d.StopLoss <= 0 {
		return apperrors.Validation("stop loss must be positive, got %v", d.StopLoss)
	}
	if d.TakeProfit != nil && *d.TakeProfit <= 0 {
		return apperrors.Validation("take profit must be positive, got %v", *d.TakeProfit)
	}
	return nil
}

// OrderRequest is the venue-neutral request handed to an adapter. The ID is
// the server-minted order id, which doubles as the venue idempotency key.
type OrderRequest struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Type      OrderType `json:"type"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// PartialFill is a single execution event reported by a venue. Immutable
// once recorded.
type PartialFill struct {
	FillID     string    `json:"fill_id"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
	Commission float64   `json:"commission"`
}

// VenueOrderResult is what an adapter reports back for a placement attempt.
type VenueOrderResult struct {
	OrderID        string        `json:"order_id"`
	Status         OrderStatus   `json:"status"`
	FilledQuantity float64       `json:"filled_quantity"`
	AveragePrice   float64       `json:"average_price"`
	Commission     float64       `json:"commission"`
	FilledAt       *time.Time    `json:"filled_at,omitempty"`
	Fills          []PartialFill `json:"partial_fills,omitempty"`
}

// TradingHours describes one open window of a venue.
type TradingHours struct {
	DayOfWeek int    `json:"day_of_week"` // 0 = Sunday
	OpenTime  string `json:"open_time"`   // "09:30:00"
	CloseTime string `json:"close_time"`  // "16:00:00"
	Timezone  string `json:"timezone"`
}

// VenueInfo carries the trading rules and constraints of a venue.
type VenueInfo struct {
	Name                string         `json:"name"`
	TickSize            float64        `json:"tick_size"`
	LotSize             float64        `json:"lot_size"`
	MinOrderSize        float64        `json:"min_order_size"`
	MaxOrderSize        float64        `json:"max_order_size"`
	MinPrice            float64        `json:"min_price"`
	MaxPrice            float64        `json:"max_price"`
	TradingHours        []TradingHours `json:"trading_hours"`
	SupportedOrderTypes []OrderType    `json:"supported_order_types"`
}

// Position is an open position reported by a venue account.
type Position struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	CurrentPrice  float64 `json:"current_price"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	MarginUsed    float64 `json:"margin_used"`
}

// AccountInfo is a venue account snapshot.
type AccountInfo struct {
	AccountID        string     `json:"account_id"`
	TotalBalance     float64    `json:"total_balance"`
	AvailableBalance float64    `json:"available_balance"`
	MarginUsed       float64    `json:"margin_used"`
	MarginAvailable  float64    `json:"margin_available"`
	Positions        []Position `json:"positions"`
}

// ExecutionResult is the outcome of one client decision as returned to the
// caller, and as replayed on idempotent duplicates.
type ExecutionResult struct {
	ExecutionID     string        `json:"execution_id"`
	DecisionID      string        `json:"decision_id"`
	OrderID         string        `json:"order_id"`
	Status          OrderStatus   `json:"status"`
	FilledQuantity  float64       `json:"filled_quantity"`
	AveragePrice    float64       `json:"average_price"`
	Commission      float64       `json:"commission"`
	SubmittedAt     time.Time     `json:"submitted_at"`
	FilledAt        *time.Time    `json:"filled_at,omitempty"`
	Slippage        float64       `json:"slippage"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
	RetryCount      int           `json:"retry_count"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	Fills           []PartialFill `json:"partial_fills,omitempty"`
}
