package core

import "context"

// IVenueAdapter is the contract a trading venue integration implements.
// Adapters register into the gateway by name; everything venue-specific
// (protocol, auth, symbol mapping) stays behind this interface.
type IVenueAdapter interface {
	// Identity
	GetName() string

	// Venue rules
	GetVenueInfo(ctx context.Context, symbol string) (*VenueInfo, error)

	// Order operations
	PlaceOrder(ctx context.Context, req *OrderRequest) (*VenueOrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	AmendOrder(ctx context.Context, orderID string, newPrice, newQuantity *float64) error

	// Account operations
	GetAccountInfo(ctx context.Context) (*AccountInfo, error)

	// ValidateOrder checks size and price bounds against the venue info.
	ValidateOrder(ctx context.Context, req *OrderRequest) error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
