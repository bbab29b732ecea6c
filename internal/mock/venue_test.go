package mock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"execution_gateway/internal/core"
	apperrors "execution_gateway/pkg/errors"
)

func testRequest(id string) *core.OrderRequest {
	return &core.OrderRequest{
		ID:        id,
		Symbol:    "BTCUSDT",
		Side:      core.OrderSideBuy,
		Type:      core.OrderTypeLimit,
		Quantity:  1,
		Price:     50000,
		Timestamp: time.Now(),
	}
}

func TestVenue_PlaceOrderFills(t *testing.T) {
	v := NewVenue("test")
	ctx := context.Background()

	result, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, result.Status)
	assert.Equal(t, 1.0, result.FilledQuantity)
	assert.Equal(t, 50000.0, result.AveragePrice)
	// 0.1% commission
	assert.InDelta(t, 50.0, result.Commission, 1e-9)
	assert.Len(t, result.Fills, 1)
	assert.NotNil(t, result.FilledAt)
}

func TestVenue_PlaceOrderIdempotent(t *testing.T) {
	v := NewVenue("test")
	ctx := context.Background()

	first, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.NoError(t, err)

	second, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.Fills[0].FillID, second.Fills[0].FillID)
	assert.Equal(t, 2, v.PlaceCalls())
}

func TestVenue_FailureInjection(t *testing.T) {
	v := NewVenue("test").WithFailures(2, apperrors.Transport("connection refused"))
	ctx := context.Background()

	_, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.Error(t, err)
	_, err = v.PlaceOrder(ctx, testRequest("o1"))
	require.Error(t, err)

	// Third attempt succeeds.
	result, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusFilled, result.Status)
	assert.Equal(t, 3, v.PlaceCalls())
}

func TestVenue_FailureMessage(t *testing.T) {
	v := NewVenue("test").WithFailureMessage(1, "insufficient funds")

	_, err := v.PlaceOrder(context.Background(), testRequest("o1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")
}

func TestVenue_PartialFills(t *testing.T) {
	v := NewVenue("test").WithPartialFills(0.5)

	result, err := v.PlaceOrder(context.Background(), testRequest("o1"))
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusPartiallyFilled, result.Status)
	assert.InDelta(t, 0.5, result.FilledQuantity, 1e-9)
	assert.Nil(t, result.FilledAt)
}

func TestVenue_ValidatesBounds(t *testing.T) {
	v := NewVenue("test")
	ctx := context.Background()

	tooSmall := testRequest("o1")
	tooSmall.Quantity = 0.0001
	_, err := v.PlaceOrder(ctx, tooSmall)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOrderParameter))

	badPrice := testRequest("o2")
	badPrice.Price = 0
	_, err = v.PlaceOrder(ctx, badPrice)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOrderParameter))
}

func TestVenue_CancelOrder(t *testing.T) {
	v := NewVenue("test").WithPartialFills(0.5)
	ctx := context.Background()

	_, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.NoError(t, err)

	require.NoError(t, v.CancelOrder(ctx, "o1"))

	status, err := v.GetOrderStatus(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, core.OrderStatusCancelled, status)

	// Cancelled orders cannot be cancelled again.
	assert.Error(t, v.CancelOrder(ctx, "o1"))
}

func TestVenue_CancelFilledOrderFails(t *testing.T) {
	v := NewVenue("test")
	ctx := context.Background()

	_, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.NoError(t, err)

	err = v.CancelOrder(ctx, "o1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot cancel")
}

func TestVenue_CancelUnknownOrder(t *testing.T) {
	v := NewVenue("test")
	err := v.CancelOrder(context.Background(), "missing")
	assert.True(t, errors.Is(err, apperrors.ErrOrderNotFound))
}

func TestVenue_DelayRespectsContext(t *testing.T) {
	v := NewVenue("test").WithDelay(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := v.PlaceOrder(ctx, testRequest("o1"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, apperrors.KindTransport, apperrors.KindOf(err))
}

func TestVenue_GetAccountInfo(t *testing.T) {
	v := NewVenue("test")
	account, err := v.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mock-test", account.AccountID)
}
