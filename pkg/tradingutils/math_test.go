package tradingutils

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRoundPriceToTick(t *testing.T) {
	assert.Equal(t, 50000.01, RoundPriceToTick(50000.012, 0.01))
	assert.Equal(t, 50000.02, RoundPriceToTick(50000.017, 0.01))
	assert.Equal(t, 50000.0, RoundPriceToTick(50000.2, 0.5))
	// Zero tick size leaves the price alone.
	assert.Equal(t, 123.456, RoundPriceToTick(123.456, 0))
}

func TestRoundQuantityToLot(t *testing.T) {
	// Flooring, never rounding up past the risk-approved quantity.
	assert.Equal(t, 1.234, RoundQuantityToLot(1.2349, 0.001))
	assert.Equal(t, 0.0, RoundQuantityToLot(0.0009, 0.001))
	assert.Equal(t, 5.0, RoundQuantityToLot(5.9, 1))
	assert.Equal(t, 2.5, RoundQuantityToLot(2.5, 0))
}

func TestRoundPriceDecimals(t *testing.T) {
	p := decimal.NewFromFloat(123.45678)
	assert.True(t, RoundPrice(p, 2).Equal(decimal.NewFromFloat(123.46)))
}

func TestSlippage(t *testing.T) {
	// Buy filled 1% above intent.
	assert.InDelta(t, 0.01, Slippage(100, 101), 1e-9)
	// Filled below intent is negative slippage.
	assert.InDelta(t, -0.01, Slippage(100, 99), 1e-9)
	assert.Equal(t, 0.0, Slippage(0, 101))
}

func TestCommission(t *testing.T) {
	assert.InDelta(t, 50.0, Commission(50000, 1, 0.001), 1e-9)
	assert.InDelta(t, 25.0, Commission(50000, 0.5, 0.001), 1e-9)
}

func TestQuantitiesEqual(t *testing.T) {
	assert.True(t, QuantitiesEqual(1.0, 1.0+1e-12))
	assert.False(t, QuantitiesEqual(1.0, 1.0001))
}

func TestVWAP(t *testing.T) {
	assert.InDelta(t, 50120.0, VWAP(50000, 4, 50200, 6), 1e-9)
	assert.Equal(t, 0.0, VWAP(50000, 0, 50200, 0))
}
