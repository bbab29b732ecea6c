package tradingutils

import (
	"math"

	"github.com/shopspring/decimal"
)

// QuantityEpsilon is the tolerance used when comparing filled quantities.
const QuantityEpsilon = 1e-9

// RoundPriceToTick snaps a price to the nearest multiple of the venue tick size.
func RoundPriceToTick(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(tickSize)
	ticks := p.Div(tick).Round(0)
	out, _ := ticks.Mul(tick).Float64()
	return out
}

// RoundQuantityToLot floors a quantity to the venue lot size. Flooring keeps
// the order within the risk-approved quantity.
func RoundQuantityToLot(qty, lotSize float64) float64 {
	if lotSize <= 0 {
		return qty
	}
	q := decimal.NewFromFloat(qty)
	lot := decimal.NewFromFloat(lotSize)
	lots := q.Div(lot).Floor()
	out, _ := lots.Mul(lot).Float64()
	return out
}

// RoundPrice rounds a price to the specified decimals
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	return price.Round(int32(priceDecimals))
}

// RoundQuantity rounds a quantity to the specified decimals
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	return qty.Round(int32(qtyDecimals))
}

// Slippage is the signed deviation of the achieved fill price from the
// intended entry price. Positive means the fill was worse for a buy.
func Slippage(entryPrice, averagePrice float64) float64 {
	if entryPrice <= 0 {
		return 0
	}
	return (averagePrice - entryPrice) / entryPrice
}

// Commission computes the fee for a fill at the given rate.
func Commission(price, quantity, feeRate float64) float64 {
	p := decimal.NewFromFloat(price)
	q := decimal.NewFromFloat(quantity)
	r := decimal.NewFromFloat(feeRate)
	out, _ := p.Mul(q).Mul(r).Float64()
	return out
}

// QuantitiesEqual compares two quantities within QuantityEpsilon.
func QuantitiesEqual(a, b float64) bool {
	return math.Abs(a-b) <= QuantityEpsilon
}

// VWAP computes the volume-weighted average of two fill legs.
func VWAP(price1, qty1, price2, qty2 float64) float64 {
	total := qty1 + qty2
	if total <= 0 {
		return 0
	}
	return (price1*qty1 + price2*qty2) / total
}
