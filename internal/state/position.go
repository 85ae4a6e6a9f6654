package state

import (
	"github.com/shopspring/decimal"

	"riskguard/internal/schema"
)

// avgPricePrecision is the number of fractional digits kept for average
// entry prices.
const avgPricePrecision = 16

// Position is a point-in-time copy of a symbol's ledger entry.
type Position struct {
	Symbol      schema.Symbol
	Qty         decimal.Decimal
	AvgPrice    decimal.Decimal // zero when flat
	RealizedPnL decimal.Decimal
}

// IsFlat reports whether the position holds no quantity.
func (p Position) IsFlat() bool {
	return p.Qty.IsZero()
}

// HasAvgPrice reports whether AvgPrice is meaningful.
func (p Position) HasAvgPrice() bool {
	return !p.IsFlat()
}

// UnrealizedPnL marks the open quantity at price.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return price.Sub(p.AvgPrice).Mul(p.Qty)
}

// Exposure is the absolute notional of the position at price.
func (p Position) Exposure(price decimal.Decimal) decimal.Decimal {
	return p.Qty.Abs().Mul(price)
}

// applyFill returns the position after a fill of qty at price, together with
// the realized P&L produced by the fill.
func (p Position) applyFill(qty, price decimal.Decimal) (Position, decimal.Decimal) {
	next := p
	realized := decimal.Zero

	switch {
	case p.IsFlat():
		next.Qty = qty
		next.AvgPrice = price
	case p.Qty.Sign() == qty.Sign():
		next.Qty = p.Qty.Add(qty)
		cost := p.Qty.Abs().Mul(p.AvgPrice).Add(qty.Abs().Mul(price))
		next.AvgPrice = cost.DivRound(next.Qty.Abs(), avgPricePrecision)
	default:
		closing := decimal.Min(p.Qty.Abs(), qty.Abs())
		realized = price.Sub(p.AvgPrice).Mul(closing)
		if p.Qty.IsNegative() {
			realized = realized.Neg()
		}
		next.Qty = p.Qty.Add(qty)
		switch {
		case next.Qty.IsZero():
			next.AvgPrice = decimal.Zero
		case next.Qty.Sign() != p.Qty.Sign():
			// reversed through flat: the remainder opens at the fill price
			next.AvgPrice = price
		}
	}

	next.RealizedPnL = p.RealizedPnL.Add(realized)
	return next, realized
}
