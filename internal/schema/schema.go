package schema

import "github.com/shopspring/decimal"

// Symbol identifies a tradable instrument.
type Symbol string

func (s Symbol) String() string {
	return string(s)
}

// PriceTick is a single price observation from the market data source.
type PriceTick struct {
	Symbol   Symbol
	Price    decimal.Decimal
	SourceTs int64 // unix nanoseconds stamped by the source

	// Optional fields some sources attach to a trade print.
	Volume *decimal.Decimal
	VWAP   *decimal.Decimal
}

// Valid reports whether the tick carries a symbol and a positive price.
func (t PriceTick) Valid() bool {
	return t.Symbol != "" && t.Price.IsPositive()
}

// Fill is a confirmed execution reported by the broker.
type Fill struct {
	OrderID string
	Symbol  Symbol
	Qty     decimal.Decimal // signed: positive buys, negative sells
	Price   decimal.Decimal
	TsEvent int64
}

// OrderProposal is an order the caller wants to submit. It only lives for
// the duration of a risk check.
type OrderProposal struct {
	Symbol     Symbol
	Delta      decimal.Decimal // signed
	LimitPrice *decimal.Decimal
}
