package risk

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"riskguard/internal/schema"
	"riskguard/internal/state"
	"riskguard/pkg/exception"
)

// PriceSource resolves the latest cached price of a symbol.
type PriceSource interface {
	Get(symbol schema.Symbol) (decimal.Decimal, bool)
}

// ExposureCalculator combines positions with cached prices. It holds no
// state of its own.
type ExposureCalculator struct {
	prices PriceSource
}

// SymbolExposure is the notional exposure of one open position.
type SymbolExposure struct {
	Symbol   schema.Symbol
	Qty      decimal.Decimal
	Price    decimal.Decimal
	Exposure decimal.Decimal
}

// ExposureReport aggregates exposure over a ledger snapshot. Symbols without
// a cached price are listed in Missing and excluded from Total.
type ExposureReport struct {
	PerSymbol []SymbolExposure
	Total     decimal.Decimal
	Missing   []schema.Symbol
}

// Complete reports whether every open position could be valued.
func (r ExposureReport) Complete() bool {
	return len(r.Missing) == 0
}

// NewExposureCalculator creates a calculator over a price source.
func NewExposureCalculator(prices PriceSource) *ExposureCalculator {
	return &ExposureCalculator{prices: prices}
}

// Price returns the cached price or exception.ErrPriceUnavailable.
func (e *ExposureCalculator) Price(symbol schema.Symbol) (decimal.Decimal, error) {
	price, ok := e.prices.Get(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", exception.ErrPriceUnavailable, symbol)
	}
	return price, nil
}

// Exposure returns |qty| * price for the position.
func (e *ExposureCalculator) Exposure(pos state.Position) (decimal.Decimal, error) {
	price, err := e.Price(pos.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return pos.Exposure(price), nil
}

// Report values every open position in the snapshot.
func (e *ExposureCalculator) Report(snapshot state.Snapshot) ExposureReport {
	report := ExposureReport{Total: decimal.Zero}
	for _, entry := range snapshot.Positions {
		if entry.Qty.IsZero() {
			continue
		}
		price, ok := e.prices.Get(entry.Symbol)
		if !ok {
			report.Missing = append(report.Missing, entry.Symbol)
			continue
		}
		exposure := entry.Qty.Abs().Mul(price)
		report.PerSymbol = append(report.PerSymbol, SymbolExposure{
			Symbol:   entry.Symbol,
			Qty:      entry.Qty,
			Price:    price,
			Exposure: exposure,
		})
		report.Total = report.Total.Add(exposure)
	}
	sort.Slice(report.PerSymbol, func(i, j int) bool {
		return report.PerSymbol[i].Symbol < report.PerSymbol[j].Symbol
	})
	sort.Slice(report.Missing, func(i, j int) bool {
		return report.Missing[i] < report.Missing[j]
	})
	return report
}
