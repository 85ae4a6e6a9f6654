package ingest

import (
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/schema"
)

const (
	eventTrade  = "trade"
	eventTicker = "24hrTicker"
)

// Stream selects the Binance stream a source subscribes to.
type Stream string

const (
	StreamTrade  Stream = "trade"
	StreamTicker Stream = "ticker"
)

type BinanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type BinanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

// BinanceEvent peeks at the event type of a stream message.
type BinanceEvent struct {
	EventType string `json:"e"`
}

// BinanceTrade is a 'Trade Stream' print.
type BinanceTrade struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	TradeID   int64  `json:"t"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"` // milliseconds
}

// Tick converts the print. ok is false when a field does not parse.
func (t BinanceTrade) Tick() (schema.PriceTick, bool) {
	price, err := decimal.NewFromString(t.Price)
	if err != nil {
		return schema.PriceTick{}, false
	}
	tick := schema.PriceTick{
		Symbol:   schema.Symbol(t.Symbol),
		Price:    price,
		SourceTs: msToNanos(t.TradeTime),
	}
	if qty, err := decimal.NewFromString(t.Quantity); err == nil {
		tick.Volume = &qty
	}
	return tick, tick.Valid() && tick.SourceTs > 0
}

// BinanceTicker is an 'Individual Symbol Ticker Stream' update.
type BinanceTicker struct {
	EventType   string `json:"e"`
	EventTime   int64  `json:"E"` // milliseconds
	Symbol      string `json:"s"`
	LastPrice   string `json:"c"`
	WeightedAvg string `json:"w"`
	BaseVolume  string `json:"v"`
	TradeCount  int64  `json:"n"`
}

// Tick converts the update using the event time as the source timestamp.
func (t BinanceTicker) Tick() (schema.PriceTick, bool) {
	price, err := decimal.NewFromString(t.LastPrice)
	if err != nil {
		return schema.PriceTick{}, false
	}
	tick := schema.PriceTick{
		Symbol:   schema.Symbol(t.Symbol),
		Price:    price,
		SourceTs: msToNanos(t.EventTime),
	}
	if vwap, err := decimal.NewFromString(t.WeightedAvg); err == nil && vwap.IsPositive() {
		tick.VWAP = &vwap
	}
	if volume, err := decimal.NewFromString(t.BaseVolume); err == nil {
		tick.Volume = &volume
	}
	return tick, tick.Valid() && tick.SourceTs > 0
}

func msToNanos(ms int64) int64 {
	return ms * int64(time.Millisecond)
}
