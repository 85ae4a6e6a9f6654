package feed

import (
	"sync"

	"github.com/shopspring/decimal"

	"riskguard/internal/schema"
)

// PriceCache keeps the newest tick per symbol, ordered by source timestamp
// rather than arrival order.
type PriceCache struct {
	mu    sync.RWMutex
	ticks map[schema.Symbol]schema.PriceTick
}

// NewPriceCache creates an empty cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{ticks: make(map[schema.Symbol]schema.PriceTick)}
}

// Update stores tick if it is newer than the cached one for the same symbol.
// Ticks with an older or equal source timestamp are discarded.
func (c *PriceCache) Update(tick schema.PriceTick) bool {
	tick = cloneTick(tick)

	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.ticks[tick.Symbol]; ok && tick.SourceTs <= cur.SourceTs {
		return false
	}
	c.ticks[tick.Symbol] = tick
	return true
}

// Get returns the latest price for symbol.
func (c *PriceCache) Get(symbol schema.Symbol) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tick, ok := c.ticks[symbol]
	if !ok {
		return decimal.Decimal{}, false
	}
	return tick.Price, true
}

// Tick returns a copy of the latest tick for symbol.
func (c *PriceCache) Tick(symbol schema.Symbol) (schema.PriceTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tick, ok := c.ticks[symbol]
	if !ok {
		return schema.PriceTick{}, false
	}
	return cloneTick(tick), true
}

// Len returns the number of symbols with a cached price.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ticks)
}

func cloneTick(tick schema.PriceTick) schema.PriceTick {
	if tick.Volume != nil {
		v := *tick.Volume
		tick.Volume = &v
	}
	if tick.VWAP != nil {
		v := *tick.VWAP
		tick.VWAP = &v
	}
	return tick
}
