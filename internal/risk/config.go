package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"riskguard/internal/session"
	"riskguard/pkg/exception"
)

// Config defines the risk limits. It is immutable after load.
type Config struct {
	// MaxPositionSize caps |quantity| * price per symbol.
	MaxPositionSize decimal.Decimal
	// MaxPositionQty caps |quantity| per symbol. Zero disables it.
	MaxPositionQty decimal.Decimal
	// MaxDailyLoss is a positive amount; risk-increasing orders are rejected
	// once daily realized P&L <= -MaxDailyLoss.
	MaxDailyLoss     decimal.Decimal
	MaxOpenPositions int

	FeedQueueCapacity int
	// FeedPublishTimeout is how long Publish waits on a full queue. Zero
	// returns backpressure immediately.
	FeedPublishTimeout time.Duration

	SessionReset session.Boundary
}

// Validate rejects non-positive limits.
func (c Config) Validate() error {
	if !c.MaxPositionSize.IsPositive() {
		return fmt.Errorf("%w: maxPositionSize must be positive, got %s", exception.ErrConfig, c.MaxPositionSize)
	}
	if c.MaxPositionQty.IsNegative() {
		return fmt.Errorf("%w: maxPositionQty must not be negative, got %s", exception.ErrConfig, c.MaxPositionQty)
	}
	if !c.MaxDailyLoss.IsPositive() {
		return fmt.Errorf("%w: maxDailyLoss must be positive, got %s", exception.ErrConfig, c.MaxDailyLoss)
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("%w: maxOpenPositions must be positive, got %d", exception.ErrConfig, c.MaxOpenPositions)
	}
	if c.FeedQueueCapacity <= 0 {
		return fmt.Errorf("%w: feed queue capacity must be positive, got %d", exception.ErrConfig, c.FeedQueueCapacity)
	}
	if c.FeedPublishTimeout < 0 {
		return fmt.Errorf("%w: feed publish timeout must not be negative, got %s", exception.ErrConfig, c.FeedPublishTimeout)
	}
	return c.SessionReset.Validate()
}
