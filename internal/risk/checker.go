package risk

import (
	"context"
	"fmt"
	"time"

	"riskguard/internal/obs"
	"riskguard/internal/schema"
	"riskguard/internal/state"
	"riskguard/pkg/exception"
)

// LedgerView is the read access the checker needs from the ledger.
type LedgerView interface {
	View(ctx context.Context, symbol schema.Symbol) (state.View, error)
}

// Checker evaluates order proposals against the configured limits.
type Checker struct {
	cfg      Config
	ledger   LedgerView
	exposure *ExposureCalculator
	metrics  *obs.Metrics
	ids      *obs.DecisionIDs
}

// NewChecker validates cfg and builds a checker.
func NewChecker(cfg Config, ledger LedgerView, prices PriceSource, metrics *obs.Metrics) (*Checker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ledger == nil || prices == nil {
		return nil, exception.ErrNilInstance
	}
	ids, err := obs.NewDecisionIDs(0, 0)
	if err != nil {
		return nil, err
	}
	return &Checker{
		cfg:      cfg,
		ledger:   ledger,
		exposure: NewExposureCalculator(prices),
		metrics:  metrics,
		ids:      ids,
	}, nil
}

// UseIDs replaces the decision ID generator. Call it before the first Check.
func (c *Checker) UseIDs(ids *obs.DecisionIDs) {
	if ids != nil {
		c.ids = ids
	}
}

// Config returns the limits in force.
func (c *Checker) Config() Config {
	return c.cfg
}

// Exposure returns the calculator the checker values positions with.
func (c *Checker) Exposure() *ExposureCalculator {
	return c.exposure
}

// Check returns Accept or a Reject carrying the first failing reason.
// Rejections are decisions, not errors. Errors are returned only for a
// malformed order or when the ledger cannot be read (exception.ErrBusy,
// exception.ErrLedgerClosed).
func (c *Checker) Check(ctx context.Context, order schema.OrderProposal) (schema.Decision, error) {
	if err := validateOrder(order); err != nil {
		return schema.Decision{}, err
	}

	start := time.Now()
	view, err := c.ledger.View(ctx, order.Symbol)
	if err != nil {
		return schema.Decision{}, err
	}

	decision := c.evaluate(order, view)
	decision.ID = c.ids.Next()
	c.metrics.ObserveDecision(decision)
	c.metrics.ObserveCheck(time.Since(start))
	return decision, nil
}

func (c *Checker) evaluate(order schema.OrderProposal, view state.View) schema.Decision {
	current := view.Position.Qty
	projected := current.Add(order.Delta)
	increasing := projected.Abs().GreaterThan(current.Abs())

	if view.Halted && increasing {
		return schema.Reject(order.Symbol, schema.RiskReasonSafeMode)
	}

	price, err := c.exposure.Price(order.Symbol)
	if err != nil {
		return schema.Reject(order.Symbol, schema.RiskReasonPriceUnavailable)
	}

	size := projected.Abs()
	if size.Mul(price).GreaterThan(c.cfg.MaxPositionSize) {
		return schema.Reject(order.Symbol, schema.RiskReasonPositionSizeExceeded)
	}
	if c.cfg.MaxPositionQty.IsPositive() && size.GreaterThan(c.cfg.MaxPositionQty) {
		return schema.Reject(order.Symbol, schema.RiskReasonPositionSizeExceeded)
	}

	if increasing && view.DailyRealizedPnL.LessThanOrEqual(c.cfg.MaxDailyLoss.Neg()) {
		return schema.Reject(order.Symbol, schema.RiskReasonDailyLossLimitBreached)
	}

	if current.IsZero() && !projected.IsZero() && view.OpenPositions >= c.cfg.MaxOpenPositions {
		return schema.Reject(order.Symbol, schema.RiskReasonOpenPositionLimitExceeded)
	}

	return schema.Accept(order.Symbol)
}

func validateOrder(order schema.OrderProposal) error {
	if order.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", exception.ErrInvalidOrder)
	}
	if order.Delta.IsZero() {
		return fmt.Errorf("%w: zero delta for %s", exception.ErrInvalidOrder, order.Symbol)
	}
	if order.LimitPrice != nil && !order.LimitPrice.IsPositive() {
		return fmt.Errorf("%w: limit price %s for %s", exception.ErrInvalidOrder, order.LimitPrice, order.Symbol)
	}
	return nil
}
