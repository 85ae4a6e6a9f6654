package state

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"riskguard/internal/obs"
	"riskguard/internal/schema"
	"riskguard/pkg/exception"
)

const defaultLockTimeout = 50 * time.Millisecond

// LedgerConfig controls ledger access.
type LedgerConfig struct {
	// LockTimeout bounds how long an operation waits for exclusive access
	// before failing with exception.ErrBusy.
	LockTimeout time.Duration
	// Now is the clock used for reset timestamps.
	Now func() time.Time
}

// View is a consistent read of everything a risk check needs for one symbol.
type View struct {
	Position         Position
	OpenPositions    int
	DailyRealizedPnL decimal.Decimal
	Halted           bool
}

// Ledger is the authoritative store of positions and realized P&L. Every
// operation runs under a single exclusive section, so no caller can observe a
// partially applied fill.
type Ledger struct {
	sem         chan struct{}
	lockTimeout time.Duration
	now         func() time.Time
	metrics     *obs.Metrics

	// guarded by sem
	closed     bool
	positions  map[schema.Symbol]Position // open positions only
	realized   map[schema.Symbol]decimal.Decimal
	openCount  int
	dailyPnL   decimal.Decimal
	dailyFills int
	lastReset  time.Time
	halted     bool
	haltReason string
}

// NewLedger creates an empty ledger.
func NewLedger(cfg LedgerConfig, metrics *obs.Metrics) *Ledger {
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = defaultLockTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		sem:         make(chan struct{}, 1),
		lockTimeout: cfg.LockTimeout,
		now:         cfg.Now,
		metrics:     metrics,
		positions:   make(map[schema.Symbol]Position),
		realized:    make(map[schema.Symbol]decimal.Decimal),
		lastReset:   cfg.Now(),
	}
}

func (l *Ledger) acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	default:
		timer := time.NewTimer(l.lockTimeout)
		defer timer.Stop()
		select {
		case l.sem <- struct{}{}:
		case <-timer.C:
			l.metrics.IncBusy()
			return exception.ErrBusy
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if l.closed {
		l.release()
		return exception.ErrLedgerClosed
	}
	return nil
}

func (l *Ledger) release() {
	<-l.sem
}

// ApplyFill books a confirmed fill and returns the resulting position.
// Invalid fills fail with exception.ErrInvalidFill and leave the ledger untouched.
func (l *Ledger) ApplyFill(ctx context.Context, fill schema.Fill) (Position, error) {
	if err := validateFill(fill); err != nil {
		l.metrics.IncInvalidFill()
		return Position{}, err
	}
	start := time.Now()

	if err := l.acquire(ctx); err != nil {
		return Position{}, err
	}
	defer l.release()

	cur := l.positionLocked(fill.Symbol)
	next, realized := cur.applyFill(fill.Qty, fill.Price)

	// commit
	if next.IsFlat() {
		delete(l.positions, fill.Symbol)
	} else {
		l.positions[fill.Symbol] = next
	}
	switch {
	case cur.IsFlat() && !next.IsFlat():
		l.openCount++
	case !cur.IsFlat() && next.IsFlat():
		l.openCount--
	}
	l.realized[fill.Symbol] = next.RealizedPnL
	l.dailyPnL = l.dailyPnL.Add(realized)
	l.dailyFills++

	if err := l.verifyLocked(); err != nil {
		return next, err
	}
	l.metrics.ObserveFill(time.Since(start))
	return next, nil
}

func validateFill(fill schema.Fill) error {
	switch {
	case fill.Symbol == "":
		return fmt.Errorf("%w: empty symbol", exception.ErrInvalidFill)
	case fill.Qty.IsZero():
		return fmt.Errorf("%w: zero quantity for %s", exception.ErrInvalidFill, fill.Symbol)
	case !fill.Price.IsPositive():
		return fmt.Errorf("%w: non-positive price %s for %s", exception.ErrInvalidFill, fill.Price, fill.Symbol)
	default:
		return nil
	}
}

// Get returns a copy of the position for symbol. Flat symbols report zero
// quantity and whatever P&L they realized earlier.
func (l *Ledger) Get(ctx context.Context, symbol schema.Symbol) (Position, error) {
	if err := l.acquire(ctx); err != nil {
		return Position{}, err
	}
	defer l.release()
	return l.positionLocked(symbol), nil
}

// View returns the position for symbol together with the aggregate state,
// all read under the same exclusive section.
func (l *Ledger) View(ctx context.Context, symbol schema.Symbol) (View, error) {
	if err := l.acquire(ctx); err != nil {
		return View{}, err
	}
	defer l.release()
	return View{
		Position:         l.positionLocked(symbol),
		OpenPositions:    l.openCount,
		DailyRealizedPnL: l.dailyPnL,
		Halted:           l.halted,
	}, nil
}

func (l *Ledger) positionLocked(symbol schema.Symbol) Position {
	if p, ok := l.positions[symbol]; ok {
		return p
	}
	return Position{Symbol: symbol, RealizedPnL: l.realized[symbol]}
}

// ResetDaily zeroes the session counters. Positions and average prices are
// kept. Calling it twice leaves the same state as calling it once.
func (l *Ledger) ResetDaily(ctx context.Context) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	l.dailyPnL = decimal.Zero
	l.dailyFills = 0
	l.lastReset = l.now()
	return nil
}

// Halted reports whether the ledger is in safe mode.
func (l *Ledger) Halted(ctx context.Context) (bool, string, error) {
	if err := l.acquire(ctx); err != nil {
		return false, "", err
	}
	defer l.release()
	return l.halted, l.haltReason, nil
}

// ClearHalt leaves safe mode after an operator has inspected the ledger.
// It refuses while the invariants are still broken.
func (l *Ledger) ClearHalt(ctx context.Context) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	if err := l.checkLocked(); err != nil {
		return err
	}
	if l.halted {
		logs.Infof("ledger safe mode cleared, previous reason: %s", l.haltReason)
	}
	l.halted = false
	l.haltReason = ""
	return nil
}

// verifyLocked checks the invariants and enters safe mode on violation.
func (l *Ledger) verifyLocked() error {
	err := l.checkLocked()
	if err == nil {
		return nil
	}
	if !l.halted {
		l.halted = true
		l.haltReason = err.Error()
		l.metrics.IncInvariantViolation()
		logs.Errorf("ledger entered safe mode, err: %+v", err)
	}
	return err
}

func (l *Ledger) checkLocked() error {
	if l.openCount < 0 {
		return fmt.Errorf("%w: negative open position count %d", exception.ErrStateInvariantViolation, l.openCount)
	}
	if l.openCount != len(l.positions) {
		return fmt.Errorf("%w: open position count %d, tracked %d", exception.ErrStateInvariantViolation, l.openCount, len(l.positions))
	}
	for symbol, p := range l.positions {
		if p.IsFlat() {
			return fmt.Errorf("%w: flat position kept open for %s", exception.ErrStateInvariantViolation, symbol)
		}
		if !p.AvgPrice.IsPositive() {
			return fmt.Errorf("%w: non-positive average price for %s", exception.ErrStateInvariantViolation, symbol)
		}
	}
	return nil
}

// Close waits for in-flight operations, then refuses new ones with
// exception.ErrLedgerClosed.
func (l *Ledger) Close(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer l.release()
	l.closed = true
	return nil
}
