package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"riskguard/internal/schema"
	"riskguard/pkg/exception"
)

// Snapshot is a read-only copy of the whole ledger.
type Snapshot struct {
	Timestamp        int64           `json:"timestamp"`
	InstanceID       string          `json:"instanceId,omitempty"`
	LastReset        int64           `json:"lastReset"`
	DailyRealizedPnL decimal.Decimal `json:"dailyRealizedPnl"`
	DailyFills       int             `json:"dailyFills"`
	OpenPositions    int             `json:"openPositions"`
	Halted           bool            `json:"halted"`
	HaltReason       string          `json:"haltReason,omitempty"`
	Positions        []PositionEntry `json:"positions"`
}

// PositionEntry is a single symbol entry. Flat symbols are listed when they
// carry realized P&L.
type PositionEntry struct {
	Symbol        schema.Symbol    `json:"symbol"`
	Qty           decimal.Decimal  `json:"qty"`
	AvgPrice      *decimal.Decimal `json:"avgPrice,omitempty"`
	RealizedPnL   decimal.Decimal  `json:"realizedPnl"`
	UnrealizedPnL *decimal.Decimal `json:"unrealizedPnl,omitempty"`
}

// PriceReader resolves the latest known price of a symbol.
type PriceReader interface {
	Get(symbol schema.Symbol) (decimal.Decimal, bool)
}

// Snapshot copies the ledger state.
func (l *Ledger) Snapshot(ctx context.Context) (Snapshot, error) {
	if err := l.acquire(ctx); err != nil {
		return Snapshot{}, err
	}
	defer l.release()

	entries := make([]PositionEntry, 0, len(l.realized))
	seen := make(map[schema.Symbol]struct{}, len(l.positions))
	for symbol, p := range l.positions {
		seen[symbol] = struct{}{}
		avg := p.AvgPrice
		entries = append(entries, PositionEntry{
			Symbol:      symbol,
			Qty:         p.Qty,
			AvgPrice:    &avg,
			RealizedPnL: p.RealizedPnL,
		})
	}
	for symbol, pnl := range l.realized {
		if _, ok := seen[symbol]; ok {
			continue
		}
		entries = append(entries, PositionEntry{Symbol: symbol, RealizedPnL: pnl})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Symbol < entries[j].Symbol
	})

	return Snapshot{
		Timestamp:        l.now().UTC().UnixNano(),
		LastReset:        l.lastReset.UTC().UnixNano(),
		DailyRealizedPnL: l.dailyPnL,
		DailyFills:       l.dailyFills,
		OpenPositions:    l.openCount,
		Halted:           l.halted,
		HaltReason:       l.haltReason,
		Positions:        entries,
	}, nil
}

// Restore replaces the ledger contents with snapshot. Session counters are
// only restored when restoreDaily is set, so a snapshot from a previous
// session never carries its loss into the current one. A halted snapshot
// keeps the ledger in safe mode.
func (l *Ledger) Restore(ctx context.Context, snapshot Snapshot, restoreDaily bool) error {
	positions := make(map[schema.Symbol]Position, len(snapshot.Positions))
	realized := make(map[schema.Symbol]decimal.Decimal, len(snapshot.Positions))
	for _, entry := range snapshot.Positions {
		if entry.Symbol == "" {
			return fmt.Errorf("%w: snapshot entry without symbol", exception.ErrInvalidArgument)
		}
		realized[entry.Symbol] = entry.RealizedPnL
		if entry.Qty.IsZero() {
			continue
		}
		if entry.AvgPrice == nil || !entry.AvgPrice.IsPositive() {
			return fmt.Errorf("%w: open position %s without average price", exception.ErrInvalidArgument, entry.Symbol)
		}
		positions[entry.Symbol] = Position{
			Symbol:      entry.Symbol,
			Qty:         entry.Qty,
			AvgPrice:    *entry.AvgPrice,
			RealizedPnL: entry.RealizedPnL,
		}
	}

	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	l.positions = positions
	l.realized = realized
	l.openCount = len(positions)
	if restoreDaily {
		l.dailyPnL = snapshot.DailyRealizedPnL
		l.dailyFills = snapshot.DailyFills
		l.lastReset = time.Unix(0, snapshot.LastReset)
	} else {
		l.dailyPnL = decimal.Zero
		l.dailyFills = 0
		l.lastReset = l.now()
	}
	if snapshot.Halted {
		l.halted = true
		l.haltReason = snapshot.HaltReason
	}
	return l.verifyLocked()
}

// WithUnrealized returns a copy of s with unrealized P&L filled in for every
// open position that has a known price.
func (s Snapshot) WithUnrealized(prices PriceReader) Snapshot {
	out := s
	out.Positions = make([]PositionEntry, len(s.Positions))
	for i, entry := range s.Positions {
		out.Positions[i] = entry
		if entry.Qty.IsZero() || entry.AvgPrice == nil {
			continue
		}
		price, ok := prices.Get(entry.Symbol)
		if !ok {
			continue
		}
		pnl := Position{Qty: entry.Qty, AvgPrice: *entry.AvgPrice}.UnrealizedPnL(price)
		out.Positions[i].UnrealizedPnL = &pnl
	}
	return out
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrap(err, "create snapshot dir")
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "rename snapshot").With("path", path)
	}
	return nil
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "unmarshal snapshot")
	}
	return snap, nil
}

// CompareSnapshots checks if two snapshots hold the same positions and
// session P&L.
func CompareSnapshots(expected, actual Snapshot) error {
	if !expected.DailyRealizedPnL.Equal(actual.DailyRealizedPnL) {
		return fmt.Errorf("snapshot daily pnl mismatch: expected=%s actual=%s", expected.DailyRealizedPnL, actual.DailyRealizedPnL)
	}
	if expected.OpenPositions != actual.OpenPositions {
		return fmt.Errorf("snapshot open positions mismatch: expected=%d actual=%d", expected.OpenPositions, actual.OpenPositions)
	}
	if len(expected.Positions) != len(actual.Positions) {
		return fmt.Errorf("snapshot length mismatch: expected=%d actual=%d", len(expected.Positions), len(actual.Positions))
	}
	expectedMap := make(map[schema.Symbol]PositionEntry, len(expected.Positions))
	for _, entry := range expected.Positions {
		expectedMap[entry.Symbol] = entry
	}
	for _, entry := range actual.Positions {
		want, ok := expectedMap[entry.Symbol]
		if !ok {
			return fmt.Errorf("snapshot missing symbol: %s", entry.Symbol)
		}
		if !want.Qty.Equal(entry.Qty) {
			return fmt.Errorf("snapshot qty mismatch: symbol=%s expected=%s actual=%s", entry.Symbol, want.Qty, entry.Qty)
		}
		if !want.RealizedPnL.Equal(entry.RealizedPnL) {
			return fmt.Errorf("snapshot realized pnl mismatch: symbol=%s expected=%s actual=%s", entry.Symbol, want.RealizedPnL, entry.RealizedPnL)
		}
		if !equalOptional(want.AvgPrice, entry.AvgPrice) {
			return fmt.Errorf("snapshot avg price mismatch: symbol=%s", entry.Symbol)
		}
	}
	return nil
}

func equalOptional(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
