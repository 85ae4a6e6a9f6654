package state

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/schema"
)

type staticPrices map[schema.Symbol]decimal.Decimal

func (p staticPrices) Get(symbol schema.Symbol) (decimal.Decimal, bool) {
	price, ok := p[symbol]
	return price, ok
}

func seededLedger(t *testing.T) *Ledger {
	t.Helper()
	l, _ := newLedger(t)
	ctx := context.Background()
	for _, f := range []schema.Fill{
		fill("AAPL", "50", "10"),
		fill("MSFT", "-5", "300"),
		fill("TSLA", "2", "200"),
		fill("TSLA", "-2", "190"),
	} {
		_, err := l.ApplyFill(ctx, f)
		require.NoError(t, err)
	}
	return l
}

func TestSnapshotListsOpenAndRealizedSymbols(t *testing.T) {
	l := seededLedger(t)
	snap, err := l.Snapshot(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Positions, 3)
	assert.Equal(t, schema.Symbol("AAPL"), snap.Positions[0].Symbol)
	assert.Equal(t, schema.Symbol("MSFT"), snap.Positions[1].Symbol)
	assert.Equal(t, schema.Symbol("TSLA"), snap.Positions[2].Symbol)
	assert.Nil(t, snap.Positions[2].AvgPrice)
	assert.True(t, snap.Positions[2].RealizedPnL.Equal(d("-20")))
	assert.Equal(t, 2, snap.OpenPositions)
	assert.True(t, snap.DailyRealizedPnL.Equal(d("-20")))
}

func TestSnapshotWithUnrealized(t *testing.T) {
	l := seededLedger(t)
	snap, err := l.Snapshot(context.Background())
	require.NoError(t, err)

	marked := snap.WithUnrealized(staticPrices{"AAPL": d("12")})
	require.NotNil(t, marked.Positions[0].UnrealizedPnL)
	assert.True(t, marked.Positions[0].UnrealizedPnL.Equal(d("100")))
	assert.Nil(t, marked.Positions[1].UnrealizedPnL, "no price for MSFT")
	assert.Nil(t, marked.Positions[2].UnrealizedPnL, "TSLA is flat")
	assert.Nil(t, snap.Positions[0].UnrealizedPnL, "original untouched")
}

func TestSnapshotFileRoundTripAndRestore(t *testing.T) {
	ctx := context.Background()
	l := seededLedger(t)
	snap, err := l.Snapshot(ctx)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "positions.json")
	require.NoError(t, WriteSnapshot(path, snap))
	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(snap, loaded))

	restored, _ := newLedger(t)
	require.NoError(t, restored.Restore(ctx, loaded, true))
	got, err := restored.Snapshot(ctx)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(snap, got))

	p, err := restored.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, p.AvgPrice.Equal(d("10")))
}

func TestRestoreWithoutDailyCounters(t *testing.T) {
	ctx := context.Background()
	snap, err := seededLedger(t).Snapshot(ctx)
	require.NoError(t, err)

	restored, _ := newLedger(t)
	require.NoError(t, restored.Restore(ctx, snap, false))
	got, err := restored.Snapshot(ctx)
	require.NoError(t, err)

	assert.True(t, got.DailyRealizedPnL.IsZero())
	assert.Equal(t, 0, got.DailyFills)
	assert.Equal(t, 2, got.OpenPositions)
}

func TestRestoreRejectsOpenPositionWithoutAverage(t *testing.T) {
	l, _ := newLedger(t)
	err := l.Restore(context.Background(), Snapshot{
		Positions: []PositionEntry{{Symbol: "AAPL", Qty: d("1")}},
	}, true)
	require.Error(t, err)
}

func TestCompareSnapshotsDetectsMismatch(t *testing.T) {
	avg := d("10")
	a := Snapshot{OpenPositions: 1, Positions: []PositionEntry{{Symbol: "AAPL", Qty: d("1"), AvgPrice: &avg}}}
	b := Snapshot{OpenPositions: 1, Positions: []PositionEntry{{Symbol: "AAPL", Qty: d("2"), AvgPrice: &avg}}}
	require.Error(t, CompareSnapshots(a, b))

	c := Snapshot{OpenPositions: 1, Positions: []PositionEntry{{Symbol: "MSFT", Qty: d("1"), AvgPrice: &avg}}}
	require.Error(t, CompareSnapshots(a, c))
	require.NoError(t, CompareSnapshots(a, a))
}

func TestRecoverFromFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	l, _ := newLedger(t)
	res, err := RecoverFromFile(ctx, l, filepath.Join(dir, "missing.json"), time.Now())
	require.NoError(t, err)
	assert.False(t, res.Restored)

	snap, err := seededLedger(t).Snapshot(ctx)
	require.NoError(t, err)
	path := filepath.Join(dir, "positions.json")
	require.NoError(t, WriteSnapshot(path, snap))

	// snapshot taken before the current session began
	res, err = RecoverFromFile(ctx, l, path, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Restored)
	assert.False(t, res.DailyRestored)
	assert.Equal(t, 2, res.OpenPositions)

	// snapshot from the current session
	res, err = RecoverFromFile(ctx, l, path, time.Unix(0, snap.LastReset).Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, res.DailyRestored)
	got, err := l.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, got.DailyRealizedPnL.Equal(d("-20")))
}

func TestRenderSnapshot(t *testing.T) {
	snap, err := seededLedger(t).Snapshot(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	RenderSnapshot(&buf, snap.WithUnrealized(staticPrices{"AAPL": d("11")}))
	out := buf.String()
	assert.Contains(t, out, "AAPL")
	assert.Contains(t, out, "MSFT")
	assert.Contains(t, out, "-20")
}

func TestRestoreKeepsSafeMode(t *testing.T) {
	ctx := context.Background()
	snap, err := seededLedger(t).Snapshot(ctx)
	require.NoError(t, err)
	snap.Halted = true
	snap.HaltReason = "open position count drifted"

	l, _ := newLedger(t)
	require.NoError(t, l.Restore(ctx, snap, true))
	halted, reason, err := l.Halted(ctx)
	require.NoError(t, err)
	assert.True(t, halted)
	assert.Equal(t, "open position count drifted", reason)

	require.NoError(t, l.ClearHalt(ctx))
}

func TestWriteSnapshotRenameFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, os.MkdirAll(filepath.Join(path, "occupied"), 0o755))

	err := WriteSnapshot(path, Snapshot{})
	require.ErrorContains(t, err, "rename snapshot")
	assert.NoFileExists(t, path+".tmp")
}
