package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/schema"
	"riskguard/internal/state"
	"riskguard/pkg/exception"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type staticPrices map[schema.Symbol]decimal.Decimal

func (p staticPrices) Get(symbol schema.Symbol) (decimal.Decimal, bool) {
	v, ok := p[symbol]
	return v, ok
}

type memorySink struct {
	mu    sync.Mutex
	saved []state.Snapshot
	err   error
}

func (m *memorySink) SaveSnapshot(_ context.Context, snapshot state.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, snapshot)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}

func seededLedger(t *testing.T) *state.Ledger {
	t.Helper()
	l := state.NewLedger(state.LedgerConfig{}, nil)
	ctx := context.Background()
	for _, f := range []schema.Fill{
		{Symbol: "AAPL", Qty: d("10"), Price: d("100")},
		{Symbol: "MSFT", Qty: d("-5"), Price: d("300")},
		{Symbol: "TSLA", Qty: d("2"), Price: d("50")},
		{Symbol: "TSLA", Qty: d("-2"), Price: d("45")},
	} {
		_, err := l.ApplyFill(ctx, f)
		require.NoError(t, err)
	}
	return l
}

func TestRecordConversionKeepsOptionalFields(t *testing.T) {
	snap, err := seededLedger(t).Snapshot(context.Background())
	require.NoError(t, err)
	snap = snap.WithUnrealized(staticPrices{"AAPL": d("101.5")})
	snap.InstanceID = "instance-1"

	rec := toRecord(snap)
	require.Len(t, rec.Positions, 3)
	assert.Equal(t, "AAPL", rec.Positions[0].Symbol)
	assert.True(t, rec.Positions[0].AvgPrice.Valid)
	assert.True(t, rec.Positions[0].UnrealizedPnL.Valid)
	assert.False(t, rec.Positions[1].UnrealizedPnL.Valid)
	assert.False(t, rec.Positions[2].AvgPrice.Valid)

	back := fromRecord(rec)
	require.NoError(t, state.CompareSnapshots(snap, back))
	assert.Equal(t, "instance-1", back.InstanceID)
	require.NotNil(t, back.Positions[0].UnrealizedPnL)
	assert.True(t, back.Positions[0].UnrealizedPnL.Equal(d("15")))
	assert.Nil(t, back.Positions[2].AvgPrice)
}

func TestExporterWritesEverySink(t *testing.T) {
	ledger := seededLedger(t)
	path := filepath.Join(t.TempDir(), "ledger.json")
	mem := &memorySink{}

	exp, err := NewExporter(ledger, staticPrices{"MSFT": d("290")}, time.Minute, FileSink{Path: path}, mem)
	require.NoError(t, err)
	require.NotEmpty(t, exp.InstanceID())
	require.NoError(t, exp.Export(context.Background()))

	onDisk, err := state.ReadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, exp.InstanceID(), onDisk.InstanceID)
	assert.Equal(t, 2, onDisk.OpenPositions)

	require.Equal(t, 1, mem.count())
	msft := mem.saved[0].Positions[1]
	require.NotNil(t, msft.UnrealizedPnL)
	assert.True(t, msft.UnrealizedPnL.Equal(d("50")))
}

func TestExporterContinuesPastFailingSink(t *testing.T) {
	bad := &memorySink{err: errors.New("disk full")}
	good := &memorySink{}
	exp, err := NewExporter(seededLedger(t), staticPrices{}, time.Minute, bad, good)
	require.NoError(t, err)

	err = exp.Export(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, good.count())
}

func TestExporterRunsPeriodically(t *testing.T) {
	mem := &memorySink{}
	exp, err := NewExporter(seededLedger(t), staticPrices{}, 5*time.Millisecond, mem)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- exp.Run(ctx) }()

	require.Eventually(t, func() bool { return mem.count() >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestNewExporterValidates(t *testing.T) {
	_, err := NewExporter(nil, staticPrices{}, 0, &memorySink{})
	require.ErrorIs(t, err, exception.ErrNilInstance)

	_, err = NewExporter(seededLedger(t), staticPrices{}, 0)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}
