package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"riskguard/internal/chaos"
	"riskguard/internal/core"
	"riskguard/internal/risk"
	"riskguard/internal/schema"
	"riskguard/internal/session"
	"riskguard/internal/state"
	"riskguard/pkg/exception"
)

func main() {
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	symbols := flag.Int("symbols", 8, "Number of symbols")
	ticks := flag.Int("ticks", 5000, "Ticks per symbol")
	workers := flag.Int("workers", 8, "Concurrent fill/check workers")
	fills := flag.Int("fills", 2000, "Fills per worker")
	capacity := flag.Int("queue-capacity", 256, "Feed queue capacity")
	publishTimeout := flag.Duration("publish-timeout", time.Millisecond, "Feed publish timeout")
	dropRate := flag.Float64("drop-rate", 0.01, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0.05, "Duplicate probability [0-1]")
	staleRate := flag.Float64("stale-rate", 0.05, "Stale re-emit probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 8, "Reorder window (>=1)")
	printLedger := flag.Bool("print-ledger", false, "Print the final ledger table")
	flag.Parse()

	if *seed == 0 {
		*seed = time.Now().UTC().UnixNano()
	}
	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		StaleRate:     *staleRate,
	})
	if err != nil {
		log.Fatalf("chaos config invalid: %v", err)
	}

	svc, err := core.New(core.Config{
		Risk: risk.Config{
			MaxPositionSize:    decimal.NewFromInt(1_000_000),
			MaxDailyLoss:       decimal.NewFromInt(1_000_000_000),
			MaxOpenPositions:   *symbols,
			FeedQueueCapacity:  *capacity,
			FeedPublishTimeout: *publishTimeout,
			SessionReset:       session.Boundary{Hour: 0, Minute: 0, Location: time.UTC},
		},
	})
	if err != nil {
		log.Fatalf("risk service init failed: %v", err)
	}
	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		log.Fatalf("risk service start failed: %v", err)
	}

	names := make([]schema.Symbol, *symbols)
	for i := range names {
		names[i] = schema.Symbol(fmt.Sprintf("SYM%02d", i))
	}

	start := time.Now()
	published := publishTicks(ctx, svc, engine, names, *ticks)

	var wg sync.WaitGroup
	var busy, checks atomic.Uint64
	applied := make([][]schema.Fill, *workers)
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(w) + 1))
			for i := 0; i < *fills; i++ {
				fill := schema.Fill{
					Symbol: names[rng.Intn(len(names))],
					Qty:    decimal.NewFromInt(int64(rng.Intn(21) - 10)),
					Price:  decimal.NewFromInt(int64(90 + rng.Intn(21))),
				}
				if fill.Qty.IsZero() {
					fill.Qty = decimal.NewFromInt(1)
				}
				if _, err := svc.ApplyFill(ctx, fill); err != nil {
					if errors.Is(err, exception.ErrBusy) {
						busy.Add(1)
						continue
					}
					log.Fatalf("apply fill failed: %v", err)
				}
				applied[w] = append(applied[w], fill)

				if _, err := svc.Check(ctx, schema.OrderProposal{Symbol: fill.Symbol, Delta: fill.Qty}); err == nil {
					checks.Add(1)
				}
			}
		}(w)
	}
	wg.Wait()

	for svc.Feed().Len() > 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	elapsed := time.Since(start)

	failures := verifyPrices(svc, published)
	snapshot, err := svc.Snapshot(ctx)
	if err != nil {
		log.Fatalf("snapshot failed: %v", err)
	}
	failures = append(failures, verifyLedger(snapshot, applied)...)

	if err := svc.Close(ctx); err != nil {
		log.Fatalf("close failed: %v", err)
	}

	m := svc.Metrics().Snapshot()
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle(fmt.Sprintf("CHAOS RUN seed=%d", *seed))
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"elapsed", elapsed.Round(time.Millisecond)},
		{"ticks applied", m.TicksApplied},
		{"ticks stale", m.TicksStale},
		{"backpressure", m.Backpressure},
		{"discarded on shutdown", m.Discarded},
		{"fills applied", m.FillsApplied},
		{"busy", busy.Load()},
		{"checks", checks.Load()},
		{"check latency avg", m.CheckLatency.Avg},
		{"fill latency avg", m.FillLatency.Avg},
		{"invariant violations", m.InvariantViolations},
	})
	t.AppendFooter(table.Row{"failures", len(failures)})
	t.Render()

	if *printLedger {
		state.RenderSnapshot(os.Stdout, snapshot)
	}
	for _, f := range failures {
		log.Printf("FAIL: %s", f)
	}
	if len(failures) > 0 {
		os.Exit(1)
	}
}

// publishTicks streams monotonically timestamped ticks through the chaos
// engine and returns the newest tick accepted by the feed per symbol.
func publishTicks(ctx context.Context, svc *core.Service, engine *chaos.Engine, names []schema.Symbol, perSymbol int) map[schema.Symbol]schema.PriceTick {
	newest := make(map[schema.Symbol]schema.PriceTick, len(names))
	publish := func(out []schema.PriceTick) {
		for _, tick := range out {
			if err := svc.Publish(ctx, tick); err != nil {
				continue
			}
			if prev, ok := newest[tick.Symbol]; !ok || prev.SourceTs < tick.SourceTs {
				newest[tick.Symbol] = tick
			}
		}
	}

	base := time.Now().UTC().UnixNano()
	for i := 0; i < perSymbol; i++ {
		for j, symbol := range names {
			publish(engine.Process(schema.PriceTick{
				Symbol:   symbol,
				Price:    decimal.NewFromInt(int64(100 + (i+j)%50)),
				SourceTs: base + int64(i),
			}))
		}
	}
	publish(engine.Flush())
	return newest
}

func verifyPrices(svc *core.Service, published map[schema.Symbol]schema.PriceTick) []string {
	var failures []string
	for symbol, want := range published {
		got, ok := svc.Prices().Tick(symbol)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: no cached price", symbol))
			continue
		}
		if got.SourceTs != want.SourceTs || !got.Price.Equal(want.Price) {
			failures = append(failures, fmt.Sprintf("%s: cached ts=%d price=%s, newest published ts=%d price=%s",
				symbol, got.SourceTs, got.Price, want.SourceTs, want.Price))
		}
	}
	return failures
}

// verifyLedger checks the order-independent totals: net quantity per symbol
// and the open position count.
func verifyLedger(snapshot state.Snapshot, applied [][]schema.Fill) []string {
	net := make(map[schema.Symbol]decimal.Decimal)
	for _, fills := range applied {
		for _, f := range fills {
			net[f.Symbol] = net[f.Symbol].Add(f.Qty)
		}
	}

	var failures []string
	open := 0
	realized := decimal.Zero
	for _, entry := range snapshot.Positions {
		if !entry.Qty.IsZero() {
			open++
		}
		realized = realized.Add(entry.RealizedPnL)
		if want := net[entry.Symbol]; !want.Equal(entry.Qty) {
			failures = append(failures, fmt.Sprintf("%s: qty=%s, net of fills=%s", entry.Symbol, entry.Qty, want))
		}
		delete(net, entry.Symbol)
	}
	for symbol, qty := range net {
		if !qty.IsZero() {
			failures = append(failures, fmt.Sprintf("%s: missing from ledger, net of fills=%s", symbol, qty))
		}
	}
	if open != snapshot.OpenPositions {
		failures = append(failures, fmt.Sprintf("open positions=%d, nonzero entries=%d", snapshot.OpenPositions, open))
	}
	if !realized.Equal(snapshot.DailyRealizedPnL) {
		failures = append(failures, fmt.Sprintf("daily pnl=%s, sum of realized=%s", snapshot.DailyRealizedPnL, realized))
	}
	return failures
}
