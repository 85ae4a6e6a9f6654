package feed

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/obs"
	"riskguard/pkg/exception"
)

func newAdapter(t *testing.T, cfg Config) (*Adapter, *obs.Metrics) {
	t.Helper()
	metrics := obs.NewMetrics()
	a, err := NewAdapter(cfg, NewPriceCache(), metrics)
	require.NoError(t, err)
	return a, metrics
}

func TestNewAdapterRejectsInvalidConfig(t *testing.T) {
	_, err := NewAdapter(Config{Capacity: 0}, NewPriceCache(), nil)
	require.ErrorIs(t, err, exception.ErrConfig)

	_, err = NewAdapter(Config{Capacity: 1, PublishTimeout: -time.Second}, NewPriceCache(), nil)
	require.ErrorIs(t, err, exception.ErrConfig)

	_, err = NewAdapter(Config{Capacity: 1}, nil, nil)
	require.ErrorIs(t, err, exception.ErrNilInstance)
}

func TestAdapterBackpressureAtCapacity(t *testing.T) {
	a, metrics := newAdapter(t, Config{Capacity: 5})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Publish(ctx, tick("AAPL", "10", int64(i+1))))
	}
	err := a.Publish(ctx, tick("AAPL", "10", 6))
	require.ErrorIs(t, err, exception.ErrBackpressure)
	assert.Equal(t, 5, a.Len())

	snap := metrics.Snapshot()
	assert.Equal(t, uint64(1), snap.Backpressure)
	assert.Equal(t, int64(5), snap.QueueDepth)
	assert.Equal(t, int64(5), snap.QueueCapacity)
}

func TestAdapterBlockingPublishTimesOut(t *testing.T) {
	a, _ := newAdapter(t, Config{Capacity: 1, PublishTimeout: 15 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, a.Publish(ctx, tick("AAPL", "10", 1)))
	start := time.Now()
	require.ErrorIs(t, a.Publish(ctx, tick("AAPL", "10", 2)), exception.ErrBackpressure)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	assert.Equal(t, 1, a.Len())
}

func TestAdapterRejectsInvalidTick(t *testing.T) {
	a, _ := newAdapter(t, Config{Capacity: 1})
	ctx := context.Background()

	require.ErrorIs(t, a.Publish(ctx, tick("AAPL", "0", 1)), exception.ErrInvalidTick)
	require.ErrorIs(t, a.Publish(ctx, tick("AAPL", "-1", 1)), exception.ErrInvalidTick)
	require.ErrorIs(t, a.Publish(ctx, tick("", "1", 1)), exception.ErrInvalidTick)
	assert.Equal(t, 0, a.Len())
}

func TestAdapterConsumerAppliesTicks(t *testing.T) {
	a, metrics := newAdapter(t, Config{Capacity: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	require.NoError(t, a.Publish(ctx, tick("AAPL", "11", 20)))
	require.NoError(t, a.Publish(ctx, tick("AAPL", "10", 10)))
	require.NoError(t, a.Publish(ctx, tick("MSFT", "300", 5)))

	require.Eventually(t, func() bool {
		snap := metrics.Snapshot()
		return snap.TicksApplied+snap.TicksStale == 3
	}, time.Second, time.Millisecond)

	price, ok := a.Cache().Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, "11", price.String())
	assert.Equal(t, uint64(1), metrics.Snapshot().TicksStale)

	cancel()
	require.NoError(t, <-done)
}

func TestAdapterSecondConsumerRefused(t *testing.T) {
	a, _ := newAdapter(t, Config{Capacity: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	require.Eventually(t, func() bool { return a.running.Load() }, time.Second, time.Millisecond)

	require.ErrorIs(t, a.Run(ctx), exception.ErrConsumerRunning)
	cancel()
	require.NoError(t, <-done)
}

func TestAdapterShutdownDiscardsQueued(t *testing.T) {
	ctx := context.Background()
	for run := 0; run < 50; run++ {
		a, metrics := newAdapter(t, Config{Capacity: 8})
		for i := 0; i < 4; i++ {
			require.NoError(t, a.Publish(ctx, tick("AAPL", "10", int64(i+1))))
		}

		// Closing before the consumer starts leaves every tick queued.
		a.Close()
		require.NoError(t, a.Run(ctx))

		_, ok := a.Cache().Get("AAPL")
		require.False(t, ok, "tick applied after close")
		assert.Equal(t, 0, a.Len())
		assert.Equal(t, uint64(4), metrics.Snapshot().Discarded)
		require.ErrorIs(t, a.Publish(ctx, tick("AAPL", "10", 9)), exception.ErrFeedClosed)
	}
}

func TestAdapterCancelledConsumerAppliesNothing(t *testing.T) {
	a, metrics := newAdapter(t, Config{Capacity: 8})
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Publish(context.Background(), tick("MSFT", "5", int64(i+1))))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.Run(ctx))

	_, ok := a.Cache().Get("MSFT")
	assert.False(t, ok)
	assert.Equal(t, uint64(3), metrics.Snapshot().Discarded)
}

func TestAdapterConcurrentProducersNeverExceedCapacity(t *testing.T) {
	const capacity = 4
	a, _ := newAdapter(t, Config{Capacity: capacity})
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		accepted  int
		refused   int
		maxLength int
	)
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				err := a.Publish(ctx, tick(fmt.Sprintf("S%d", p), "1", int64(i+1)))
				mu.Lock()
				if err == nil {
					accepted++
				} else {
					refused++
				}
				if n := a.Len(); n > maxLength {
					maxLength = n
				}
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, capacity, accepted)
	assert.Equal(t, 80-capacity, refused)
	assert.LessOrEqual(t, maxLength, capacity)
}
