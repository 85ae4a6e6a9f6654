package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/obs"
	"riskguard/pkg/exception"
)

type fakeResetter struct {
	mu    sync.Mutex
	fails int
	calls int
	ok    int
}

func (f *fakeResetter) ResetDaily(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("ledger busy")
	}
	f.ok++
	return nil
}

func (f *fakeResetter) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.ok
}

var day0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, target Resetter) (*Scheduler, *obs.Metrics) {
	t.Helper()
	metrics := obs.NewMetrics()
	s, err := NewScheduler(Config{
		Boundary: Boundary{Hour: 17, Location: time.UTC},
		Now:      func() time.Time { return day0 },
	}, target, metrics)
	require.NoError(t, err)
	return s, metrics
}

func TestSchedulerFiresAtBoundary(t *testing.T) {
	target := &fakeResetter{}
	s, metrics := newScheduler(t, target)
	ctx := context.Background()

	s.tick(ctx, day0.Add(time.Hour))
	calls, _ := target.counts()
	assert.Equal(t, 0, calls)
	assert.Equal(t, StateActive, s.State())

	s.tick(ctx, day0.Add(8*time.Hour)) // 17:00
	calls, ok := target.counts()
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, ok)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, time.Date(2026, 3, 11, 17, 0, 0, 0, time.UTC), s.NextReset())
	assert.Equal(t, uint64(1), metrics.Snapshot().Resets)

	s.tick(ctx, day0.Add(9*time.Hour))
	calls, _ = target.counts()
	assert.Equal(t, 1, calls, "one reset per boundary")
}

func TestSchedulerRetriesFailedReset(t *testing.T) {
	target := &fakeResetter{fails: 2}
	s, metrics := newScheduler(t, target)
	ctx := context.Background()

	boundary := day0.Add(8 * time.Hour)
	s.tick(ctx, boundary)
	assert.Equal(t, StateResetPending, s.State())
	s.tick(ctx, boundary.Add(time.Second))
	assert.Equal(t, StateResetPending, s.State())
	s.tick(ctx, boundary.Add(2*time.Second))
	assert.Equal(t, StateActive, s.State())

	calls, ok := target.counts()
	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, ok)
	snap := metrics.Snapshot()
	assert.Equal(t, uint64(2), snap.ResetFailures)
	assert.Equal(t, uint64(1), snap.Resets)
}

func TestSchedulerRetriesAcrossNextBoundary(t *testing.T) {
	target := &fakeResetter{fails: 1}
	s, _ := newScheduler(t, target)
	ctx := context.Background()

	s.tick(ctx, day0.Add(8*time.Hour))
	require.Equal(t, StateResetPending, s.State())

	// the process stalls past the following boundary; the pending reset
	// still runs and the scheduler re-arms for the day after
	late := time.Date(2026, 3, 11, 18, 0, 0, 0, time.UTC)
	s.tick(ctx, late)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, time.Date(2026, 3, 12, 17, 0, 0, 0, time.UTC), s.NextReset())
	_, ok := target.counts()
	assert.Equal(t, 1, ok)
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	target := &fakeResetter{}
	metrics := obs.NewMetrics()
	now := day0
	var mu sync.Mutex
	s, err := NewScheduler(Config{
		Boundary:      Boundary{Hour: 17},
		CheckInterval: time.Millisecond,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			return now
		},
	}, target, metrics)
	require.NoError(t, err)
	require.Equal(t, day0.Add(8*time.Hour), s.NextReset())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.running.Load() }, time.Second, time.Millisecond)

	time.Sleep(5 * time.Millisecond)
	_, ok := target.counts()
	require.Zero(t, ok)

	mu.Lock()
	now = day0.Add(8*time.Hour + time.Minute)
	mu.Unlock()

	require.Eventually(t, func() bool {
		_, ok := target.counts()
		return ok == 1
	}, time.Second, time.Millisecond)
	require.ErrorIs(t, s.Run(ctx), exception.ErrSchedulerRunning)

	cancel()
	require.NoError(t, <-done)
}

func TestNewSchedulerValidates(t *testing.T) {
	_, err := NewScheduler(Config{Boundary: Boundary{Hour: 30}}, &fakeResetter{}, nil)
	require.ErrorIs(t, err, exception.ErrConfig)

	_, err = NewScheduler(Config{Boundary: Boundary{Hour: 1}}, nil, nil)
	require.ErrorIs(t, err, exception.ErrNilInstance)
}
