package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"riskguard/internal/bus"
	"riskguard/internal/obs"
	"riskguard/internal/schema"
	"riskguard/pkg/exception"
)

// Config controls the bounded feed queue.
type Config struct {
	// Capacity is the maximum number of queued ticks.
	Capacity int
	// PublishTimeout bounds how long Publish blocks on a full queue.
	// Zero returns backpressure immediately.
	PublishTimeout time.Duration
}

// Adapter moves ticks from a market data source into a PriceCache through a
// bounded queue drained by a single consumer.
type Adapter struct {
	cfg     Config
	queue   *bus.Queue[schema.PriceTick]
	cache   *PriceCache
	metrics *obs.Metrics
	running atomic.Bool
}

// NewAdapter creates an adapter feeding cache.
func NewAdapter(cfg Config, cache *PriceCache, metrics *obs.Metrics) (*Adapter, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: feed queue capacity must be > 0", exception.ErrConfig)
	}
	if cfg.PublishTimeout < 0 {
		return nil, fmt.Errorf("%w: feed publish timeout must be >= 0", exception.ErrConfig)
	}
	if cache == nil {
		return nil, exception.ErrNilInstance
	}
	a := &Adapter{
		cfg:     cfg,
		queue:   bus.NewQueue[schema.PriceTick](cfg.Capacity),
		cache:   cache,
		metrics: metrics,
	}
	a.metrics.SetQueueDepth(0, cfg.Capacity)
	return a, nil
}

// Publish enqueues a tick. When the queue is full it waits up to the
// configured timeout, then returns exception.ErrBackpressure.
func (a *Adapter) Publish(ctx context.Context, tick schema.PriceTick) error {
	if !tick.Valid() {
		return exception.ErrInvalidTick
	}

	err := a.queue.PublishWait(ctx, tick, a.cfg.PublishTimeout)
	switch {
	case err == nil:
		a.metrics.SetQueueDepth(a.queue.Len(), a.queue.Cap())
		return nil
	case errors.Is(err, bus.ErrQueueFull):
		a.metrics.IncBackpressure()
		return exception.ErrBackpressure
	case errors.Is(err, bus.ErrQueueClosed):
		return exception.ErrFeedClosed
	default:
		return err
	}
}

// Run consumes ticks into the price cache until ctx is done or Close is
// called. Ticks still queued at that point are discarded.
func (a *Adapter) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return exception.ErrConsumerRunning
	}
	defer a.running.Store(false)

	a.queue.Run(ctx, func(tick schema.PriceTick) {
		a.metrics.ObserveTick(a.cache.Update(tick))
		a.metrics.SetQueueDepth(a.queue.Len(), a.queue.Cap())
	})

	discarded := a.queue.Drain()
	a.metrics.AddDiscarded(discarded)
	a.metrics.SetQueueDepth(a.queue.Len(), a.queue.Cap())
	logs.Infof("feed consumer stopped, discarded %d queued ticks", discarded)
	return nil
}

// Close stops accepting ticks and signals the consumer to stop.
func (a *Adapter) Close() {
	a.queue.Close()
}

// Len returns the current queue depth.
func (a *Adapter) Len() int {
	return a.queue.Len()
}

// Cap returns the queue capacity.
func (a *Adapter) Cap() int {
	return a.queue.Cap()
}

// Cache returns the price cache fed by this adapter.
func (a *Adapter) Cache() *PriceCache {
	return a.cache
}
