package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a bounded queue with a single consumer. The buffer never grows
// past the capacity given at construction.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	// late counts items received by Run after shutdown was signalled.
	late atomic.Int64
}

// NewQueue allocates a queue with the given capacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
	}
}

// TryPublish enqueues an item without blocking.
func (q *Queue[T]) TryPublish(item T) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- item:
		return nil
	default:
		return ErrQueueFull
	}
}

// PublishWait enqueues an item, waiting up to timeout for free space.
// A non-positive timeout behaves like TryPublish.
func (q *Queue[T]) PublishWait(ctx context.Context, item T, timeout time.Duration) error {
	err := q.TryPublish(item)
	if timeout <= 0 || !errors.Is(err, ErrQueueFull) {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case q.ch <- item:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueFull
	}
}

// Close stops the queue from accepting new items and wakes the consumer.
// The channel itself stays open so a racing producer can never panic.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
}

// Closed reports whether Close has been called.
func (q *Queue[T]) Closed() bool {
	return q.closed.Load()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Run consumes items until the context is done or the queue is closed.
// Shutdown takes priority over queued items: once signalled, no further
// item reaches handler and the remainder is left for Drain.
func (q *Queue[T]) Run(ctx context.Context, handler func(T)) {
	for {
		if q.stopping(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case item := <-q.ch:
			if q.stopping(ctx) {
				q.late.Add(1)
				return
			}
			handler(item)
		}
	}
}

func (q *Queue[T]) stopping(ctx context.Context) bool {
	select {
	case <-q.done:
		return true
	default:
	}
	return ctx.Err() != nil
}

// Drain discards every queued item and returns how many were dropped,
// including any item Run received after shutdown.
func (q *Queue[T]) Drain() int {
	n := int(q.late.Swap(0))
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}
