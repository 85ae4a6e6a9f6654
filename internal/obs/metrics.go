package obs

import (
	"sync/atomic"
	"time"

	"riskguard/internal/schema"
)

const maxRiskReason = int(schema.RiskReasonSafeMode)

// Metrics collects lightweight counters and latency stats.
type Metrics struct {
	riskReasonCounts [maxRiskReason + 1]uint64
	accepted         uint64

	queueDepth     int64
	queueCapacity  int64
	backpressure   uint64
	discarded      uint64
	ticksApplied   uint64
	ticksStale     uint64
	ingestRejected uint64

	fillsApplied        uint64
	fillsInvalid        uint64
	busy                uint64
	invariantViolations uint64

	resets        uint64
	resetFailures uint64

	checkLatency LatencyStats
	fillLatency  LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	RiskReasonCounts    map[schema.RiskReason]uint64
	Accepted            uint64
	QueueDepth          int64
	QueueCapacity       int64
	Backpressure        uint64
	Discarded           uint64
	TicksApplied        uint64
	TicksStale          uint64
	IngestRejected      uint64
	FillsApplied        uint64
	FillsInvalid        uint64
	Busy                uint64
	InvariantViolations uint64
	Resets              uint64
	ResetFailures       uint64
	CheckLatency        LatencySnapshot
	FillLatency         LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// ObserveDecision counts a decision by outcome and reason.
func (m *Metrics) ObserveDecision(decision schema.Decision) {
	if m == nil {
		return
	}
	if decision.Accepted() {
		atomic.AddUint64(&m.accepted, 1)
		return
	}
	idx := int(decision.Reason)
	if idx >= 0 && idx < len(m.riskReasonCounts) {
		atomic.AddUint64(&m.riskReasonCounts[idx], 1)
	}
}

// ObserveCheck measures risk check latency.
func (m *Metrics) ObserveCheck(d time.Duration) {
	if m == nil {
		return
	}
	m.checkLatency.Observe(d)
}

// ObserveFill counts an applied fill and its latency.
func (m *Metrics) ObserveFill(d time.Duration) {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fillsApplied, 1)
	m.fillLatency.Observe(d)
}

// IncInvalidFill records a rejected fill input.
func (m *Metrics) IncInvalidFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fillsInvalid, 1)
}

// IncBusy records a ledger contention timeout.
func (m *Metrics) IncBusy() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.busy, 1)
}

// IncInvariantViolation records a detected ledger corruption.
func (m *Metrics) IncInvariantViolation() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.invariantViolations, 1)
}

// SetQueueDepth records the current feed queue depth and capacity.
func (m *Metrics) SetQueueDepth(depth, capacity int) {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.queueDepth, int64(depth))
	atomic.StoreInt64(&m.queueCapacity, int64(capacity))
}

// IncBackpressure records a publish refused because the feed queue was full.
func (m *Metrics) IncBackpressure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.backpressure, 1)
}

// AddDiscarded records ticks dropped while draining the queue on shutdown.
func (m *Metrics) AddDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(&m.discarded, uint64(n))
}

// ObserveTick records whether a consumed tick updated the price cache.
func (m *Metrics) ObserveTick(applied bool) {
	if m == nil {
		return
	}
	if applied {
		atomic.AddUint64(&m.ticksApplied, 1)
		return
	}
	atomic.AddUint64(&m.ticksStale, 1)
}

// IncIngestRejected records a malformed message from the market data source.
func (m *Metrics) IncIngestRejected() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ingestRejected, 1)
}

// IncReset records a completed session reset.
func (m *Metrics) IncReset() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.resets, 1)
}

// IncResetFailure records a failed session reset attempt.
func (m *Metrics) IncResetFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.resetFailures, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	riskCounts := make(map[schema.RiskReason]uint64)
	for i := range m.riskReasonCounts {
		if v := atomic.LoadUint64(&m.riskReasonCounts[i]); v > 0 {
			riskCounts[schema.RiskReason(i)] = v
		}
	}
	return Snapshot{
		RiskReasonCounts:    riskCounts,
		Accepted:            atomic.LoadUint64(&m.accepted),
		QueueDepth:          atomic.LoadInt64(&m.queueDepth),
		QueueCapacity:       atomic.LoadInt64(&m.queueCapacity),
		Backpressure:        atomic.LoadUint64(&m.backpressure),
		Discarded:           atomic.LoadUint64(&m.discarded),
		TicksApplied:        atomic.LoadUint64(&m.ticksApplied),
		TicksStale:          atomic.LoadUint64(&m.ticksStale),
		IngestRejected:      atomic.LoadUint64(&m.ingestRejected),
		FillsApplied:        atomic.LoadUint64(&m.fillsApplied),
		FillsInvalid:        atomic.LoadUint64(&m.fillsInvalid),
		Busy:                atomic.LoadUint64(&m.busy),
		InvariantViolations: atomic.LoadUint64(&m.invariantViolations),
		Resets:              atomic.LoadUint64(&m.resets),
		ResetFailures:       atomic.LoadUint64(&m.resetFailures),
		CheckLatency:        m.checkLatency.Snapshot(),
		FillLatency:         m.fillLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
