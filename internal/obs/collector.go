package obs

import (
	"github.com/prometheus/client_golang/prometheus"

	"riskguard/internal/schema"
)

const namespace = "riskguard"

var (
	decisionsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "risk", "decisions_total"),
		"Risk decisions by action and rejection reason.",
		[]string{"action", "reason"}, nil,
	)
	queueDepthDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "queue_depth"),
		"Ticks currently waiting in the feed queue.",
		nil, nil,
	)
	queueCapacityDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "queue_capacity"),
		"Configured feed queue capacity.",
		nil, nil,
	)
	backpressureDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "backpressure_total"),
		"Publishes refused because the feed queue was full.",
		nil, nil,
	)
	discardedDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "discarded_total"),
		"Ticks discarded while draining the queue on shutdown.",
		nil, nil,
	)
	ticksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "ticks_total"),
		"Consumed ticks by outcome.",
		[]string{"outcome"}, nil,
	)
	fillsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "ledger", "fills_total"),
		"Fills by outcome.",
		[]string{"outcome"}, nil,
	)
	busyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "ledger", "busy_total"),
		"Ledger access attempts that timed out on contention.",
		nil, nil,
	)
	violationsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "ledger", "invariant_violations_total"),
		"Detected ledger invariant violations.",
		nil, nil,
	)
	resetsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "session", "resets_total"),
		"Session reset attempts by outcome.",
		[]string{"outcome"}, nil,
	)
	checkLatencyDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "risk", "check_latency_avg_seconds"),
		"Average risk check latency.",
		nil, nil,
	)
)

// Collector exports Metrics to Prometheus.
type Collector struct {
	metrics *Metrics
}

// NewCollector wraps m for registration with a Prometheus registry.
func NewCollector(m *Metrics) *Collector {
	return &Collector{metrics: m}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- decisionsDesc
	ch <- queueDepthDesc
	ch <- queueCapacityDesc
	ch <- backpressureDesc
	ch <- discardedDesc
	ch <- ticksDesc
	ch <- fillsDesc
	ch <- busyDesc
	ch <- violationsDesc
	ch <- resetsDesc
	ch <- checkLatencyDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.metrics.Snapshot()

	ch <- prometheus.MustNewConstMetric(decisionsDesc, prometheus.CounterValue,
		float64(snap.Accepted), schema.RiskActionAccept.String(), schema.RiskReasonNone.String())
	for _, reason := range schema.RiskReasons {
		ch <- prometheus.MustNewConstMetric(decisionsDesc, prometheus.CounterValue,
			float64(snap.RiskReasonCounts[reason]), schema.RiskActionReject.String(), reason.String())
	}

	ch <- prometheus.MustNewConstMetric(queueDepthDesc, prometheus.GaugeValue, float64(snap.QueueDepth))
	ch <- prometheus.MustNewConstMetric(queueCapacityDesc, prometheus.GaugeValue, float64(snap.QueueCapacity))
	ch <- prometheus.MustNewConstMetric(backpressureDesc, prometheus.CounterValue, float64(snap.Backpressure))
	ch <- prometheus.MustNewConstMetric(discardedDesc, prometheus.CounterValue, float64(snap.Discarded))
	ch <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(snap.TicksApplied), "applied")
	ch <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(snap.TicksStale), "stale")
	ch <- prometheus.MustNewConstMetric(ticksDesc, prometheus.CounterValue, float64(snap.IngestRejected), "malformed")
	ch <- prometheus.MustNewConstMetric(fillsDesc, prometheus.CounterValue, float64(snap.FillsApplied), "applied")
	ch <- prometheus.MustNewConstMetric(fillsDesc, prometheus.CounterValue, float64(snap.FillsInvalid), "invalid")
	ch <- prometheus.MustNewConstMetric(busyDesc, prometheus.CounterValue, float64(snap.Busy))
	ch <- prometheus.MustNewConstMetric(violationsDesc, prometheus.CounterValue, float64(snap.InvariantViolations))
	ch <- prometheus.MustNewConstMetric(resetsDesc, prometheus.CounterValue, float64(snap.Resets), "success")
	ch <- prometheus.MustNewConstMetric(resetsDesc, prometheus.CounterValue, float64(snap.ResetFailures), "failure")
	ch <- prometheus.MustNewConstMetric(checkLatencyDesc, prometheus.GaugeValue, snap.CheckLatency.Avg.Seconds())
}
