package obs

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskguard/internal/schema"
	"riskguard/pkg/exception"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveDecision(schema.Accept("AAPL"))
	m.IncBackpressure()
	m.SetQueueDepth(1, 2)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestMetricsDecisionCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision(schema.Accept("AAPL"))
	m.ObserveDecision(schema.Reject("AAPL", schema.RiskReasonPositionSizeExceeded))
	m.ObserveDecision(schema.Reject("MSFT", schema.RiskReasonPositionSizeExceeded))
	m.ObserveDecision(schema.Reject("MSFT", schema.RiskReasonSafeMode))

	snap := m.Snapshot()
	assert.Equal(t, uint64(1), snap.Accepted)
	assert.Equal(t, uint64(2), snap.RiskReasonCounts[schema.RiskReasonPositionSizeExceeded])
	assert.Equal(t, uint64(1), snap.RiskReasonCounts[schema.RiskReasonSafeMode])
	assert.NotContains(t, snap.RiskReasonCounts, schema.RiskReasonPriceUnavailable)
}

func TestMetricsConcurrentCounters(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncBackpressure()
				m.ObserveTick(j%2 == 0)
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, uint64(800), snap.Backpressure)
	assert.Equal(t, uint64(400), snap.TicksApplied)
	assert.Equal(t, uint64(400), snap.TicksStale)
}

func TestLatencyStats(t *testing.T) {
	var l LatencyStats
	l.Observe(10 * time.Millisecond)
	l.Observe(30 * time.Millisecond)
	l.Observe(-time.Millisecond)

	snap := l.Snapshot()
	assert.Equal(t, uint64(2), snap.Count)
	assert.Equal(t, 10*time.Millisecond, snap.Min)
	assert.Equal(t, 30*time.Millisecond, snap.Max)
	assert.Equal(t, 20*time.Millisecond, snap.Avg)
}

func TestCollectorExportsCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision(schema.Reject("AAPL", schema.RiskReasonDailyLossLimitBreached))
	m.SetQueueDepth(3, 5)
	m.IncReset()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(m)))

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			key := mf.GetName()
			for _, label := range metric.GetLabel() {
				key += "|" + label.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				values[key] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[key] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 1.0, values["riskguard_risk_decisions_total|reject|daily_loss_limit_breached"])
	assert.Equal(t, 0.0, values["riskguard_risk_decisions_total|accept|none"])
	assert.Equal(t, 3.0, values["riskguard_feed_queue_depth"])
	assert.Equal(t, 5.0, values["riskguard_feed_queue_capacity"])
	assert.Equal(t, 1.0, values["riskguard_session_resets_total|success"])
}

func TestDecisionIDsCarryInstance(t *testing.T) {
	g, err := NewDecisionIDs(7, 10)
	require.NoError(t, err)

	first, second := g.Next(), g.Next()
	assert.Greater(t, second, first)
	instance, seq := SplitDecisionID(first)
	assert.Equal(t, uint16(7), instance)
	assert.Equal(t, uint64(11), seq)

	other, err := NewDecisionIDs(8, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first, other.Next())

	_, err = NewDecisionIDs(MaxInstance+1, 0)
	require.ErrorIs(t, err, exception.ErrConfig)

	var nilGen *DecisionIDs
	assert.Equal(t, uint64(0), nilGen.Next())
}

func TestDecisionIDsWallClockSeed(t *testing.T) {
	before := uint64(time.Now().UnixMicro())
	g, err := NewDecisionIDs(1, 0)
	require.NoError(t, err)
	_, seq := SplitDecisionID(g.Next())
	assert.Greater(t, seq, before)
}
