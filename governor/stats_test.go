package governor

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleN(r *MetricsRecorder, n int, active, idle, waiting int64) {
	base := time.Unix(1700000000, 0)
	for i := 0; i < n; i++ {
		r.Ingest(PoolObservation{Active: Int64(active), Idle: Int64(idle), Waiting: Int64(waiting)})
		r.SampleTick(base.Add(time.Duration(i) * time.Minute))
	}
}

// =============================================================================
// 🧪 StatisticsAggregator 测试
// =============================================================================

func TestStatisticsAggregator_EmptyHistory(t *testing.T) {
	a := NewStatisticsAggregator(NewMetricsRecorder(10))

	stats := a.Compute(60, 50)

	assert.Equal(t, DerivedStatistics{}, stats)
}

func TestStatisticsAggregator_Utilization(t *testing.T) {
	r := NewMetricsRecorder(100)
	sampleN(r, 5, 30, 10, 0)

	stats := NewStatisticsAggregator(r).Compute(60, 60)

	assert.InDelta(t, 30.0, stats.AvgActive, 1e-9)
	assert.InDelta(t, 0.5, stats.UtilizationRate, 1e-9)
	assert.InDelta(t, 0.75, stats.PoolEfficiency, 1e-9)
	assert.Equal(t, 5, stats.Samples)
}

func TestStatisticsAggregator_EfficiencyZeroGuard(t *testing.T) {
	r := NewMetricsRecorder(10)
	sampleN(r, 3, 0, 0, 0)

	stats := NewStatisticsAggregator(r).Compute(60, 50)

	assert.Equal(t, 0.0, stats.PoolEfficiency)
	assert.False(t, math.IsNaN(stats.PoolEfficiency))
	assert.Equal(t, 0.0, stats.UtilizationRate)
}

func TestStatisticsAggregator_ZeroMaxGuard(t *testing.T) {
	r := NewMetricsRecorder(10)
	sampleN(r, 2, 5, 5, 0)

	stats := NewStatisticsAggregator(r).Compute(60, 0)

	assert.Equal(t, 0.0, stats.UtilizationRate)
	assert.False(t, math.IsInf(stats.UtilizationRate, 0))
}

func TestStatisticsAggregator_TrailingWindow(t *testing.T) {
	r := NewMetricsRecorder(100)
	sampleN(r, 10, 100, 0, 50)
	sampleN(r, 4, 10, 20, 2)

	stats := NewStatisticsAggregator(r).Compute(4, 50)

	assert.InDelta(t, 10.0, stats.AvgActive, 1e-9)
	assert.InDelta(t, 20.0, stats.AvgIdle, 1e-9)
	assert.InDelta(t, 2.0, stats.AvgWaiting, 1e-9)
	assert.Equal(t, 4, stats.Samples)
}

func TestStatisticsAggregator_FewerSamplesThanWindow(t *testing.T) {
	r := NewMetricsRecorder(100)
	sampleN(r, 1, 10, 0, 0)
	sampleN(r, 1, 20, 0, 0)

	stats := NewStatisticsAggregator(r).Compute(60, 100)

	assert.InDelta(t, 15.0, stats.AvgActive, 1e-9)
	assert.Equal(t, 2, stats.Samples)
}

func TestStatisticsAggregator_DefaultWindow(t *testing.T) {
	r := NewMetricsRecorder(200)
	sampleN(r, 100, 0, 0, 0)
	sampleN(r, DefaultWindowSize, 8, 2, 0)

	stats := NewStatisticsAggregator(r).Compute(0, 10)

	assert.InDelta(t, 8.0, stats.AvgActive, 1e-9)
	assert.Equal(t, DefaultWindowSize, stats.Samples)
}

func TestStatisticsAggregator_IdempotentReads(t *testing.T) {
	r := NewMetricsRecorder(100)
	sampleN(r, 7, 13, 4, 3)
	a := NewStatisticsAggregator(r)

	assert.Equal(t, a.Compute(60, 40), a.Compute(60, 40))
}
