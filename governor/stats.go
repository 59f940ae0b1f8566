package governor

// DefaultWindowSize 默认统计窗口（最近 60 个样本）
const DefaultWindowSize = 60

// =============================================================================
// 🧮 统计聚合器
// =============================================================================

// StatisticsAggregator 基于历史窗口计算派生统计
type StatisticsAggregator struct {
	recorder *MetricsRecorder
}

// NewStatisticsAggregator 创建统计聚合器
func NewStatisticsAggregator(recorder *MetricsRecorder) *StatisticsAggregator {
	return &StatisticsAggregator{recorder: recorder}
}

// Compute 对最近 windowSize 个样本求平均；样本不足时使用全部样本
// windowSize <= 0 时使用 DefaultWindowSize。空历史返回全零统计。
func (a *StatisticsAggregator) Compute(windowSize, currentMax int) DerivedStatistics {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	a.recorder.mu.RLock()
	var sumActive, sumIdle, sumWaiting float64
	n := windowSize
	if l := a.recorder.usage.Len(); l < n {
		n = l
	}
	a.recorder.usage.Each(n, func(s Sample) {
		sumActive += float64(s.Active)
		sumIdle += float64(s.Idle)
	})
	w := windowSize
	if l := a.recorder.waiters.Len(); l < w {
		w = l
	}
	a.recorder.waiters.Each(w, func(s WaitSample) {
		sumWaiting += float64(s.Waiting)
	})
	a.recorder.mu.RUnlock()

	stats := DerivedStatistics{Samples: n}
	if n > 0 {
		stats.AvgActive = sumActive / float64(n)
		stats.AvgIdle = sumIdle / float64(n)
	}
	if w > 0 {
		stats.AvgWaiting = sumWaiting / float64(w)
	}
	stats.UtilizationRate = ratio(stats.AvgActive, float64(currentMax))
	stats.PoolEfficiency = ratio(stats.AvgActive, stats.AvgActive+stats.AvgIdle)
	return stats
}

// ratio 安全除法，分母不为正时返回 0
func ratio(num, den float64) float64 {
	if den <= 0 {
		return 0
	}
	return num / den
}
