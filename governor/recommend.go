package governor

import "fmt"

// =============================================================================
// 💡 建议生成器
// =============================================================================

// ReporterThresholds 建议阈值，与策略引擎的阈值相互独立
type ReporterThresholds struct {
	LowUtilization  float64 `json:"low_utilization" yaml:"low_utilization"`
	HighUtilization float64 `json:"high_utilization" yaml:"high_utilization"`
	LowEfficiency   float64 `json:"low_efficiency" yaml:"low_efficiency"`
	HighAvgWaiting  float64 `json:"high_avg_waiting" yaml:"high_avg_waiting"`
}

// DefaultReporterThresholds 返回默认建议阈值
func DefaultReporterThresholds() ReporterThresholds {
	return ReporterThresholds{
		LowUtilization:  0.3,
		HighUtilization: 0.8,
		LowEfficiency:   0.5,
		HighAvgWaiting:  5,
	}
}

// RecommendationReporter 无状态建议生成器
type RecommendationReporter struct {
	thresholds ReporterThresholds
}

// NewRecommendationReporter 创建建议生成器
func NewRecommendationReporter(thresholds ReporterThresholds) *RecommendationReporter {
	return &RecommendationReporter{thresholds: thresholds}
}

// Thresholds 返回建议阈值
func (r *RecommendationReporter) Thresholds() ReporterThresholds {
	return r.thresholds
}

// Recommend 根据统计与当前配置生成建议，不修改任何状态
// 没有历史样本时不给出建议。
func (r *RecommendationReporter) Recommend(stats DerivedStatistics, cfg PoolConfig) []string {
	recs := make([]string, 0, 4)
	if stats.Samples == 0 {
		return recs
	}

	t := r.thresholds
	if stats.UtilizationRate < t.LowUtilization {
		recs = append(recs, fmt.Sprintf(
			"utilization %.1f%% is below %.0f%%: consider lowering min (currently %d)",
			stats.UtilizationRate*100, t.LowUtilization*100, cfg.Min))
	}
	if stats.UtilizationRate > t.HighUtilization {
		recs = append(recs, fmt.Sprintf(
			"utilization %.1f%% is above %.0f%%: consider raising max (currently %d)",
			stats.UtilizationRate*100, t.HighUtilization*100, cfg.Max))
	}
	if stats.PoolEfficiency < t.LowEfficiency {
		recs = append(recs, fmt.Sprintf(
			"pool efficiency %.1f%% is below %.0f%%: consider lowering idle timeout (currently %dms)",
			stats.PoolEfficiency*100, t.LowEfficiency*100, cfg.IdleTimeout.Milliseconds()))
	}
	if stats.AvgWaiting > t.HighAvgWaiting {
		recs = append(recs, fmt.Sprintf(
			"average waiting requests %.1f exceeds %.1f: consider raising max (currently %d) or acquire timeout (currently %dms)",
			stats.AvgWaiting, t.HighAvgWaiting, cfg.Max, cfg.AcquireTimeout.Milliseconds()))
	}
	return recs
}
