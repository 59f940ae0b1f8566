package governor

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// =============================================================================
// 🧪 属性测试
// =============================================================================

// 任意观测序列下，每次 Tick 后配置都落在边界内
func TestProperty_ConfigStaysWithinLimits(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lim := DefaultLimits()
		minConns := rapid.IntRange(0, 50).Draw(rt, "min")
		initial := PoolConfig{
			Min:               minConns,
			Max:               rapid.IntRange(max(minConns, 1), 200).Draw(rt, "max"),
			IdleTimeout:       time.Duration(rapid.Int64Range(1, 120_000).Draw(rt, "idle_ms")) * time.Millisecond,
			ConnectionTimeout: 10 * time.Second,
			AcquireTimeout:    time.Duration(rapid.Int64Range(1, 120_000).Draw(rt, "acquire_ms")) * time.Millisecond,
		}

		g, err := New("prop", WithInitialConfig(initial), WithWindowSize(5), WithHistoryCapacity(10))
		if err != nil {
			rt.Fatalf("new governor: %v", err)
		}

		steps := rapid.IntRange(1, 30).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			g.UpdateStats(PoolObservation{
				Active:  Int64(rapid.Int64Range(0, 500).Draw(rt, "active")),
				Idle:    Int64(rapid.Int64Range(0, 500).Draw(rt, "idle")),
				Waiting: Int64(rapid.Int64Range(0, 50).Draw(rt, "waiting")),
			})
			cfg := g.Tick().Config
			if !lim.Within(cfg) {
				rt.Fatalf("config out of limits after tick %d: %+v", i, cfg)
			}
		}
	})
}

// 统计值永远是有限数，利用率与效率非负
func TestProperty_StatisticsFinite(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewMetricsRecorder(rapid.IntRange(1, 50).Draw(rt, "capacity"))
		n := rapid.IntRange(0, 80).Draw(rt, "samples")
		for i := 0; i < n; i++ {
			r.Ingest(PoolObservation{
				Active:  Int64(rapid.Int64Range(0, 1000).Draw(rt, "active")),
				Idle:    Int64(rapid.Int64Range(0, 1000).Draw(rt, "idle")),
				Waiting: Int64(rapid.Int64Range(0, 1000).Draw(rt, "waiting")),
			})
			r.SampleTick(time.Unix(int64(i), 0))
		}

		stats := NewStatisticsAggregator(r).Compute(
			rapid.IntRange(-5, 100).Draw(rt, "window"),
			rapid.IntRange(0, 100).Draw(rt, "current_max"))

		for name, v := range map[string]float64{
			"avg_active":  stats.AvgActive,
			"avg_idle":    stats.AvgIdle,
			"avg_waiting": stats.AvgWaiting,
			"utilization": stats.UtilizationRate,
			"efficiency":  stats.PoolEfficiency,
		} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				rt.Fatalf("%s not a finite non-negative number: %v", name, v)
			}
		}
		if stats.PoolEfficiency > 1 {
			rt.Fatalf("efficiency above 1: %v", stats.PoolEfficiency)
		}
	})
}

func TestProperty_GrowAndShrinkArithmetic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	engine := NewAdaptivePolicyEngine(DefaultPolicyConfig(), zap.NewNop())

	properties.Property("waiting grows max by ceil(1.5x) up to the ceiling", prop.ForAll(
		func(maxConns int, waiting int64) bool {
			cfg := DefaultPoolConfig()
			cfg.Min = 0
			cfg.Max = maxConns
			next, _ := engine.Evaluate(cfg, Gauges{Waiting: waiting}, DerivedStatistics{})
			want := min(int(math.Ceil(float64(maxConns)*1.5)), 100)
			return next.Max == want && (next.Max > maxConns || maxConns == 100)
		},
		gen.IntRange(1, 100),
		gen.Int64Range(1, 1000),
	))

	properties.Property("idle surplus shrinks max by floor(0.8x) never below min", prop.ForAll(
		func(maxConns, minConns int) bool {
			if minConns > maxConns {
				minConns = maxConns
			}
			cfg := DefaultPoolConfig()
			cfg.Min = minConns
			cfg.Max = maxConns
			next, _ := engine.Evaluate(cfg, Gauges{Active: 0, Idle: 11}, DerivedStatistics{})
			want := max(int(math.Floor(float64(maxConns)*0.8)), minConns)
			return next.Max == want && next.Max >= next.Min
		},
		gen.IntRange(14, 100),
		gen.IntRange(0, 100),
	))

	properties.Property("evaluation never mutates the input snapshot", prop.ForAll(
		func(waiting, idle int64) bool {
			cfg := DefaultPoolConfig()
			snapshot := cfg
			engine.Evaluate(cfg, Gauges{Idle: idle, Waiting: waiting}, DerivedStatistics{AvgWaiting: float64(waiting)})
			return cfg == snapshot
		},
		gen.Int64Range(0, 100),
		gen.Int64Range(0, 100),
	))

	properties.TestingRun(t)
}
