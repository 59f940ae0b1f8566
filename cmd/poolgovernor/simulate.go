package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/poolgovernor/config"
	"github.com/BaSui01/poolgovernor/governor"
	"github.com/BaSui01/poolgovernor/internal/pool"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 simulate 命令
// =============================================================================

// loadProfile 返回第 step 步（从 0 开始）的并发需求
type loadProfile func(step int) int64

var profiles = map[string]loadProfile{
	"steady": func(int) int64 { return 20 },
	"ramp": func(step int) int64 {
		return 5 + int64(step)*4
	},
	"spike": func(step int) int64 {
		if step >= 5 && step < 10 {
			return 120
		}
		return 10
	},
	"idle": func(step int) int64 {
		if step < 3 {
			return 60
		}
		return 0
	},
}

func profileNames() []string {
	return []string{"steady", "ramp", "spike", "idle"}
}

// simStep 一步模拟的结果
type simStep struct {
	Step   int
	Demand int64
	Report governor.TickReport
}

// syntheticPool 确定性的连接池模型
// 需求超出 Max 的部分计为等待；需求回落后空闲连接每步回收 1/idleDecay。
type syntheticPool struct {
	size      int64
	idleDecay int64
}

func (p *syntheticPool) observe(demand int64, cfg governor.PoolConfig) governor.PoolObservation {
	active := min(demand, int64(cfg.Max))
	waiting := demand - active

	prev := p.size
	size := max(p.size, active, int64(cfg.Min))
	if idle := size - active; idle > 0 && p.idleDecay > 0 {
		size -= idle / p.idleDecay
	}
	size = min(max(size, active, int64(cfg.Min)), int64(cfg.Max))
	p.size = size

	var created, destroyed int64
	if size > prev {
		created = size - prev
	} else {
		destroyed = prev - size
	}
	return governor.PoolObservation{
		Active:    governor.Int64(active),
		Idle:      governor.Int64(size - active),
		Waiting:   governor.Int64(waiting),
		Created:   governor.Int64(created),
		Destroyed: governor.Int64(destroyed),
	}
}

// simulateSynthetic 用模拟时钟驱动调控器，结果只取决于 profile 与策略
func simulateSynthetic(name string, opts []governor.Option, profile loadProfile, steps int, stepDur time.Duration) ([]simStep, error) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	g, err := governor.New(name, append(opts, governor.WithClock(clock))...)
	if err != nil {
		return nil, err
	}

	model := &syntheticPool{idleDecay: 10}
	out := make([]simStep, 0, steps)
	for i := 0; i < steps; i++ {
		demand := profile(i)
		g.UpdateStats(model.observe(demand, g.Config()))
		out = append(out, simStep{Step: i, Demand: demand, Report: g.Tick()})
		now = now.Add(stepDur)
	}
	return out, nil
}

// simulateWorkers 用真实协程池闭环：每步提交 demand 个占位任务，采样后 Tick 并释放任务
func simulateWorkers(ctx context.Context, name string, opts []governor.Option, profile loadProfile, steps int, settle time.Duration, logger *zap.Logger) ([]simStep, error) {
	g, err := governor.New(name, opts...)
	if err != nil {
		return nil, err
	}

	cfg := g.Config()
	poolCfg := pool.DefaultGoroutinePoolConfig()
	poolCfg.MinWorkers = cfg.Min
	poolCfg.MaxWorkers = cfg.Max
	poolCfg.IdleTimeout = cfg.IdleTimeout
	poolCfg.AcquireTimeout = cfg.AcquireTimeout
	poolCfg.Logger = logger
	workers := pool.NewGoroutinePool(poolCfg)
	defer workers.Close()
	g.AddObserver(workers)

	out := make([]simStep, 0, steps)
	for i := 0; i < steps; i++ {
		demand := profile(i)
		release := make(chan struct{})
		for j := int64(0); j < demand; j++ {
			err := workers.Submit(ctx, func(ctx context.Context) error {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return nil
			})
			if err != nil {
				logger.Debug("simulated task rejected", zap.Error(err))
			}
		}

		select {
		case <-time.After(settle):
		case <-ctx.Done():
			close(release)
			return out, ctx.Err()
		}

		obs, err := workers.Sample(ctx)
		if err != nil {
			close(release)
			return out, err
		}
		g.UpdateStats(obs)
		out = append(out, simStep{Step: i, Demand: demand, Report: g.Tick()})
		close(release)
	}
	return out, nil
}

// printSimulation 以表格输出每一步的用量与调整
func printSimulation(w io.Writer, steps []simStep) {
	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tDEMAND\tACTIVE\tIDLE\tWAITING\tMAX\tIDLE_TIMEOUT\tACQUIRE_TIMEOUT\tADJUSTMENTS")
	for _, s := range steps {
		r := s.Report
		adjustments := make([]string, 0, len(r.Adjustments))
		for _, a := range r.Adjustments {
			adjustments = append(adjustments, fmt.Sprintf("%s(%s %g->%g)", a.Rule, a.Field, a.Before, a.After))
		}
		adj := "-"
		if len(adjustments) > 0 {
			adj = strings.Join(adjustments, ", ")
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			s.Step, s.Demand,
			r.Gauges.Active, r.Gauges.Idle, r.Gauges.Waiting,
			r.Config.Max, r.Config.IdleTimeout, r.Config.AcquireTimeout,
			adj)
	}
	_ = tw.Flush()
}

func runSimulate(args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	profileName := fs.String("profile", "spike", "Load profile: "+strings.Join(profileNames(), ", "))
	steps := fs.Int("steps", 30, "Number of ticks")
	mode := fs.String("mode", "synthetic", "synthetic or workers")
	configPath := fs.String("config", "", "Take pool defaults and policy from a config file")
	settle := fs.Duration("settle", 50*time.Millisecond, "Wait between submit and sample in workers mode")
	verbose := fs.Bool("verbose", false, "Log every adjustment")
	_ = fs.Parse(args)

	profile, ok := profiles[*profileName]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown profile %q (want one of %s)\n", *profileName, strings.Join(profileNames(), ", "))
		os.Exit(1)
	}
	if *steps <= 0 {
		fmt.Fprintln(os.Stderr, "--steps must be positive")
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	settings := cfg.Governor.Defaults
	settings.Name = "simulated"
	opts := cfg.Governor.Options(settings, logger)

	var (
		result []simStep
		err    error
	)
	switch *mode {
	case "synthetic":
		result, err = simulateSynthetic(settings.Name, opts, profile, *steps, cfg.Governor.Interval)
	case "workers":
		result, err = simulateWorkers(context.Background(), settings.Name, opts, profile, *steps, *settle, logger)
	default:
		fmt.Fprintf(os.Stderr, "Unknown mode %q (want synthetic or workers)\n", *mode)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}

	printSimulation(os.Stdout, result)
}
