package telemetry

import (
	"context"
	"fmt"

	"github.com/BaSui01/poolgovernor/governor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/BaSui01/poolgovernor/governor"

// TickTracer 把每次 Tick 记录为一个 span，调整写成 span 事件并计数
type TickTracer struct {
	tracer      trace.Tracer
	adjustments metric.Int64Counter
	duration    metric.Float64Histogram
}

// NewTickTracer 使用全局 provider 创建
func NewTickTracer() (*TickTracer, error) {
	return NewTickTracerWith(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewTickTracerWith 使用指定 provider 创建
func NewTickTracerWith(tp trace.TracerProvider, mp metric.MeterProvider) (*TickTracer, error) {
	meter := mp.Meter(instrumentationName)

	adjustments, err := meter.Int64Counter("poolgovernor.adjustments",
		metric.WithDescription("Policy rule firings"))
	if err != nil {
		return nil, fmt.Errorf("create adjustments counter: %w", err)
	}
	duration, err := meter.Float64Histogram("poolgovernor.tick.duration",
		metric.WithDescription("Governor tick duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create tick duration histogram: %w", err)
	}

	return &TickTracer{
		tracer:      tp.Tracer(instrumentationName),
		adjustments: adjustments,
		duration:    duration,
	}, nil
}

// ObserveTick 实现 governor.Observer
func (t *TickTracer) ObserveTick(r governor.TickReport) {
	ctx := context.Background()
	poolAttr := attribute.String("pool", r.Pool)

	_, span := t.tracer.Start(ctx, "governor.tick",
		trace.WithTimestamp(r.At),
		trace.WithAttributes(
			poolAttr,
			attribute.Bool("changed", r.Changed()),
			attribute.Int64("gauges.active", r.Gauges.Active),
			attribute.Int64("gauges.idle", r.Gauges.Idle),
			attribute.Int64("gauges.waiting", r.Gauges.Waiting),
			attribute.Float64("utilization_rate", r.Statistics.UtilizationRate),
			attribute.Int("config.max", r.Config.Max),
		))

	for _, adj := range r.Adjustments {
		span.AddEvent("adjustment", trace.WithAttributes(
			attribute.String("rule", adj.Rule),
			attribute.String("field", adj.Field),
			attribute.Float64("before", adj.Before),
			attribute.Float64("after", adj.After),
		))
		t.adjustments.Add(ctx, 1, metric.WithAttributes(poolAttr, attribute.String("rule", adj.Rule)))
	}
	t.duration.Record(ctx, r.Duration.Seconds(), metric.WithAttributes(poolAttr))

	span.End(trace.WithTimestamp(r.At.Add(r.Duration)))
}
