package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	runs     metric.Int64Counter
	failed   metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("gateway")
	}
	runs, err := meter.Int64Counter("runs_total",
		metric.WithDescription("Total number of orchestration runs started"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("runs_failed_total",
		metric.WithDescription("Total number of orchestration runs that ended with an error event"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("run_duration_seconds",
		metric.WithDescription("Duration of orchestration runs in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metrics{runs: runs, failed: failed, duration: duration}, nil
}

func (m *metrics) started(ctx context.Context) {
	m.runs.Add(ctx, 1)
}

func (m *metrics) finished(ctx context.Context, start time.Time, failed bool) {
	attrs := metric.WithAttributes(attribute.Bool("failed", failed))
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if failed {
		m.failed.Add(ctx, 1)
	}
}
