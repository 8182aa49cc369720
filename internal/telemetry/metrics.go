package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vinodismyname/leverlab/config"
)

const serviceName = "leverlab"

// Metrics records engine and server events as OpenTelemetry instruments.
type Metrics struct {
	provider         *sdkmetric.MeterProvider
	scenarios        metric.Int64Counter
	scenarioDuration metric.Float64Histogram
	datasetsLoaded   metric.Int64Counter
	toolCalls        metric.Int64Counter
}

// NewMetrics exports to the configured OTLP endpoint. When telemetry is
// disabled or no endpoint is set, instruments are no-ops.
func NewMetrics(ctx context.Context, cfg config.Telemetry, serviceVersion string) (*Metrics, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return NewNoopMetrics(), nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return newMetrics(provider.Meter(serviceName), provider)
}

// NewNoopMetrics returns Metrics whose instruments discard everything.
func NewNoopMetrics() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(serviceName), nil)
	return m
}

func newMetrics(meter metric.Meter, provider *sdkmetric.MeterProvider) (*Metrics, error) {
	scenarios, err := meter.Int64Counter(
		"leverlab_scenarios_total",
		metric.WithDescription("Scenario computations"),
		metric.WithUnit("{scenario}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scenarios counter: %w", err)
	}

	scenarioDuration, err := meter.Float64Histogram(
		"leverlab_scenario_duration_ms",
		metric.WithDescription("Scenario computation latency"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scenario duration histogram: %w", err)
	}

	datasetsLoaded, err := meter.Int64Counter(
		"leverlab_datasets_loaded_total",
		metric.WithDescription("Workbooks decoded into datasets"),
		metric.WithUnit("{dataset}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating datasets counter: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"leverlab_tool_calls_total",
		metric.WithDescription("MCP tool calls by tool and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating tool calls counter: %w", err)
	}

	return &Metrics{
		provider:         provider,
		scenarios:        scenarios,
		scenarioDuration: scenarioDuration,
		datasetsLoaded:   datasetsLoaded,
		toolCalls:        toolCalls,
	}, nil
}

// DatasetLoaded counts one decoded workbook.
func (m *Metrics) DatasetLoaded(ctx context.Context, sheets int) {
	m.datasetsLoaded.Add(ctx, 1, metric.WithAttributes(attribute.Int("sheets", sheets)))
}

// ScenarioComputed counts one scenario and records its latency.
func (m *Metrics) ScenarioComputed(ctx context.Context, levers int, elapsed time.Duration) {
	opt := metric.WithAttributes(attribute.Int("levers", levers))
	m.scenarios.Add(ctx, 1, opt)
	m.scenarioDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), opt)
}

// ToolCalled counts one MCP tool call.
func (m *Metrics) ToolCalled(ctx context.Context, tool string, failed bool) {
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("error", failed),
	))
}

// Close shuts down the exporter and flushes any pending metrics.
func (m *Metrics) Close(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
