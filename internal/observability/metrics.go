package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tfvieira/tic43/internal/async"
)

// MetricsCollector records stage, evaluator and refiner metrics. A zero
// value (metrics disabled) accepts every call and records nothing.
type MetricsCollector struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider
	gatherer promclient.Gatherer

	stageCalls   metric.Int64Counter
	stageLatency metric.Float64Histogram
	stageTokens  metric.Int64Counter

	evalRecords  metric.Int64Counter
	evalDatasets metric.Int64Counter

	refineRuns     metric.Int64Counter
	refineAttempts metric.Int64Histogram

	prometheusServer *http.Server
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port" yaml:"prometheus_port"`

	// Registry overrides the default prometheus registry (tests).
	Registry *promclient.Registry `mapstructure:"-" yaml:"-"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	var (
		registerer promclient.Registerer = promclient.DefaultRegisterer
		gatherer   promclient.Gatherer   = promclient.DefaultGatherer
	)
	if config.Registry != nil {
		registerer, gatherer = config.Registry, config.Registry
	}

	exporter, err := prometheus.New(prometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter("tic43")

	m := &MetricsCollector{meter: meter, provider: provider, gatherer: gatherer}

	if m.stageCalls, err = meter.Int64Counter(
		"tic43.stage.calls.total",
		metric.WithDescription("Total number of pipeline stage invocations"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage_calls counter: %w", err)
	}

	if m.stageLatency, err = meter.Float64Histogram(
		"tic43.stage.latency",
		metric.WithDescription("Pipeline stage latency in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage_latency histogram: %w", err)
	}

	if m.stageTokens, err = meter.Int64Counter(
		"tic43.stage.tokens",
		metric.WithDescription("Estimated tokens exchanged with stage capabilities"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create stage_tokens counter: %w", err)
	}

	if m.evalRecords, err = meter.Int64Counter(
		"tic43.eval.records.total",
		metric.WithDescription("Evaluation records produced, by similarity rating"),
		metric.WithUnit("{record}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create eval_records counter: %w", err)
	}

	if m.evalDatasets, err = meter.Int64Counter(
		"tic43.eval.datasets.total",
		metric.WithDescription("Datasets processed by the batch runner, by outcome"),
		metric.WithUnit("{dataset}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create eval_datasets counter: %w", err)
	}

	if m.refineRuns, err = meter.Int64Counter(
		"tic43.refine.runs.total",
		metric.WithDescription("Refinement runs, by terminal status"),
		metric.WithUnit("{run}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refine_runs counter: %w", err)
	}

	if m.refineAttempts, err = meter.Int64Histogram(
		"tic43.refine.attempts",
		metric.WithDescription("Attempts used per refinement run"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refine_attempts histogram: %w", err)
	}

	if config.PrometheusPort > 0 {
		m.StartPrometheusServer(config.PrometheusPort)
	}

	return m, nil
}

// Enabled reports whether the collector records anything.
func (m *MetricsCollector) Enabled() bool {
	return m != nil && m.stageCalls != nil
}

// Handler serves the prometheus exposition format for the collector's registry.
func (m *MetricsCollector) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StartPrometheusServer starts the Prometheus metrics server
func (m *MetricsCollector) StartPrometheusServer(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	m.prometheusServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := NewLogger(LogConfig{}).With("component", "metrics")
	async.Go(panicLogger{logger}, "prometheus-server", func() {
		logger.Info("prometheus metrics server listening", "port", port)
		if err := m.prometheusServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("prometheus server error", "error", err)
		}
	})
}

// Shutdown gracefully shuts down the metrics collector
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	var errs []error
	if m.prometheusServer != nil {
		errs = append(errs, m.prometheusServer.Shutdown(ctx))
	}
	if m.provider != nil {
		errs = append(errs, m.provider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// RecordStageCall records one capability invocation.
func (m *MetricsCollector) RecordStageCall(ctx context.Context, capability, model, status string, latency time.Duration, inputTokens, outputTokens int) {
	if !m.Enabled() {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("model", model),
		attribute.String("status", status),
	)
	m.stageCalls.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, latency.Seconds(), attrs)
	m.stageTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("direction", "input"),
	))
	m.stageTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(
		attribute.String("capability", capability),
		attribute.String("direction", "output"),
	))
}

// RecordEvalRecord records one evaluator result record.
func (m *MetricsCollector) RecordEvalRecord(ctx context.Context, dataset, rating string) {
	if !m.Enabled() {
		return
	}
	m.evalRecords.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dataset", dataset),
		attribute.String("rating", rating),
	))
}

// RecordDataset records the outcome of one dataset in a batch.
func (m *MetricsCollector) RecordDataset(ctx context.Context, dataset, status string) {
	if !m.Enabled() {
		return
	}
	m.evalDatasets.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dataset", dataset),
		attribute.String("status", status),
	))
}

// RecordRefinement records a finished refinement run.
func (m *MetricsCollector) RecordRefinement(ctx context.Context, status string, attempts int) {
	if !m.Enabled() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.refineRuns.Add(ctx, 1, attrs)
	m.refineAttempts.Record(ctx, int64(attempts), attrs)
}

type panicLogger struct {
	logger *Logger
}

func (p panicLogger) Error(format string, args ...any) {
	p.logger.Error(fmt.Sprintf(format, args...))
}
