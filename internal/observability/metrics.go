package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"ferry/internal/shared/logging"
)

const meterName = "ferry"

// Metrics records pipeline, loop and remote sync measurements. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	pipelineRuns   metric.Int64Counter
	stageDuration  metric.Float64Histogram
	agentDuration  metric.Float64Histogram
	loopIterations metric.Int64Counter
	remotePulls    metric.Int64Counter
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		return nil, fmt.Errorf("meter provider is required")
	}
	meter := provider.Meter(meterName)

	pipelineRuns, err := meter.Int64Counter(
		"ferry.pipeline.runs",
		metric.WithDescription("Pipeline runs by agent and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline_runs counter: %w", err)
	}

	stageDuration, err := meter.Float64Histogram(
		"ferry.pipeline.stage.duration",
		metric.WithDescription("Pipeline stage duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage_duration histogram: %w", err)
	}

	agentDuration, err := meter.Float64Histogram(
		"ferry.agent.duration",
		metric.WithDescription("Agent execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent_duration histogram: %w", err)
	}

	loopIterations, err := meter.Int64Counter(
		"ferry.loop.iterations",
		metric.WithDescription("Loop iterations by outcome"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create loop_iterations counter: %w", err)
	}

	remotePulls, err := meter.Int64Counter(
		"ferry.remote.pulls",
		metric.WithDescription("Remote pulls by outcome"),
		metric.WithUnit("{pull}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote_pulls counter: %w", err)
	}

	return &Metrics{
		pipelineRuns:   pipelineRuns,
		stageDuration:  stageDuration,
		agentDuration:  agentDuration,
		loopIterations: loopIterations,
		remotePulls:    remotePulls,
	}, nil
}

// NewPrometheusMetrics wires the instruments to a private Prometheus
// registry and returns the scrape handler for it.
func NewPrometheusMetrics() (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	metrics, err := NewMetrics(provider)
	if err != nil {
		return nil, nil, err
	}
	return metrics, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordPipelineRun counts one finished pipeline run.
func (m *Metrics) RecordPipelineRun(ctx context.Context, agentName, outcome string) {
	if m == nil {
		return
	}
	m.pipelineRuns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agentName),
		attribute.String("outcome", outcome),
	))
}

// RecordStage records how long a pipeline stage took.
func (m *Metrics) RecordStage(ctx context.Context, stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordAgent records one agent execution.
func (m *Metrics) RecordAgent(ctx context.Context, agentName string, duration time.Duration) {
	if m == nil {
		return
	}
	m.agentDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("agent", agentName)))
}

// RecordIteration counts one loop iteration.
func (m *Metrics) RecordIteration(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.loopIterations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordPull counts one remote pull attempt.
func (m *Metrics) RecordPull(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.remotePulls.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Serve exposes handler on addr under /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger logging.Logger) error {
	logger = logging.OrNop(logger)
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Prometheus metrics server listening on %s", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		return nil
	}
}
