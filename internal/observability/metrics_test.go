package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetricsRecordsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := NewMetrics(provider)
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordPipelineRun(ctx, "simulated", "success")
	metrics.RecordPipelineRun(ctx, "simulated", "success")
	metrics.RecordIteration(ctx, "failed")
	metrics.RecordStage(ctx, "agent_invoked", 1500*time.Millisecond)

	got := collect(t, reader)

	runs, ok := got["ferry.pipeline.runs"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, runs.DataPoints, 1)
	assert.Equal(t, int64(2), runs.DataPoints[0].Value)
	outcome, _ := runs.DataPoints[0].Attributes.Value(attribute.Key("outcome"))
	assert.Equal(t, "success", outcome.AsString())

	stages, ok := got["ferry.pipeline.stage.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, stages.DataPoints, 1)
	assert.InDelta(t, 1.5, stages.DataPoints[0].Sum, 0.001)

	iterations, ok := got["ferry.loop.iterations"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(1), iterations.DataPoints[0].Value)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var metrics *Metrics
	metrics.RecordPipelineRun(context.Background(), "simulated", "success")
	metrics.RecordPull(context.Background(), "conflict")
}

func TestPrometheusHandlerExposesMetrics(t *testing.T) {
	metrics, handler, err := NewPrometheusMetrics()
	require.NoError(t, err)
	metrics.RecordPull(context.Background(), "updated")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "ferry_remote_pulls"), "body: %s", body)
}

func TestServeStopsOnCancel(t *testing.T) {
	_, handler, err := NewPrometheusMetrics()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", handler, nil) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
