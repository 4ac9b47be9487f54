package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/swarmsh/swarmsh/internal/observability"
)

func setupTestMeter(t *testing.T) (*observability.CoordinationMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	cm, err := observability.NewCoordinationMetrics(meter)
	require.NoError(t, err)

	return cm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func sumInt64(t *testing.T, m *metricdata.Metrics) int64 {
	t.Helper()

	data, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64] data type")

	var total int64
	for idx := range data.DataPoints {
		total += data.DataPoints[idx].Value
	}

	return total
}

func TestCoordinationMetrics_RecordOperation(t *testing.T) {
	t.Parallel()
	cm, reader := setupTestMeter(t)
	ctx := context.Background()

	cm.RecordOperation(ctx, "work.claim", "completed", time.Millisecond*20)

	rm := collectMetrics(t, reader)

	opsTotal := findMetric(rm, "swarmsh.operations.total")
	require.NotNil(t, opsTotal, "swarmsh.operations.total metric not found")

	opDuration := findMetric(rm, "swarmsh.operation.duration.seconds")
	require.NotNil(t, opDuration, "swarmsh.operation.duration.seconds metric not found")
}

func TestCoordinationMetrics_RecordOperationError(t *testing.T) {
	t.Parallel()
	cm, reader := setupTestMeter(t)
	ctx := context.Background()

	cm.RecordOperation(ctx, "work.complete", "error", time.Second)

	rm := collectMetrics(t, reader)

	errTotal := findMetric(rm, "swarmsh.errors.total")
	require.NotNil(t, errTotal, "swarmsh.errors.total metric not found")
	assert.Equal(t, int64(1), sumInt64(t, errTotal))
}

func TestCoordinationMetrics_RecordConflict(t *testing.T) {
	t.Parallel()
	cm, reader := setupTestMeter(t)
	ctx := context.Background()

	cm.RecordConflict(ctx, "work.claim")
	cm.RecordConflict(ctx, "work.claim")

	rm := collectMetrics(t, reader)

	conflicts := findMetric(rm, "swarmsh.work.conflicts.total")
	require.NotNil(t, conflicts, "swarmsh.work.conflicts.total metric not found")
	assert.Equal(t, int64(2), sumInt64(t, conflicts))
}

func TestCoordinationMetrics_TrackInflight(t *testing.T) {
	t.Parallel()
	cm, reader := setupTestMeter(t)
	ctx := context.Background()

	done := cm.TrackInflight(ctx, "work.progress")

	rm := collectMetrics(t, reader)

	inflight := findMetric(rm, "swarmsh.inflight.operations")
	require.NotNil(t, inflight, "swarmsh.inflight.operations metric not found")
	assert.Equal(t, int64(1), sumInt64(t, inflight))

	done()

	rm = collectMetrics(t, reader)
	inflight = findMetric(rm, "swarmsh.inflight.operations")
	require.NotNil(t, inflight)
	assert.Equal(t, int64(0), sumInt64(t, inflight))
}

func TestCoordinationMetrics_HistogramBuckets(t *testing.T) {
	t.Parallel()

	cm, reader := setupTestMeter(t)
	ctx := context.Background()

	cm.RecordOperation(ctx, "cli.claim", "completed", time.Millisecond*3)

	rm := collectMetrics(t, reader)

	opDuration := findMetric(rm, "swarmsh.operation.duration.seconds")
	require.NotNil(t, opDuration)

	hist, ok := opDuration.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "expected Histogram data type")
	require.NotEmpty(t, hist.DataPoints)

	bounds := hist.DataPoints[0].Bounds

	// Boundaries should resolve millisecond file operations while still
	// covering lock waits up to the timeout ceiling.
	expectedBounds := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	assert.Equal(t, expectedBounds, bounds, "histogram should use custom bucket boundaries")
}

func TestRegisterStateGauges(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	err := observability.RegisterStateGauges(meter, observability.StateGauges{
		ActiveWork:       func() int64 { return 3 },
		RegisteredAgents: func() int64 { return 2 },
		EmissionFailures: func() int64 { return 7 },
		HealthScore:      func() int64 { return 82 },
	})
	require.NoError(t, err)

	rm := collectMetrics(t, reader)

	activeWork := findMetric(rm, "swarmsh.work.active")
	require.NotNil(t, activeWork, "swarmsh.work.active metric not found")

	gauge, ok := activeWork.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "expected Gauge data type")
	require.NotEmpty(t, gauge.DataPoints)
	assert.Equal(t, int64(3), gauge.DataPoints[0].Value)

	agents := findMetric(rm, "swarmsh.agents.registered")
	require.NotNil(t, agents, "swarmsh.agents.registered metric not found")

	failures := findMetric(rm, "swarmsh.telemetry.emission.failures")
	require.NotNil(t, failures, "swarmsh.telemetry.emission.failures metric not found")
	assert.Equal(t, int64(7), sumInt64(t, failures))

	score := findMetric(rm, "swarmsh.health.score")
	require.NotNil(t, score, "swarmsh.health.score metric not found")

	scoreGauge, ok := score.Data.(metricdata.Gauge[int64])
	require.True(t, ok, "expected Gauge data type")
	require.NotEmpty(t, scoreGauge.DataPoints)
	assert.Equal(t, int64(82), scoreGauge.DataPoints[0].Value)
}

func TestRegisterStateGauges_NilReaders(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	err := observability.RegisterStateGauges(meter, observability.StateGauges{})
	require.NoError(t, err)

	// Collection must not panic when no readers are supplied.
	rm := collectMetrics(t, reader)
	_ = rm
}

func TestNewCoordinationMetrics_WithNoopMeter(t *testing.T) {
	t.Parallel()

	cfg := observability.DefaultConfig()

	providers, err := observability.Init(cfg)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	cm, err := observability.NewCoordinationMetrics(providers.Meter)
	require.NoError(t, err)
	assert.NotNil(t, cm)

	// Recording against no-op instruments must not panic.
	cm.RecordOperation(context.Background(), "test", "completed", time.Millisecond)
	cm.RecordConflict(context.Background(), "test")
}
