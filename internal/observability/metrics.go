package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricOperationsTotal   = "swarmsh.operations.total"
	metricOperationDuration = "swarmsh.operation.duration.seconds"
	metricErrorsTotal       = "swarmsh.errors.total"
	metricConflictsTotal    = "swarmsh.work.conflicts.total"
	metricInflightOps       = "swarmsh.inflight.operations"

	metricActiveWork       = "swarmsh.work.active"
	metricRegisteredAgents = "swarmsh.agents.registered"
	metricSpanFailures     = "swarmsh.telemetry.emission.failures"
	metricHealthScore      = "swarmsh.health.score"

	attrOpName = "op"
	attrResult = "status"

	resultError = "error"
)

// durationBucketBoundaries covers 1ms to 60s. Coordination operations
// are file-lock bound: most finish in milliseconds, the tail is a lock
// wait capped by the configured timeout.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// CoordinationMetrics holds the OTel instruments for coordination
// operation rate, errors, duration, and claim conflicts.
type CoordinationMetrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	errorsTotal       metric.Int64Counter
	conflictsTotal    metric.Int64Counter
	inflightOps       metric.Int64UpDownCounter
}

// NewCoordinationMetrics creates coordination metric instruments from
// the given meter.
func NewCoordinationMetrics(mt metric.Meter) (*CoordinationMetrics, error) {
	b := newMetricBuilder(mt)

	cm := &CoordinationMetrics{
		operationsTotal:   b.counter(metricOperationsTotal, "Total number of coordination operations", "{operation}"),
		operationDuration: b.histogram(metricOperationDuration, "Coordination operation duration in seconds", "s", durationBucketBoundaries...),
		errorsTotal:       b.counter(metricErrorsTotal, "Total number of failed coordination operations", "{error}"),
		conflictsTotal:    b.counter(metricConflictsTotal, "Total number of work claim conflicts", "{conflict}"),
		inflightOps:       b.upDownCounter(metricInflightOps, "Number of in-flight coordination operations", "{operation}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return cm, nil
}

// RecordOperation records a completed coordination operation with its
// name, terminal status, and duration.
func (cm *CoordinationMetrics) RecordOperation(ctx context.Context, op, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrOpName, op),
		attribute.String(attrResult, status),
	)

	cm.operationsTotal.Add(ctx, 1, attrs)
	cm.operationDuration.Record(ctx, duration.Seconds(), attrs)

	if status == resultError {
		cm.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String(attrOpName, op),
		))
	}
}

// RecordConflict counts a work item claimed or mutated by a competing
// agent between read and write.
func (cm *CoordinationMetrics) RecordConflict(ctx context.Context, op string) {
	cm.conflictsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrOpName, op),
	))
}

// TrackInflight increments the in-flight gauge and returns a function
// to decrement it.
func (cm *CoordinationMetrics) TrackInflight(ctx context.Context, op string) func() {
	attrs := metric.WithAttributes(attribute.String(attrOpName, op))
	cm.inflightOps.Add(ctx, 1, attrs)

	return func() {
		cm.inflightOps.Add(ctx, -1, attrs)
	}
}

// StateGauges supplies point-in-time readings of coordination state for
// asynchronous gauge collection. Each func is invoked on the meter's
// collection cycle and must be safe for concurrent use.
type StateGauges struct {
	// ActiveWork reports work items not yet completed or archived.
	ActiveWork func() int64
	// RegisteredAgents reports agents present in the status roster.
	RegisteredAgents func() int64
	// EmissionFailures reports the cumulative count of spans dropped
	// because the span log rejected them.
	EmissionFailures func() int64
	// HealthScore reports the composite score of the last health check.
	HealthScore func() int64
}

// RegisterStateGauges registers observable instruments that poll the
// given state readers on each collection cycle.
func RegisterStateGauges(mt metric.Meter, gauges StateGauges) error {
	b := newMetricBuilder(mt)

	activeWork := b.gauge(metricActiveWork, "Work items currently pending or active", "{item}")
	registeredAgents := b.gauge(metricRegisteredAgents, "Agents currently registered", "{agent}")
	spanFailures := b.observableCounter(metricSpanFailures, "Spans dropped due to emission failures since process start", "{span}")
	healthScore := b.gauge(metricHealthScore, "Composite health score of the last check, 0 to 100", "1")

	if b.err != nil {
		return b.err
	}

	observe := func(_ context.Context, obs metric.Observer) error {
		if gauges.ActiveWork != nil {
			obs.ObserveInt64(activeWork, gauges.ActiveWork())
		}

		if gauges.RegisteredAgents != nil {
			obs.ObserveInt64(registeredAgents, gauges.RegisteredAgents())
		}

		if gauges.EmissionFailures != nil {
			obs.ObserveInt64(spanFailures, gauges.EmissionFailures())
		}

		if gauges.HealthScore != nil {
			obs.ObserveInt64(healthScore, gauges.HealthScore())
		}

		return nil
	}

	_, err := mt.RegisterCallback(observe, activeWork, registeredAgents, spanFailures, healthScore)
	if err != nil {
		return fmt.Errorf("register state gauges callback: %w", err)
	}

	return nil
}
