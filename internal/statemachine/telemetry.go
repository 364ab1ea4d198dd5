package statemachine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/flowd/internal/statemachine"

// Metrics provides OpenTelemetry metrics for state machine transitions.
type Metrics struct {
	transitionsTotal   metric.Int64Counter
	transitionsFailed  metric.Int64Counter
	transitionDuration metric.Float64Histogram
	workflowsCompleted metric.Int64Counter
}

// NewMetrics creates a Metrics instance with the provided meter. A nil meter
// uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.transitionsTotal, err = meter.Int64Counter(
		"statemachine.transitions.total",
		metric.WithDescription("Total number of committed transitions"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.transitionsFailed, err = meter.Int64Counter(
		"statemachine.transitions.failed.total",
		metric.WithDescription("Total number of rejected transition attempts"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	m.transitionDuration, err = meter.Float64Histogram(
		"statemachine.transition.duration.seconds",
		metric.WithDescription("Duration of transition execution in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1),
	)
	if err != nil {
		return nil, err
	}

	m.workflowsCompleted, err = meter.Int64Counter(
		"statemachine.workflows.completed.total",
		metric.WithDescription("Total number of workflows that reached a final state"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTransition records one committed transition.
func (m *Metrics) RecordTransition(ctx context.Context, trigger workflow.Trigger, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("trigger", string(trigger)))
	m.transitionsTotal.Add(ctx, 1, attrs)
	m.transitionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordFailure records one rejected transition attempt.
func (m *Metrics) RecordFailure(ctx context.Context, trigger workflow.Trigger, code workflow.ErrorCode) {
	if m == nil {
		return
	}
	m.transitionsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", string(trigger)),
		attribute.String("code", string(code)),
	))
}

// RecordCompletion records a workflow reaching a final state.
func (m *Metrics) RecordCompletion(ctx context.Context, state workflow.State) {
	if m == nil {
		return
	}
	m.workflowsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(state)),
	))
}
