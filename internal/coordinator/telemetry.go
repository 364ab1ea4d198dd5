package coordinator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/flowd/internal/workflow"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/flowd/internal/coordinator"

// Metrics provides OpenTelemetry metrics for agent executions.
type Metrics struct {
	executionsTotal   metric.Int64Counter
	executionsFailed  metric.Int64Counter
	executionDuration metric.Float64Histogram
	tokensUsed        metric.Int64Histogram
}

// NewMetrics creates a Metrics instance with the provided meter. A nil meter
// uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.executionsTotal, err = meter.Int64Counter(
		"coordinator.executions.total",
		metric.WithDescription("Total number of successful agent executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	m.executionsFailed, err = meter.Int64Counter(
		"coordinator.executions.failed.total",
		metric.WithDescription("Total number of failed or rejected agent executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		return nil, err
	}

	m.executionDuration, err = meter.Float64Histogram(
		"coordinator.execution.duration.seconds",
		metric.WithDescription("Wall-clock duration of agent executions in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	m.tokensUsed, err = meter.Int64Histogram(
		"coordinator.execution.tokens",
		metric.WithDescription("Tokens consumed per agent execution"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordExecution records one successful agent execution.
func (m *Metrics) RecordExecution(ctx context.Context, phase workflow.Phase, am workflow.AgentMetrics) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("phase", string(phase)))
	m.executionsTotal.Add(ctx, 1, attrs)
	m.executionDuration.Record(ctx, am.Duration.Seconds(), attrs)
	m.tokensUsed.Record(ctx, int64(am.TokensUsed), attrs)
}

// RecordFailure records one failed or rejected agent execution.
func (m *Metrics) RecordFailure(ctx context.Context, phase workflow.Phase, code workflow.ErrorCode) {
	if m == nil {
		return
	}
	m.executionsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.String("code", string(code)),
	))
}
