package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/flowd/internal/orchestrator"

// Metrics provides OpenTelemetry metrics for the orchestrator.
type Metrics struct {
	workflowsStarted  metric.Int64Counter
	workflowsRejected metric.Int64Counter
	workflowsReaped   metric.Int64Counter
	workflowsActive   metric.Int64UpDownCounter
	interactionsTotal metric.Int64Counter
}

// NewMetrics creates a Metrics instance with the provided meter. A nil meter
// uses the global meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	m.workflowsStarted, err = meter.Int64Counter(
		"orchestrator.workflows.started.total",
		metric.WithDescription("Total number of workflows started"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return nil, err
	}

	m.workflowsRejected, err = meter.Int64Counter(
		"orchestrator.workflows.rejected.total",
		metric.WithDescription("Total number of workflow starts rejected by cap or rate limit"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return nil, err
	}

	m.workflowsReaped, err = meter.Int64Counter(
		"orchestrator.workflows.reaped.total",
		metric.WithDescription("Total number of idle workflows removed by the reaper"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return nil, err
	}

	m.workflowsActive, err = meter.Int64UpDownCounter(
		"orchestrator.workflows.active.count",
		metric.WithDescription("Number of workflows in the active registry"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		return nil, err
	}

	m.interactionsTotal, err = meter.Int64Counter(
		"orchestrator.interactions.total",
		metric.WithDescription("Total number of processed interactions"),
		metric.WithUnit("{interaction}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordStart records an accepted workflow start.
func (m *Metrics) RecordStart(ctx context.Context) {
	if m == nil {
		return
	}
	m.workflowsStarted.Add(ctx, 1)
	m.workflowsActive.Add(ctx, 1)
}

// RecordRejection records a start rejected by cap or rate limit.
func (m *Metrics) RecordRejection(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.workflowsRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordReaped records idle workflows removed by the reaper.
func (m *Metrics) RecordReaped(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.workflowsReaped.Add(ctx, int64(count))
	m.workflowsActive.Add(ctx, -int64(count))
}

// RecordRemoved records a workflow leaving the registry outside the reaper.
func (m *Metrics) RecordRemoved(ctx context.Context) {
	if m == nil {
		return
	}
	m.workflowsActive.Add(ctx, -1)
}

// RecordInteraction records one processed interaction.
func (m *Metrics) RecordInteraction(ctx context.Context, action Action, success bool) {
	if m == nil {
		return
	}
	m.interactionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.Bool("success", success),
	))
}
