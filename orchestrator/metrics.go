package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics wraps the OTel instruments the Orchestrator emits: one counter
// per terminal status, a step-duration histogram, and a live gauge of
// in-flight workflows.
type Metrics struct {
	statusCounter  metric.Int64Counter
	stepDuration   metric.Float64Histogram
	activeWorkflows metric.Int64UpDownCounter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("cashapp-agent/orchestrator")

	statusCounter, err := meter.Int64Counter(
		"cashapp_workflow_status_total",
		metric.WithDescription("Count of workflows reaching each terminal status"),
	)
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram(
		"cashapp_workflow_step_duration_ms",
		metric.WithDescription("Duration of each workflow step, in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeWorkflows, err := meter.Int64UpDownCounter(
		"cashapp_workflows_active",
		metric.WithDescription("Number of workflows currently in a non-terminal state"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{statusCounter: statusCounter, stepDuration: stepDuration, activeWorkflows: activeWorkflows}, nil
}

func (m *Metrics) RecordTerminalStatus(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.statusCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordStepDuration(ctx context.Context, step string, durationMs float64) {
	if m == nil {
		return
	}
	m.stepDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("step", step)))
}

func (m *Metrics) WorkflowStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeWorkflows.Add(ctx, 1)
}

func (m *Metrics) WorkflowFinished(ctx context.Context) {
	if m == nil {
		return
	}
	m.activeWorkflows.Add(ctx, -1)
}
