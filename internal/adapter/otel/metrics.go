package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "parley"

// Metrics holds all runtime metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	ToolExecutions metric.Int64Counter
	Approvals      metric.Int64Counter
	CacheHits      metric.Int64Counter
	CacheMisses    metric.Int64Counter
	TurnDuration   metric.Float64Histogram
	ApprovalWait   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("parley.turns.started",
		metric.WithDescription("Number of conversation turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("parley.turns.completed",
		metric.WithDescription("Number of conversation turns completed"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("parley.turns.failed",
		metric.WithDescription("Number of conversation turns failed"))
	if err != nil {
		return nil, err
	}

	m.ToolExecutions, err = meter.Int64Counter("parley.tool.executions",
		metric.WithDescription("Number of tool executions"))
	if err != nil {
		return nil, err
	}

	m.Approvals, err = meter.Int64Counter("parley.approvals",
		metric.WithDescription("Number of human approval requests"))
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("parley.opcache.hits",
		metric.WithDescription("Operation cache hits"))
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("parley.opcache.misses",
		metric.WithDescription("Operation cache misses"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("parley.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.ApprovalWait, err = meter.Float64Histogram("parley.approval.wait_seconds",
		metric.WithDescription("Time between suspension and human decision"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
