package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"
)

type (
	// ClueLogger delegates to goa.design/clue/log. The logger reads
	// formatting and debug settings from the context (set via log.Context
	// and log.WithFormat/log.WithDebug).
	ClueLogger struct{}

	// OtelMetrics records engine measurements through the global OTel
	// MeterProvider. Configure the provider before invoking runtime methods.
	OtelMetrics struct {
		started   metric.Int64Counter
		completed metric.Int64Counter
		nodeDur   metric.Float64Histogram
	}
)

// NewClueLogger constructs a Logger backed by goa.design/clue/log.
func NewClueLogger() Logger { return ClueLogger{} }

// NewOtelMetrics constructs a Metrics recorder using the global MeterProvider.
func NewOtelMetrics() Metrics {
	meter := otel.Meter("github.com/flowmesh/flowmesh/runtime")
	m := &OtelMetrics{}
	m.started, _ = meter.Int64Counter("flowmesh.executions.started")
	m.completed, _ = meter.Int64Counter("flowmesh.executions.completed")
	m.nodeDur, _ = meter.Float64Histogram("flowmesh.node.duration_seconds")
	return m
}

// Debug emits a debug-level log message with structured key-value pairs.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvSliceToClue(keyvals)...)...)
}

// Info emits an info-level log message with structured key-value pairs.
func (ClueLogger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvSliceToClue(keyvals)...)...)
}

// Error emits an error-level log message with structured key-value pairs.
func (ClueLogger) Error(ctx context.Context, err error, msg string, keyvals ...any) {
	log.Error(ctx, err, append([]log.Fielder{log.KV{K: "msg", V: msg}}, kvSliceToClue(keyvals)...)...)
}

// RecordExecutionStarted implements Metrics.
func (m *OtelMetrics) RecordExecutionStarted(ctx context.Context, workflowID string) {
	m.started.Add(ctx, 1, metric.WithAttributes(attribute.String("workflow_id", workflowID)))
}

// RecordExecutionCompleted implements Metrics.
func (m *OtelMetrics) RecordExecutionCompleted(ctx context.Context, workflowID, status string) {
	m.completed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("status", status),
	))
}

// RecordNodeDuration implements Metrics.
func (m *OtelMetrics) RecordNodeDuration(ctx context.Context, nodeType string, d time.Duration, success bool) {
	m.nodeDur.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("node_type", nodeType),
		attribute.Bool("success", success),
	))
}

// kvSliceToClue converts alternating key-value pairs into clue log fielders.
// Odd trailing values are paired with an empty key rather than dropped.
func kvSliceToClue(keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, (len(keyvals)+1)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		var val any
		if i+1 < len(keyvals) {
			val = keyvals[i+1]
		}
		fielders = append(fielders, log.KV{K: key, V: val})
	}
	return fielders
}
