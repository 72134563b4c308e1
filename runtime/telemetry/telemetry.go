// Package telemetry defines the logging and metrics seams used across the
// runtime. The interfaces keep the engine testable with no-op implementations
// while production wiring delegates to goa.design/clue/log and OpenTelemetry.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log messages with key-value pairs. Credential
	// payloads must never be passed as values; only credential identifiers
	// and types may appear in logs.
	Logger interface {
		// Debug emits a debug-level message.
		Debug(ctx context.Context, msg string, keyvals ...any)
		// Info emits an info-level message.
		Info(ctx context.Context, msg string, keyvals ...any)
		// Error emits an error-level message with the given error.
		Error(ctx context.Context, err error, msg string, keyvals ...any)
	}

	// Metrics records engine-level measurements.
	Metrics interface {
		// RecordExecutionStarted increments the started-executions counter.
		RecordExecutionStarted(ctx context.Context, workflowID string)
		// RecordExecutionCompleted increments the completed-executions
		// counter with the terminal status as an attribute.
		RecordExecutionCompleted(ctx context.Context, workflowID, status string)
		// RecordNodeDuration records a node execution duration with the node
		// type and outcome as attributes.
		RecordNodeDuration(ctx context.Context, nodeType string, d time.Duration, success bool)
	}

	// NoopLogger discards all messages.
	NoopLogger struct{}

	// NoopMetrics discards all measurements.
	NoopMetrics struct{}
)

// Debug implements Logger.
func (NoopLogger) Debug(context.Context, string, ...any) {}

// Info implements Logger.
func (NoopLogger) Info(context.Context, string, ...any) {}

// Error implements Logger.
func (NoopLogger) Error(context.Context, error, string, ...any) {}

// RecordExecutionStarted implements Metrics.
func (NoopMetrics) RecordExecutionStarted(context.Context, string) {}

// RecordExecutionCompleted implements Metrics.
func (NoopMetrics) RecordExecutionCompleted(context.Context, string, string) {}

// RecordNodeDuration implements Metrics.
func (NoopMetrics) RecordNodeDuration(context.Context, string, time.Duration, bool) {}
