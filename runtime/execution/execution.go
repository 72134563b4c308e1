// Package execution defines the persisted execution and node-execution
// records plus the store contract the persistence backends implement. The
// records are the durable audit trail; live in-flight state lives in the
// progress tracker, not here.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of an execution or node-execution record.
type Status string

const (
	// StatusRunning marks an in-flight record.
	StatusRunning Status = "RUNNING"
	// StatusSuccess marks a fully successful terminal record.
	StatusSuccess Status = "SUCCESS"
	// StatusError marks a failed terminal record.
	StatusError Status = "ERROR"
	// StatusPartial marks a continue-policy execution where some branches
	// failed and others succeeded. In-memory only: rows persist it as ERROR
	// with the error's failed-node list populated.
	StatusPartial Status = "PARTIAL"
	// StatusCancelled marks a cancelled terminal record.
	StatusCancelled Status = "CANCELLED"
	// StatusTimeout marks an execution stopped by its max-duration setting.
	// In-memory only: rows persist it as CANCELLED with the timeout reason.
	StatusTimeout Status = "TIMEOUT"
	// StatusSkipped marks a node-execution row whose node never ran because
	// an upstream branch or failure pruned it, or because it was disabled.
	StatusSkipped Status = "SKIPPED"
)

// Terminal reports whether s is a terminal execution status.
func (s Status) Terminal() bool { return s != StatusRunning }

// Trigger modes recorded on executions.
const (
	// ModeManual marks executions started through the API by a user.
	ModeManual = "manual"
	// ModeWebhook marks executions started by a webhook request.
	ModeWebhook = "webhook"
	// ModeSchedule marks executions started by the scheduler.
	ModeSchedule = "schedule"
	// ModeSubWorkflow marks executions started by a parent workflow.
	ModeSubWorkflow = "sub-workflow"
)

// ErrNotFound indicates no execution record exists for the given id.
var ErrNotFound = errors.New("execution not found")

type (
	// Execution is the durable record of one workflow run.
	Execution struct {
		// ID uniquely identifies the execution.
		ID string `json:"id"`
		// WorkflowID is the executed workflow.
		WorkflowID string `json:"workflowId"`
		// Status is the execution lifecycle state.
		Status Status `json:"status"`
		// Mode records how the execution was triggered.
		Mode string `json:"mode"`
		// StartNodeID is the trigger or single node the run began at.
		StartNodeID string `json:"startNodeId,omitempty"`
		// TriggerData is the input delivered to the start node, recorded so
		// execution details expose exactly what the trigger carried.
		TriggerData []map[string]any `json:"triggerData,omitempty"`
		// WorkflowSnapshot is the immutable workflow definition the run
		// executed against, encoded as JSON. Edits to the live definition
		// after start never change it.
		WorkflowSnapshot json.RawMessage `json:"workflowSnapshot,omitempty"`
		// StartedAt is when the execution entered RUNNING.
		StartedAt time.Time `json:"startedAt"`
		// FinishedAt is when the execution reached a terminal status.
		FinishedAt *time.Time `json:"finishedAt,omitempty"`
		// Error is the execution-level failure, when one occurred.
		Error *ExecutionError `json:"error,omitempty"`
	}

	// NodeExecution is the durable record of one node run within one
	// execution. Its id is deterministic so retried writes are idempotent.
	NodeExecution struct {
		// ID is "{executionId}_{nodeId}".
		ID string `json:"id"`
		// ExecutionID is the owning execution.
		ExecutionID string `json:"executionId"`
		// NodeID is the executed node.
		NodeID string `json:"nodeId"`
		// NodeType is the node's registered type key.
		NodeType string `json:"nodeType"`
		// Status is the node outcome.
		Status Status `json:"status"`
		// InputData is the node's resolved input items per port.
		InputData map[string]any `json:"inputData,omitempty"`
		// OutputData is the node's output items per port.
		OutputData map[string]any `json:"outputData,omitempty"`
		// Error is the node failure, when one occurred.
		Error *ExecutionError `json:"error,omitempty"`
		// StartedAt is when the node entered RUNNING.
		StartedAt time.Time `json:"startedAt"`
		// FinishedAt is when the node reached a terminal status.
		FinishedAt *time.Time `json:"finishedAt,omitempty"`
	}

	// ExecutionError is the normalized failure shape stored on records and
	// returned by the API. Messages never include item payloads.
	ExecutionError struct {
		// Message is the human-readable failure description.
		Message string `json:"message"`
		// Kind classifies the failure per the runtime error taxonomy.
		Kind string `json:"kind,omitempty"`
		// NodeID names the failed node for node-level failures.
		NodeID string `json:"nodeId,omitempty"`
		// FailedNodes lists every failed node for execution-level failures.
		FailedNodes []string `json:"failedNodes,omitempty"`
		// ExecutionPath lists the nodes dispatched, in order, up to the
		// failure.
		ExecutionPath []string `json:"executionPath,omitempty"`
	}

	// Store persists execution and node-execution records.
	Store interface {
		// CreateExecution inserts a new RUNNING execution record.
		CreateExecution(ctx context.Context, ex *Execution) error
		// FinishExecution updates the execution's terminal status, finish
		// time, and error.
		FinishExecution(ctx context.Context, ex *Execution) error
		// LoadExecution retrieves an execution by id, ErrNotFound when absent.
		LoadExecution(ctx context.Context, id string) (*Execution, error)
		// SaveNodeExecution inserts or replaces a node-execution record.
		SaveNodeExecution(ctx context.Context, ne *NodeExecution) error
		// LoadNodeExecutions retrieves an execution's node records ordered by
		// start time.
		LoadNodeExecutions(ctx context.Context, executionID string) ([]NodeExecution, error)
	}
)

// NodeExecutionID derives the deterministic node-execution record id.
func NodeExecutionID(executionID, nodeID string) string {
	return executionID + "_" + nodeID
}

// NormalizeError converts an arbitrary error into the persisted shape.
func NormalizeError(err error, kind, nodeID string) *ExecutionError {
	if err == nil {
		return nil
	}
	return &ExecutionError{Message: err.Error(), Kind: kind, NodeID: nodeID}
}
