// Package events provides the in-process publish/subscribe bus carrying
// execution lifecycle events to streaming consumers. Publishing never blocks
// the engine: each subscriber owns a bounded buffer and slow subscribers lose
// their oldest events rather than stalling execution.
package events

import "time"

// Event type names published by the engine and the trigger dispatcher.
// Workflow topics carry the high-level lifecycle (webhook firings, execution
// start and completion); execution topics carry per-node events.
const (
	// TypeExecutionStarted is published when an execution enters RUNNING.
	TypeExecutionStarted = "execution-started"
	// TypeExecutionCompleted is published when an execution reaches a
	// terminal state.
	TypeExecutionCompleted = "execution-completed"
	// TypeNodeStarted is published when a node enters RUNNING.
	TypeNodeStarted = "node-started"
	// TypeNodeCompleted is published when a node finishes successfully.
	TypeNodeCompleted = "node-completed"
	// TypeNodeFailed is published when a node's execute fails.
	TypeNodeFailed = "node-failed"
	// TypeNodeStatusUpdate is published for the remaining node transitions
	// (skipped, cancelled).
	TypeNodeStatusUpdate = "node-status-update"
	// TypeWebhookTriggered is published on the workflow topic when a webhook
	// fires and starts an execution.
	TypeWebhookTriggered = "webhook-triggered"
	// TypeWebhookTestTriggered is published on the workflow topic when a
	// test-mode webhook fires, before the execution starts, so editor
	// listeners can attach from the first node event.
	TypeWebhookTestTriggered = "webhook-test-triggered"
)

// Event is one lifecycle notification. Data carries the event-specific
// payload (node status, output summary, trigger request metadata).
type Event struct {
	// Type is one of the Type* constants.
	Type string `json:"type"`
	// WorkflowID identifies the workflow the event belongs to.
	WorkflowID string `json:"workflowId,omitempty"`
	// ExecutionID identifies the execution, when one exists yet.
	ExecutionID string `json:"executionId,omitempty"`
	// NodeID identifies the node for node-scoped events.
	NodeID string `json:"nodeId,omitempty"`
	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`
	// Data is the event-specific payload.
	Data map[string]any `json:"data,omitempty"`
}

// WorkflowTopic returns the topic carrying workflow-scoped events such as
// test webhook notifications and the executions spawned for the workflow.
func WorkflowTopic(workflowID string) string { return "workflow:" + workflowID }

// ExecutionTopic returns the topic carrying one execution's node and
// lifecycle events.
func ExecutionTopic(executionID string) string { return "execution:" + executionID }
