// Package workflow defines the graph data model consumed by the execution
// engine: workflows, nodes, connections, and per-workflow settings. It also
// provides structural validation, deep-copy snapshots, and the execution plan
// (reachability and dependency ordering) the scheduler runs from.
package workflow

import (
	"context"
	"fmt"
)

// ErrorPolicy selects how the engine reacts to a node failure.
type ErrorPolicy string

const (
	// ErrorPolicyStop cancels the remainder of the execution on the first
	// node failure.
	ErrorPolicyStop ErrorPolicy = "stop"
	// ErrorPolicyContinue skips the failed node's downstream dependents and
	// keeps executing independent branches.
	ErrorPolicyContinue ErrorPolicy = "continue"
)

// Capability distinguishes trigger nodes (no inputs, entered only when the
// engine starts at them) from action nodes.
type Capability string

const (
	// CapabilityTrigger marks a node that starts executions.
	CapabilityTrigger Capability = "trigger"
	// CapabilityAction marks a regular processing node.
	CapabilityAction Capability = "action"
)

// MainPort is the default input/output port name used when a connection does
// not name one explicitly.
const MainPort = "main"

// ExecutionOrderV1 is the only recognized value for Settings.ExecutionOrder.
// The field is an enum extension point; unknown values are rejected at
// validation time.
const ExecutionOrderV1 = "v1"

type (
	// Workflow is the graph handed to the engine. It is immutable per
	// execution via Snapshot: the engine never executes a live workflow
	// directly.
	Workflow struct {
		// ID uniquely identifies the workflow.
		ID string `json:"id"`
		// Name is the human-readable workflow name.
		Name string `json:"name"`
		// OwnerID identifies the workflow owner.
		OwnerID string `json:"ownerId"`
		// Nodes are the graph vertices, ordered by id.
		Nodes []Node `json:"nodes"`
		// Connections are the directed edges between node ports.
		Connections []Connection `json:"connections"`
		// Settings holds per-workflow execution settings.
		Settings Settings `json:"settings"`
	}

	// Node is a graph vertex. Its type is a key into the node registry; the
	// engine treats the node implementation as opaque.
	Node struct {
		// ID uniquely identifies the node within the workflow.
		ID string `json:"id"`
		// Type is the node type key registered with the node registry.
		Type string `json:"type"`
		// Name is the display name, also the key for $node expression lookups.
		Name string `json:"name"`
		// Position is opaque UI placement data with no execution semantics.
		Position map[string]any `json:"position,omitempty"`
		// Parameters maps parameter names to literal values or templated
		// "{{expression}}" strings resolved by the engine before execution.
		Parameters map[string]any `json:"parameters,omitempty"`
		// Credentials maps node-declared credential field names to credential
		// ids. The field name comes from the node definition, never from the
		// engine.
		Credentials map[string]string `json:"credentials,omitempty"`
		// Disabled nodes pass their inputs straight through to outputs.
		Disabled bool `json:"disabled,omitempty"`
		// ExecutionCapability is trigger or action.
		ExecutionCapability Capability `json:"executionCapability"`
		// ParentID is grouping metadata with no execution semantics.
		ParentID string `json:"parentId,omitempty"`
		// Extent is grouping metadata with no execution semantics.
		Extent string `json:"extent,omitempty"`
	}

	// Connection is a directed edge from a source node output port to a
	// target node input port.
	Connection struct {
		// ID uniquely identifies the connection.
		ID string `json:"id"`
		// SourceNodeID is the edge origin node.
		SourceNodeID string `json:"sourceNodeId"`
		// SourceOutput names the origin output port. Defaults to "main".
		SourceOutput string `json:"sourceOutput,omitempty"`
		// TargetNodeID is the edge destination node.
		TargetNodeID string `json:"targetNodeId"`
		// TargetInput names the destination input port. Defaults to "main".
		TargetInput string `json:"targetInput,omitempty"`
	}

	// Settings are per-workflow execution settings.
	Settings struct {
		// Timezone is the IANA timezone for schedule evaluation and
		// expression date helpers. Empty means UTC.
		Timezone string `json:"timezone,omitempty"`
		// ExecutionOrder must be "v1" (or empty) for now.
		ExecutionOrder string `json:"executionOrder,omitempty"`
		// ErrorPolicy selects stop or continue semantics on node failure.
		// Empty means stop.
		ErrorPolicy ErrorPolicy `json:"errorPolicy,omitempty"`
		// CallerPolicy restricts which workflows may invoke this one as a
		// sub-workflow. Empty means any.
		CallerPolicy string `json:"callerPolicy,omitempty"`
		// MaxDurationMs bounds the total execution wall-clock time. Zero
		// means unbounded.
		MaxDurationMs int64 `json:"maxDurationMs,omitempty"`
		// Concurrency bounds how many nodes of one execution run in
		// parallel. Zero means the engine default.
		Concurrency int `json:"concurrency,omitempty"`
	}

	// Store loads and saves workflow definitions. Workflow CRUD itself is
	// outside the engine; the engine only needs Load on the execution path.
	Store interface {
		// LoadWorkflow retrieves a workflow by id.
		LoadWorkflow(ctx context.Context, id string) (*Workflow, error)
		// SaveWorkflow creates or replaces a workflow definition.
		SaveWorkflow(ctx context.Context, wf *Workflow) error
	}
)

// Port returns the connection's source output port, defaulting to main.
func (c Connection) Port() string {
	if c.SourceOutput == "" {
		return MainPort
	}
	return c.SourceOutput
}

// InputPort returns the connection's target input port, defaulting to main.
func (c Connection) InputPort() string {
	if c.TargetInput == "" {
		return MainPort
	}
	return c.TargetInput
}

// NodeByID returns the node with the given id, or nil.
func (w *Workflow) NodeByID(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// TriggerNodes returns the ids of all trigger-capability nodes in definition
// order.
func (w *Workflow) TriggerNodes() []string {
	var ids []string
	for i := range w.Nodes {
		if w.Nodes[i].ExecutionCapability == CapabilityTrigger {
			ids = append(ids, w.Nodes[i].ID)
		}
	}
	return ids
}

// Validate checks the structural invariants of the workflow: unique node ids,
// connection endpoints referencing existing nodes, and a recognized execution
// order setting. It does not check node types against a registry; that is the
// engine's concern at dispatch time.
func (w *Workflow) Validate() error {
	seen := make(map[string]bool, len(w.Nodes))
	for i := range w.Nodes {
		n := &w.Nodes[i]
		if n.ID == "" {
			return fmt.Errorf("node at index %d has no id", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
	}
	for _, c := range w.Connections {
		if !seen[c.SourceNodeID] {
			return fmt.Errorf("connection %q references unknown source node %q", c.ID, c.SourceNodeID)
		}
		if !seen[c.TargetNodeID] {
			return fmt.Errorf("connection %q references unknown target node %q", c.ID, c.TargetNodeID)
		}
	}
	if w.Settings.ExecutionOrder != "" && w.Settings.ExecutionOrder != ExecutionOrderV1 {
		return fmt.Errorf("unsupported execution order %q", w.Settings.ExecutionOrder)
	}
	return nil
}
