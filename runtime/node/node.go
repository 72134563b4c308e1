// Package node defines the contract every node type implements and the
// registry the engine resolves node types from. The engine treats each node
// as an opaque execute(params, inputs, credentials, ctx) -> outputs function;
// everything a node needs at runtime arrives through ExecuteContext.
package node

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/telemetry"
)

// Capability distinguishes trigger definitions from action definitions.
type Capability string

const (
	// CapabilityTrigger marks definitions with no inputs that start
	// executions. Trigger nodes receive the trigger data as their sole
	// input item.
	CapabilityTrigger Capability = "trigger"
	// CapabilityAction marks regular processing definitions.
	CapabilityAction Capability = "action"
)

// Trigger kinds declared by trigger definitions so the dispatcher can
// register them without hardcoding node type names.
const (
	// TriggerWebhook registers an HTTP webhook route.
	TriggerWebhook = "webhook"
	// TriggerSchedule registers a cron entry.
	TriggerSchedule = "schedule"
	// TriggerManual is invoked directly through the execution facade.
	TriggerManual = "manual"
	// TriggerWorkflowCall is invoked by an Execute Workflow node in another
	// workflow.
	TriggerWorkflowCall = "workflow-call"
)

// PropertyType enumerates the value types a node property may declare.
type PropertyType string

const (
	// PropertyString is a plain or templated string value.
	PropertyString PropertyType = "string"
	// PropertyNumber is a numeric value.
	PropertyNumber PropertyType = "number"
	// PropertyBool is a boolean value.
	PropertyBool PropertyType = "bool"
	// PropertyOptions is a string restricted to a declared option set.
	PropertyOptions PropertyType = "options"
	// PropertyJSON is an arbitrary JSON-serializable value.
	PropertyJSON PropertyType = "json"
	// PropertyCredential stores a credential id. The property name is the
	// field name under which the resolved credential is delivered to
	// Execute; the engine never hardcodes it.
	PropertyCredential PropertyType = "credential"
)

// MainPort is the default port name for single-port nodes.
const MainPort = "main"

type (
	// Item is the unit of data flowing between nodes. Nodes produce and
	// consume arrays of items; output cardinality need not match input
	// cardinality.
	Item struct {
		// JSON is the structured payload of the item.
		JSON map[string]any `json:"json"`
		// Binary carries named binary attachments.
		Binary map[string]BinaryData `json:"binary,omitempty"`
	}

	// BinaryData is a binary attachment on an item.
	BinaryData struct {
		// MimeType is the attachment content type.
		MimeType string `json:"mimeType"`
		// Data is the raw attachment bytes.
		Data []byte `json:"data"`
	}

	// Property declares one configurable parameter of a node type.
	Property struct {
		// Name is the parameter key. For credential properties it is also
		// the field name the resolved credential is delivered under.
		Name string `json:"name"`
		// DisplayName is the UI label.
		DisplayName string `json:"displayName"`
		// Type is the declared value type.
		Type PropertyType `json:"type"`
		// Default is the value used when the parameter is absent.
		Default any `json:"default,omitempty"`
		// Required marks the parameter as mandatory.
		Required bool `json:"required,omitempty"`
		// Options restricts PropertyOptions values.
		Options []string `json:"options,omitempty"`
		// Description is UI help text.
		Description string `json:"description,omitempty"`
	}

	// CredentialSpec declares a credential slot accepted by a node type.
	CredentialSpec struct {
		// FieldName is the key the resolved credential is delivered under in
		// ExecuteContext.Credentials, and the key looked up in the node's
		// credential map.
		FieldName string `json:"fieldName"`
		// AllowedTypes restricts which credential types may be attached.
		AllowedTypes []string `json:"allowedTypes"`
		// Required marks the slot as mandatory.
		Required bool `json:"required"`
	}

	// Definition is the type metadata registered once per node type.
	Definition struct {
		// Type is the registry key.
		Type string
		// DisplayName is the human-readable type name.
		DisplayName string
		// Group classifies the node for the editor palette.
		Group []string
		// Capability is trigger or action.
		Capability Capability
		// TriggerKind names the trigger flavor (webhook, schedule, manual,
		// workflow-call) for trigger-capability definitions. Empty for
		// actions.
		TriggerKind string
		// Inputs lists the declared input port names. Trigger definitions
		// declare none.
		Inputs []string
		// Outputs lists the declared output port names.
		Outputs []string
		// Properties is the static parameter schema. Exactly one of
		// Properties and PropertiesFn is set.
		Properties []Property
		// PropertiesFn resolves the parameter schema lazily for node types
		// with dynamic fields. The engine calls it at materialization time.
		PropertiesFn func() []Property
		// CredentialTypes declares the credential slots this type accepts.
		CredentialTypes []CredentialSpec
		// Execute runs the node. It may return a structured error through
		// Result or fail with an error; panics are caught by the engine and
		// mapped to node failures.
		Execute func(ctx context.Context, ec *ExecuteContext) (*Result, error)
	}

	// ExecuteContext carries everything a node receives at runtime. The
	// engine resolves expressions and credentials before constructing it.
	ExecuteContext struct {
		// ExecutionID identifies the current execution.
		ExecutionID string
		// NodeID identifies the node instance being executed.
		NodeID string
		// Parameters are the node parameters with expressions already
		// resolved against the current execution's data.
		Parameters map[string]any
		// Inputs are the accumulated upstream outputs per input port. For
		// trigger nodes this holds the trigger data as a single item on the
		// main port.
		Inputs map[string][]Item
		// Credentials are the materialized credentials keyed by the field
		// names declared by the node definition.
		Credentials map[string]*credential.Credential
		// Logger is the structured logger scoped to this execution.
		Logger telemetry.Logger
		// Sub starts sub-workflow executions on behalf of Execute Workflow
		// nodes. Nil when no sub-runner is wired.
		Sub SubRunner
	}

	// Result is the output of one node execution.
	Result struct {
		// Outputs maps output port names to the produced items.
		Outputs map[string][]Item
	}

	// SubRunner starts a child workflow execution and blocks until it
	// reaches a terminal state. Cancellation of ctx cancels the child.
	SubRunner interface {
		// RunWorkflow executes the given workflow with the items as trigger
		// data and returns the items produced by the final node.
		RunWorkflow(ctx context.Context, workflowID string, items []Item) ([]Item, error)
	}
)

// Props materializes the definition's property list, invoking PropertiesFn
// for dynamic definitions.
func (d *Definition) Props() []Property {
	if d.PropertiesFn != nil {
		return d.PropertiesFn()
	}
	return d.Properties
}

// HasOutput reports whether the definition declares the given output port.
func (d *Definition) HasOutput(port string) bool {
	for _, p := range d.Outputs {
		if p == port {
			return true
		}
	}
	return false
}

// FirstInput returns the items on the main input port, or the first non-empty
// port when main is absent. Convenience for single-input nodes.
func (ec *ExecuteContext) FirstInput() []Item {
	if items, ok := ec.Inputs[MainPort]; ok {
		return items
	}
	for _, items := range ec.Inputs {
		if len(items) > 0 {
			return items
		}
	}
	return nil
}

// StringParam returns the named parameter as a string, or def when absent.
func (ec *ExecuteContext) StringParam(name, def string) string {
	if v, ok := ec.Parameters[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return def
}

// BoolParam returns the named parameter as a bool, or def when absent or not
// a bool.
func (ec *ExecuteContext) BoolParam(name string, def bool) bool {
	if v, ok := ec.Parameters[name]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}
