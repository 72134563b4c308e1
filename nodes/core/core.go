// Package core provides the built-in node set: the trigger nodes the
// dispatcher understands, data-shaping nodes, branching nodes, the HTTP
// request node, and the sub-workflow call node.
package core

import "github.com/flowmesh/flowmesh/runtime/node"

// RegisterAll registers every built-in node type on the registry. It panics
// on conflict, which only happens when a plugin claims a built-in type name.
func RegisterAll(r *node.Registry) {
	r.MustRegister(ManualTrigger())
	r.MustRegister(WebhookTrigger())
	r.MustRegister(ScheduleTrigger())
	r.MustRegister(WorkflowCallTrigger())
	r.MustRegister(NoOp())
	r.MustRegister(Set())
	r.MustRegister(If())
	r.MustRegister(Switch())
	r.MustRegister(HTTPRequest())
	r.MustRegister(ExecuteWorkflow())
}
