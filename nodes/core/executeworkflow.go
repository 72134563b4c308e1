package core

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowmesh/runtime/node"
)

// ExecuteWorkflow runs another workflow as a child execution, passing the
// current items as the child's trigger data and emitting the child's final
// output. The child inherits this node's context, so cancelling the parent
// execution cancels the child.
func ExecuteWorkflow() *node.Definition {
	return &node.Definition{
		Type:        "executeWorkflow",
		DisplayName: "Execute Workflow",
		Group:       []string{"flow"},
		Capability:  node.CapabilityAction,
		Inputs:      []string{node.MainPort},
		Outputs:     []string{node.MainPort},
		Properties: []node.Property{
			{Name: "workflowId", DisplayName: "Workflow", Type: node.PropertyString, Required: true},
		},
		Execute: func(ctx context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			workflowID := ec.StringParam("workflowId", "")
			if workflowID == "" {
				return nil, fmt.Errorf("workflowId is required")
			}
			if ec.Sub == nil {
				return nil, fmt.Errorf("sub-workflow execution is not available")
			}
			out, err := ec.Sub.RunWorkflow(ctx, workflowID, ec.FirstInput())
			if err != nil {
				return nil, err
			}
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: out}}, nil
		},
	}
}
