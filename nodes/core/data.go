package core

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowmesh/runtime/node"
)

// NoOp passes its input through unchanged. Useful as a merge point and in
// tests.
func NoOp() *node.Definition {
	return &node.Definition{
		Type:        "noOp",
		DisplayName: "No Operation",
		Group:       []string{"utility"},
		Capability:  node.CapabilityAction,
		Inputs:      []string{node.MainPort},
		Outputs:     []string{node.MainPort},
		Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
		},
	}
}

// Set writes fields onto every passing item. With keepOnlySet the output
// items contain only the written fields.
func Set() *node.Definition {
	return &node.Definition{
		Type:        "set",
		DisplayName: "Set",
		Group:       []string{"transform"},
		Capability:  node.CapabilityAction,
		Inputs:      []string{node.MainPort},
		Outputs:     []string{node.MainPort},
		Properties: []node.Property{
			{Name: "values", DisplayName: "Values", Type: node.PropertyJSON, Required: true,
				Description: "Object of field names to values, values may be expressions"},
			{Name: "keepOnlySet", DisplayName: "Keep Only Set", Type: node.PropertyBool, Default: false},
		},
		Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			values, ok := ec.Parameters["values"].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("values must be an object, got %T", ec.Parameters["values"])
			}
			keepOnly := ec.BoolParam("keepOnlySet", false)

			in := ec.FirstInput()
			out := make([]node.Item, 0, len(in))
			for _, item := range in {
				next := make(map[string]any, len(item.JSON)+len(values))
				if !keepOnly {
					for k, v := range item.JSON {
						next[k] = v
					}
				}
				for k, v := range values {
					next[k] = v
				}
				out = append(out, node.Item{JSON: next, Binary: item.Binary})
			}
			if len(in) == 0 {
				// No inputs still produces one item so the set values are
				// usable as workflow constants.
				out = append(out, node.Item{JSON: values})
			}
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: out}}, nil
		},
	}
}
