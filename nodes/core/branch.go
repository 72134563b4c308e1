package core

import (
	"context"
	"fmt"

	"github.com/flowmesh/flowmesh/runtime/node"
)

// If routes all input items to its true or false output port based on the
// condition parameter. The condition is usually a "{{ ... }}" expression; by
// the time Execute runs it has been resolved to a boolean.
func If() *node.Definition {
	return &node.Definition{
		Type:        "if",
		DisplayName: "IF",
		Group:       []string{"branch"},
		Capability:  node.CapabilityAction,
		Inputs:      []string{node.MainPort},
		Outputs:     []string{"true", "false"},
		Properties: []node.Property{
			{Name: "condition", DisplayName: "Condition", Type: node.PropertyBool, Required: true},
		},
		Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			cond, ok := ec.Parameters["condition"].(bool)
			if !ok {
				return nil, fmt.Errorf("condition resolved to %T, want bool", ec.Parameters["condition"])
			}
			port := "false"
			if cond {
				port = "true"
			}
			return &node.Result{Outputs: map[string][]node.Item{port: ec.FirstInput()}}, nil
		},
	}
}

// Switch routes all input items to the output named by the first matching
// rule, or to the fallback output when no rule matches. Output port names are
// declared by the workflow's connections, not by the definition, so the rule
// set is free-form.
func Switch() *node.Definition {
	return &node.Definition{
		Type:        "switch",
		DisplayName: "Switch",
		Group:       []string{"branch"},
		Capability:  node.CapabilityAction,
		Inputs:      []string{node.MainPort},
		Outputs:     []string{"fallback"},
		// Resolved lazily: rule shape documentation lives with the property,
		// and plugin-provided rule operators can extend it at startup.
		PropertiesFn: func() []node.Property {
			return []node.Property{
				{Name: "value", DisplayName: "Value", Type: node.PropertyJSON, Required: true,
					Description: "The value to compare, usually an expression"},
				{Name: "rules", DisplayName: "Rules", Type: node.PropertyJSON, Required: true,
					Description: "Array of {value, output} pairs matched in order"},
				{Name: "fallbackOutput", DisplayName: "Fallback Output", Type: node.PropertyString,
					Default: "fallback"},
			}
		},
		Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			value := ec.Parameters["value"]
			rules, ok := ec.Parameters["rules"].([]any)
			if !ok {
				return nil, fmt.Errorf("rules must be an array, got %T", ec.Parameters["rules"])
			}
			port := ec.StringParam("fallbackOutput", "fallback")
			for i, raw := range rules {
				rule, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("rule %d must be an object, got %T", i, raw)
				}
				if fmt.Sprint(rule["value"]) == fmt.Sprint(value) {
					out, _ := rule["output"].(string)
					if out == "" {
						return nil, fmt.Errorf("rule %d has no output", i)
					}
					port = out
					break
				}
			}
			return &node.Result{Outputs: map[string][]node.Item{port: ec.FirstInput()}}, nil
		},
	}
}
