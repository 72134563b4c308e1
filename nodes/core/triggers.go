package core

import (
	"context"
	"net/http"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/node"
)

// passThrough is the execute function shared by all trigger nodes: the
// trigger data arrives as the node's input items and flows out unchanged on
// the main port.
func passThrough(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
	return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
}

// ManualTrigger starts executions from the editor or the API.
func ManualTrigger() *node.Definition {
	return &node.Definition{
		Type:        "manualTrigger",
		DisplayName: "Manual Trigger",
		Group:       []string{"trigger"},
		Capability:  node.CapabilityTrigger,
		TriggerKind: node.TriggerManual,
		Outputs:     []string{node.MainPort},
		Execute:     passThrough,
	}
}

// WebhookTrigger starts executions from incoming HTTP requests. The trigger
// dispatcher reads its parameters at activation time to register the route
// and its authentication.
func WebhookTrigger() *node.Definition {
	return &node.Definition{
		Type:        "webhookTrigger",
		DisplayName: "Webhook",
		Group:       []string{"trigger"},
		Capability:  node.CapabilityTrigger,
		TriggerKind: node.TriggerWebhook,
		Outputs:     []string{node.MainPort},
		Properties: []node.Property{
			{Name: "path", DisplayName: "Path", Type: node.PropertyString,
				Description: "Webhook path segment, defaults to the node id"},
			{Name: "httpMethod", DisplayName: "HTTP Method", Type: node.PropertyOptions,
				Options: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, "*"},
				Default: http.MethodPost},
			{Name: "respondMode", DisplayName: "Respond", Type: node.PropertyOptions,
				Options: []string{"onReceived", "lastNode"}, Default: "onReceived"},
			{Name: "authentication", DisplayName: "Authentication", Type: node.PropertyOptions,
				Options: []string{"none", "basicAuth", "headerAuth", "queryAuth"}, Default: "none"},
		},
		CredentialTypes: []node.CredentialSpec{
			{FieldName: credential.TypeHTTPBasicAuth, AllowedTypes: []string{credential.TypeHTTPBasicAuth}},
			{FieldName: credential.TypeHTTPHeaderAuth, AllowedTypes: []string{credential.TypeHTTPHeaderAuth}},
			{FieldName: credential.TypeWebhookQueryAuth, AllowedTypes: []string{credential.TypeWebhookQueryAuth}},
		},
		Execute: passThrough,
	}
}

// ScheduleTrigger starts executions on a cron schedule.
func ScheduleTrigger() *node.Definition {
	return &node.Definition{
		Type:        "scheduleTrigger",
		DisplayName: "Schedule",
		Group:       []string{"trigger"},
		Capability:  node.CapabilityTrigger,
		TriggerKind: node.TriggerSchedule,
		Outputs:     []string{node.MainPort},
		Properties: []node.Property{
			{Name: "cronExpression", DisplayName: "Cron Expression", Type: node.PropertyString,
				Required: true, Description: "Standard five-field cron expression"},
		},
		Execute: passThrough,
	}
}

// WorkflowCallTrigger is the entry point used when another workflow calls
// this one through an Execute Workflow node.
func WorkflowCallTrigger() *node.Definition {
	return &node.Definition{
		Type:        "workflowCallTrigger",
		DisplayName: "When Called by Another Workflow",
		Group:       []string{"trigger"},
		Capability:  node.CapabilityTrigger,
		TriggerKind: node.TriggerWorkflowCall,
		Outputs:     []string{node.MainPort},
		Execute:     passThrough,
	}
}
