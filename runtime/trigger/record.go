package trigger

import "context"

type (
	// Record is the durable registration of one trigger node. The dispatcher
	// writes records on activation so registrations survive a restart; the
	// live route table and cron entries are rebuilt from active records at
	// startup.
	Record struct {
		// ID is "{workflowId}_{nodeId}".
		ID string `json:"id"`
		// WorkflowID is the owning workflow.
		WorkflowID string `json:"workflowId"`
		// NodeID is the trigger node.
		NodeID string `json:"nodeId"`
		// Type is the trigger flavor (webhook, schedule, manual,
		// workflow-call).
		Type string `json:"type"`
		// Settings are the trigger node's parameters at activation time.
		Settings map[string]any `json:"settings,omitempty"`
		// Active is false once the workflow is deactivated.
		Active bool `json:"active"`
	}

	// RecordStore persists trigger registrations.
	RecordStore interface {
		// SaveTrigger creates or replaces a trigger record.
		SaveTrigger(ctx context.Context, rec *Record) error
		// DeactivateTriggers marks all of a workflow's trigger records
		// inactive.
		DeactivateTriggers(ctx context.Context, workflowID string) error
		// LoadActiveTriggers retrieves all active trigger records.
		LoadActiveTriggers(ctx context.Context) ([]Record, error)
	}
)

// RecordID derives the deterministic trigger record id.
func RecordID(workflowID, nodeID string) string {
	return workflowID + "_" + nodeID
}
