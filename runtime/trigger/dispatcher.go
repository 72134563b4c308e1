// Package trigger routes external stimuli (webhook requests, cron schedules,
// manual API calls, sub-workflow calls) into executions. The dispatcher owns
// the webhook route table and the cron runner; it never executes workflows
// itself but hands start requests to the Starter seam, which the execution
// facade implements.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/events"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/flowerrors"
	"github.com/flowmesh/flowmesh/runtime/node"
	"github.com/flowmesh/flowmesh/runtime/telemetry"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

type (
	// StartRequest asks the Starter to begin one execution.
	StartRequest struct {
		// WorkflowID is the workflow to execute.
		WorkflowID string
		// StartNodeID is the trigger node the execution begins at.
		StartNodeID string
		// Mode records how the execution was triggered.
		Mode string
		// ExecutionID, when set, is the pre-generated execution id. Webhook
		// handling pre-generates it so test listeners can subscribe before
		// the first node event fires.
		ExecutionID string
		// TriggerData is delivered to the trigger node as its input items.
		TriggerData []node.Item
		// Wait blocks the call until the execution reaches a terminal state.
		Wait bool
	}

	// StartResult reports the started execution. For Wait requests the
	// status is terminal and LastOutput carries the final node's items; for
	// fire-and-forget requests the status is RUNNING.
	StartResult struct {
		// ExecutionID identifies the execution.
		ExecutionID string
		// Status is the execution status at return time.
		Status execution.Status
		// LastOutput holds the final node's main-port items for Wait
		// requests.
		LastOutput []node.Item
	}

	// Starter begins executions on behalf of the dispatcher.
	Starter interface {
		// Start begins the requested execution.
		Start(ctx context.Context, req *StartRequest) (*StartResult, error)
	}

	// Dispatcher maintains active trigger registrations. Activate scans a
	// workflow's trigger nodes and registers webhook routes and cron
	// entries; Deactivate removes them. Registrations hold ids only, never
	// workflow snapshots: the workflow is loaded fresh when a trigger fires
	// so edits between firings take effect.
	Dispatcher struct {
		starter   Starter
		workflows workflow.Store
		registry  *node.Registry
		creds     *credential.Resolver
		bus       *events.Bus
		logger    telemetry.Logger
		cron      *cron.Cron
		records   RecordStore

		mu        sync.RWMutex
		webhooks  map[string]*webhookEntry
		schedules map[string][]cron.EntryID
	}
)

// NewDispatcher constructs a Dispatcher and starts its cron runner.
func NewDispatcher(starter Starter, workflows workflow.Store, registry *node.Registry, creds *credential.Resolver, bus *events.Bus, logger telemetry.Logger) *Dispatcher {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	d := &Dispatcher{
		starter:   starter,
		workflows: workflows,
		registry:  registry,
		creds:     creds,
		bus:       bus,
		logger:    logger,
		cron:      cron.New(),
		webhooks:  make(map[string]*webhookEntry),
		schedules: make(map[string][]cron.EntryID),
	}
	d.cron.Start()
	return d
}

// SetRecordStore enables durable trigger registrations. Without one the
// dispatcher's route table is in-memory only and lost on restart.
func (d *Dispatcher) SetRecordStore(records RecordStore) { d.records = records }

// Restore re-activates every workflow that has active trigger records. Called
// once at startup, after SetRecordStore.
func (d *Dispatcher) Restore(ctx context.Context) error {
	if d.records == nil {
		return nil
	}
	recs, err := d.records.LoadActiveTriggers(ctx)
	if err != nil {
		return fmt.Errorf("load active triggers: %w", err)
	}
	seen := make(map[string]bool)
	for _, rec := range recs {
		if seen[rec.WorkflowID] {
			continue
		}
		seen[rec.WorkflowID] = true
		wf, err := d.workflows.LoadWorkflow(ctx, rec.WorkflowID)
		if err != nil {
			d.logger.Error(ctx, err, "restore trigger registrations: workflow missing",
				"workflowId", rec.WorkflowID)
			continue
		}
		if err := d.Activate(ctx, wf); err != nil {
			d.logger.Error(ctx, err, "restore trigger registrations",
				"workflowId", rec.WorkflowID)
		}
	}
	return nil
}

// Activate registers every trigger node of the workflow. Activating an
// already active workflow re-registers it, picking up edited trigger
// parameters.
func (d *Dispatcher) Activate(ctx context.Context, wf *workflow.Workflow) error {
	d.Deactivate(ctx, wf.ID)

	for _, id := range wf.TriggerNodes() {
		n := wf.NodeByID(id)
		def, err := d.registry.Lookup(n.Type)
		if err != nil {
			return flowerrors.Wrap(flowerrors.KindValidation, err, "activate workflow %s", wf.ID)
		}
		switch def.TriggerKind {
		case node.TriggerWebhook:
			if err := d.registerWebhook(wf, n); err != nil {
				d.Deactivate(ctx, wf.ID)
				return err
			}
		case node.TriggerSchedule:
			if err := d.registerSchedule(wf, n); err != nil {
				d.Deactivate(ctx, wf.ID)
				return err
			}
		case node.TriggerManual, node.TriggerWorkflowCall:
			// Fired on demand through the facade; nothing to register.
		}
		if d.records != nil {
			rec := &Record{
				ID:         RecordID(wf.ID, n.ID),
				WorkflowID: wf.ID,
				NodeID:     n.ID,
				Type:       def.TriggerKind,
				Settings:   n.Parameters,
				Active:     true,
			}
			if err := d.records.SaveTrigger(ctx, rec); err != nil {
				d.Deactivate(ctx, wf.ID)
				return flowerrors.Wrap(flowerrors.KindInternal, err, "persist trigger registration %s", rec.ID)
			}
		}
	}
	d.logger.Info(ctx, "workflow activated", "workflowId", wf.ID)
	return nil
}

// Deactivate removes all of the workflow's trigger registrations. Executions
// already running are unaffected.
func (d *Dispatcher) Deactivate(ctx context.Context, workflowID string) {
	d.mu.Lock()
	for id, entry := range d.webhooks {
		if entry.workflowID == workflowID {
			delete(d.webhooks, id)
		}
	}
	entries := d.schedules[workflowID]
	delete(d.schedules, workflowID)
	d.mu.Unlock()
	for _, eid := range entries {
		d.cron.Remove(eid)
	}
	if d.records != nil {
		if err := d.records.DeactivateTriggers(ctx, workflowID); err != nil {
			d.logger.Error(ctx, err, "deactivate trigger records", "workflowId", workflowID)
		}
	}
}

// registerSchedule adds a cron entry for the schedule trigger node. The cron
// expression comes from the node's cronExpression parameter; the workflow's
// timezone setting is applied through a CRON_TZ prefix.
func (d *Dispatcher) registerSchedule(wf *workflow.Workflow, n *workflow.Node) error {
	expr, _ := n.Parameters["cronExpression"].(string)
	if expr == "" {
		return flowerrors.New(flowerrors.KindValidation,
			"schedule trigger %s in workflow %s has no cronExpression", n.ID, wf.ID)
	}
	spec := expr
	if tz := wf.Settings.Timezone; tz != "" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", tz, expr)
	}

	workflowID, nodeID := wf.ID, n.ID
	entryID, err := d.cron.AddFunc(spec, func() { d.fireSchedule(workflowID, nodeID) })
	if err != nil {
		return flowerrors.Wrap(flowerrors.KindValidation, err,
			"schedule trigger %s in workflow %s has invalid cron expression", n.ID, wf.ID)
	}
	d.mu.Lock()
	d.schedules[wf.ID] = append(d.schedules[wf.ID], entryID)
	d.mu.Unlock()
	return nil
}

func (d *Dispatcher) fireSchedule(workflowID, nodeID string) {
	ctx := context.Background()
	d.mu.RLock()
	_, active := d.schedules[workflowID]
	d.mu.RUnlock()
	if !active {
		return
	}
	firedAt := time.Now()
	res, err := d.starter.Start(ctx, &StartRequest{
		WorkflowID:  workflowID,
		StartNodeID: nodeID,
		Mode:        execution.ModeSchedule,
		TriggerData: []node.Item{{JSON: map[string]any{
			"scheduledFor": firedAt.Truncate(time.Second).Format(time.RFC3339),
			"firedAt":      firedAt.Format(time.RFC3339Nano),
		}}},
	})
	if err != nil {
		d.logger.Error(ctx, err, "scheduled execution failed to start",
			"workflowId", workflowID, "nodeId", nodeID)
		return
	}
	d.logger.Info(ctx, "scheduled execution started",
		"workflowId", workflowID, "nodeId", nodeID, "executionId", res.ExecutionID)
}

// Stop halts the cron runner and waits for in-flight scheduled firings.
func (d *Dispatcher) Stop() {
	<-d.cron.Stop().Done()
}

func (d *Dispatcher) publish(topic string, ev events.Event) {
	if d.bus != nil {
		d.bus.Publish(topic, ev)
	}
}
