// Package executions is the facade in front of the engine: the one entry
// point for starting executions (manual API calls, webhook and schedule
// firings, sub-workflow calls) and for querying their state. Full-workflow
// and single-node runs return the same response shape, so API consumers
// handle both with one code path.
package executions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowmesh/flowmesh/runtime/engine"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/flowerrors"
	"github.com/flowmesh/flowmesh/runtime/node"
	"github.com/flowmesh/flowmesh/runtime/progress"
	"github.com/flowmesh/flowmesh/runtime/telemetry"
	"github.com/flowmesh/flowmesh/runtime/trigger"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

// DefaultMaxConcurrency bounds how many executions run at once process-wide
// when no limit is configured.
const DefaultMaxConcurrency = 8

type (
	// StartRequest describes a manual or single-node start through the API.
	StartRequest struct {
		// WorkflowID is the workflow to execute.
		WorkflowID string `json:"workflowId"`
		// TriggerNodeID selects which trigger node a full run begins at.
		// Empty means the workflow's sole trigger node.
		TriggerNodeID string `json:"triggerNodeId,omitempty"`
		// NodeID, when set, limits the run to that one node.
		NodeID string `json:"nodeId,omitempty"`
		// InputData carries the start node's input items per port, batched
		// the way node outputs are ({"main": [[...]]}).
		InputData map[string][][]node.Item `json:"inputData,omitempty"`
		// Parameters override the node's stored parameters for single-node
		// runs.
		Parameters map[string]any `json:"parameters,omitempty"`
		// Mode records how the execution was triggered; defaults to manual.
		Mode string `json:"mode,omitempty"`
	}

	// Response is the unified terminal report for every execution mode. The
	// status uses the API vocabulary (completed, failed, cancelled, partial),
	// not the persisted record statuses.
	Response struct {
		// ExecutionID identifies the execution.
		ExecutionID string `json:"executionId"`
		// Status is the terminal execution status.
		Status string `json:"status"`
		// ExecutedNodes lists the nodes that ran, in dispatch order.
		ExecutedNodes []string `json:"executedNodes"`
		// FailedNodes lists the nodes whose execute failed.
		FailedNodes []string `json:"failedNodes,omitempty"`
		// HasFailures is true when any node failed.
		HasFailures bool `json:"hasFailures"`
		// Duration is the execution wall-clock duration in milliseconds.
		Duration int64 `json:"duration"`
		// Error is the execution-level failure, when one occurred.
		Error *execution.ExecutionError `json:"error,omitempty"`
	}

	// Details is an execution record with its node records.
	Details struct {
		// Execution is the durable execution record.
		Execution *execution.Execution `json:"execution"`
		// Nodes are the node-execution records ordered by start time.
		Nodes []execution.NodeExecution `json:"nodes"`
	}

	// Service implements the facade. It also implements trigger.Starter and
	// node.SubRunner, closing the loops from the dispatcher and from
	// Execute Workflow nodes back into the engine.
	Service struct {
		engine    *engine.Engine
		workflows workflow.Store
		store     execution.Store
		tracker   *progress.Tracker
		logger    telemetry.Logger
		sem       chan struct{}
	}
)

// NewService constructs the facade. maxConcurrency bounds simultaneous
// executions process-wide; non-positive uses DefaultMaxConcurrency. The
// store may be nil for ephemeral deployments; Get then reports not found for
// finished executions.
func NewService(eng *engine.Engine, workflows workflow.Store, store execution.Store, tracker *progress.Tracker, logger telemetry.Logger, maxConcurrency int) *Service {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	s := &Service{
		engine:    eng,
		workflows: workflows,
		store:     store,
		tracker:   tracker,
		logger:    logger,
		sem:       make(chan struct{}, maxConcurrency),
	}
	eng.SetSubRunner(s)
	return s
}

// StartManual runs the workflow (or a single node of it) and blocks until it
// finishes. This is the API's POST /executions path.
func (s *Service) StartManual(ctx context.Context, req *StartRequest) (*Response, error) {
	wf, err := s.loadWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = execution.ModeManual
	}
	if len(wf.Nodes) == 0 {
		// Nothing to run; record an immediately successful execution without
		// engaging the engine.
		execID := uuid.NewString()
		if s.store != nil {
			now := time.Now()
			ex := &execution.Execution{
				ID:         execID,
				WorkflowID: wf.ID,
				Status:     execution.StatusRunning,
				Mode:       mode,
				StartedAt:  now,
			}
			if err := s.store.CreateExecution(ctx, ex); err != nil {
				return nil, flowerrors.Wrap(flowerrors.KindInternal, err, "create execution record")
			}
			ex.Status = execution.StatusSuccess
			ex.FinishedAt = &now
			if err := s.store.FinishExecution(ctx, ex); err != nil {
				return nil, flowerrors.Wrap(flowerrors.KindInternal, err, "persist execution result")
			}
		}
		return &Response{
			ExecutionID:   execID,
			Status:        apiStatus(execution.StatusSuccess),
			ExecutedNodes: []string{},
		}, nil
	}

	singleNode := req.NodeID != ""
	startNodeID := req.NodeID
	if startNodeID == "" {
		startNodeID = req.TriggerNodeID
	}
	if startNodeID == "" {
		startNodeID, err = soleTrigger(wf)
		if err != nil {
			return nil, err
		}
	} else if wf.NodeByID(startNodeID) == nil {
		return nil, flowerrors.New(flowerrors.KindValidation,
			"node %q not found in workflow %s", startNodeID, wf.ID)
	}

	engReq := &engine.Request{
		ExecutionID: uuid.NewString(),
		Workflow:    wf,
		StartNodeID: startNodeID,
		Mode:        mode,
		TriggerData: mainInput(req.InputData),
		SingleNode:  singleNode,
	}
	if singleNode {
		engReq.Parameters = req.Parameters
	}
	summary, err := s.run(ctx, engReq)
	if err != nil {
		return nil, err
	}
	return summaryResponse(summary), nil
}

// Start implements trigger.Starter for webhook and schedule firings.
func (s *Service) Start(ctx context.Context, req *trigger.StartRequest) (*trigger.StartResult, error) {
	wf, err := s.loadWorkflow(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}
	executionID := req.ExecutionID
	if executionID == "" {
		executionID = uuid.NewString()
	}
	engReq := &engine.Request{
		ExecutionID: executionID,
		Workflow:    wf,
		StartNodeID: req.StartNodeID,
		Mode:        req.Mode,
		TriggerData: req.TriggerData,
	}

	if req.Wait {
		summary, err := s.run(ctx, engReq)
		if err != nil {
			return nil, err
		}
		return &trigger.StartResult{
			ExecutionID: summary.ExecutionID,
			Status:      summary.Status,
			LastOutput:  summary.LastOutput,
		}, nil
	}

	// Fire and forget: the trigger's caller gets the execution id right
	// away; the run continues on a background context.
	go func() {
		if _, err := s.run(context.WithoutCancel(ctx), engReq); err != nil {
			s.logger.Error(context.WithoutCancel(ctx), err, "background execution failed",
				"executionId", executionID, "workflowId", req.WorkflowID)
		}
	}()
	return &trigger.StartResult{ExecutionID: executionID, Status: execution.StatusRunning}, nil
}

// RunWorkflow implements node.SubRunner for Execute Workflow nodes. The
// child runs to completion under the parent's context; cancelling the parent
// cancels the child.
func (s *Service) RunWorkflow(ctx context.Context, workflowID string, items []node.Item) ([]node.Item, error) {
	wf, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Settings.CallerPolicy == "none" {
		return nil, flowerrors.New(flowerrors.KindPermission,
			"workflow %s does not accept sub-workflow calls", workflowID)
	}
	startNodeID, err := subWorkflowEntry(wf)
	if err != nil {
		return nil, err
	}
	summary, err := s.run(ctx, &engine.Request{
		ExecutionID: uuid.NewString(),
		Workflow:    wf,
		StartNodeID: startNodeID,
		Mode:        execution.ModeSubWorkflow,
		TriggerData: items,
	})
	if err != nil {
		return nil, err
	}
	if summary.Status != execution.StatusSuccess {
		msg := "sub-workflow " + workflowID + " finished with status " + string(summary.Status)
		if summary.Error != nil {
			msg += ": " + summary.Error.Message
		}
		return nil, flowerrors.New(flowerrors.KindNodeExecution, "%s", msg)
	}
	return summary.LastOutput, nil
}

// Get returns the persisted execution with its node records.
func (s *Service) Get(ctx context.Context, executionID string) (*Details, error) {
	if s.store == nil {
		return nil, flowerrors.New(flowerrors.KindNotFound, "execution %s not found", executionID)
	}
	ex, err := s.store.LoadExecution(ctx, executionID)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.KindNotFound, err, "execution %s not found", executionID)
	}
	nodes, err := s.store.LoadNodeExecutions(ctx, executionID)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.KindInternal, err, "load node executions of %s", executionID)
	}
	return &Details{Execution: ex, Nodes: nodes}, nil
}

// Progress returns the live per-node state of an execution. After the
// retention window the live state is gone and the persisted record answers
// instead, with node states reconstructed from the node rows.
func (s *Service) Progress(ctx context.Context, executionID string) (*progress.Summary, error) {
	if sum, ok := s.tracker.ExecutionStatus(executionID); ok {
		return &sum, nil
	}
	details, err := s.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	sum := &progress.Summary{
		TriggerNodeID: details.Execution.StartNodeID,
		Nodes:         make(map[string]progress.NodeState, len(details.Nodes)),
		Done:          details.Execution.Status.Terminal(),
	}
	for _, ne := range details.Nodes {
		st := progress.NodeState{
			Status:    recordNodeStatus(ne.Status),
			StartTime: timePtr(ne.StartedAt),
			EndTime:   ne.FinishedAt,
			Data:      ne.OutputData,
		}
		if ne.Error != nil {
			st.Error = ne.Error.Message
		}
		sum.Nodes[ne.NodeID] = st
	}
	return sum, nil
}

// run pushes the request through the global concurrency gate and the engine.
func (s *Service) run(ctx context.Context, req *engine.Request) (*engine.Summary, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, flowerrors.Wrap(flowerrors.KindWorkflowExecution, ctx.Err(),
			"waiting for execution slot")
	}
	return s.engine.Run(ctx, req)
}

func (s *Service) loadWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	if id == "" {
		return nil, flowerrors.New(flowerrors.KindValidation, "workflowId is required")
	}
	wf, err := s.workflows.LoadWorkflow(ctx, id)
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.KindValidation, err, "workflow %s not found", id)
	}
	return wf, nil
}

// soleTrigger returns the workflow's only trigger node, failing when the
// workflow has none or more than one so the caller must name one explicitly.
func soleTrigger(wf *workflow.Workflow) (string, error) {
	triggers := wf.TriggerNodes()
	switch len(triggers) {
	case 1:
		return triggers[0], nil
	case 0:
		return "", flowerrors.New(flowerrors.KindValidation,
			"workflow %s has no trigger node", wf.ID)
	default:
		return "", flowerrors.New(flowerrors.KindValidation,
			"workflow %s has %d trigger nodes; specify nodeId", wf.ID, len(triggers))
	}
}

// subWorkflowEntry picks the entry node for a sub-workflow call: a
// workflow-call trigger when present, otherwise the sole trigger.
func subWorkflowEntry(wf *workflow.Workflow) (string, error) {
	for _, id := range wf.TriggerNodes() {
		if n := wf.NodeByID(id); n != nil && n.Type == "workflowCallTrigger" {
			return id, nil
		}
	}
	return soleTrigger(wf)
}

func summaryResponse(summary *engine.Summary) *Response {
	return &Response{
		ExecutionID:   summary.ExecutionID,
		Status:        apiStatus(summary.Status),
		ExecutedNodes: summary.ExecutedNodes,
		FailedNodes:   summary.FailedNodes,
		HasFailures:   len(summary.FailedNodes) > 0,
		Duration:      summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
		Error:         summary.Error,
	}
}

// mainInput flattens the request's main-port input batches into the flat item
// list the engine delivers to the start node.
func mainInput(input map[string][][]node.Item) []node.Item {
	var items []node.Item
	for _, batch := range input[node.MainPort] {
		items = append(items, batch...)
	}
	return items
}

// apiStatus maps persisted execution statuses onto the API's response
// vocabulary.
func apiStatus(s execution.Status) string {
	switch s {
	case execution.StatusSuccess:
		return "completed"
	case execution.StatusError:
		return "failed"
	case execution.StatusCancelled, execution.StatusTimeout:
		return "cancelled"
	case execution.StatusPartial:
		return "partial"
	default:
		return "running"
	}
}

func recordNodeStatus(s execution.Status) progress.NodeStatus {
	switch s {
	case execution.StatusSuccess:
		return progress.StatusCompleted
	case execution.StatusError:
		return progress.StatusFailed
	case execution.StatusCancelled:
		return progress.StatusCancelled
	case execution.StatusSkipped:
		return progress.StatusSkipped
	default:
		return progress.StatusRunning
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
