// Package engine implements the workflow scheduler. One Run call executes one
// workflow snapshot from a start node to completion, dispatching nodes as
// their dependencies settle, routing items across named ports, and reporting
// every state change through the progress tracker, the event bus, and the
// execution recorder.
//
// Single-node runs and full-workflow runs go through the same code path: a
// single-node request is a plan whose affected set contains one node, so
// semantics (expression resolution, credential materialization, recording)
// cannot drift between the two modes.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/events"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/expreval"
	"github.com/flowmesh/flowmesh/runtime/flowerrors"
	"github.com/flowmesh/flowmesh/runtime/node"
	"github.com/flowmesh/flowmesh/runtime/progress"
	"github.com/flowmesh/flowmesh/runtime/telemetry"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

const (
	// DefaultConcurrency bounds how many nodes of one execution run in
	// parallel when the workflow does not set its own limit.
	DefaultConcurrency = 4
	// DefaultGracePeriod is how long the engine waits for in-flight nodes
	// after cancellation before abandoning them.
	DefaultGracePeriod = 5 * time.Second
)

type (
	// Config wires the engine's collaborators. Registry and Tracker are
	// required; nil telemetry fields default to no-ops.
	Config struct {
		// Registry resolves node types.
		Registry *node.Registry
		// Tracker receives per-node state transitions.
		Tracker *progress.Tracker
		// Recorder persists execution and node records. Nil disables
		// persistence (used by tests and ephemeral runs).
		Recorder *execution.Recorder
		// Bus receives lifecycle events. Nil disables publishing.
		Bus *events.Bus
		// Credentials materializes credential references. Nil fails any node
		// that declares a credential.
		Credentials *credential.Resolver
		// Logger is the engine's structured logger.
		Logger telemetry.Logger
		// Metrics records engine measurements.
		Metrics telemetry.Metrics
		// Sub runs sub-workflows for Execute Workflow nodes.
		Sub node.SubRunner
		// Concurrency is the default per-execution parallelism.
		Concurrency int
		// GracePeriod bounds the wait for in-flight nodes after cancellation.
		GracePeriod time.Duration
	}

	// Engine executes workflow snapshots. It is safe for concurrent use;
	// each Run call owns its execution state entirely.
	Engine struct {
		registry    *node.Registry
		tracker     *progress.Tracker
		recorder    *execution.Recorder
		bus         *events.Bus
		creds       *credential.Resolver
		eval        *expreval.Evaluator
		logger      telemetry.Logger
		metrics     telemetry.Metrics
		sub         node.SubRunner
		concurrency int
		grace       time.Duration
	}

	// Request describes one execution to run.
	Request struct {
		// ExecutionID is the pre-generated execution identifier.
		ExecutionID string
		// Workflow is the definition to execute. The engine snapshots it;
		// concurrent edits to the live definition cannot affect the run.
		Workflow *workflow.Workflow
		// StartNodeID is the node the execution begins at.
		StartNodeID string
		// Mode records how the execution was triggered.
		Mode string
		// TriggerData is delivered to the start node as its input items.
		TriggerData []node.Item
		// SingleNode limits the run to the start node only.
		SingleNode bool
		// Parameters overrides the start node's parameters for this run
		// only. Used by single-node mode; the stored definition is untouched.
		Parameters map[string]any
	}

	// Summary is the terminal report of one execution.
	Summary struct {
		// ExecutionID identifies the execution.
		ExecutionID string
		// Status is the terminal execution status.
		Status execution.Status
		// ExecutedNodes lists, in dispatch order, the nodes that ran.
		ExecutedNodes []string
		// FailedNodes lists the nodes whose execute failed.
		FailedNodes []string
		// StartedAt is when the execution began.
		StartedAt time.Time
		// FinishedAt is when the execution reached its terminal status.
		FinishedAt time.Time
		// Error is the execution-level failure, when one occurred.
		Error *execution.ExecutionError
		// LastOutput holds the main-port items of the last node to complete,
		// used as the return value of sub-workflow calls.
		LastOutput []node.Item
	}
)

// New constructs an Engine from the config.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NoopMetrics{}
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Engine{
		registry:    cfg.Registry,
		tracker:     cfg.Tracker,
		recorder:    cfg.Recorder,
		bus:         cfg.Bus,
		creds:       cfg.Credentials,
		eval:        expreval.New(),
		logger:      logger,
		metrics:     metrics,
		sub:         cfg.Sub,
		concurrency: concurrency,
		grace:       grace,
	}
}

// SetSubRunner wires the sub-workflow runner after construction. The facade
// depends on the engine, so the cycle is closed here at startup, before any
// execution runs.
func (e *Engine) SetSubRunner(sub node.SubRunner) { e.sub = sub }

// Run executes the request and blocks until the execution reaches a terminal
// state. The returned Summary is always non-nil when error is nil; request
// level problems (unknown start node, invalid workflow) fail fast with a
// classified error before any state is recorded.
func (e *Engine) Run(ctx context.Context, req *Request) (*Summary, error) {
	if req.Workflow == nil {
		return nil, flowerrors.New(flowerrors.KindValidation, "no workflow given")
	}
	if err := req.Workflow.Validate(); err != nil {
		return nil, flowerrors.Wrap(flowerrors.KindValidation, err, "invalid workflow %s", req.Workflow.ID)
	}
	wf, err := req.Workflow.Snapshot()
	if err != nil {
		return nil, flowerrors.Wrap(flowerrors.KindWorkflowExecution, err, "snapshot workflow %s", req.Workflow.ID)
	}
	startNode := wf.NodeByID(req.StartNodeID)
	if startNode == nil {
		return nil, flowerrors.New(flowerrors.KindValidation, "start node %q not in workflow %s", req.StartNodeID, wf.ID)
	}
	if len(req.Parameters) > 0 {
		// The overrides mutate the snapshot only; the stored definition is
		// unaffected.
		if startNode.Parameters == nil {
			startNode.Parameters = make(map[string]any, len(req.Parameters))
		}
		for k, v := range req.Parameters {
			startNode.Parameters[k] = v
		}
	}

	var plan *workflow.Plan
	if req.SingleNode {
		plan = workflow.SingleNodePlan(req.StartNodeID)
	} else {
		plan = workflow.NewPlan(wf, req.StartNodeID)
	}

	r := &run{
		engine:    e,
		req:       req,
		wf:        wf,
		plan:      plan,
		startedAt: time.Now(),
		inputs:    make(map[string]map[string][]node.Item),
		fed:       make(map[string]bool),
		finished:  make(map[string]progress.NodeStatus),
		byName:    make(map[string]any),
		results:   make(chan nodeResult),
		sem:       make(chan struct{}, e.runConcurrency(wf)),
	}
	return r.execute(ctx)
}

func (e *Engine) runConcurrency(wf *workflow.Workflow) int {
	if wf.Settings.Concurrency > 0 {
		return wf.Settings.Concurrency
	}
	return e.concurrency
}

type (
	// run is the per-execution scheduler state. All fields except results
	// and sem are owned by the coordinating goroutine; workers communicate
	// exclusively through the results channel.
	run struct {
		engine    *Engine
		req       *Request
		wf        *workflow.Workflow
		plan      *workflow.Plan
		startedAt time.Time

		ctx    context.Context
		cancel context.CancelFunc

		inputs   map[string]map[string][]node.Item
		fed      map[string]bool
		finished map[string]progress.NodeStatus
		byName   map[string]any // display name -> {"json": ...} for upstream lookups

		executed   []string
		failed     []string
		lastOutput []node.Item
		firstErr   *execution.ExecutionError

		stopping bool
		inflight int
		results  chan nodeResult
		sem      chan struct{}
	}

	nodeResult struct {
		nodeID  string
		status  progress.NodeStatus
		outputs map[string][]node.Item
		err     error
		row     *execution.NodeExecution
	}
)

func (r *run) execute(ctx context.Context) (*Summary, error) {
	e := r.engine
	execID := r.req.ExecutionID

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if ms := r.wf.Settings.MaxDurationMs; ms > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	r.ctx, r.cancel = runCtx, cancel

	trigger := r.req.TriggerData
	if len(trigger) == 0 {
		trigger = []node.Item{{JSON: map[string]any{}}}
	}

	e.tracker.StartExecution(execID, r.req.StartNodeID, r.plan.AffectedNodes())
	if e.recorder != nil {
		rec := &execution.Execution{
			ID:               execID,
			WorkflowID:       r.wf.ID,
			Status:           execution.StatusRunning,
			Mode:             r.req.Mode,
			StartNodeID:      r.req.StartNodeID,
			TriggerData:      itemsJSON(trigger),
			WorkflowSnapshot: snapshotJSON(r.wf),
			StartedAt:        r.startedAt,
		}
		if err := e.recorder.CreateExecution(ctx, rec); err != nil {
			e.tracker.ClearExecution(execID)
			return nil, flowerrors.Wrap(flowerrors.KindInternal, err, "create execution record")
		}
	}
	e.metrics.RecordExecutionStarted(ctx, r.wf.ID)
	r.publish(events.Event{Type: events.TypeExecutionStarted, ExecutionID: execID, WorkflowID: r.wf.ID})
	e.logger.Info(ctx, "execution started",
		"executionId", execID, "workflowId", r.wf.ID, "mode", r.req.Mode, "startNode", r.req.StartNodeID)

	// Seed the start node with the trigger data and let the scheduler run.
	r.feed(r.req.StartNodeID, workflow.MainPort, trigger)
	r.dispatchReady()
	r.loop()

	status := r.terminalStatus()
	finishedAt := time.Now()
	summary := &Summary{
		ExecutionID:   execID,
		Status:        status,
		ExecutedNodes: r.executed,
		FailedNodes:   r.failed,
		StartedAt:     r.startedAt,
		FinishedAt:    finishedAt,
		Error:         r.executionError(status),
		LastOutput:    r.lastOutput,
	}

	if e.recorder != nil {
		rec := &execution.Execution{
			ID:          execID,
			WorkflowID:  r.wf.ID,
			Status:      persistedStatus(status),
			Mode:        r.req.Mode,
			StartNodeID: r.req.StartNodeID,
			StartedAt:   r.startedAt,
			FinishedAt:  &finishedAt,
			Error:       summary.Error,
		}
		// Persist terminal state even when the caller's context is gone.
		if err := e.recorder.FinishExecution(context.WithoutCancel(ctx), rec); err != nil {
			e.logger.Error(ctx, err, "persist execution result", "executionId", execID)
		}
	}
	e.tracker.Seal(execID)
	e.metrics.RecordExecutionCompleted(ctx, r.wf.ID, string(status))
	r.publish(events.Event{
		Type: events.TypeExecutionCompleted, ExecutionID: execID, WorkflowID: r.wf.ID,
		Data: map[string]any{"status": string(status)},
	})
	e.logger.Info(ctx, "execution finished",
		"executionId", execID, "workflowId", r.wf.ID, "status", string(status),
		"durationMs", finishedAt.Sub(r.startedAt).Milliseconds())
	return summary, nil
}

// loop is the coordinator: it consumes worker results, routes outputs, and
// dispatches newly ready nodes until nothing is in flight and nothing is
// dispatchable.
func (r *run) loop() {
	graceTimer := (<-chan time.Time)(nil)
	for r.inflight > 0 {
		select {
		case res := <-r.results:
			r.handle(res)
			if !r.stopping {
				r.dispatchReady()
			}
		case <-r.ctx.Done():
			r.stopping = true
			if graceTimer == nil {
				t := time.NewTimer(r.engine.grace)
				defer t.Stop()
				graceTimer = t.C
			}
			// Keep draining results; workers observe the cancelled context.
			select {
			case res := <-r.results:
				r.handle(res)
			case <-graceTimer:
				r.abandon()
				return
			}
		}
	}
	// Settle nodes that never became dispatchable (pruned branches after the
	// last completion, or pending work after a stop).
	r.settlePending()
}

// handle integrates one worker result into the scheduler state.
func (r *run) handle(res nodeResult) {
	r.inflight--
	e := r.engine
	execID := r.req.ExecutionID
	r.finished[res.nodeID] = res.status

	switch res.status {
	case progress.StatusCompleted:
		data := outputsData(res.outputs)
		e.tracker.SetCompleted(execID, res.nodeID, data, rowEnd(res.row))
		if n := r.wf.NodeByID(res.nodeID); n != nil {
			r.byName[n.Name] = nodeScopeEntry(res.outputs)
		}
		if items, ok := res.outputs[workflow.MainPort]; ok && len(items) > 0 {
			r.lastOutput = items
		}
		r.route(res.nodeID, res.outputs)
	case progress.StatusFailed:
		e.tracker.SetFailed(execID, res.nodeID, res.err.Error(), rowEnd(res.row))
		r.failed = append(r.failed, res.nodeID)
		if r.firstErr == nil {
			r.firstErr = execution.NormalizeError(res.err, string(flowerrors.KindOf(res.err)), res.nodeID)
		}
		if r.wf.Settings.ErrorPolicy != workflow.ErrorPolicyContinue {
			r.stopping = true
			r.cancel()
		}
	case progress.StatusCancelled:
		e.tracker.SetCancelled(execID, res.nodeID)
	}

	if res.row != nil && e.recorder != nil {
		e.recorder.RecordNode(res.row)
	} else if res.row == nil && res.status == progress.StatusCancelled {
		// Workers cancelled before starting carry no row of their own.
		r.recordUnrun(res.nodeID, execution.StatusCancelled)
	}
	data := map[string]any{"status": string(res.status)}
	if res.err != nil {
		data["error"] = res.err.Error()
	}
	r.publishNode(events.Event{
		Type: nodeEventType(res.status), ExecutionID: execID, WorkflowID: r.wf.ID,
		NodeID: res.nodeID, Data: data,
	})
}

func nodeEventType(status progress.NodeStatus) string {
	switch status {
	case progress.StatusCompleted:
		return events.TypeNodeCompleted
	case progress.StatusFailed:
		return events.TypeNodeFailed
	default:
		return events.TypeNodeStatusUpdate
	}
}

// route delivers a completed node's outputs to its dependents. An edge whose
// output port produced no items feeds nothing; the target may still be fed by
// another edge. Targets that already finished (possible with cycle edges) are
// never re-fed.
func (r *run) route(nodeID string, outputs map[string][]node.Item) {
	for _, conn := range r.plan.Dependents(nodeID) {
		if _, done := r.finished[conn.TargetNodeID]; done {
			continue
		}
		items := outputs[conn.Port()]
		if len(items) == 0 {
			continue
		}
		r.feed(conn.TargetNodeID, conn.InputPort(), items)
	}
}

func (r *run) feed(nodeID, port string, items []node.Item) {
	ports := r.inputs[nodeID]
	if ports == nil {
		ports = make(map[string][]node.Item)
		r.inputs[nodeID] = ports
	}
	ports[port] = append(ports[port], items...)
	r.fed[nodeID] = true
}

// dispatchReady scans for nodes whose dependencies have all settled. Ready
// and fed nodes are dispatched; ready but unfed nodes were pruned by a branch
// decision or an upstream failure and settle as skipped, which may in turn
// make their dependents ready. Dispatched nodes are tracked in finished only
// when their result arrives, so the pending scan uses a separate marker.
func (r *run) dispatchReady() {
	for {
		progressed := false
		for _, id := range r.plan.AffectedNodes() {
			if _, settled := r.finished[id]; settled {
				continue
			}
			if r.dispatched(id) || !r.depsSettled(id) {
				continue
			}
			if !r.fed[id] {
				r.finished[id] = progress.StatusSkipped
				r.engine.tracker.SetSkipped(r.req.ExecutionID, id)
				r.recordUnrun(id, execution.StatusSkipped)
				progressed = true
				continue
			}
			r.dispatch(id)
			progressed = true
		}
		if !progressed {
			return
		}
	}
}

func (r *run) depsSettled(nodeID string) bool {
	for _, conn := range r.plan.Dependencies(nodeID) {
		if _, ok := r.finished[conn.SourceNodeID]; !ok {
			return false
		}
	}
	return true
}

func (r *run) dispatched(nodeID string) bool {
	for _, id := range r.executed {
		if id == nodeID {
			return true
		}
	}
	return false
}

// dispatch hands the node to a worker goroutine. The worker receives a
// snapshot of the data it needs so it never touches coordinator-owned maps.
func (r *run) dispatch(nodeID string) {
	r.executed = append(r.executed, nodeID)
	r.engine.tracker.SetQueued(r.req.ExecutionID, nodeID)
	r.inflight++

	inputs := r.inputs[nodeID]
	if inputs == nil {
		inputs = map[string][]node.Item{}
	}
	scope := r.scopeFor(inputs)
	go r.worker(nodeID, inputs, scope)
}

// scopeFor snapshots the expression scope at dispatch time. byName is copied
// because the coordinator keeps mutating it as other nodes complete.
func (r *run) scopeFor(inputs map[string][]node.Item) expreval.Scope {
	names := make(map[string]any, len(r.byName))
	for k, v := range r.byName {
		names[k] = v
	}
	var all []map[string]any
	for _, it := range inputs[workflow.MainPort] {
		all = append(all, it.JSON)
	}
	var first map[string]any
	if len(all) > 0 {
		first = all[0]
	}
	return expreval.Scope{Item: first, Input: all, Nodes: names}
}

// settlePending marks every unsettled node after the loop ends: skipped when
// the run completed normally, cancelled when it was stopped.
func (r *run) settlePending() {
	for _, id := range r.plan.AffectedNodes() {
		if _, ok := r.finished[id]; ok {
			continue
		}
		if r.stopping {
			r.finished[id] = progress.StatusCancelled
			r.engine.tracker.SetCancelled(r.req.ExecutionID, id)
			r.recordUnrun(id, execution.StatusCancelled)
		} else {
			r.finished[id] = progress.StatusSkipped
			r.engine.tracker.SetSkipped(r.req.ExecutionID, id)
			r.recordUnrun(id, execution.StatusSkipped)
		}
	}
}

// recordUnrun persists a data-free row for a node that reached a terminal
// state without ever producing a worker result, so every terminal node has
// exactly one row.
func (r *run) recordUnrun(nodeID string, status execution.Status) {
	if r.engine.recorder == nil {
		return
	}
	nodeType := ""
	if n := r.wf.NodeByID(nodeID); n != nil {
		nodeType = n.Type
	}
	now := time.Now()
	r.engine.recorder.RecordNode(&execution.NodeExecution{
		ID:          execution.NodeExecutionID(r.req.ExecutionID, nodeID),
		ExecutionID: r.req.ExecutionID,
		NodeID:      nodeID,
		NodeType:    nodeType,
		Status:      status,
		StartedAt:   now,
		FinishedAt:  &now,
	})
}

// abandon gives up on workers that outlived the grace period. Their state is
// recorded as cancelled; late results are drained in the background so the
// workers can exit.
func (r *run) abandon() {
	r.engine.logger.Error(r.ctx, context.Cause(r.ctx), "abandoning in-flight nodes after grace period",
		"executionId", r.req.ExecutionID, "inflight", r.inflight)
	for _, id := range r.executed {
		if _, ok := r.finished[id]; !ok {
			r.finished[id] = progress.StatusCancelled
			r.engine.tracker.SetCancelled(r.req.ExecutionID, id)
			r.recordUnrun(id, execution.StatusCancelled)
		}
	}
	remaining := r.inflight
	r.inflight = 0
	if remaining > 0 {
		results := r.results
		rec := r.engine.recorder
		go func() {
			for i := 0; i < remaining; i++ {
				res := <-results
				if res.row == nil || rec == nil {
					continue
				}
				// Abandoned outputs are discarded; the late row keeps its
				// timings but records the cancellation.
				res.row.Status = execution.StatusCancelled
				res.row.OutputData = nil
				rec.RecordNode(res.row)
			}
		}()
	}
	r.settlePending()
}

func (r *run) terminalStatus() execution.Status {
	cause := context.Cause(r.ctx)
	switch {
	case errors.Is(cause, context.DeadlineExceeded):
		return execution.StatusTimeout
	case cause != nil && len(r.failed) == 0:
		return execution.StatusCancelled
	case len(r.failed) == 0:
		return execution.StatusSuccess
	case r.wf.Settings.ErrorPolicy == workflow.ErrorPolicyContinue && r.succeededCount() > 0:
		return execution.StatusPartial
	default:
		return execution.StatusError
	}
}

func (r *run) succeededCount() int {
	n := 0
	for _, s := range r.finished {
		if s == progress.StatusCompleted {
			n++
		}
	}
	return n
}

func (r *run) executionError(status execution.Status) *execution.ExecutionError {
	switch status {
	case execution.StatusTimeout:
		return &execution.ExecutionError{
			Message:       fmt.Sprintf("execution exceeded maximum duration of %dms", r.wf.Settings.MaxDurationMs),
			Kind:          string(flowerrors.KindTimeout),
			ExecutionPath: append([]string(nil), r.executed...),
		}
	case execution.StatusCancelled:
		return &execution.ExecutionError{
			Message:       "execution cancelled",
			Kind:          string(flowerrors.KindWorkflowExecution),
			ExecutionPath: append([]string(nil), r.executed...),
		}
	case execution.StatusError, execution.StatusPartial:
		if r.firstErr == nil {
			return nil
		}
		r.firstErr.FailedNodes = append([]string(nil), r.failed...)
		r.firstErr.ExecutionPath = append([]string(nil), r.executed...)
		return r.firstErr
	}
	return nil
}

// persistedStatus maps in-memory terminal statuses onto the persisted enum:
// partial runs persist as ERROR (the error carries the failed-node list) and
// timeouts persist as CANCELLED (the error carries the timeout reason).
func persistedStatus(s execution.Status) execution.Status {
	switch s {
	case execution.StatusPartial:
		return execution.StatusError
	case execution.StatusTimeout:
		return execution.StatusCancelled
	}
	return s
}

// publish sends an execution-lifecycle event to both topics: the workflow
// topic carries the high-level view, the execution topic lets clients that
// joined late still see the terminal event.
func (r *run) publish(ev events.Event) {
	if r.engine.bus == nil {
		return
	}
	if ev.ExecutionID != "" {
		r.engine.bus.Publish(events.ExecutionTopic(ev.ExecutionID), ev)
	}
	if ev.WorkflowID != "" {
		r.engine.bus.Publish(events.WorkflowTopic(ev.WorkflowID), ev)
	}
}

// publishNode sends a node event to the execution topic only.
func (r *run) publishNode(ev events.Event) {
	if r.engine.bus == nil {
		return
	}
	r.engine.bus.Publish(events.ExecutionTopic(ev.ExecutionID), ev)
}

// outputsData flattens an outputs map into the JSON-friendly shape stored on
// progress state and records.
func outputsData(outputs map[string][]node.Item) map[string]any {
	data := make(map[string]any, len(outputs))
	for port, items := range outputs {
		arr := make([]any, len(items))
		for i, it := range items {
			arr[i] = it.JSON
		}
		data[port] = arr
	}
	return data
}

// nodeScopeEntry builds the value exposed to expressions as $node["Name"]:
// the first main-port item under "json" plus the full per-port item list.
func nodeScopeEntry(outputs map[string][]node.Item) map[string]any {
	entry := map[string]any{"json": map[string]any{}}
	if items := outputs[workflow.MainPort]; len(items) > 0 {
		entry["json"] = items[0].JSON
	}
	entry["outputs"] = outputsData(outputs)
	return entry
}

func rowEnd(row *execution.NodeExecution) time.Time {
	if row != nil && row.FinishedAt != nil {
		return *row.FinishedAt
	}
	return time.Now()
}

// itemsJSON flattens items to their JSON payloads for the execution record.
func itemsJSON(items []node.Item) []map[string]any {
	out := make([]map[string]any, len(items))
	for i, it := range items {
		out[i] = it.JSON
	}
	return out
}

// snapshotJSON encodes the execution's workflow snapshot for persistence. A
// definition that cannot encode still executes; the record just lacks the
// snapshot blob.
func snapshotJSON(wf *workflow.Workflow) []byte {
	raw, err := json.Marshal(wf)
	if err != nil {
		return nil
	}
	return raw
}

// sortedPorts returns the output port names in stable order for logging.
func sortedPorts(outputs map[string][]node.Item) []string {
	ports := make([]string, 0, len(outputs))
	for p := range outputs {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}
