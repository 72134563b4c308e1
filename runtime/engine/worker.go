package engine

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/events"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/expreval"
	"github.com/flowmesh/flowmesh/runtime/flowerrors"
	"github.com/flowmesh/flowmesh/runtime/node"
	"github.com/flowmesh/flowmesh/runtime/progress"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

// worker runs one node to completion and reports the result on the results
// channel. It operates exclusively on the snapshot it was handed; the
// coordinator's maps are never touched from here.
func (r *run) worker(nodeID string, inputs map[string][]node.Item, scope expreval.Scope) {
	e := r.engine
	execID := r.req.ExecutionID

	// Honor the concurrency bound before doing any work.
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-r.ctx.Done():
		r.results <- nodeResult{nodeID: nodeID, status: progress.StatusCancelled}
		return
	}
	if r.ctx.Err() != nil {
		r.results <- nodeResult{nodeID: nodeID, status: progress.StatusCancelled}
		return
	}

	started := time.Now()
	e.tracker.SetRunning(execID, nodeID, started)
	r.publishNode(events.Event{
		Type: events.TypeNodeStarted, ExecutionID: execID, WorkflowID: r.wf.ID, NodeID: nodeID,
	})

	wfNode := r.wf.NodeByID(nodeID)
	row := &execution.NodeExecution{
		ID:          execution.NodeExecutionID(execID, nodeID),
		ExecutionID: execID,
		NodeID:      nodeID,
		NodeType:    wfNode.Type,
		Status:      execution.StatusRunning,
		InputData:   itemsData(inputs),
		StartedAt:   started,
	}

	res := r.runNode(wfNode, inputs, scope, row)
	finished := time.Now()
	row.FinishedAt = &finished
	d := finished.Sub(started)
	e.metrics.RecordNodeDuration(r.ctx, wfNode.Type, d, res.status == progress.StatusCompleted)
	if res.status == progress.StatusCompleted {
		e.logger.Debug(r.ctx, "node completed",
			"executionId", execID, "nodeId", nodeID, "nodeType", wfNode.Type,
			"outputPorts", sortedPorts(res.outputs), "durationMs", d.Milliseconds())
	} else if res.err != nil {
		e.logger.Error(r.ctx, res.err, "node failed",
			"executionId", execID, "nodeId", nodeID, "nodeType", wfNode.Type)
	}
	res.row = row
	r.results <- res
}

// runNode executes the node body: disabled pass-through, type lookup,
// expression resolution, parameter validation, credential materialization,
// and the node's Execute with panic containment. The returned result owns
// the row's terminal status and output data.
func (r *run) runNode(wfNode *workflow.Node, inputs map[string][]node.Item, scope expreval.Scope, row *execution.NodeExecution) nodeResult {
	nodeID := wfNode.ID

	// Disabled nodes are identity: inputs pass straight through, and the
	// record shows the node was skipped rather than executed.
	if wfNode.Disabled {
		row.Status = execution.StatusSkipped
		row.OutputData = itemsData(inputs)
		return nodeResult{nodeID: nodeID, status: progress.StatusCompleted, outputs: inputs}
	}

	def, err := r.engine.registry.Lookup(wfNode.Type)
	if err != nil {
		return r.nodeFailure(row, flowerrors.Wrap(flowerrors.KindNodeExecution, err, "node %s", nodeID))
	}

	params, err := r.engine.eval.ResolveParameters(wfNode.Parameters, scope)
	if err != nil {
		return r.nodeFailure(row, flowerrors.Wrap(flowerrors.KindNodeExecution, err, "resolve parameters of node %s", nodeID))
	}
	if err := def.ValidateParameters(params); err != nil {
		return r.nodeFailure(row, flowerrors.Wrap(flowerrors.KindNodeExecution, err, "node %s", nodeID))
	}

	creds, err := r.resolveCredentials(def, wfNode, params)
	if err != nil {
		return r.nodeFailure(row, err)
	}

	ec := &node.ExecuteContext{
		ExecutionID: r.req.ExecutionID,
		NodeID:      nodeID,
		Parameters:  params,
		Inputs:      inputs,
		Credentials: creds,
		Logger:      r.engine.logger,
		Sub:         r.engine.sub,
	}
	result, err := r.executeGuarded(def, ec)
	if err != nil {
		if r.ctx.Err() != nil {
			row.Status = execution.StatusCancelled
			return nodeResult{nodeID: nodeID, status: progress.StatusCancelled}
		}
		if boolParam(params, "continueOnFail") {
			// The failure is surfaced downstream as a data item while the
			// record keeps the error for the audit trail.
			row.Status = execution.StatusError
			row.Error = execution.NormalizeError(err, string(flowerrors.KindOf(err)), nodeID)
			outputs := map[string][]node.Item{
				node.MainPort: {{JSON: map[string]any{"error": err.Error()}}},
			}
			row.OutputData = itemsData(outputs)
			return nodeResult{nodeID: nodeID, status: progress.StatusCompleted, outputs: outputs}
		}
		return r.nodeFailure(row, flowerrors.Wrap(flowerrors.KindNodeExecution, err, "node %s", nodeID))
	}

	outputs := result.Outputs
	if outputs == nil {
		outputs = map[string][]node.Item{}
	}
	row.Status = execution.StatusSuccess
	row.OutputData = itemsData(outputs)
	return nodeResult{nodeID: nodeID, status: progress.StatusCompleted, outputs: outputs}
}

// executeGuarded invokes the node's Execute, converting panics into errors so
// a buggy node type cannot take down the scheduler.
func (r *run) executeGuarded(def *node.Definition, ec *node.ExecuteContext) (result *node.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.engine.logger.Error(r.ctx, fmt.Errorf("%v", rec), "node panicked",
				"executionId", ec.ExecutionID, "nodeId", ec.NodeID, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("node type %s panicked: %v", def.Type, rec)
		}
	}()
	return def.Execute(r.ctx, ec)
}

// resolveCredentials materializes every credential slot the definition
// declares, plus credential-typed properties, under their declared field
// names. Required slots with no attached credential fail the node.
func (r *run) resolveCredentials(def *node.Definition, wfNode *workflow.Node, params map[string]any) (map[string]*credential.Credential, error) {
	var creds map[string]*credential.Credential
	materialize := func(field, id string, allowed []string) error {
		if r.engine.creds == nil {
			return flowerrors.New(flowerrors.KindNodeExecution, "node %s: no credential resolver configured", wfNode.ID)
		}
		cred, err := r.engine.creds.Resolve(r.ctx, id, allowed)
		if err != nil {
			return flowerrors.Wrap(flowerrors.KindNodeExecution, err, "node %s credential %s", wfNode.ID, field)
		}
		if creds == nil {
			creds = make(map[string]*credential.Credential)
		}
		creds[field] = cred
		return nil
	}

	for _, spec := range def.CredentialTypes {
		id := wfNode.Credentials[spec.FieldName]
		if id == "" {
			if spec.Required {
				return nil, flowerrors.New(flowerrors.KindNodeExecution,
					"node %s: missing required credential %s", wfNode.ID, spec.FieldName)
			}
			continue
		}
		if err := materialize(spec.FieldName, id, spec.AllowedTypes); err != nil {
			return nil, err
		}
	}
	for _, p := range def.Props() {
		if p.Type != node.PropertyCredential {
			continue
		}
		id, _ := params[p.Name].(string)
		if id == "" {
			if p.Required {
				return nil, flowerrors.New(flowerrors.KindNodeExecution,
					"node %s: missing required credential %s", wfNode.ID, p.Name)
			}
			continue
		}
		if err := materialize(p.Name, id, nil); err != nil {
			return nil, err
		}
	}
	return creds, nil
}

func (r *run) nodeFailure(row *execution.NodeExecution, err error) nodeResult {
	row.Status = execution.StatusError
	row.Error = execution.NormalizeError(err, string(flowerrors.KindOf(err)), row.NodeID)
	return nodeResult{nodeID: row.NodeID, status: progress.StatusFailed, err: err}
}

// itemsData converts per-port items into the JSON-friendly shape stored on
// node-execution records.
func itemsData(ports map[string][]node.Item) map[string]any {
	if len(ports) == 0 {
		return nil
	}
	data := make(map[string]any, len(ports))
	for port, items := range ports {
		arr := make([]any, len(items))
		for i, it := range items {
			arr[i] = it.JSON
		}
		data[port] = arr
	}
	return data
}

func boolParam(params map[string]any, name string) bool {
	v, ok := params[name]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
