package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowmesh/runtime/credential"
	"github.com/flowmesh/flowmesh/runtime/execution"
	"github.com/flowmesh/flowmesh/runtime/node"
	"github.com/flowmesh/flowmesh/runtime/progress"
	"github.com/flowmesh/flowmesh/runtime/workflow"
)

type memStore struct {
	mu         sync.Mutex
	executions map[string]*execution.Execution
	nodes      map[string]*execution.NodeExecution
}

func newMemStore() *memStore {
	return &memStore{
		executions: make(map[string]*execution.Execution),
		nodes:      make(map[string]*execution.NodeExecution),
	}
}

func (s *memStore) CreateExecution(_ context.Context, ex *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ex
	s.executions[ex.ID] = &cp
	return nil
}

func (s *memStore) FinishExecution(_ context.Context, ex *execution.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ex
	s.executions[ex.ID] = &cp
	return nil
}

func (s *memStore) LoadExecution(_ context.Context, id string) (*execution.Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ex, ok := s.executions[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	cp := *ex
	return &cp, nil
}

func (s *memStore) SaveNodeExecution(_ context.Context, ne *execution.NodeExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ne
	s.nodes[ne.ID] = &cp
	return nil
}

func (s *memStore) LoadNodeExecutions(_ context.Context, executionID string) ([]execution.NodeExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []execution.NodeExecution
	for _, ne := range s.nodes {
		if ne.ExecutionID == executionID {
			out = append(out, *ne)
		}
	}
	return out, nil
}

func (s *memStore) nodeRow(executionID, nodeID string) *execution.NodeExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nodes[execution.NodeExecutionID(executionID, nodeID)]
}

type executeFn func(ctx context.Context, ec *node.ExecuteContext) (*node.Result, error)

func actionDef(typ string, fn executeFn) *node.Definition {
	return &node.Definition{
		Type:       typ,
		Capability: node.CapabilityAction,
		Inputs:     []string{node.MainPort},
		Outputs:    []string{node.MainPort},
		Execute:    fn,
	}
}

func triggerDef() *node.Definition {
	return &node.Definition{
		Type:       "trigger",
		Capability: node.CapabilityTrigger,
		Outputs:    []string{node.MainPort},
		Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
		},
	}
}

func passDef(typ string) *node.Definition {
	return actionDef(typ, func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
		return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
	})
}

type harness struct {
	engine  *Engine
	tracker *progress.Tracker
	store   *memStore
}

func newHarness(t *testing.T, defs ...*node.Definition) *harness {
	t.Helper()
	registry := node.NewRegistry()
	registry.MustRegister(triggerDef())
	for _, d := range defs {
		registry.MustRegister(d)
	}
	tracker := progress.NewTracker(time.Minute)
	store := newMemStore()
	recorder := execution.NewRecorder(store, nil, 16)
	t.Cleanup(recorder.Close)
	eng := New(Config{
		Registry:    registry,
		Tracker:     tracker,
		Recorder:    recorder,
		GracePeriod: 200 * time.Millisecond,
	})
	return &harness{engine: eng, tracker: tracker, store: store}
}

func wfNode(id, typ string) workflow.Node {
	cap := workflow.CapabilityAction
	if typ == "trigger" {
		cap = workflow.CapabilityTrigger
	}
	return workflow.Node{ID: id, Type: typ, Name: id, ExecutionCapability: cap}
}

func conn(id, src, dst string) workflow.Connection {
	return workflow.Connection{ID: id, SourceNodeID: src, TargetNodeID: dst}
}

func (h *harness) run(t *testing.T, wf *workflow.Workflow, execID string) *Summary {
	t.Helper()
	summary, err := h.engine.Run(context.Background(), &Request{
		ExecutionID: execID,
		Workflow:    wf,
		StartNodeID: "trigger",
		Mode:        execution.ModeManual,
	})
	require.NoError(t, err)
	return summary
}

func TestLinearWorkflowSuccess(t *testing.T) {
	h := newHarness(t,
		actionDef("stamp", func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			items := ec.FirstInput()
			out := make([]node.Item, len(items))
			for i, it := range items {
				js := map[string]any{"stamped": true}
				for k, v := range it.JSON {
					js[k] = v
				}
				out[i] = node.Item{JSON: js}
			}
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: out}}, nil
		}),
		passDef("pass"),
	)
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("a", "stamp"), wfNode("b", "pass")},
		Connections: []workflow.Connection{conn("c1", "trigger", "a"), conn("c2", "a", "b")},
	}

	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	assert.Equal(t, []string{"trigger", "a", "b"}, summary.ExecutedNodes)
	assert.Empty(t, summary.FailedNodes)
	require.Len(t, summary.LastOutput, 1)
	assert.Equal(t, true, summary.LastOutput[0].JSON["stamped"])

	ex, err := h.store.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, ex.Status)
	rows, err := h.store.LoadNodeExecutions(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestBranchingSkipsUntakenPath(t *testing.T) {
	h := newHarness(t,
		&node.Definition{
			Type:       "fork",
			Capability: node.CapabilityAction,
			Inputs:     []string{node.MainPort},
			Outputs:    []string{"true", "false"},
			Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
				return &node.Result{Outputs: map[string][]node.Item{"true": ec.FirstInput()}}, nil
			},
		},
		passDef("pass"),
	)
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.Node{
			wfNode("trigger", "trigger"), wfNode("fork", "fork"),
			wfNode("taken", "pass"), wfNode("untaken", "pass"), wfNode("after-untaken", "pass"),
		},
		Connections: []workflow.Connection{
			conn("c1", "trigger", "fork"),
			{ID: "c2", SourceNodeID: "fork", SourceOutput: "true", TargetNodeID: "taken"},
			{ID: "c3", SourceNodeID: "fork", SourceOutput: "false", TargetNodeID: "untaken"},
			conn("c4", "untaken", "after-untaken"),
		},
	}

	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	assert.NotContains(t, summary.ExecutedNodes, "untaken")
	assert.NotContains(t, summary.ExecutedNodes, "after-untaken")

	sum, ok := h.tracker.ExecutionStatus("exec-1")
	require.True(t, ok)
	assert.Equal(t, progress.StatusCompleted, sum.Nodes["taken"].Status)
	assert.Equal(t, progress.StatusSkipped, sum.Nodes["untaken"].Status)
	assert.Equal(t, progress.StatusSkipped, sum.Nodes["after-untaken"].Status)

	// Pruned nodes get data-free SKIPPED rows so the record covers every
	// node that reached a terminal state.
	for _, id := range []string{"untaken", "after-untaken"} {
		row := h.store.nodeRow("exec-1", id)
		require.NotNil(t, row, id)
		assert.Equal(t, execution.StatusSkipped, row.Status, id)
		assert.Empty(t, row.OutputData, id)
	}
}

func TestDisabledNodePassesThrough(t *testing.T) {
	h := newHarness(t, passDef("pass"))
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("mid", "pass"), wfNode("end", "pass")},
		Connections: []workflow.Connection{conn("c1", "trigger", "mid"), conn("c2", "mid", "end")},
	}
	wf.Nodes[1].Disabled = true

	summary, err := h.engine.Run(context.Background(), &Request{
		ExecutionID: "exec-1", Workflow: wf, StartNodeID: "trigger",
		TriggerData: []node.Item{{JSON: map[string]any{"payload": "x"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	require.Len(t, summary.LastOutput, 1)
	assert.Equal(t, "x", summary.LastOutput[0].JSON["payload"])

	// The record shows the disabled node as skipped, not executed.
	row := h.store.nodeRow("exec-1", "mid")
	require.NotNil(t, row)
	assert.Equal(t, execution.StatusSkipped, row.Status)
}

func TestStopPolicyFailsFast(t *testing.T) {
	h := newHarness(t,
		actionDef("boom", func(context.Context, *node.ExecuteContext) (*node.Result, error) {
			return nil, errors.New("kaput")
		}),
		passDef("pass"),
	)
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.Node{
			wfNode("trigger", "trigger"), wfNode("bad", "boom"), wfNode("after", "pass"),
		},
		Connections: []workflow.Connection{conn("c1", "trigger", "bad"), conn("c2", "bad", "after")},
	}

	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusError, summary.Status)
	assert.Equal(t, []string{"bad"}, summary.FailedNodes)
	require.NotNil(t, summary.Error)
	assert.Contains(t, summary.Error.Message, "kaput")
	assert.Equal(t, "bad", summary.Error.NodeID)

	sum, _ := h.tracker.ExecutionStatus("exec-1")
	assert.Equal(t, progress.StatusFailed, sum.Nodes["bad"].Status)
	assert.Equal(t, progress.StatusCancelled, sum.Nodes["after"].Status)

	// Nodes cancelled without ever running still get an audit row.
	row := h.store.nodeRow("exec-1", "after")
	require.NotNil(t, row)
	assert.Equal(t, execution.StatusCancelled, row.Status)
	assert.Empty(t, row.OutputData)
	require.NotNil(t, row.FinishedAt)
}

func TestContinuePolicyYieldsPartial(t *testing.T) {
	h := newHarness(t,
		actionDef("boom", func(context.Context, *node.ExecuteContext) (*node.Result, error) {
			return nil, errors.New("kaput")
		}),
		passDef("pass"),
	)
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.Node{
			wfNode("trigger", "trigger"),
			wfNode("bad", "boom"), wfNode("after-bad", "pass"),
			wfNode("good", "pass"),
		},
		Connections: []workflow.Connection{
			conn("c1", "trigger", "bad"), conn("c2", "bad", "after-bad"),
			conn("c3", "trigger", "good"),
		},
		Settings: workflow.Settings{ErrorPolicy: workflow.ErrorPolicyContinue},
	}

	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusPartial, summary.Status)
	assert.Equal(t, []string{"bad"}, summary.FailedNodes)
	assert.Contains(t, summary.ExecutedNodes, "good")

	sum, _ := h.tracker.ExecutionStatus("exec-1")
	assert.Equal(t, progress.StatusCompleted, sum.Nodes["good"].Status)
	// The failed branch's dependent is pruned, not cancelled.
	assert.Equal(t, progress.StatusSkipped, sum.Nodes["after-bad"].Status)

	// The record persists the partial run as ERROR; the failed-node list on
	// the error keeps the distinction.
	ex, err := h.store.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusError, ex.Status)
	require.NotNil(t, ex.Error)
	assert.Equal(t, []string{"bad"}, ex.Error.FailedNodes)
	assert.Contains(t, ex.Error.ExecutionPath, "good")
}

func TestContinueOnFailEmitsErrorItem(t *testing.T) {
	h := newHarness(t,
		actionDef("boom", func(context.Context, *node.ExecuteContext) (*node.Result, error) {
			return nil, errors.New("kaput")
		}),
		passDef("pass"),
	)
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.Node{
			wfNode("trigger", "trigger"), wfNode("bad", "boom"), wfNode("after", "pass"),
		},
		Connections: []workflow.Connection{conn("c1", "trigger", "bad"), conn("c2", "bad", "after")},
	}
	wf.Nodes[1].Parameters = map[string]any{"continueOnFail": true}

	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	assert.Empty(t, summary.FailedNodes)
	assert.Contains(t, summary.ExecutedNodes, "after")
	require.Len(t, summary.LastOutput, 1)
	assert.Equal(t, "kaput", summary.LastOutput[0].JSON["error"])

	// The audit row still records the failure.
	row := h.store.nodeRow("exec-1", "bad")
	require.NotNil(t, row)
	assert.Equal(t, execution.StatusError, row.Status)
	require.NotNil(t, row.Error)
	assert.Contains(t, row.Error.Message, "kaput")
}

func TestContinueOnFailResolvedFromExpression(t *testing.T) {
	h := newHarness(t,
		actionDef("boom", func(context.Context, *node.ExecuteContext) (*node.Result, error) {
			return nil, errors.New("kaput")
		}),
		passDef("pass"),
	)
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.Node{
			wfNode("trigger", "trigger"), wfNode("bad", "boom"), wfNode("after", "pass"),
		},
		Connections: []workflow.Connection{conn("c1", "trigger", "bad"), conn("c2", "bad", "after")},
	}
	// The flag is an expression over the input item, so it only holds after
	// resolution.
	wf.Nodes[1].Parameters = map[string]any{"continueOnFail": "{{ $json.retry }}"}

	summary, err := h.engine.Run(context.Background(), &Request{
		ExecutionID: "exec-1", Workflow: wf, StartNodeID: "trigger",
		TriggerData: []node.Item{{JSON: map[string]any{"retry": true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	assert.Empty(t, summary.FailedNodes)
	assert.Contains(t, summary.ExecutedNodes, "after")
	require.Len(t, summary.LastOutput, 1)
	assert.Equal(t, "kaput", summary.LastOutput[0].JSON["error"])
}

func TestTimeoutCancelsExecution(t *testing.T) {
	h := newHarness(t,
		actionDef("slow", func(ctx context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}),
	)
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("slow", "slow")},
		Connections: []workflow.Connection{conn("c1", "trigger", "slow")},
		Settings:    workflow.Settings{MaxDurationMs: 50},
	}

	start := time.Now()
	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusTimeout, summary.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
	require.NotNil(t, summary.Error)
	assert.Contains(t, summary.Error.Message, "maximum duration")

	// Timeouts persist as CANCELLED with the reason on the error.
	ex, err := h.store.LoadExecution(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, ex.Status)
	require.NotNil(t, ex.Error)
	assert.Contains(t, ex.Error.Message, "maximum duration")
}

func TestExternalCancellation(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t,
		actionDef("slow", func(ctx context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("slow", "slow")},
		Connections: []workflow.Connection{conn("c1", "trigger", "slow")},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	summary, err := h.engine.Run(ctx, &Request{ExecutionID: "exec-1", Workflow: wf, StartNodeID: "trigger"})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusCancelled, summary.Status)

	sum, _ := h.tracker.ExecutionStatus("exec-1")
	assert.Equal(t, progress.StatusCancelled, sum.Nodes["slow"].Status)

	row := h.store.nodeRow("exec-1", "slow")
	require.NotNil(t, row)
	assert.Equal(t, execution.StatusCancelled, row.Status)
}

func TestSingleNodeMode(t *testing.T) {
	h := newHarness(t, passDef("pass"))
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("only", "pass"), wfNode("never", "pass")},
		Connections: []workflow.Connection{conn("c1", "trigger", "only"), conn("c2", "only", "never")},
	}

	summary, err := h.engine.Run(context.Background(), &Request{
		ExecutionID: "exec-1", Workflow: wf, StartNodeID: "only", SingleNode: true,
		TriggerData: []node.Item{{JSON: map[string]any{"direct": true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	assert.Equal(t, []string{"only"}, summary.ExecutedNodes)
	require.Len(t, summary.LastOutput, 1)
	assert.Equal(t, true, summary.LastOutput[0].JSON["direct"])
}

func TestCyclicWorkflowTerminates(t *testing.T) {
	var mu sync.Mutex
	runs := map[string]int{}
	counting := func(typ string) *node.Definition {
		return actionDef(typ, func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			mu.Lock()
			runs[ec.NodeID]++
			mu.Unlock()
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
		})
	}
	h := newHarness(t, counting("count"))
	wf := &workflow.Workflow{
		ID: "wf",
		Nodes: []workflow.Node{
			wfNode("trigger", "trigger"), wfNode("a", "count"), wfNode("b", "count"),
		},
		Connections: []workflow.Connection{
			conn("c1", "trigger", "a"), conn("c2", "a", "b"), conn("c3", "b", "a"),
		},
	}

	done := make(chan *Summary, 1)
	go func() { done <- h.run(t, wf, "exec-1") }()
	select {
	case summary := <-done:
		assert.Equal(t, execution.StatusSuccess, summary.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("cyclic workflow did not terminate")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, runs["a"])
	assert.Equal(t, 1, runs["b"])
}

func TestExpressionsResolveAgainstInput(t *testing.T) {
	var got map[string]any
	h := newHarness(t,
		actionDef("inspect", func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			got = ec.Parameters
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
		}),
	)
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("a", "inspect")},
		Connections: []workflow.Connection{conn("c1", "trigger", "a")},
	}
	wf.Nodes[1].Parameters = map[string]any{
		"name":     "{{ $json.name }}",
		"upstream": `{{ $node["trigger"].json.name }}`,
		"text":     "user={{ $json.name }}",
	}

	summary, err := h.engine.Run(context.Background(), &Request{
		ExecutionID: "exec-1", Workflow: wf, StartNodeID: "trigger",
		TriggerData: []node.Item{{JSON: map[string]any{"name": "ada"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	require.NotNil(t, got)
	assert.Equal(t, "ada", got["name"])
	assert.Equal(t, "ada", got["upstream"])
	assert.Equal(t, "user=ada", got["text"])
}

func TestCredentialDeliveredUnderDeclaredField(t *testing.T) {
	cipher := newTestCipher(t)
	credStore := &stubCredStore{records: map[string]*credential.Record{}}
	credStore.add(t, cipher, "cred-1", credential.TypeAPIKey, map[string]any{"apiKey": "top-secret"})

	var seen *credential.Credential
	registry := node.NewRegistry()
	registry.MustRegister(triggerDef())
	registry.MustRegister(&node.Definition{
		Type:       "needs-key",
		Capability: node.CapabilityAction,
		Inputs:     []string{node.MainPort},
		Outputs:    []string{node.MainPort},
		CredentialTypes: []node.CredentialSpec{
			{FieldName: "serviceApi", AllowedTypes: []string{credential.TypeAPIKey}, Required: true},
		},
		Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			seen = ec.Credentials["serviceApi"]
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: ec.FirstInput()}}, nil
		},
	})

	eng := New(Config{
		Registry:    registry,
		Tracker:     progress.NewTracker(time.Minute),
		Credentials: credential.NewResolver(credStore, cipher),
	})
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("a", "needs-key")},
		Connections: []workflow.Connection{conn("c1", "trigger", "a")},
	}
	wf.Nodes[1].Credentials = map[string]string{"serviceApi": "cred-1"}

	summary, err := eng.Run(context.Background(), &Request{ExecutionID: "exec-1", Workflow: wf, StartNodeID: "trigger"})
	require.NoError(t, err)
	assert.Equal(t, execution.StatusSuccess, summary.Status)
	require.NotNil(t, seen)
	assert.Equal(t, "top-secret", seen.String("apiKey"))
}

func TestMissingRequiredCredentialFailsNode(t *testing.T) {
	h := newHarness(t, &node.Definition{
		Type:       "needs-key",
		Capability: node.CapabilityAction,
		Inputs:     []string{node.MainPort},
		Outputs:    []string{node.MainPort},
		CredentialTypes: []node.CredentialSpec{
			{FieldName: "serviceApi", Required: true},
		},
		Execute: func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			return &node.Result{}, nil
		},
	})
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("a", "needs-key")},
		Connections: []workflow.Connection{conn("c1", "trigger", "a")},
	}

	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusError, summary.Status)
	assert.Equal(t, []string{"a"}, summary.FailedNodes)
	assert.Contains(t, summary.Error.Message, "missing required credential")
}

func TestNodePanicBecomesFailure(t *testing.T) {
	h := newHarness(t, actionDef("panics", func(context.Context, *node.ExecuteContext) (*node.Result, error) {
		panic("boom")
	}))
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("a", "panics")},
		Connections: []workflow.Connection{conn("c1", "trigger", "a")},
	}

	summary := h.run(t, wf, "exec-1")
	assert.Equal(t, execution.StatusError, summary.Status)
	assert.Contains(t, summary.Error.Message, "panicked")
}

func TestUnknownStartNodeRejected(t *testing.T) {
	h := newHarness(t)
	wf := &workflow.Workflow{
		ID:    "wf",
		Nodes: []workflow.Node{wfNode("trigger", "trigger")},
	}
	_, err := h.engine.Run(context.Background(), &Request{ExecutionID: "x", Workflow: wf, StartNodeID: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestConcurrentExecutionsStayIsolated(t *testing.T) {
	h := newHarness(t,
		actionDef("echo-exec", func(_ context.Context, ec *node.ExecuteContext) (*node.Result, error) {
			item := node.Item{JSON: map[string]any{"executionId": ec.ExecutionID}}
			return &node.Result{Outputs: map[string][]node.Item{node.MainPort: {item}}}, nil
		}),
	)
	wf := &workflow.Workflow{
		ID:          "wf",
		Nodes:       []workflow.Node{wfNode("trigger", "trigger"), wfNode("a", "echo-exec")},
		Connections: []workflow.Connection{conn("c1", "trigger", "a")},
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*Summary, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			summary, err := h.engine.Run(context.Background(), &Request{
				ExecutionID: fmt.Sprintf("exec-%d", i), Workflow: wf, StartNodeID: "trigger",
			})
			require.NoError(t, err)
			results[i] = summary
		}(i)
	}
	wg.Wait()

	for i, summary := range results {
		assert.Equal(t, execution.StatusSuccess, summary.Status)
		require.Len(t, summary.LastOutput, 1)
		assert.Equal(t, fmt.Sprintf("exec-%d", i), summary.LastOutput[0].JSON["executionId"])
	}
}

type stubCredStore struct {
	records map[string]*credential.Record
}

func (s *stubCredStore) LoadCredential(_ context.Context, id string) (*credential.Record, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, credential.ErrNotFound
	}
	return rec, nil
}

func (s *stubCredStore) add(t *testing.T, c *credential.Cipher, id, credType string, data map[string]any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	enc, err := c.Encrypt(raw)
	require.NoError(t, err)
	s.records[id] = &credential.Record{ID: id, Type: credType, EncryptedData: enc}
}

func newTestCipher(t *testing.T) *credential.Cipher {
	t.Helper()
	key := make([]byte, credential.KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	c, err := credential.NewCipher(key)
	require.NoError(t, err)
	return c
}
