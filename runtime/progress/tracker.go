// Package progress owns per-execution, per-node state. It is the authority
// for "is node X running in execution Y?".
//
// All state is partitioned by execution id at every read and write: a query
// for a node under execution A can never observe state written by execution
// B, even when both executions run the same workflow concurrently. No lookup
// in this package takes a node id without an execution id.
package progress

import (
	"sync"
	"time"
)

// NodeStatus is the lifecycle state of one node within one execution.
type NodeStatus string

const (
	// StatusIdle means the node is affected but has no satisfied
	// dependencies yet.
	StatusIdle NodeStatus = "IDLE"
	// StatusQueued means the node is ready and waiting for dispatch.
	StatusQueued NodeStatus = "QUEUED"
	// StatusRunning means the node is executing.
	StatusRunning NodeStatus = "RUNNING"
	// StatusCompleted means the node finished successfully.
	StatusCompleted NodeStatus = "COMPLETED"
	// StatusFailed means the node's execute failed.
	StatusFailed NodeStatus = "FAILED"
	// StatusCancelled means the node was cancelled before or during
	// execution.
	StatusCancelled NodeStatus = "CANCELLED"
	// StatusSkipped means an upstream branch decision or failure pruned the
	// node, as opposed to it never having had a chance to run.
	StatusSkipped NodeStatus = "SKIPPED"
)

// Terminal reports whether the status is one of the four terminal states.
func (s NodeStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusSkipped:
		return true
	}
	return false
}

type (
	// NodeState is the tracked state of one node within one execution.
	NodeState struct {
		// Status is the current lifecycle state.
		Status NodeStatus `json:"status"`
		// StartTime is when the node entered RUNNING.
		StartTime *time.Time `json:"startTime,omitempty"`
		// EndTime is when the node reached a terminal state.
		EndTime *time.Time `json:"endTime,omitempty"`
		// Data is the node's output data, set on completion.
		Data any `json:"data,omitempty"`
		// Error is the failure message, set on failure.
		Error string `json:"error,omitempty"`
	}

	// Tracker maintains the nested execution-id -> node-id -> state map.
	// Writes within one execution are serialized by a per-execution mutex;
	// writes to different executions never contend.
	Tracker struct {
		mu        sync.RWMutex
		execs     map[string]*executionState
		retention time.Duration
	}

	executionState struct {
		mu            sync.RWMutex
		triggerNodeID string
		affected      map[string]bool
		states        map[string]*NodeState
	}

	// Summary aggregates an execution's node states.
	Summary struct {
		// TriggerNodeID is the node the execution started at.
		TriggerNodeID string `json:"triggerNodeId"`
		// Nodes maps node ids to their current state.
		Nodes map[string]NodeState `json:"nodes"`
		// Running lists the node ids currently in RUNNING state.
		Running []string `json:"running"`
		// Done reports whether every affected node is terminal.
		Done bool `json:"done"`
	}
)

// NewTracker constructs a Tracker. Sealed executions are retained in memory
// for the given duration so late subscribers can still query them, then
// evicted.
func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{execs: make(map[string]*executionState), retention: retention}
}

// StartExecution initializes state for every affected node: the trigger node
// starts QUEUED, every downstream node starts IDLE.
func (t *Tracker) StartExecution(executionID, triggerNodeID string, affectedNodes []string) {
	es := &executionState{
		triggerNodeID: triggerNodeID,
		affected:      make(map[string]bool, len(affectedNodes)),
		states:        make(map[string]*NodeState, len(affectedNodes)),
	}
	for _, id := range affectedNodes {
		es.affected[id] = true
		status := StatusIdle
		if id == triggerNodeID {
			status = StatusQueued
		}
		es.states[id] = &NodeState{Status: status}
	}
	t.mu.Lock()
	t.execs[executionID] = es
	t.mu.Unlock()
}

// SetQueued marks the node ready for dispatch.
func (t *Tracker) SetQueued(executionID, nodeID string) {
	t.update(executionID, nodeID, func(s *NodeState) {
		s.Status = StatusQueued
	})
}

// SetRunning marks the node as executing.
func (t *Tracker) SetRunning(executionID, nodeID string, startTime time.Time) {
	t.update(executionID, nodeID, func(s *NodeState) {
		s.Status = StatusRunning
		s.StartTime = &startTime
	})
}

// SetCompleted marks the node as successfully finished with its output data.
func (t *Tracker) SetCompleted(executionID, nodeID string, output any, endTime time.Time) {
	t.update(executionID, nodeID, func(s *NodeState) {
		s.Status = StatusCompleted
		s.Data = output
		s.EndTime = &endTime
	})
}

// SetFailed marks the node as failed.
func (t *Tracker) SetFailed(executionID, nodeID string, errMsg string, endTime time.Time) {
	t.update(executionID, nodeID, func(s *NodeState) {
		s.Status = StatusFailed
		s.Error = errMsg
		s.EndTime = &endTime
	})
}

// SetCancelled marks the node as cancelled.
func (t *Tracker) SetCancelled(executionID, nodeID string) {
	now := time.Now()
	t.update(executionID, nodeID, func(s *NodeState) {
		s.Status = StatusCancelled
		s.EndTime = &now
	})
}

// SetSkipped marks the node as pruned by an upstream branch decision.
func (t *Tracker) SetSkipped(executionID, nodeID string) {
	now := time.Now()
	t.update(executionID, nodeID, func(s *NodeState) {
		s.Status = StatusSkipped
		s.EndTime = &now
	})
}

// IsNodeRunning reports whether the node is RUNNING within the given
// execution. It returns false for nodes outside the execution's affected
// set and for unknown executions.
func (t *Tracker) IsNodeRunning(executionID, nodeID string) bool {
	es := t.exec(executionID)
	if es == nil {
		return false
	}
	es.mu.RLock()
	defer es.mu.RUnlock()
	if !es.affected[nodeID] {
		return false
	}
	s, ok := es.states[nodeID]
	return ok && s.Status == StatusRunning
}

// State returns a copy of the node's state within the given execution.
func (t *Tracker) State(executionID, nodeID string) (NodeState, bool) {
	es := t.exec(executionID)
	if es == nil {
		return NodeState{}, false
	}
	es.mu.RLock()
	defer es.mu.RUnlock()
	s, ok := es.states[nodeID]
	if !ok {
		return NodeState{}, false
	}
	return *s, true
}

// ExecutionStatus returns the aggregate view of the execution, or false when
// the execution is unknown (never started or already evicted).
func (t *Tracker) ExecutionStatus(executionID string) (Summary, bool) {
	es := t.exec(executionID)
	if es == nil {
		return Summary{}, false
	}
	es.mu.RLock()
	defer es.mu.RUnlock()
	sum := Summary{
		TriggerNodeID: es.triggerNodeID,
		Nodes:         make(map[string]NodeState, len(es.states)),
		Done:          true,
	}
	for id, s := range es.states {
		sum.Nodes[id] = *s
		if s.Status == StatusRunning {
			sum.Running = append(sum.Running, id)
		}
		if !s.Status.Terminal() {
			sum.Done = false
		}
	}
	return sum, true
}

// Seal schedules eviction of the execution's state after the retention
// window. The state remains queryable until then.
func (t *Tracker) Seal(executionID string) {
	if t.retention <= 0 {
		t.ClearExecution(executionID)
		return
	}
	time.AfterFunc(t.retention, func() { t.ClearExecution(executionID) })
}

// ClearExecution releases the execution's state immediately.
func (t *Tracker) ClearExecution(executionID string) {
	t.mu.Lock()
	delete(t.execs, executionID)
	t.mu.Unlock()
}

func (t *Tracker) exec(executionID string) *executionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.execs[executionID]
}

func (t *Tracker) update(executionID, nodeID string, fn func(*NodeState)) {
	es := t.exec(executionID)
	if es == nil {
		return
	}
	es.mu.Lock()
	defer es.mu.Unlock()
	s, ok := es.states[nodeID]
	if !ok {
		return
	}
	fn(s)
}
