package workflow

import "sort"

type (
	// Plan is the execution-time view of a workflow graph for one starting
	// node: the affected set (everything reachable from the start), the
	// dependency map the scheduler waits on, and the dependents map used to
	// route outputs to downstream nodes.
	//
	// Connections may form cycles. The plan tolerates them: each node
	// appears at most once, and dependency edges that would prevent any
	// topological order are dropped deterministically so the scheduler can
	// never livelock. Every node still executes at most once per execution.
	Plan struct {
		// StartNodeID is the node the execution begins at.
		StartNodeID string

		affected map[string]bool
		order    map[string]int // BFS discovery order, start node is 0
		deps     map[string][]Connection
		children map[string][]Connection
	}
)

// NewPlan computes the execution plan for the given workflow and start node.
// Reachability is a breadth-first traversal over outgoing connections with a
// visited set, so cyclic graphs terminate.
func NewPlan(wf *Workflow, startNodeID string) *Plan {
	outgoing := make(map[string][]Connection)
	for _, c := range wf.Connections {
		outgoing[c.SourceNodeID] = append(outgoing[c.SourceNodeID], c)
	}

	p := &Plan{
		StartNodeID: startNodeID,
		affected:    make(map[string]bool),
		order:       make(map[string]int),
		deps:        make(map[string][]Connection),
		children:    make(map[string][]Connection),
	}

	queue := []string{startNodeID}
	p.affected[startNodeID] = true
	p.order[startNodeID] = 0
	next := 1
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, c := range outgoing[id] {
			if !p.affected[c.TargetNodeID] {
				p.affected[c.TargetNodeID] = true
				p.order[c.TargetNodeID] = next
				next++
				queue = append(queue, c.TargetNodeID)
			}
		}
	}

	// Dependency edges are the affected-to-affected connections, minus the
	// edges dropped by cycle breaking.
	kept := p.breakCycles(wf)
	for _, c := range kept {
		p.deps[c.TargetNodeID] = append(p.deps[c.TargetNodeID], c)
	}
	// Routing uses every affected-to-affected connection, including edges
	// dropped from the dependency map: a cycle edge still delivers items if
	// its target has not run yet, it just cannot be waited on.
	for _, c := range wf.Connections {
		if p.affected[c.SourceNodeID] && p.affected[c.TargetNodeID] {
			p.children[c.SourceNodeID] = append(p.children[c.SourceNodeID], c)
		}
	}
	return p
}

// SingleNodePlan returns a plan whose affected set contains only the given
// node with no dependencies, used for single-node execution mode.
func SingleNodePlan(nodeID string) *Plan {
	return &Plan{
		StartNodeID: nodeID,
		affected:    map[string]bool{nodeID: true},
		order:       map[string]int{nodeID: 0},
		deps:        make(map[string][]Connection),
		children:    make(map[string][]Connection),
	}
}

// breakCycles runs Kahn's algorithm over the affected subgraph and, whenever
// no zero-indegree node remains, drops the incoming edges of the leftover
// node discovered earliest in the BFS so that node can proceed. The start
// node never waits on any edge. The result is the set of connections the
// scheduler treats as dependencies.
func (p *Plan) breakCycles(wf *Workflow) []Connection {
	incoming := make(map[string][]Connection)
	indegree := make(map[string]int)
	for id := range p.affected {
		indegree[id] = 0
	}
	for _, c := range wf.Connections {
		if !p.affected[c.SourceNodeID] || !p.affected[c.TargetNodeID] {
			continue
		}
		if c.TargetNodeID == p.StartNodeID {
			continue // the start node is ready by definition
		}
		incoming[c.TargetNodeID] = append(incoming[c.TargetNodeID], c)
		indegree[c.TargetNodeID]++
	}

	dropped := make(map[string]bool) // connection ids removed by cycle breaking
	remaining := len(indegree)
	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return p.order[ready[i]] < p.order[ready[j]] })

	outgoing := make(map[string][]Connection)
	for _, conns := range incoming {
		for _, c := range conns {
			outgoing[c.SourceNodeID] = append(outgoing[c.SourceNodeID], c)
		}
	}

	done := make(map[string]bool)
	for remaining > 0 {
		if len(ready) == 0 {
			// Cycle: free the earliest-discovered leftover node by dropping
			// its remaining incoming edges.
			victim := ""
			for id := range indegree {
				if done[id] {
					continue
				}
				if victim == "" || p.order[id] < p.order[victim] {
					victim = id
				}
			}
			for _, c := range incoming[victim] {
				if !dropped[c.ID] && !done[c.SourceNodeID] {
					dropped[c.ID] = true
				}
			}
			indegree[victim] = 0
			ready = append(ready, victim)
		}
		id := ready[0]
		ready = ready[1:]
		if done[id] {
			continue
		}
		done[id] = true
		remaining--
		for _, c := range outgoing[id] {
			if dropped[c.ID] || done[c.TargetNodeID] {
				continue
			}
			indegree[c.TargetNodeID]--
			if indegree[c.TargetNodeID] == 0 {
				ready = append(ready, c.TargetNodeID)
			}
		}
	}

	var kept []Connection
	for _, conns := range incoming {
		for _, c := range conns {
			if !dropped[c.ID] {
				kept = append(kept, c)
			}
		}
	}
	return kept
}

// Affected reports whether the node is reachable from the start node.
func (p *Plan) Affected(nodeID string) bool { return p.affected[nodeID] }

// AffectedNodes returns the affected node ids in BFS discovery order.
func (p *Plan) AffectedNodes() []string {
	ids := make([]string, 0, len(p.affected))
	for id := range p.affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return p.order[ids[i]] < p.order[ids[j]] })
	return ids
}

// Dependencies returns the incoming connections the scheduler must wait on
// before the node becomes ready.
func (p *Plan) Dependencies(nodeID string) []Connection { return p.deps[nodeID] }

// Dependents returns the outgoing connections used to route the node's
// outputs downstream.
func (p *Plan) Dependents(nodeID string) []Connection { return p.children[nodeID] }
