package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearWorkflow() *Workflow {
	return &Workflow{
		ID: "wf-linear",
		Nodes: []Node{
			{ID: "trigger", Type: "manualTrigger", Name: "Trigger", ExecutionCapability: CapabilityTrigger},
			{ID: "a", Type: "noOp", Name: "A", ExecutionCapability: CapabilityAction},
			{ID: "b", Type: "noOp", Name: "B", ExecutionCapability: CapabilityAction},
		},
		Connections: []Connection{
			{ID: "c1", SourceNodeID: "trigger", TargetNodeID: "a"},
			{ID: "c2", SourceNodeID: "a", TargetNodeID: "b"},
		},
	}
}

func TestPlanReachability(t *testing.T) {
	wf := linearWorkflow()
	wf.Nodes = append(wf.Nodes, Node{ID: "island", Type: "noOp", Name: "Island", ExecutionCapability: CapabilityAction})

	p := NewPlan(wf, "trigger")
	assert.Equal(t, []string{"trigger", "a", "b"}, p.AffectedNodes())
	assert.True(t, p.Affected("a"))
	assert.False(t, p.Affected("island"))
}

func TestPlanStartsMidGraph(t *testing.T) {
	p := NewPlan(linearWorkflow(), "a")
	assert.Equal(t, []string{"a", "b"}, p.AffectedNodes())
	// The start node never waits on its upstream edge.
	assert.Empty(t, p.Dependencies("a"))
	require.Len(t, p.Dependencies("b"), 1)
	assert.Equal(t, "a", p.Dependencies("b")[0].SourceNodeID)
}

func TestPlanDiamondDependencies(t *testing.T) {
	wf := &Workflow{
		ID: "wf-diamond",
		Nodes: []Node{
			{ID: "t", ExecutionCapability: CapabilityTrigger},
			{ID: "l", ExecutionCapability: CapabilityAction},
			{ID: "r", ExecutionCapability: CapabilityAction},
			{ID: "join", ExecutionCapability: CapabilityAction},
		},
		Connections: []Connection{
			{ID: "c1", SourceNodeID: "t", TargetNodeID: "l"},
			{ID: "c2", SourceNodeID: "t", TargetNodeID: "r"},
			{ID: "c3", SourceNodeID: "l", TargetNodeID: "join"},
			{ID: "c4", SourceNodeID: "r", TargetNodeID: "join"},
		},
	}
	p := NewPlan(wf, "t")
	assert.Len(t, p.Dependencies("join"), 2)
	assert.Len(t, p.Dependents("t"), 2)
}

func TestPlanBreaksCycle(t *testing.T) {
	wf := &Workflow{
		ID: "wf-cycle",
		Nodes: []Node{
			{ID: "t", ExecutionCapability: CapabilityTrigger},
			{ID: "a", ExecutionCapability: CapabilityAction},
			{ID: "b", ExecutionCapability: CapabilityAction},
		},
		Connections: []Connection{
			{ID: "c1", SourceNodeID: "t", TargetNodeID: "a"},
			{ID: "c2", SourceNodeID: "a", TargetNodeID: "b"},
			{ID: "c3", SourceNodeID: "b", TargetNodeID: "a"}, // cycle a <-> b
		},
	}
	p := NewPlan(wf, "t")

	// Every affected node must be orderable: a waits only on the trigger, b
	// waits on a, and the back edge is not a dependency.
	deps := func(id string) []string {
		var srcs []string
		for _, c := range p.Dependencies(id) {
			srcs = append(srcs, c.SourceNodeID)
		}
		return srcs
	}
	assert.Equal(t, []string{"t"}, deps("a"))
	assert.Equal(t, []string{"a"}, deps("b"))
	// Routing still knows about the back edge.
	assert.Len(t, p.Dependents("b"), 1)
}

func TestPlanSelfLoop(t *testing.T) {
	wf := &Workflow{
		ID: "wf-self",
		Nodes: []Node{
			{ID: "t", ExecutionCapability: CapabilityTrigger},
			{ID: "a", ExecutionCapability: CapabilityAction},
		},
		Connections: []Connection{
			{ID: "c1", SourceNodeID: "t", TargetNodeID: "a"},
			{ID: "c2", SourceNodeID: "a", TargetNodeID: "a"},
		},
	}
	p := NewPlan(wf, "t")
	assert.Equal(t, []string{"t"}, func() []string {
		var srcs []string
		for _, c := range p.Dependencies("a") {
			srcs = append(srcs, c.SourceNodeID)
		}
		return srcs
	}())
}

func TestSingleNodePlan(t *testing.T) {
	p := SingleNodePlan("only")
	assert.Equal(t, []string{"only"}, p.AffectedNodes())
	assert.Empty(t, p.Dependencies("only"))
	assert.Empty(t, p.Dependents("only"))
}
