package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartExecutionInitialStates(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.StartExecution("exec-1", "trigger", []string{"trigger", "a", "b"})

	sum, ok := tr.ExecutionStatus("exec-1")
	require.True(t, ok)
	assert.Equal(t, StatusQueued, sum.Nodes["trigger"].Status)
	assert.Equal(t, StatusIdle, sum.Nodes["a"].Status)
	assert.Equal(t, StatusIdle, sum.Nodes["b"].Status)
	assert.False(t, sum.Done)
}

func TestStatePartitionedByExecution(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.StartExecution("exec-1", "t", []string{"t", "a"})
	tr.StartExecution("exec-2", "t", []string{"t", "a"})

	tr.SetRunning("exec-1", "a", time.Now())

	// The same node in a different concurrent execution is untouched.
	assert.True(t, tr.IsNodeRunning("exec-1", "a"))
	assert.False(t, tr.IsNodeRunning("exec-2", "a"))

	st, ok := tr.State("exec-2", "a")
	require.True(t, ok)
	assert.Equal(t, StatusIdle, st.Status)
}

func TestIsNodeRunningOutsideAffectedSet(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.StartExecution("exec-1", "t", []string{"t"})
	assert.False(t, tr.IsNodeRunning("exec-1", "unrelated"))
	assert.False(t, tr.IsNodeRunning("ghost-exec", "t"))
}

func TestLifecycleTransitions(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.StartExecution("exec-1", "t", []string{"t", "a", "b", "c"})

	start := time.Now()
	end := start.Add(50 * time.Millisecond)

	tr.SetRunning("exec-1", "t", start)
	tr.SetCompleted("exec-1", "t", map[string]any{"main": []any{}}, end)
	tr.SetFailed("exec-1", "a", "boom", end)
	tr.SetCancelled("exec-1", "b")
	tr.SetSkipped("exec-1", "c")

	sum, ok := tr.ExecutionStatus("exec-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, sum.Nodes["t"].Status)
	assert.Equal(t, StatusFailed, sum.Nodes["a"].Status)
	assert.Equal(t, "boom", sum.Nodes["a"].Error)
	assert.Equal(t, StatusCancelled, sum.Nodes["b"].Status)
	assert.Equal(t, StatusSkipped, sum.Nodes["c"].Status)
	assert.True(t, sum.Done)
	assert.Empty(t, sum.Running)
}

func TestSealEvictsAfterRetention(t *testing.T) {
	tr := NewTracker(20 * time.Millisecond)
	tr.StartExecution("exec-1", "t", []string{"t"})
	tr.SetCompleted("exec-1", "t", nil, time.Now())
	tr.Seal("exec-1")

	// Still queryable inside the retention window.
	_, ok := tr.ExecutionStatus("exec-1")
	assert.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok := tr.ExecutionStatus("exec-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSealWithoutRetentionEvictsImmediately(t *testing.T) {
	tr := NewTracker(0)
	tr.StartExecution("exec-1", "t", []string{"t"})
	tr.Seal("exec-1")
	_, ok := tr.ExecutionStatus("exec-1")
	assert.False(t, ok)
}

func TestUpdateUnknownExecutionIsNoop(t *testing.T) {
	tr := NewTracker(time.Minute)
	tr.SetRunning("ghost", "a", time.Now())
	_, ok := tr.ExecutionStatus("ghost")
	assert.False(t, ok)
}
