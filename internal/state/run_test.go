package state

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRunLifecycle(t *testing.T) {
	start := time.Unix(1700000000, 0)
	run := NewWorkflowRun("run-1", "onboard new customer")
	assert.Equal(t, PhaseCreated, run.Phase())

	require.NoError(t, run.BeginPlanning(start))
	require.NoError(t, run.BeginExecuting([]string{"a", "b", "c"}, false, start))
	assert.Equal(t, PhaseExecuting, run.Phase())

	outcomes := []Result{Success("ok a"), Failure("boom b"), Success("ok c")}
	for i, res := range outcomes {
		idx, step, ok := run.NextStep()
		require.True(t, ok)
		assert.Equal(t, i, idx)
		assert.Equal(t, string(rune('a'+i)), step)
		require.NoError(t, run.RecordResult(res, start.Add(time.Second)))
		assert.Equal(t, i+1, run.Cursor())
	}

	_, _, ok := run.NextStep()
	assert.False(t, ok)
	assert.True(t, run.Completed())

	rep := run.Snapshot()
	require.NoError(t, rep.Validate())
	assert.Equal(t, []string{"ok a", "boom b", "ok c"}, rep.Texts())
	assert.Equal(t, 1, rep.Failures())
	assert.Equal(t, time.Second, rep.Duration)
}

func TestWorkflowRunEmptyPlanCompletes(t *testing.T) {
	run := NewWorkflowRun("run-0", "nothing to do")
	require.NoError(t, run.BeginPlanning(time.Now()))
	require.NoError(t, run.BeginExecuting(nil, false, time.Now()))

	assert.True(t, run.Completed())
	rep := run.Snapshot()
	assert.Empty(t, rep.Results)
	assert.NotNil(t, rep.Plan)
	require.NoError(t, rep.Validate())
}

func TestWorkflowRunRejectsOutOfOrder(t *testing.T) {
	run := NewWorkflowRun("run-x", "objective")
	err := run.BeginExecuting([]string{"a"}, false, time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	err = run.RecordResult(Success("x"), time.Now())
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	require.NoError(t, run.BeginPlanning(time.Now()))
	assert.True(t, errors.Is(run.BeginPlanning(time.Now()), ErrInvalidTransition))

	require.NoError(t, run.BeginExecuting([]string{"a"}, false, time.Now()))
	require.NoError(t, run.RecordResult(Success("x"), time.Now()))
	assert.True(t, errors.Is(run.RecordResult(Success("y"), time.Now()), ErrInvalidTransition))
	assert.Len(t, run.Snapshot().Results, 1)
}

func TestWorkflowRunCopiesPlan(t *testing.T) {
	plan := []string{"a"}
	run := NewWorkflowRun("run-c", "objective")
	require.NoError(t, run.BeginPlanning(time.Now()))
	require.NoError(t, run.BeginExecuting(plan, true, time.Now()))
	plan[0] = "mutated"

	_, step, _ := run.NextStep()
	assert.Equal(t, "a", step)
	assert.True(t, run.Snapshot().Degraded)
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Failure("Failed to execute task: timeout"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"output":"Failed to execute task: timeout"}`, string(data))

	var r Result
	require.NoError(t, json.Unmarshal([]byte(`{"success":true,"output":"done"}`), &r))
	assert.True(t, r.OK())
	assert.Equal(t, "done", r.String())
}
