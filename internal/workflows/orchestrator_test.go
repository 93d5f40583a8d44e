package workflows

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/leadflow/internal/agents"
	"github.com/Kocoro-lab/leadflow/internal/state"
)

type fixedPlanner struct {
	plan   agents.Plan
	panics bool
	calls  atomic.Int32
}

func (p *fixedPlanner) Plan(context.Context, string) agents.Plan {
	p.calls.Add(1)
	if p.panics {
		panic("planner down")
	}
	return p.plan
}

// scriptedExecutor returns results by step text and records call order.
type scriptedExecutor struct {
	mu      sync.Mutex
	results map[string]state.Result
	panicOn string
	order   []string
	active  int
	maxSeen int
}

func (e *scriptedExecutor) Execute(_ context.Context, step string) state.Result {
	e.mu.Lock()
	e.order = append(e.order, step)
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if step == e.panicOn {
		panic("executor down")
	}
	if res, ok := e.results[step]; ok {
		return res
	}
	return state.Success("done: " + step)
}

func TestRunScenarioA(t *testing.T) {
	planner := &fixedPlanner{plan: agents.Plan{Steps: []string{"create_zoho_lead"}}}
	executor := &scriptedExecutor{results: map[string]state.Result{
		"create_zoho_lead": state.Success("Successfully created Zoho lead: {...}"),
	}}

	o := NewOrchestrator(planner, executor, zaptest.NewLogger(t), WithRunID("run-a"))
	report, err := o.Run(context.Background(), "onboard new customer")
	require.NoError(t, err)

	assert.Equal(t, "run-a", report.RunID)
	assert.Equal(t, "onboard new customer", report.Objective)
	assert.Equal(t, []string{"create_zoho_lead"}, report.Plan)
	assert.Equal(t, []string{"Successfully created Zoho lead: {...}"}, report.Texts())
	assert.True(t, report.Completed)
	assert.False(t, report.Degraded)
	require.NoError(t, report.Validate())
}

func TestRunEmptyPlan(t *testing.T) {
	executor := &scriptedExecutor{}
	o := NewOrchestrator(&fixedPlanner{plan: agents.Plan{Steps: []string{}}}, executor, zaptest.NewLogger(t))

	report, err := o.Run(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.True(t, report.Completed)
	assert.Empty(t, executor.order)
}

func TestRunPartialFailure(t *testing.T) {
	planner := &fixedPlanner{plan: agents.Plan{Steps: []string{"one", "two", "three"}}}
	executor := &scriptedExecutor{results: map[string]state.Result{
		"two": state.Failure("Failed to execute task: boom"),
	}}

	report, err := NewOrchestrator(planner, executor, zaptest.NewLogger(t)).Run(context.Background(), "objective")
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.True(t, report.Results[0].OK())
	assert.False(t, report.Results[1].OK())
	assert.True(t, report.Results[2].OK())
	assert.Equal(t, "done: three", report.Results[2].Text)
	assert.True(t, report.Completed)
	assert.Equal(t, 1, report.Failures())
}

func TestRunExecutorPanicIsStepFailure(t *testing.T) {
	planner := &fixedPlanner{plan: agents.Plan{Steps: []string{"one", "two", "three"}}}
	executor := &scriptedExecutor{panicOn: "two"}

	report, err := NewOrchestrator(planner, executor, zaptest.NewLogger(t)).Run(context.Background(), "objective")
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, "Failed to execute task: executor down", report.Results[1].Text)
	assert.True(t, report.Results[2].OK())
}

func TestRunPlannerPanicDegrades(t *testing.T) {
	executor := &scriptedExecutor{}
	report, err := NewOrchestrator(&fixedPlanner{panics: true}, executor, zaptest.NewLogger(t)).
		Run(context.Background(), "onboard new customer")
	require.NoError(t, err)
	assert.True(t, report.Degraded)
	assert.Equal(t, []string{"Execute objective: onboard new customer"}, report.Plan)
	assert.Len(t, report.Results, 1)
}

func TestRunIsSequentialAndOrdered(t *testing.T) {
	steps := make([]string, 20)
	for i := range steps {
		steps[i] = fmt.Sprintf("step-%02d", i)
	}
	executor := &scriptedExecutor{}
	report, err := NewOrchestrator(&fixedPlanner{plan: agents.Plan{Steps: steps}}, executor, zaptest.NewLogger(t)).
		Run(context.Background(), "objective")
	require.NoError(t, err)

	assert.Equal(t, steps, executor.order)
	assert.Equal(t, 1, executor.maxSeen)
	for i, res := range report.Results {
		assert.Equal(t, "done: "+steps[i], res.Text)
	}
}

func TestRunCancelledContextStillCompletes(t *testing.T) {
	executor := &scriptedExecutor{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewOrchestrator(&fixedPlanner{plan: agents.Plan{Steps: []string{"a", "b"}}}, executor, zaptest.NewLogger(t)).
		Run(ctx, "objective")
	require.NoError(t, err)
	assert.True(t, report.Completed)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.False(t, res.OK())
		assert.Equal(t, "Failed to execute task: context canceled", res.Text)
	}
	assert.Empty(t, executor.order)
}

func TestRunOnlyOnce(t *testing.T) {
	planner := &fixedPlanner{plan: agents.Plan{Steps: []string{"a"}}}
	o := NewOrchestrator(planner, &scriptedExecutor{}, zaptest.NewLogger(t))

	_, err := o.Run(context.Background(), "objective")
	require.NoError(t, err)
	_, err = o.Run(context.Background(), "objective")
	assert.ErrorIs(t, err, ErrAlreadyRun)
	assert.Equal(t, int32(1), planner.calls.Load())
}

func TestRunRejectsBlankObjective(t *testing.T) {
	planner := &fixedPlanner{}
	o := NewOrchestrator(planner, &scriptedExecutor{}, zaptest.NewLogger(t))
	_, err := o.Run(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyObjective)
	assert.Equal(t, int32(0), planner.calls.Load())

	// A rejected objective does not consume the instance.
	_, err = o.Run(context.Background(), "real objective")
	assert.NoError(t, err)
}

func TestRunKeepsObjectiveAsGiven(t *testing.T) {
	planner := &fixedPlanner{panics: true}
	report, err := NewOrchestrator(planner, &scriptedExecutor{}, zaptest.NewLogger(t)).
		Run(context.Background(), "  onboard new customer\n")
	require.NoError(t, err)
	assert.Equal(t, "  onboard new customer\n", report.Objective)
	assert.Equal(t, []string{"Execute objective:   onboard new customer\n"}, report.Plan)
}

func TestEngineRunsConcurrently(t *testing.T) {
	planner := &fixedPlanner{plan: agents.Plan{Steps: []string{"a", "b"}}}
	engine := NewEngine(planner, &scriptedExecutor{}, zaptest.NewLogger(t))

	var wg sync.WaitGroup
	reports := make([]state.Report, 8)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rep, err := engine.Run(context.Background(), fmt.Sprintf("objective %d", i))
			assert.NoError(t, err)
			reports[i] = rep
		}(i)
	}
	wg.Wait()

	ids := map[string]bool{}
	for i, rep := range reports {
		assert.Equal(t, fmt.Sprintf("objective %d", i), rep.Objective)
		assert.Len(t, rep.Results, 2)
		ids[rep.RunID] = true
	}
	assert.Len(t, ids, len(reports))
}
