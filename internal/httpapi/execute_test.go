package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/leadflow/internal/agents"
	"github.com/Kocoro-lab/leadflow/internal/state"
	"github.com/Kocoro-lab/leadflow/internal/workflows"
)

type stubRunner struct {
	report state.Report
	err    error
	calls  int
}

func (s *stubRunner) Run(_ context.Context, objective string) (state.Report, error) {
	s.calls++
	if s.err != nil {
		return state.Report{}, s.err
	}
	rep := s.report
	rep.Objective = objective
	return rep, nil
}

func serve(t *testing.T, runner Runner, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	h := NewExecuteHandler(runner, 0, zaptest.NewLogger(t))
	h.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body)))
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func TestExecuteScenarioA(t *testing.T) {
	runner := &stubRunner{report: state.Report{
		RunID:     "run-1",
		Plan:      []string{"create_zoho_lead"},
		Results:   []state.Result{state.Success("Successfully created Zoho lead: {...}")},
		Completed: true,
	}}

	rec, body := serve(t, runner, `{"objective":"onboard new customer"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "onboard new customer", body["objective"])
	assert.Equal(t, []any{"create_zoho_lead"}, body["plan"])
	assert.Equal(t, []any{"Successfully created Zoho lead: {...}"}, body["results"])
	assert.Equal(t, true, body["completed"])
	assert.Equal(t, "run-1", body["run_id"])
	assert.Equal(t, "2024-01-01T00:00:00Z", body["timestamp"])

	steps := body["step_results"].([]any)
	require.Len(t, steps, 1)
	assert.Equal(t, true, steps[0].(map[string]any)["success"])
}

func TestExecuteEmptyPlanSerializesEmptyArrays(t *testing.T) {
	rec, body := serve(t, &stubRunner{report: state.Report{Completed: true}}, `{"objective":"nothing"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, body["plan"])
	assert.Equal(t, []any{}, body["results"])
	assert.Equal(t, []any{}, body["step_results"])
}

func TestExecuteMissingObjective(t *testing.T) {
	for _, payload := range []string{``, `{}`, `{"objective":"  "}`, `not json`} {
		runner := &stubRunner{}
		rec, body := serve(t, runner, payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
		assert.Equal(t, "Objective is required", body["error"])
		assert.Zero(t, runner.calls)
	}
}

func TestExecuteFailure(t *testing.T) {
	rec, body := serve(t, &stubRunner{err: errors.New("planner exploded")}, `{"objective":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Workflow execution failed", body["error"])
	assert.Equal(t, "planner exploded", body["message"])
}

type onePlanner struct{}

func (onePlanner) Plan(context.Context, string) agents.Plan {
	return agents.Plan{Steps: []string{"create_zoho_lead"}}
}

type okExecutor struct{}

func (okExecutor) Execute(_ context.Context, step string) state.Result {
	return state.Success("done: " + step)
}

func TestExecuteEchoesObjectiveAsPosted(t *testing.T) {
	engine := workflows.NewEngine(onePlanner{}, okExecutor{}, zaptest.NewLogger(t))
	rec, body := serve(t, engine, `{"objective":"  onboard new customer "}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "  onboard new customer ", body["objective"])
	assert.Equal(t, []any{"done: create_zoho_lead"}, body["results"])
}
