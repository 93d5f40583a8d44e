package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/state"
	"github.com/Kocoro-lab/leadflow/internal/workflows"
)

// Runner executes one workflow run.
type Runner interface {
	Run(ctx context.Context, objective string) (state.Report, error)
}

// ExecuteHandler serves POST /execute.
type ExecuteHandler struct {
	runner  Runner
	maxBody int64
	logger  *zap.Logger
	now     func() time.Time
}

// NewExecuteHandler creates a new execute handler
func NewExecuteHandler(runner Runner, maxBody int64, logger *zap.Logger) *ExecuteHandler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &ExecuteHandler{runner: runner, maxBody: maxBody, logger: logger, now: time.Now}
}

// RegisterRoutes registers the workflow endpoint
func (h *ExecuteHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /execute", h.Execute)
}

type executeRequest struct {
	Objective string `json:"objective"`
}

// ExecuteResponse is the body of a finished run. Results carries the step
// texts in plan order; StepResults carries the same outcomes with their kind.
type ExecuteResponse struct {
	Success     bool           `json:"success"`
	RunID       string         `json:"run_id"`
	Objective   string         `json:"objective"`
	Plan        []string       `json:"plan"`
	Results     []string       `json:"results"`
	StepResults []state.Result `json:"step_results"`
	Completed   bool           `json:"completed"`
	Degraded    bool           `json:"degraded"`
	Timestamp   string         `json:"timestamp"`
}

// Execute runs the workflow for the posted objective and returns the report.
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, &req)
	}
	if err != nil || strings.TrimSpace(req.Objective) == "" {
		if err != nil {
			h.logger.Debug("Invalid execute request", zap.Error(err))
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Objective is required"})
		return
	}

	report, err := h.runner.Run(r.Context(), req.Objective)
	if errors.Is(err, workflows.ErrEmptyObjective) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Objective is required"})
		return
	}
	if err != nil {
		h.logger.Error("Workflow execution error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   "Workflow execution failed",
			"message": err.Error(),
		})
		return
	}

	stepResults := report.Results
	if stepResults == nil {
		stepResults = []state.Result{}
	}
	writeJSON(w, http.StatusOK, ExecuteResponse{
		Success:     true,
		RunID:       report.RunID,
		Objective:   report.Objective,
		Plan:        nonNil(report.Plan),
		Results:     nonNil(report.Texts()),
		StepResults: stepResults,
		Completed:   report.Completed,
		Degraded:    report.Degraded,
		Timestamp:   h.now().UTC().Format(time.RFC3339Nano),
	})
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
