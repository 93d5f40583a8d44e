// Package workflows sequences planning and execution for one objective.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/agents"
	"github.com/Kocoro-lab/leadflow/internal/metrics"
	"github.com/Kocoro-lab/leadflow/internal/state"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

var (
	// ErrAlreadyRun is returned by a second Run on the same Orchestrator.
	ErrAlreadyRun = errors.New("orchestrator has already run")
	// ErrEmptyObjective rejects blank objectives before any state is created.
	ErrEmptyObjective = errors.New("objective is required")
)

// StepPlanner produces a plan. It must not fail; see agents.Planner.
type StepPlanner interface {
	Plan(ctx context.Context, objective string) agents.Plan
}

// StepExecutor carries out one step. It must not fail; see agents.Executor.
type StepExecutor interface {
	Execute(ctx context.Context, step string) state.Result
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunID fixes the run identifier instead of generating a UUID.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// Orchestrator drives exactly one WorkflowRun:
// Created -> Planning -> Executing -> Completed. Steps run strictly in plan
// order, one at a time, and a failing step never stops the loop.
type Orchestrator struct {
	planner  StepPlanner
	executor StepExecutor
	logger   *zap.Logger
	now      func() time.Time
	runID    string
	used     atomic.Bool
}

func NewOrchestrator(planner StepPlanner, executor StepExecutor, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		planner:  planner,
		executor: executor,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	return o
}

// RunID identifies the run in logs and reports.
func (o *Orchestrator) RunID() string { return o.runID }

// Run plans and executes objective. A blank objective is rejected; any other
// objective is kept exactly as given. The returned report always has one
// result per planned step and Completed set. Cancelling ctx does not abort
// the loop; the remaining steps are recorded as failures.
func (o *Orchestrator) Run(ctx context.Context, objective string) (state.Report, error) {
	if strings.TrimSpace(objective) == "" {
		return state.Report{}, ErrEmptyObjective
	}
	if !o.used.CompareAndSwap(false, true) {
		return state.Report{}, ErrAlreadyRun
	}

	ctx, span := tracing.StartSpan(ctx, "workflow.run", attribute.String("run_id", o.runID))
	defer span.End()

	logger := o.logger.With(zap.String("run_id", o.runID))
	run := state.NewWorkflowRun(o.runID, objective)

	if err := run.BeginPlanning(o.now()); err != nil {
		return state.Report{}, err
	}
	logger.Info("Starting workflow", zap.String("objective", objective))

	plan := o.plan(ctx, objective, logger)
	if err := run.BeginExecuting(plan.Steps, plan.Degraded, o.now()); err != nil {
		return state.Report{}, err
	}
	logger.Info("Plan ready",
		zap.Int("steps", len(plan.Steps)),
		zap.Bool("degraded", plan.Degraded),
	)

	for {
		idx, step, ok := run.NextStep()
		if !ok {
			break
		}
		res := o.execute(ctx, idx, step, logger)
		if err := run.RecordResult(res, o.now()); err != nil {
			return state.Report{}, err
		}
	}

	report := run.Snapshot()
	status := "completed"
	if report.Failures() > 0 {
		status = "partial"
	}
	if report.Degraded {
		status = "degraded"
	}
	metrics.RecordWorkflowMetrics(status, report.Duration.Seconds(), len(report.Plan), report.Failures())
	span.SetAttributes(
		attribute.Int("plan.steps", len(report.Plan)),
		attribute.Int("plan.failures", report.Failures()),
	)
	logger.Info("Workflow completed",
		zap.String("status", status),
		zap.Int("steps", len(report.Plan)),
		zap.Int("failed_steps", report.Failures()),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (o *Orchestrator) plan(ctx context.Context, objective string, logger *zap.Logger) (plan agents.Plan) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Planner panicked", zap.Any("panic", r))
			metrics.PlanDegraded.Inc()
			plan = agents.Plan{Steps: []string{agents.FallbackStep(objective)}, Degraded: true}
		}
	}()
	return o.planner.Plan(ctx, objective)
}

func (o *Orchestrator) execute(ctx context.Context, idx int, step string, logger *zap.Logger) (res state.Result) {
	ctx, span := tracing.StartSpan(ctx, "workflow.step", attribute.Int("step", idx))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Executor panicked", zap.Int("step", idx), zap.Any("panic", r))
			res = state.Failure(agents.FailurePrefix + fmt.Sprint(r))
		}
		if !res.OK() {
			tracing.Fail(span, errors.New(res.Text))
		}
		logger.Info("Step finished",
			zap.Int("step", idx),
			zap.String("outcome", res.Kind.String()),
		)
	}()

	if err := ctx.Err(); err != nil {
		return state.Failure(agents.FailurePrefix + err.Error())
	}
	return o.executor.Execute(ctx, step)
}

// Engine creates a fresh Orchestrator per run so concurrent runs share no state.
type Engine struct {
	planner  StepPlanner
	executor StepExecutor
	logger   *zap.Logger
}

func NewEngine(planner StepPlanner, executor StepExecutor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{planner: planner, executor: executor, logger: logger}
}

// Run executes objective on a new Orchestrator.
func (e *Engine) Run(ctx context.Context, objective string) (state.Report, error) {
	return NewOrchestrator(e.planner, e.executor, e.logger).Run(ctx, objective)
}
