package agents

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/state"
	"github.com/Kocoro-lab/leadflow/internal/tools"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

// FailurePrefix starts the text of every step the executor could not carry out.
const FailurePrefix = "Failed to execute task: "

const executorSystemPrompt = `You are an execution agent that carries out specific tasks using available tools.
You should execute tasks precisely and report the results clearly.

Always use the appropriate tool when available rather than trying to simulate the action.`

// ToolRunner runs a tool-augmented conversation to completion.
type ToolRunner interface {
	RunWithTools(ctx context.Context, system, input string, registry *tools.Registry) (string, []tools.Call, error)
}

// Executor carries out one plan step with the registered tools.
type Executor struct {
	runner   ToolRunner
	registry *tools.Registry
	logger   *zap.Logger
}

func NewExecutor(runner ToolRunner, registry *tools.Registry, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{runner: runner, registry: registry, logger: logger}
}

// Execute never fails: errors become failure-tagged results. A step whose
// last tool call failed is a failure even when the model answered.
func (e *Executor) Execute(ctx context.Context, step string) (res state.Result) {
	ctx, span := tracing.StartSpan(ctx, "executor.execute", attribute.String("step", step))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return state.Failure(FailurePrefix + err.Error())
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			tracing.Fail(span, err)
			e.logger.Error("Executor panicked", zap.Any("panic", r))
			res = state.Failure(FailurePrefix + err.Error())
		}
	}()

	output, calls, err := e.runner.RunWithTools(ctx, executorSystemPrompt, step, e.registry)
	if err != nil {
		tracing.Fail(span, err)
		return state.Failure(FailurePrefix + err.Error())
	}

	if n := len(calls); n > 0 {
		last := calls[n-1].Result
		if !last.OK() {
			tracing.Fail(span, errors.New(last.Text))
			if output != "" {
				return state.Failure(output)
			}
			return last
		}
		if output == "" {
			return last
		}
	}
	return state.Success(output)
}
