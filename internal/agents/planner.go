// Package agents holds the planning and execution agents. Both delegate to an
// external language model and never return errors to the orchestrator.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/metrics"
	"github.com/Kocoro-lab/leadflow/internal/tools"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

// TextGenerator produces text for a prompt.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ToolInfo is what the planner tells the model about one tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ToolInfos describes every tool in registry.
func ToolInfos(registry *tools.Registry) []ToolInfo {
	var out []ToolInfo
	for _, t := range registry.List() {
		out = append(out, ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	return out
}

// Plan is an ordered list of steps. Degraded marks the single-step fallback.
type Plan struct {
	Steps    []string
	Degraded bool
}

// FallbackStep is the one step of a degraded plan.
func FallbackStep(objective string) string {
	return "Execute objective: " + objective
}

// Planner turns an objective into a Plan.
type Planner struct {
	gen    TextGenerator
	tools  []ToolInfo
	logger *zap.Logger
}

func NewPlanner(gen TextGenerator, toolset []ToolInfo, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{gen: gen, tools: toolset, logger: logger}
}

// Plan asks the model for steps. Generation errors, empty replies and
// unparseable replies all yield the degraded single-step plan.
func (p *Planner) Plan(ctx context.Context, objective string) Plan {
	ctx, span := tracing.StartSpan(ctx, "planner.plan")
	defer span.End()

	text, err := p.generate(ctx, p.prompt(objective))
	if err != nil {
		tracing.Fail(span, err)
		p.logger.Warn("Planning failed, using fallback plan", zap.Error(err))
		return p.degraded(objective)
	}

	steps, ok := ParsePlan(text)
	if !ok {
		p.logger.Warn("Planner reply unparseable, using fallback plan", zap.Int("reply_len", len(text)))
		return p.degraded(objective)
	}
	span.SetAttributes(attribute.Int("plan.steps", len(steps)))
	return Plan{Steps: steps}
}

func (p *Planner) generate(ctx context.Context, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("text generation panicked: %v", r)
		}
	}()
	return p.gen.Generate(ctx, prompt)
}

func (p *Planner) degraded(objective string) Plan {
	metrics.PlanDegraded.Inc()
	return Plan{Steps: []string{FallbackStep(objective)}, Degraded: true}
}

func (p *Planner) prompt(objective string) string {
	var b strings.Builder
	b.WriteString("You are a planning agent for business automation tasks.\n")
	b.WriteString("Given an objective, break it down into actionable steps.\n\n")
	b.WriteString("Available tools:\n")
	for _, t := range p.tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
	}
	fmt.Fprintf(&b, "\nObjective: %s\n\n", objective)
	b.WriteString("Please provide a step-by-step plan as a JSON array of strings.\n")
	b.WriteString("Each step should be clear and actionable.\n")
	return b.String()
}

var (
	lazyArray  = regexp.MustCompile(`\[[\s\S]*?\]`)
	enumMarker = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s*`)
)

// ParsePlan extracts steps from a model reply. A JSON array of strings is
// preferred. A reply without any bracketed literal is split into non-empty
// lines with their enumeration markers removed. ok is false when nothing
// usable was found or when a bracketed literal does not parse as a string
// array. An explicit empty JSON array is a valid plan with no steps.
func ParsePlan(text string) (steps []string, ok bool) {
	candidates := arrayCandidates(text)
	if len(candidates) > 0 {
		return parseArray(candidates)
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(enumMarker.ReplaceAllString(line, ""))
		if line != "" {
			steps = append(steps, line)
		}
	}
	return steps, len(steps) > 0
}

func arrayCandidates(text string) []string {
	var candidates []string
	if m := lazyArray.FindString(text); m != "" {
		candidates = append(candidates, m)
	}
	if first, last := strings.Index(text, "["), strings.LastIndex(text, "]"); first >= 0 && last > first {
		candidates = append(candidates, text[first:last+1])
	}
	return candidates
}

func parseArray(candidates []string) ([]string, bool) {
	for _, c := range candidates {
		var raw []string
		if err := json.Unmarshal([]byte(c), &raw); err != nil {
			continue
		}
		steps := make([]string, 0, len(raw))
		for _, s := range raw {
			if s = strings.TrimSpace(s); s != "" {
				steps = append(steps, s)
			}
		}
		return steps, true
	}
	return nil, false
}
