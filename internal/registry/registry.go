// Package registry assembles the agent side: language model client, signed
// tool invoker, tool registry, planner, executor and workflow engine.
package registry

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/agents"
	"github.com/Kocoro-lab/leadflow/internal/circuitbreaker"
	"github.com/Kocoro-lab/leadflow/internal/config"
	"github.com/Kocoro-lab/leadflow/internal/health"
	"github.com/Kocoro-lab/leadflow/internal/llm"
	"github.com/Kocoro-lab/leadflow/internal/tools"
	"github.com/Kocoro-lab/leadflow/internal/workflows"
)

// Agent holds the wired components of one agent process.
type Agent struct {
	LLM      *llm.Client
	Invoker  *tools.Invoker
	Tools    *tools.Registry
	Planner  *agents.Planner
	Executor *agents.Executor
	Engine   *workflows.Engine

	toolServiceURL string
}

// Option adjusts how the agent is assembled.
type Option func(*options)

type options struct {
	invokerOpts []tools.InvokerOption
}

// WithInvokerOptions passes opts to the tool invoker.
func WithInvokerOptions(opts ...tools.InvokerOption) Option {
	return func(o *options) { o.invokerOpts = append(o.invokerOpts, opts...) }
}

// NewAgent wires the agent from cfg. The HMAC secret and tool service URL
// are required.
func NewAgent(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ToolService.BaseURL == "" {
		return nil, fmt.Errorf("%w: tool service base URL is required", config.ErrConfig)
	}
	if cfg.Secrets.HMACSecret == "" {
		return nil, fmt.Errorf("%w: HMAC secret is required", config.ErrConfig)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	client := llm.New(llm.Config{
		APIKey:        cfg.LLM.APIKey,
		BaseURL:       cfg.LLM.BaseURL,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		Timeout:       cfg.LLM.Timeout,
		MaxToolRounds: cfg.LLM.MaxToolRounds,
	}, logger.Named("llm"))

	invokerOpts := append([]tools.InvokerOption{tools.WithTimeout(cfg.ToolService.Timeout)}, o.invokerOpts...)
	invoker := tools.NewInvoker(cfg.ToolService.BaseURL, cfg.Secrets.HMACSecret, logger.Named("tools"), invokerOpts...)

	reg := tools.NewRegistry()
	if err := reg.Register(tools.NewCreateLeadTool(invoker)); err != nil {
		return nil, err
	}

	planner := agents.NewPlanner(client, agents.ToolInfos(reg), logger.Named("planner"))
	executor := agents.NewExecutor(client, reg, logger.Named("executor"))

	logger.Info("Agent assembled",
		zap.String("model", cfg.LLM.Model),
		zap.String("tool_service", cfg.ToolService.BaseURL),
		zap.Int("tools", len(reg.List())),
	)

	return &Agent{
		LLM:            client,
		Invoker:        invoker,
		Tools:          reg,
		Planner:        planner,
		Executor:       executor,
		Engine:         workflows.NewEngine(planner, executor, logger.Named("workflow")),
		toolServiceURL: strings.TrimRight(cfg.ToolService.BaseURL, "/"),
	}, nil
}

// RegisterHealthChecks adds the agent's dependency checks to m.
func (a *Agent) RegisterHealthChecks(m *health.Manager) error {
	if err := m.RegisterChecker(health.NewHTTPHealthChecker("tool_service", a.toolServiceURL+"/health", nil, false)); err != nil {
		return err
	}
	return m.RegisterChecker(health.NewBreakerHealthChecker(circuitbreaker.GlobalMetricsCollector))
}
