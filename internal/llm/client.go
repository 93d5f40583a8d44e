// Package llm adapts an OpenAI-compatible chat completion API to the text
// generation and tool-calling capabilities used by the planner and executor.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/metrics"
	"github.com/Kocoro-lab/leadflow/internal/tools"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

var (
	// ErrEmptyResponse is returned when the model produced no choices.
	ErrEmptyResponse = errors.New("empty model response")
	// ErrToolRoundsExceeded is returned when the model keeps requesting tools.
	ErrToolRoundsExceeded = errors.New("tool call limit reached")
)

// Config holds client settings.
type Config struct {
	APIKey        string
	BaseURL       string
	Model         string
	Temperature   float64
	Timeout       time.Duration // per completion request
	MaxToolRounds int
	MaxRetries    int
}

// Client talks to the chat completion endpoint. It is safe for concurrent use.
type Client struct {
	api         openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	maxRounds   int
	logger      *zap.Logger
}

// New creates a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT3_5Turbo)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 5
	}

	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:         openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		maxRounds:   cfg.MaxToolRounds,
		logger:      logger,
	}
}

// Generate returns the model's reply to a single user prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.generate", attribute.String("model", c.model))
	defer span.End()

	completion, err := c.complete(ctx, "generate", openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
	})
	if err != nil {
		tracing.Fail(span, err)
		return "", err
	}
	return completion.Choices[0].Message.Content, nil
}

// RunWithTools lets the model call tools from registry until it answers in
// text or MaxToolRounds is exhausted. Tool failures are fed back to the model
// as tool output; they do not end the run.
func (c *Client) RunWithTools(ctx context.Context, system, input string, registry *tools.Registry) (string, []tools.Call, error) {
	ctx, span := tracing.StartSpan(ctx, "llm.run_with_tools", attribute.String("model", c.model))
	defer span.End()

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(input),
		},
		Tools: toolParams(registry),
	}

	var calls []tools.Call
	for round := 0; round < c.maxRounds; round++ {
		completion, err := c.complete(ctx, "run_with_tools", params)
		if err != nil {
			tracing.Fail(span, err)
			return "", calls, err
		}

		msg := completion.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, calls, nil
		}

		params.Messages = append(params.Messages, msg.ToParam())
		for _, tc := range msg.ToolCalls {
			args := json.RawMessage(tc.Function.Arguments)
			res := registry.Invoke(ctx, tc.Function.Name, args)
			c.logger.Debug("Tool call finished",
				zap.String("tool", tc.Function.Name),
				zap.Int("round", round),
				zap.Bool("success", res.OK()),
			)
			calls = append(calls, tools.Call{ID: tc.ID, Name: tc.Function.Name, Arguments: args, Result: res})
			params.Messages = append(params.Messages, openai.ToolMessage(res.Text, tc.ID))
		}
	}

	tracing.Fail(span, ErrToolRoundsExceeded)
	return "", calls, fmt.Errorf("%w after %d rounds", ErrToolRoundsExceeded, c.maxRounds)
}

func (c *Client) complete(ctx context.Context, operation string, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	params.Model = openai.ChatModel(c.model)
	params.Temperature = openai.Float(c.temperature)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	completion, err := c.api.Chat.Completions.New(ctx, params)
	status := "success"
	if err == nil && len(completion.Choices) == 0 {
		err = ErrEmptyResponse
	}
	if err != nil {
		status = "error"
	}
	metrics.RecordLLMRequest(operation, status, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	return completion, nil
}

func toolParams(registry *tools.Registry) []openai.ChatCompletionToolParam {
	if registry == nil {
		return nil
	}
	var out []openai.ChatCompletionToolParam
	for _, t := range registry.List() {
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name(),
				Description: openai.String(t.Description()),
				Parameters:  openai.FunctionParameters(t.Parameters()),
			},
		})
	}
	return out
}
