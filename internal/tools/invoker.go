package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/auth"
	"github.com/Kocoro-lab/leadflow/internal/circuitbreaker"
	"github.com/Kocoro-lab/leadflow/internal/metrics"
	"github.com/Kocoro-lab/leadflow/internal/signing"
	"github.com/Kocoro-lab/leadflow/internal/state"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

// ErrToolInvocation matches transport failures and non-2xx tool responses.
var ErrToolInvocation = errors.New("tool invocation failed")

// InvocationError is a failed tool call. StatusCode is zero for transport errors.
type InvocationError struct {
	StatusCode int
	Err        error
	msg        string
}

func (e *InvocationError) Error() string { return e.msg }

func (e *InvocationError) Unwrap() error { return e.Err }

func (e *InvocationError) Is(target error) bool { return target == ErrToolInvocation }

func invocationErrorf(status int, format string, args ...any) error {
	return &InvocationError{StatusCode: status, msg: fmt.Sprintf(format, args...)}
}

// DefaultInvokeTimeout bounds one signed tool call.
const DefaultInvokeTimeout = 10 * time.Second

const maxResponseBytes = 1 << 20

// Invoker sends signed POST requests to the tool service.
type Invoker struct {
	baseURL string
	secret  string
	client  circuitbreaker.Doer
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithHTTPClient replaces the default breaker-wrapped client.
func WithHTTPClient(c circuitbreaker.Doer) InvokerOption {
	return func(i *Invoker) { i.client = c }
}

// WithTimeout overrides DefaultInvokeTimeout.
func WithTimeout(d time.Duration) InvokerOption {
	return func(i *Invoker) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithInvokerClock replaces time.Now for request timestamps.
func WithInvokerClock(now func() time.Time) InvokerOption {
	return func(i *Invoker) { i.now = now }
}

// NewInvoker creates an Invoker for the tool service at baseURL.
func NewInvoker(baseURL, secret string, logger *zap.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Invoker{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		timeout: DefaultInvokeTimeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = circuitbreaker.NewHTTPClient(&http.Client{}, "tool-service", "agent",
			circuitbreaker.ConfigFromEnv("tools"), logger)
	}
	return i
}

// Invoke serializes payload once, signs it and posts it to endpointPath. The
// outcome is always a Result: the response body on 2xx, a readable failure
// message otherwise.
func (i *Invoker) Invoke(ctx context.Context, endpointPath string, payload any) state.Result {
	body, err := json.Marshal(payload)
	if err != nil {
		return state.Failuref("serialize payload: %v", err)
	}
	out, err := i.Call(ctx, endpointPath, body)
	if err != nil {
		return state.Failure(err.Error())
	}
	return state.Success(out)
}

// Call posts already-serialized bytes and returns the compacted response body.
// Failures match ErrToolInvocation, or config.ErrConfig when no secret is set.
func (i *Invoker) Call(ctx context.Context, endpointPath string, body []byte) (string, error) {
	tool := path.Base(endpointPath)
	start := time.Now()

	ctx, span := tracing.StartSpan(ctx, "tool.invoke", attribute.String("tool", tool))
	defer span.End()

	out, err := i.call(ctx, endpointPath, body)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		tracing.Fail(span, err)
		i.logger.Warn("Tool invocation failed",
			zap.String("tool", tool),
			zap.Error(err),
		)
	}
	metrics.RecordToolInvocation(tool, outcome, time.Since(start).Seconds())
	return out, err
}

func (i *Invoker) call(ctx context.Context, endpointPath string, body []byte) (string, error) {
	env, err := signing.SealBytes(body, i.secret, i.now())
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	url := i.baseURL + "/" + strings.TrimLeft(endpointPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(env.Body))
	if err != nil {
		return "", invocationErrorf(0, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderSignature, env.Signature)
	req.Header.Set(auth.HeaderTimestamp, env.Timestamp)
	tracing.InjectTraceparent(ctx, req)

	resp, err := i.client.Do(req)
	if err != nil {
		return "", &InvocationError{Err: err, msg: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", invocationErrorf(resp.StatusCode, "read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", invocationErrorf(resp.StatusCode, "request failed with status code %d: %s",
			resp.StatusCode, snippet(raw))
	}
	return compact(raw), nil
}

func compact(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return strings.TrimSpace(string(raw))
}

func snippet(raw []byte) string {
	s := compact(raw)
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}
