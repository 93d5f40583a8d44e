// Package relay forwards validated leads to the CRM webhook.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/circuitbreaker"
	"github.com/Kocoro-lab/leadflow/internal/config"
	"github.com/Kocoro-lab/leadflow/internal/metrics"
	"github.com/Kocoro-lab/leadflow/internal/signing"
	"github.com/Kocoro-lab/leadflow/internal/tools"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

const (
	// Source tags every relayed lead.
	Source = "multi-agent-automation"

	HeaderIdempotencyKey = "X-Idempotency-Key"

	defaultTimeout = 10 * time.Second
)

// ErrNotConfigured is returned when the webhook URL or secret is missing.
var ErrNotConfigured = fmt.Errorf("%w: webhook configuration not available", config.ErrConfig)

// Payload is the body posted to the webhook.
type Payload struct {
	tools.LeadRequest
	Timestamp      string `json:"timestamp"`
	IdempotencyKey string `json:"idempotencyKey"`
	Source         string `json:"source"`
}

// Delivery is the outcome of a successful relay.
type Delivery struct {
	IdempotencyKey string
	Status         int
	Body           []byte
}

// Error is a transport failure or non-2xx webhook response. Status is zero
// when no response was received.
type Error struct {
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("Request failed with status code %d", e.Status)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Client posts signed lead payloads to the webhook.
type Client struct {
	url     string
	secret  string
	http    circuitbreaker.Doer
	timeout time.Duration
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(d circuitbreaker.Doer) Option { return func(c *Client) { c.http = d } }
func WithClock(now func() time.Time) Option       { return func(c *Client) { c.now = now } }
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient creates a Client from the resolved secrets.
func NewClient(secrets config.Secrets, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:     secrets.WebhookURL,
		secret:  secrets.WebhookSecret,
		timeout: defaultTimeout,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = circuitbreaker.NewHTTPClient(&http.Client{}, "crm-webhook", "toolserver",
			circuitbreaker.ConfigFromEnv("webhook"), logger)
	}
	return c
}

// Configured reports whether Send can be used.
func (c *Client) Configured() bool { return c.url != "" && c.secret != "" }

// Send relays lead under idempotencyKey. The payload is serialized once and
// the same bytes are signed and sent.
func (c *Client) Send(ctx context.Context, lead tools.LeadRequest, idempotencyKey string) (Delivery, error) {
	if !c.Configured() {
		return Delivery{}, ErrNotConfigured
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, c.url)
	defer span.End()

	body, err := json.Marshal(Payload{
		LeadRequest:    lead,
		Timestamp:      c.now().UTC().Format(time.RFC3339Nano),
		IdempotencyKey: idempotencyKey,
		Source:         Source,
	})
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal webhook payload: %w", err)
	}
	signature, err := signing.SignBody(body, c.secret)
	if err != nil {
		return Delivery{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Delivery{}, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", signature)
	req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		tracing.Fail(span, err)
		metrics.LeadRelays.WithLabelValues("error").Inc()
		c.logger.Warn("Webhook relay failed", zap.String("idempotency_key", idempotencyKey), zap.Error(err))
		return Delivery{}, &Error{Err: err}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &Error{Status: resp.StatusCode, Err: fmt.Errorf("webhook returned %d", resp.StatusCode)}
		tracing.Fail(span, err)
		metrics.LeadRelays.WithLabelValues("rejected").Inc()
		c.logger.Warn("Webhook rejected lead",
			zap.String("idempotency_key", idempotencyKey),
			zap.Int("status", resp.StatusCode),
		)
		return Delivery{}, err
	}

	metrics.LeadRelays.WithLabelValues("delivered").Inc()
	c.logger.Info("Lead relayed",
		zap.String("idempotency_key", idempotencyKey),
		zap.Int("status", resp.StatusCode),
	)
	return Delivery{IdempotencyKey: idempotencyKey, Status: resp.StatusCode, Body: respBody}, nil
}
