package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/circuitbreaker"
)

const defaultCheckTimeout = 5 * time.Second

// slowThreshold marks a reachable dependency as degraded.
const slowThreshold = 250 * time.Millisecond

// RedisHealthChecker checks Redis connectivity
type RedisHealthChecker struct {
	client  redis.UniversalClient
	logger  *zap.Logger
	timeout time.Duration
}

// NewRedisHealthChecker creates a Redis health checker
func NewRedisHealthChecker(client redis.UniversalClient, logger *zap.Logger) *RedisHealthChecker {
	return &RedisHealthChecker{client: client, logger: logger, timeout: defaultCheckTimeout}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := r.client.Ping(ctx).Err()
	return latencyResult("Redis", time.Since(start), err)
}

// PingHealthChecker wraps any dependency that exposes a Ping.
type PingHealthChecker struct {
	name     string
	critical bool
	ping     func(context.Context) error
}

func NewPingHealthChecker(name string, critical bool, ping func(context.Context) error) *PingHealthChecker {
	return &PingHealthChecker{name: name, critical: critical, ping: ping}
}

func (p *PingHealthChecker) Name() string           { return p.name }
func (p *PingHealthChecker) IsCritical() bool       { return p.critical }
func (p *PingHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (p *PingHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	err := p.ping(ctx)
	return latencyResult(p.name, time.Since(start), err)
}

// HTTPHealthChecker probes a peer service's health endpoint.
type HTTPHealthChecker struct {
	name     string
	url      string
	client   circuitbreaker.Doer
	critical bool
}

// NewHTTPHealthChecker checks url with GET. A nil client uses http.DefaultClient.
func NewHTTPHealthChecker(name, url string, client circuitbreaker.Doer, critical bool) *HTTPHealthChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPHealthChecker{name: name, url: url, client: client, critical: critical}
}

func (h *HTTPHealthChecker) Name() string           { return h.name }
func (h *HTTPHealthChecker) IsCritical() bool       { return h.critical }
func (h *HTTPHealthChecker) Timeout() time.Duration { return defaultCheckTimeout }

func (h *HTTPHealthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return latencyResult(h.name, 0, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return latencyResult(h.name, time.Since(start), err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err = fmt.Errorf("status %d", resp.StatusCode)
	}
	result := latencyResult(h.name, time.Since(start), err)
	if result.Details == nil {
		result.Details = map[string]any{}
	}
	result.Details["url"] = h.url
	return result
}

// BreakerHealthChecker reports open circuit breakers as degraded.
type BreakerHealthChecker struct {
	collector *circuitbreaker.MetricsCollector
}

func NewBreakerHealthChecker(collector *circuitbreaker.MetricsCollector) *BreakerHealthChecker {
	return &BreakerHealthChecker{collector: collector}
}

func (b *BreakerHealthChecker) Name() string           { return "circuit_breakers" }
func (b *BreakerHealthChecker) IsCritical() bool       { return false }
func (b *BreakerHealthChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerHealthChecker) Check(context.Context) CheckResult {
	states := b.collector.States()
	details := make(map[string]any, len(states))
	var open []string
	for name, st := range states {
		details[name] = st.String()
		if st == circuitbreaker.StateOpen {
			open = append(open, name)
		}
	}
	if len(open) > 0 {
		sort.Strings(open)
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("circuit breaker open: %v", open),
			Details: details,
		}
	}
	return CheckResult{Status: StatusHealthy, Message: "all circuit breakers closed", Details: details}
}

// CustomHealthChecker allows for custom health check logic
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

// NewCustomHealthChecker creates a custom health checker
func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}

func latencyResult(component string, latency time.Duration, err error) CheckResult {
	details := map[string]any{"latency_ms": latency.Milliseconds()}
	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   err.Error(),
			Message: component + " check failed",
			Details: details,
		}
	}
	if latency > slowThreshold {
		return CheckResult{Status: StatusDegraded, Message: component + " responding with high latency", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: component + " healthy", Details: details}
}
