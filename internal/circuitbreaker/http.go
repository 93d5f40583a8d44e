package circuitbreaker

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Doer is the subset of *http.Client used by HTTPClient.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient sends requests through a Breaker. Transport errors and 5xx
// responses count as failures; a 5xx response is still returned to the caller.
type HTTPClient struct {
	client  Doer
	breaker *Breaker
	service string
}

// NewHTTPClient wraps client with a breaker named name and registers it for metrics.
func NewHTTPClient(client Doer, name, service string, config Config, logger *zap.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	b := New(name, GlobalMetricsCollector.Observe(name, service, config), logger)
	GlobalMetricsCollector.Register(name, service, b)
	return &HTTPClient{client: client, breaker: b, service: service}
}

// Breaker exposes the underlying breaker.
func (c *HTTPClient) Breaker() *Breaker { return c.breaker }

func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := c.breaker.Execute(req.Context(), func() error {
		var err error
		resp, err = c.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return &statusError{code: resp.StatusCode}
		}
		return nil
	})

	GlobalMetricsCollector.RecordRequest(c.breaker.Name(), c.service, c.breaker.State(), err == nil)

	if _, ok := err.(*statusError); ok {
		return resp, nil
	}
	return resp, err
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("upstream status %d", e.code) }
