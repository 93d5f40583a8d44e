package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/metrics"
	"github.com/Kocoro-lab/leadflow/internal/tracing"
)

// TracingMiddleware opens a server span per request, continuing the caller's
// traceparent, and records request metrics.
type TracingMiddleware struct {
	service string
	logger  *zap.Logger
}

// NewTracingMiddleware creates a new tracing middleware
func NewTracingMiddleware(service string, logger *zap.Logger) *TracingMiddleware {
	return &TracingMiddleware{service: service, logger: logger}
}

// Middleware returns the HTTP middleware function
func (tm *TracingMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := r.Pattern
		if route == "" {
			route = r.URL.Path
		}

		ctx, span := tracing.StartServerSpan(r, route)
		defer span.End()

		if traceID := span.SpanContext().TraceID(); traceID.IsValid() {
			w.Header().Set("X-Trace-ID", traceID.String())
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			tracing.Fail(span, fmt.Errorf("status %d", rec.status))
		}
		metrics.HTTPRequests.WithLabelValues(tm.service, route, strconv.Itoa(rec.status)).Inc()
		tm.logger.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.written = true
	return r.ResponseWriter.Write(b)
}
