// Package auth admits signed tool requests.
//
// A request carries X-Signature and X-Timestamp headers. It is admitted when
// the timestamp lies within the replay window of the receiver's clock and the
// signature matches HMAC-SHA-256(body || timestamp) under the shared secret.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/config"
	"github.com/Kocoro-lab/leadflow/internal/metrics"
	"github.com/Kocoro-lab/leadflow/internal/signing"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"

	// DefaultReplayWindow bounds |now - timestamp| in both directions.
	DefaultReplayWindow = 5 * time.Minute
)

var (
	// ErrUnauthorized is the parent of every admission failure.
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMissingHeaders   = fmt.Errorf("%w: missing authentication headers", ErrUnauthorized)
	ErrInvalidTimestamp = fmt.Errorf("%w: invalid timestamp", ErrUnauthorized)
	ErrExpired          = fmt.Errorf("%w: request timestamp expired", ErrUnauthorized)
	ErrInvalidSignature = fmt.Errorf("%w: invalid signature", ErrUnauthorized)
	ErrReplayed         = fmt.Errorf("%w: request already processed", ErrUnauthorized)

	// ErrSecretUnavailable is a configuration fault, not an admission failure.
	ErrSecretUnavailable = fmt.Errorf("%w: HMAC configuration not available", config.ErrConfig)
)

// Authenticator verifies signed requests. It is safe for concurrent use.
type Authenticator struct {
	secret string
	window time.Duration
	now    func() time.Time
	replay ReplayCache
	logger *zap.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithReplayWindow overrides DefaultReplayWindow.
func WithReplayWindow(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.window = d
		}
	}
}

// WithReplayCache additionally rejects signatures seen inside the window.
func WithReplayCache(c ReplayCache) Option {
	return func(a *Authenticator) { a.replay = c }
}

// NewAuthenticator creates an Authenticator. An empty secret is accepted here
// and reported per request as ErrSecretUnavailable.
func NewAuthenticator(secret string, logger *zap.Logger, opts ...Option) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{
		secret: secret,
		window: DefaultReplayWindow,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Verify admits or rejects one request. Admission failures wrap
// ErrUnauthorized; a missing secret wraps config.ErrConfig.
func (a *Authenticator) Verify(ctx context.Context, signature, timestamp string, body []byte) error {
	if signature == "" || timestamp == "" {
		return a.reject("missing_headers", ErrMissingHeaders)
	}

	ts, err := signing.ParseTimestamp(timestamp)
	if err != nil {
		return a.reject("invalid_timestamp", ErrInvalidTimestamp)
	}

	skew := a.now().UnixMilli() - ts.UnixMilli()
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window.Milliseconds() {
		a.logger.Debug("Request outside replay window",
			zap.Int64("skew_ms", skew),
			zap.Duration("window", a.window),
		)
		return a.reject("expired", ErrExpired)
	}

	if a.secret == "" {
		a.logger.Error("HMAC secret not configured")
		return ErrSecretUnavailable
	}

	ok, err := signing.Verify(body, a.secret, timestamp, signature)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if !ok {
		a.logger.Warn("Invalid request signature", zap.String("signature_prefix", prefix(signature)))
		return a.reject("invalid_signature", ErrInvalidSignature)
	}

	if a.replay != nil {
		seen, err := a.replay.Seen(ctx, signature, a.window)
		if err != nil {
			// Replay detection is best effort; the window check already passed.
			a.logger.Warn("Replay cache unavailable", zap.Error(err))
		} else if seen {
			return a.reject("replayed", ErrReplayed)
		}
	}
	return nil
}

func (a *Authenticator) reject(reason string, err error) error {
	metrics.AuthRejections.WithLabelValues(reason).Inc()
	return err
}

func prefix(sig string) string {
	if len(sig) > 8 {
		return sig[:8]
	}
	return sig
}

type contextKey struct{}

// WithAuthenticated marks ctx as carrying an admitted request.
func WithAuthenticated(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, true)
}

// IsAuthenticated reports whether ctx was marked by WithAuthenticated.
func IsAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(contextKey{}).(bool)
	return v
}
