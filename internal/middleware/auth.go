package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/leadflow/internal/auth"
	"github.com/Kocoro-lab/leadflow/internal/config"
)

// DefaultMaxBodyBytes bounds the body read for signature verification.
const DefaultMaxBodyBytes = 1 << 20

// AuthMiddleware verifies the HMAC signature of every request it wraps.
type AuthMiddleware struct {
	authenticator *auth.Authenticator
	maxBody       int64
	logger        *zap.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(authenticator *auth.Authenticator, maxBody int64, logger *zap.Logger) *AuthMiddleware {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &AuthMiddleware{authenticator: authenticator, maxBody: maxBody, logger: logger}
}

// Middleware reads the raw body, verifies it against X-Signature and
// X-Timestamp, and replays the same bytes to next.
func (am *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, am.maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				sendError(w, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			sendError(w, http.StatusBadRequest, "Unable to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		err = am.authenticator.Verify(r.Context(),
			r.Header.Get(auth.HeaderSignature),
			r.Header.Get(auth.HeaderTimestamp),
			body,
		)
		if err != nil {
			status, message := authFailure(err)
			am.logger.Warn("Authentication failed",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			sendError(w, status, message)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithAuthenticated(r.Context())))
	})
}

// authFailure maps an Authenticator error to the response the tool service
// has always returned for it.
func authFailure(err error) (int, string) {
	switch {
	case errors.Is(err, config.ErrConfig):
		return http.StatusInternalServerError, "HMAC configuration not available"
	case errors.Is(err, auth.ErrMissingHeaders):
		return http.StatusUnauthorized, "Missing authentication headers"
	case errors.Is(err, auth.ErrExpired):
		return http.StatusUnauthorized, "Request timestamp too old"
	case errors.Is(err, auth.ErrInvalidTimestamp):
		return http.StatusUnauthorized, "Invalid timestamp"
	case errors.Is(err, auth.ErrReplayed):
		return http.StatusUnauthorized, "Request already processed"
	case errors.Is(err, auth.ErrUnauthorized):
		return http.StatusUnauthorized, "Invalid signature"
	default:
		return http.StatusInternalServerError, "Authentication error"
	}
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
