package identity

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/httpx"
)

type contextKey struct{}

var sessionKey contextKey

// FromContext returns the caller's session placed by RequireSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok
}

// WithSession is used by tests and the middleware to attach a session.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// RequireSession resolves the caller's session and attaches it to the request
// context. All downstream operations refuse to run without it.
func RequireSession(provider Provider, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := provider.SessionFromRequest(r.Context(), r)
			if err != nil {
				switch {
				case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrExpired):
					httpx.WriteError(w, http.StatusUnauthorized, httpx.ErrorResponse[any]{
						Code:    httpx.ErrUnauthorized,
						Message: "authentication required",
					})
				default:
					logger.Error("session resolution failed", zap.Error(err))
					httpx.WriteError(w, http.StatusInternalServerError, httpx.ErrorResponse[any]{
						Code:    httpx.ErrInternal,
						Message: "internal server error",
					})
				}
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}
