// Package telemetry feeds the session trust pipeline as a side effect of
// normal request handling. Everything here is best-effort: a telemetry
// failure must never surface as a user-visible error or delay a response.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekinok/sessiond/internal/httpx"
	"github.com/ekinok/sessiond/internal/identity"
	"github.com/ekinok/sessiond/internal/sessions"
)

type Tracker struct {
	service      *sessions.Service
	writeTimeout time.Duration
	logger       *zap.Logger
}

func NewTracker(service *sessions.Service, writeTimeout time.Duration, logger *zap.Logger) *Tracker {
	return &Tracker{
		service:      service,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Middleware captures the request signal before the handler runs and fires
// the store writes after the response is written. It must sit inside the
// auth middleware: requests with no resolved session are not tracked.
func (t *Tracker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := identity.FromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		// snapshot before the handler: the request object must not be
		// touched from the detached goroutine
		meta := httpx.CaptureMeta(session.IPAddress, r)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		meta.Status = rec.status
		meta.DurationMS = time.Since(start).Milliseconds()

		t.track(r.Context(), *session, meta)
	})
}

// track detaches from the request context so a client disconnect cannot
// cancel the writes mid-flight, then hands off to the orchestrator.
func (t *Tracker) track(reqCtx context.Context, session identity.Session, meta httpx.RequestMeta) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(reqCtx), t.writeTimeout)
	go func() {
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				t.logger.Error("telemetry panic recovered", zap.Any("panic", rec))
			}
		}()
		t.service.TrackRequest(ctx, session, meta)
	}()
}

// statusRecorder captures the response status for the audit entry.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
