package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aixgo-dev/promdoc/internal/observability"
	pkgobs "github.com/aixgo-dev/promdoc/pkg/observability"
	"github.com/aixgo-dev/promdoc/pkg/security"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-Id"

type ctxKey int

const requestIDKey ctxKey = 0

// RequestIDFromContext returns the request id stored by the request id
// middleware, or "" if there is none
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// withRequestID reuses a client supplied X-Request-Id or assigns a new one
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the status code written by the wrapped handler
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	bytes       int
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if !s.wroteHeader {
		s.WriteHeader(http.StatusOK)
	}
	n, err := s.ResponseWriter.Write(p)
	s.bytes += n
	return n, err
}

// instrument wraps next with a server span, request metrics and a debug
// access log line. routeOf maps the raw request path to a bounded label.
func instrument(logger zerolog.Logger, metrics *pkgobs.Metrics, routeOf func(string) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeOf(RequestPath(r))

			ctx, span := observability.StartSpan(r.Context(), route, map[string]any{
				"http.method": r.Method,
				"url.path":    RequestPath(r),
			})
			defer span.End()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			duration := time.Since(start)
			span.SetAttribute("http.status_code", rec.status)
			if rec.status >= http.StatusInternalServerError {
				span.SetError(errStatus(rec.status))
			}
			metrics.RecordHTTPRequest(route, r.Method, rec.status, duration)

			logger.Debug().
				Str("request_id", RequestIDFromContext(ctx)).
				Str("method", r.Method).
				Str("path", RequestPath(r)).
				Str("route", route).
				Str("remote", r.RemoteAddr).
				Int("status", rec.status).
				Int("bytes", rec.bytes).
				Dur("duration", duration).
				Msg("request")
		})
	}
}

// throttle answers 429 with an empty body for clients over their limit.
// A nil limiter disables throttling.
func throttle(limiter *security.RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(security.ClientIP(r.RemoteAddr)) {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type errStatus int

func (e errStatus) Error() string {
	return http.StatusText(int(e))
}
