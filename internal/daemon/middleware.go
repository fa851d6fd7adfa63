package daemon

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"clipfit/internal/logging"
	"clipfit/internal/services"
)

// requestIDHeader carries the correlation ID in and out of the API.
const requestIDHeader = "X-Request-ID"

// requestIDMiddleware puts the caller's X-Request-ID, or a fresh UUID, into
// the request context where workflow picks it up as the job correlation ID.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), requestID)))
	})
}

// loggingMiddleware logs each request once it completes. Successful requests
// log at debug so SSE polling does not flood the log.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			level := slog.LevelDebug
			switch status := wrapped.Status(); {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			logging.WithContext(r.Context(), logger).Log(r.Context(), level, "http request",
				logging.Args(
					logging.String("method", r.Method),
					logging.String("path", r.URL.Path),
					logging.Int("status", wrapped.Status()),
					logging.Int("size", wrapped.BytesWritten()),
					logging.Duration("duration", time.Since(start)),
					logging.String("remote_addr", r.RemoteAddr),
				)...,
			)
		})
	}
}
