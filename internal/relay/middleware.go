package relay

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/internal/observability"
)

// RequestLogger logs the completion of each request and feeds the relay
// request metrics. It also stashes a request-scoped logger carrying the
// request id into the context, so handlers log with logger.FromContext
// and their lines correlate with the completion line.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Set by Chi's RequestID middleware earlier in the chain.
		reqID := middleware.GetReqID(r.Context())

		reqLog := logger.FromContext(r.Context()).With(slog.String("request_id", reqID))
		r = r.WithContext(logger.WithContext(r.Context(), reqLog))

		// Wrap the ResponseWriter to capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()

		// The route pattern ("/api/v1/eval/{flagKey}") keeps metric
		// cardinality bounded regardless of how many flags exist.
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = "unmatched"
		}

		observability.RelayReqDuration.WithLabelValues(r.Method, path).Observe(duration.Seconds())
		observability.RelayReqTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()

		// Info for success, Warn for 4xx, Error for 5xx
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		reqLog.Log(r.Context(), level, "HTTP request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", duration.String(),
			"remote_ip", r.RemoteAddr,
		)
	})
}
