package middleware

import (
	"net/http"
	"strconv"
	"time"

	"fiscal/internal/netutil"
	"fiscal/internal/observability/logging"
	"fiscal/internal/observability/metrics"

	"github.com/go-chi/chi/v5"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// WithMetrics records request count and latency labelled by the matched chi
// route pattern, so device ids never become label values.
func WithMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sr, r)

		duration := time.Since(start).Seconds()
		path := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		statusStr := strconv.Itoa(sr.status)
		remote, _ := netutil.NormalizeIP(r.RemoteAddr)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, statusStr).Inc()
		metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(duration)

		logging.FromContext(r.Context(), nil).Info("finished request",
			"method", r.Method,
			"path", path,
			"status", sr.status,
			"duration_seconds", duration,
			"remote", remote,
			"user_agent", netutil.TruncateUserAgent(r.UserAgent()),
		)
	})
}
