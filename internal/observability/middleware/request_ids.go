package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"fiscal/internal/observability/logging"

	"github.com/google/uuid"
)

type ctxKey string

const (
	CtxKeyRequestID ctxKey = "request_id"
	CtxKeyTraceID   ctxKey = "trace_id"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

// WithRequestAndTrace propagates or mints request and trace ids, echoes them
// back to the client and attaches a logger carrying both.
func WithRequestAndTrace(base *slog.Logger) func(http.Handler) http.Handler {
	if base == nil {
		base = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(HeaderRequestID)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			traceID := r.Header.Get(HeaderTraceID)
			if traceID == "" {
				traceID = reqID
			}
			w.Header().Set(HeaderRequestID, reqID)
			w.Header().Set(HeaderTraceID, traceID)

			log := base.With("request_id", reqID, "trace_id", traceID)
			ctx := context.WithValue(r.Context(), CtxKeyRequestID, reqID)
			ctx = context.WithValue(ctx, CtxKeyTraceID, traceID)
			ctx = logging.WithLogger(ctx, log)

			log.Debug("incoming request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

func TraceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CtxKeyTraceID).(string); ok {
		return v
	}
	return ""
}
