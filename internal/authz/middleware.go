package authz

import (
	"log/slog"
	"net/http"
	"strings"

	"fiscal/internal/observability/logging"
	"fiscal/internal/observability/metrics"
	obsmw "fiscal/internal/observability/middleware"
)

const HeaderCashierPIN = "X-Cashier-PIN"

// Middleware rejects requests without a valid bearer token and stores the
// principal, and any presented cashier PIN, in the request context.
func (s *Signer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := "success"
		defer func() { metrics.AuthenticationAttemptsTotal.WithLabelValues(result).Inc() }()
		log := logging.FromContext(r.Context(), slog.Default())
		reqID := obsmw.RequestIDFromContext(r.Context())

		raw := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			result = "failure"
			writeUnauthorized(w, "missing bearer token")
			log.Warn("auth missing bearer", "request_id", reqID)
			return
		}
		p, err := s.Parse(strings.TrimSpace(raw[len("Bearer "):]))
		if err != nil {
			result = "failure"
			writeUnauthorized(w, "invalid token")
			log.Warn("auth invalid token", "error", err, "request_id", reqID)
			return
		}

		ctx := WithPrincipal(r.Context(), p)
		if pin := r.Header.Get(HeaderCashierPIN); pin != "" {
			ctx = WithPIN(ctx, pin)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
