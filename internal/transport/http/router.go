package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"fiscal/internal/authz"
	"fiscal/internal/netutil"
	obsmw "fiscal/internal/observability/middleware"
	"fiscal/internal/service"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type Deps struct {
	Devices  service.DeviceService
	Receipts service.ReceiptService
	Cash     service.CashService
	Shifts   service.ShiftService
	Queue    service.QueueService
	Signer   *authz.Signer
	Log      *slog.Logger

	CORSOrigins    []string
	RateLimit      int // requests per minute per client IP; 0 disables
	TrustProxy     bool
	RequestTimeout time.Duration
}

func NewRouter(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 2 * time.Minute
	}
	h := &handler{Deps: d}

	r := chi.NewRouter()
	r.Use(obsmw.WithRequestAndTrace(d.Log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(d.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsIfSet(d.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", obsmw.HeaderRequestID, HeaderIdempotencyKey, authz.HeaderCashierPIN},
		ExposedHeaders:   []string{obsmw.HeaderRequestID, obsmw.HeaderTraceID},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(obsmw.WithMetrics)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/jwks.json", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"keys": []any{d.Signer.PublicJWK()}})
	})

	r.Route("/v1", func(r chi.Router) {
		if d.RateLimit > 0 {
			r.Use(httprate.Limit(d.RateLimit, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
				return netutil.ClientIP(r, d.TrustProxy), nil
			})))
		}
		r.Use(d.Signer.Middleware)

		r.Post("/devices", h.registerDevice)
		r.Route("/devices/{id}", func(r chi.Router) {
			r.Get("/", h.getDevice)
			r.Delete("/", h.deleteDevice)
			r.Post("/programming", h.programming)
			r.Put("/settings", h.updateSettings)
			r.Post("/unblock", h.unblock)
			r.Post("/cashiers", h.addCashier)

			r.Post("/shifts/open", h.openShift)
			r.Post("/shifts/close", h.closeShift)
			r.Post("/receipts", h.createReceipt)
			r.Post("/cash", h.moveCash)
			r.Post("/reports/x", h.reportX)

			r.Get("/queue", h.queueStatus)
			r.Post("/queue/retry-failed", h.retryFailed)
			r.Post("/queue/sync", h.syncQueue)
		})
	})
	return r
}

func originsIfSet(in []string) []string {
	out := []string{}
	for _, o := range in {
		if s := strings.TrimSpace(o); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
