package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

type RouterOptions struct {
	Logger logrus.FieldLogger

	// Metrics and MetricsHandler are optional; /metrics is mounted only when
	// MetricsHandler is set.
	Metrics        HTTPMetrics
	MetricsHandler http.Handler

	Readiness        []ReadinessCheck
	ReadinessTimeout time.Duration

	Idempotency IdempotencyOptions

	Version string
}

// NewRouter constructs the API HTTP router.
func NewRouter(s *Server, opts RouterOptions) http.Handler {
	log := opts.Logger
	if log == nil {
		log = s.log
	}
	if opts.ReadinessTimeout <= 0 {
		opts.ReadinessTimeout = 2 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Idempotency.MaxBodyBytes <= 0 {
		opts.Idempotency.MaxBodyBytes = s.Bulk.Limits().MaxSizeBytes()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewRequestLogger(log, opts.Metrics))
	r.Use(middleware.Recoverer)

	// Infra endpoints stay outside the idempotency gate.
	r.Get("/", serviceInfo(opts.Version))
	r.Get("/healthz", healthz)
	r.Get("/readyz", readyz(opts.Readiness, opts.ReadinessTimeout, log))
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(NewIdempotencyMiddleware(s.Gate, log, opts.Idempotency))

		r.Post("/items", s.CreateItem)
		r.Get("/items", s.ListItems)
		r.Get("/items/{id}", s.GetItem)
		r.Post("/items:bulk", s.BulkImport)
		r.Get("/items:bulk/limits", s.BulkLimits)
		r.Get("/idempotency/stats", s.IdempotencyStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
	})
	return r
}
