package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zateckar/monitor-sub001/pkg/health"
	"github.com/zateckar/monitor-sub001/pkg/middleware"
)

// NewRouter creates the chi router with all monitor routes registered.
// syncRoutes is the /api/sync subrouter; it carries its own auth and
// primary-role gate and is mounted unconditionally so a promoted instance
// starts serving it without a router rebuild.
func NewRouter(
	endpointHandler *EndpointHandler,
	logsHandler *LogsHandler,
	syncRoutes http.Handler,
	healthHandler *health.Handler,
	corsCfg middleware.CORSConfig,
	pprofCIDRs []string,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing("monitor"))
	r.Use(middleware.PrometheusMetrics("monitor"))

	if len(pprofCIDRs) > 0 {
		middleware.RegisterPprof(r, pprofCIDRs, logger)
	}

	// Liveness for dependents and failover health polls. Deliberately
	// cheap: a 200 here only means the process is up.
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	if syncRoutes != nil {
		r.Mount("/api/sync", syncRoutes)
	}

	r.Route("/api/endpoints", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/", endpointHandler.Create)
		r.Get("/", endpointHandler.List)
		r.Get("/{id}", endpointHandler.Get)
		r.Put("/{id}", endpointHandler.Update)
		r.Delete("/{id}", endpointHandler.Delete)
		r.Put("/{id}/pause", endpointHandler.Pause)
		r.With(middleware.CacheControl(10)).Get("/{id}/uptime", endpointHandler.Uptime)
		r.Get("/{id}/outcomes", endpointHandler.Outcomes)
		r.With(middleware.CacheControl(10)).Get("/{id}/aggregate", endpointHandler.Aggregate)
		r.With(middleware.CacheControl(3600)).Get("/{id}/domain-info", endpointHandler.DomainInfo)
	})

	r.Route("/api/logs", func(r chi.Router) {
		r.Get("/", logsHandler.List)
		r.Delete("/", logsHandler.Clear)
	})
	r.Route("/api/log-level", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/", logsHandler.GetLevel)
		r.Put("/", logsHandler.SetLevel)
	})

	return r
}

// ContentTypeJSON sets the response content type for API routes.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
