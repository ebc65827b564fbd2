package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ricirt/marketplace-realtime/internal/api/handler"
	apimw "github.com/ricirt/marketplace-realtime/internal/api/middleware"
	"github.com/ricirt/marketplace-realtime/internal/domain"
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Gateway       http.Handler
	Notifications handler.Notifications
	Jobs          handler.JobReader
	JobWriter     handler.JobWriter
	Auth          apimw.Authenticator
	Checks        map[string]handler.Check
	Gatherer      prometheus.Gatherer
}

// NewRouter wires the chi router, attaches all middleware, and registers
// every route. It is the single source of truth for the HTTP surface area.
func NewRouter(deps Deps, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- global middleware (applied to every route) ---
	r.Use(chimw.Recoverer)          // recover panics, return 500
	r.Use(chimw.RealIP)             // trust X-Forwarded-For / X-Real-IP
	r.Use(chimw.RequestSize(1<<20)) // 1 MB max request body
	r.Use(apimw.CorrelationID)      // X-Correlation-ID inject / echo
	r.Use(apimw.RequestLogger(logger))

	// --- handler instances ---
	nh := handler.NewNotificationHandler(deps.Notifications, logger)
	mh := handler.NewMetricsHandler(deps.Jobs)
	jh := handler.NewJobHandler(deps.JobWriter, logger)
	hh := handler.NewHealthHandler(deps.Checks)

	// --- routes ---
	r.Get("/health", hh.Health)
	r.Get("/ready", hh.Ready)

	// Raw Prometheus scrape endpoint (for Prometheus server / Grafana)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))

	// Websocket namespaces authenticate inside the gateway, before the upgrade.
	r.Get("/ws/{namespace}", deps.Gateway.ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.Authenticate(deps.Auth))

		r.Route("/me/notifications", func(r chi.Router) {
			r.Get("/", nh.List)
			r.Get("/unread-count", nh.UnreadCount)
			r.Post("/read", nh.MarkRead)
			r.Post("/read-all", nh.MarkAllRead)
		})

		// Service-to-service triggers and queue inspection.
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireRole(domain.RoleAdmin))
			r.Post("/notifications", nh.Send)
			r.Post("/notifications/bulk", nh.SendBulk)
			r.Get("/queues", mh.GetQueues)
			r.Post("/queues/{queue}/jobs", jh.Enqueue)
			r.Get("/jobs/{id}", mh.GetJob)
		})
	})

	return r
}
