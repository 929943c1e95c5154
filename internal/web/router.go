package web

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/znz-systems/solebook/internal/metrics"
	"github.com/znz-systems/solebook/internal/ratelimit"
	"github.com/znz-systems/solebook/internal/web/handlers"
	"github.com/znz-systems/solebook/internal/web/middleware"
)

// RouterDeps holds all dependencies needed to build the router.
type RouterDeps struct {
	NotificationHandler *handlers.NotificationHandler
	ConnectionHandler   *handlers.ConnectionHandler
	TriggerHandler      *handlers.TriggerHandler
	CronHandler         *handlers.CronHandler
	HealthHandler       *handlers.HealthHandler
	Tokens              middleware.TokenValidator
	CronSecret          string
	Limiter             *ratelimit.Limiter
}

// NewRouter wires all routes into a Chi router.
func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", deps.HealthHandler.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Scheduler trigger
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCronSecret(deps.CronSecret))

		r.Post("/api/cron/check-emails", deps.CronHandler.HandleCheckEmails)
	})

	// User API
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireIdentity(deps.Tokens))
		if deps.Limiter != nil {
			r.Use(middleware.RateLimit(deps.Limiter))
		}

		r.Get("/api/notifications", deps.NotificationHandler.HandleList)
		r.Post("/api/notifications/dismiss", deps.NotificationHandler.HandleDismiss)
		r.Post("/api/notifications/dismiss-all", deps.NotificationHandler.HandleDismissAll)
		r.Get("/api/notifications/history", deps.NotificationHandler.HandleHistory)

		r.Get("/api/email-connection", deps.ConnectionHandler.HandleGet)
		r.Put("/api/email-connection", deps.ConnectionHandler.HandlePut)
		r.Delete("/api/email-connection", deps.ConnectionHandler.HandleDelete)

		r.Get("/api/triggers", deps.TriggerHandler.HandleList)
		r.Post("/api/triggers", deps.TriggerHandler.HandleCreate)
		r.Delete("/api/triggers/{id}", deps.TriggerHandler.HandleDelete)
	})

	return r
}
