package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/iho/smmpanel/internal/adapter/http/handler"
	"github.com/iho/smmpanel/internal/adapter/http/middleware"
	"github.com/iho/smmpanel/internal/infrastructure/metrics"
	"github.com/iho/smmpanel/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	OrderHandler   *handler.OrderHandler
	AccountHandler *handler.AccountHandler
	AdminHandler   *handler.AdminHandler
	HealthHandler  *handler.HealthHandler

	Authenticator    *middleware.Authenticator
	RateLimiter      *middleware.RateLimiter
	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration

	Logger         zerolog.Logger
	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	CORSOrigins    []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Metrics(cfg.Metrics))

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.IdempotencyKeyHeader},
			ExposedHeaders: []string{"Retry-After", middleware.IdempotencyReplayHeader},
			MaxAge:         300,
		}))
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Authenticator != nil {
			r.Use(cfg.Authenticator.Wrap)
		}
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}
		// Idempotency keys are scoped per account, so this runs after auth.
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.NewIdempotencyMiddleware(cfg.IdempotencyStore, cfg.IdempotencyTTL, cfg.Logger, cfg.Metrics).Wrap)
		}

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", cfg.OrderHandler.Place)
			r.Get("/", cfg.OrderHandler.List)
			r.Get("/{id}", cfg.OrderHandler.Get)
			r.Post("/{id}/refill", cfg.OrderHandler.Refill)
		})

		r.Get("/account", cfg.AccountHandler.Get)
		r.Get("/account/entries", cfg.AccountHandler.ListEntries)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Post("/reconcile", cfg.AdminHandler.ReconcileOutstanding)
			r.Post("/orders/{id}/reconcile", cfg.AdminHandler.ReconcileOrder)
			r.Get("/ledger/consistency", cfg.AdminHandler.CheckConsistency)
		})
	})

	return r
}
