package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/handlers"
	"github.com/stinger-proxy/stinger/internal/middleware"
	"github.com/stinger-proxy/stinger/internal/services/audit"
	"github.com/stinger-proxy/stinger/internal/services/ratelimit"
)

// New wires the full HTTP surface. Middleware order matters: auth runs
// before rate limiting so limits apply per key, not per IP, when keys are
// configured.
func New(cfg *config.Config, logger *zap.Logger, limiter ratelimit.Limiter, trail *audit.Trail) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           cfg.CORS.MaxAge,
	}))

	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.LimitBody(cfg.Limits.MaxBodyBytes))
	r.Use(middleware.Authenticate(cfg.Auth, logger))
	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimit(limiter, logger))
	}

	h := handlers.NewHandler(cfg, logger, limiter, trail)

	r.Get("/health", h.Health)
	r.Get("/metrics", h.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/check", h.Check)
		r.Get("/rules", h.Rules)
	})

	return r
}
