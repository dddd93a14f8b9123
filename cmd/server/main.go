package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/logger"
	"github.com/stinger-proxy/stinger/internal/router"
	"github.com/stinger-proxy/stinger/internal/services/audit"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/detectors"
	"github.com/stinger-proxy/stinger/internal/services/ratelimit"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.Initialize(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	detectors.RegisterAll()

	limiter := buildLimiter(cfg, log)

	trail := audit.Default()
	if cfg.Audit.Enabled {
		err := trail.Enable(audit.Options{
			Destination:   cfg.Audit.Destination,
			RedactPII:     cfg.Audit.RedactPII,
			BufferSize:    cfg.Audit.BufferSize,
			FlushInterval: cfg.Audit.FlushInterval,
		})
		if err != nil {
			log.Fatal("Failed to enable audit trail", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router.New(cfg, log, limiter, trail),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}

	if trail.IsEnabled() {
		if err := trail.Disable(); err != nil {
			log.Warn("Audit trail left enabled on shutdown", zap.Error(err))
		}
	}
	log.Info("Server stopped")
}

// buildLimiter picks the configured backend. Redis failures degrade to the
// in-memory limiter so the service still comes up.
func buildLimiter(cfg *config.Config, log *zap.Logger) ratelimit.Limiter {
	limits := map[string]int{
		ratelimit.RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		ratelimit.RequestsPerHour:   cfg.RateLimit.RequestsPerHour,
		ratelimit.RequestsPerDay:    cfg.RateLimit.RequestsPerDay,
	}

	if cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Warn("Redis unavailable, falling back to in-memory rate limiting", zap.Error(err))
		} else {
			return ratelimit.NewRedisLimiter(client, limits, log)
		}
	}

	return ratelimit.NewMemoryLimiter(limits, log)
}
