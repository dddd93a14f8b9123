// Package handlers implements the REST surface: prompt/response checks,
// rule inspection, health and metrics. Pipelines are built per preset and
// cached; all presets share one monitor, limiter and audit trail so the
// health view covers the whole process.
package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/audit"
	"github.com/stinger-proxy/stinger/internal/services/health"
	"github.com/stinger-proxy/stinger/internal/services/pipeline"
	"github.com/stinger-proxy/stinger/internal/services/ratelimit"
)

type Handler struct {
	logger  *zap.Logger
	cfg     *config.Config
	limiter ratelimit.Limiter
	trail   *audit.Trail
	monitor *health.Monitor

	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
}

func NewHandler(cfg *config.Config, logger *zap.Logger, limiter ratelimit.Limiter, trail *audit.Trail) *Handler {
	return &Handler{
		logger:    logger.Named("handlers"),
		cfg:       cfg,
		limiter:   limiter,
		trail:     trail,
		monitor:   health.NewMonitor(),
		pipelines: make(map[string]*pipeline.Pipeline),
	}
}

// pipelineFor returns the cached pipeline for a preset, building it on
// first use.
func (h *Handler) pipelineFor(preset string) (*pipeline.Pipeline, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if p, ok := h.pipelines[preset]; ok {
		return p, nil
	}
	p, err := pipeline.FromPreset(preset,
		pipeline.WithLogger(h.logger),
		pipeline.WithAuditTrail(h.trail),
		pipeline.WithRateLimiter(h.limiter),
		pipeline.WithMonitor(h.monitor),
	)
	if err != nil {
		return nil, err
	}
	h.pipelines[preset] = p
	return p, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
