package handlers

import (
	"context"
	"net/http"

	"github.com/stinger-proxy/stinger/internal/services/health"
)

// HealthResponse is the compact health view. Detailed mode returns the full
// snapshot instead.
type HealthResponse struct {
	Status            string `json:"status"`
	PipelineAvailable bool   `json:"pipeline_available"`
	GuardrailCount    int    `json:"guardrail_count"`
	APIKeyConfigured  bool   `json:"api_key_configured"`
}

// Health reports service health. ?detailed=true returns the full system
// snapshot with performance metrics and recent errors.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snapshot := h.systemHealth(r.Context())

	if r.URL.Query().Get("detailed") == "true" {
		respondJSON(w, http.StatusOK, snapshot)
		return
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:            string(snapshot.OverallStatus),
		PipelineAvailable: snapshot.PipelineStatus.Available,
		GuardrailCount:    snapshot.PipelineStatus.TotalEnabled,
		APIKeyConfigured:  len(h.cfg.Auth.APIKeyHashes) > 0,
	})
}

func (h *Handler) systemHealth(ctx context.Context) health.Snapshot {
	pipelineStatus := health.PipelineStatus{}
	p, err := h.pipelineFor(h.cfg.DefaultPreset)
	if err != nil {
		pipelineStatus.Error = err.Error()
	} else {
		pipelineStatus = p.HealthStatus()
	}

	limiterStatus := health.RateLimiterStatus{Available: h.limiter != nil}
	if h.limiter != nil {
		limiterStatus.TotalTrackedKeys = len(h.limiter.Keys(ctx))
	}

	apiKeys := map[string]bool{
		"api_key": len(h.cfg.Auth.APIKeyHashes) > 0,
	}

	return h.monitor.SystemHealth(pipelineStatus, apiKeys, limiterStatus)
}
