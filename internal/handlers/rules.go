package handlers

import (
	"net/http"

	"github.com/stinger-proxy/stinger/internal/services/pipeline"
)

type RulesResponse struct {
	Preset     string                `json:"preset"`
	Guardrails pipeline.StatusReport `json:"guardrails"`
	Version    string                `json:"version"`
}

// Rules exposes the active guardrail structure for a preset so clients can
// inspect and cache the rule set by version.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	preset := r.URL.Query().Get("preset")
	if preset == "" {
		preset = h.cfg.DefaultPreset
	}
	if len(preset) > h.cfg.Limits.MaxPresetChars {
		respondError(w, http.StatusBadRequest, "preset name too long")
		return
	}

	p, err := h.pipelineFor(preset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown preset: "+preset)
		return
	}

	respondJSON(w, http.StatusOK, RulesResponse{
		Preset:     preset,
		Guardrails: p.GuardrailStatus(),
		Version:    p.RulesVersion(),
	})
}
