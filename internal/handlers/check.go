package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/services/pipeline"
)

// CheckRequest is the POST /v1/check payload. Context is opaque to the
// service, carried through for audit only, and bounded in size.
type CheckRequest struct {
	Text    string          `json:"text"`
	Kind    string          `json:"kind"`
	Preset  string          `json:"preset,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

type CheckMetadata struct {
	GuardrailsTriggered []string `json:"guardrails_triggered"`
	ProcessingTimeMS    float64  `json:"processing_time_ms"`
	Preset              string   `json:"preset"`
	RulesVersion        string   `json:"rules_version"`
}

type CheckResponse struct {
	Action   string        `json:"action"`
	Reasons  []string      `json:"reasons"`
	Warnings []string      `json:"warnings"`
	Metadata CheckMetadata `json:"metadata"`
}

// Check evaluates a prompt or response against the selected preset.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if msg := h.validateCheck(&req); msg != "" {
		respondError(w, http.StatusBadRequest, msg)
		return
	}

	preset := req.Preset
	if preset == "" {
		preset = h.cfg.DefaultPreset
	}

	p, err := h.pipelineFor(preset)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unknown preset: "+preset)
		return
	}

	// Rate limiting already happened in the middleware chain; passing the
	// principal down would double-count against the shared limiter.
	opts := &pipeline.CheckOptions{
		RequestID: chimiddleware.GetReqID(r.Context()),
	}

	var result *pipeline.Result
	if req.Kind == "response" {
		result, err = p.CheckOutput(r.Context(), req.Text, opts)
	} else {
		result, err = p.CheckInput(r.Context(), req.Text, opts)
	}
	if err != nil {
		h.logger.Error("check failed", zap.String("preset", preset), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	triggered := result.Triggered()
	if triggered == nil {
		triggered = []string{}
	}
	respondJSON(w, http.StatusOK, CheckResponse{
		Action:   result.Action(),
		Reasons:  result.Reasons,
		Warnings: result.Warnings,
		Metadata: CheckMetadata{
			GuardrailsTriggered: triggered,
			ProcessingTimeMS:    result.ProcessingTimeMS,
			Preset:              preset,
			RulesVersion:        p.RulesVersion(),
		},
	})
}

func (h *Handler) validateCheck(req *CheckRequest) string {
	if strings.TrimSpace(req.Text) == "" {
		return "text is required"
	}
	if len(req.Text) > h.cfg.Limits.MaxTextBytes {
		return "text exceeds maximum size"
	}
	switch req.Kind {
	case "", "prompt", "response":
	default:
		return "kind must be \"prompt\" or \"response\""
	}
	if len(req.Preset) > h.cfg.Limits.MaxPresetChars {
		return "preset name too long"
	}
	if len(req.Context) > h.cfg.Limits.MaxContextBytes {
		return "context exceeds maximum size"
	}
	return ""
}
