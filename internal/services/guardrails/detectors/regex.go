package detectors

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/conversation"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

// Regex matches caller-supplied patterns against the text.
type Regex struct {
	base

	action      string
	description string
	patterns    []*regexp.Regexp
}

// NewRegex builds a regex detector. Options: patterns (required, valid Go
// regexps), action (block|warn), description.
func NewRegex(cfg *config.GuardrailConfig, logger *zap.Logger) (types.Guardrail, error) {
	r := &Regex{base: newBase(cfg.Name, "regex", cfg.OnError, cfg.Enabled, logger)}
	if err := r.applyOptions(cfg.Config); err != nil {
		return nil, err
	}
	return r, nil
}

func (g *Regex) applyOptions(options map[string]any) error {
	raw, err := optStringSlice(options, "patterns")
	if err != nil {
		return &types.ConfigError{Guardrail: g.name, Field: "patterns", Message: err.Error()}
	}
	if len(raw) == 0 {
		return types.MissingFieldError(g.name, "patterns")
	}

	action := optString(options, "action", "block")
	if action != "block" && action != "warn" {
		return &types.ConfigError{Guardrail: g.name, Field: "action", Message: fmt.Sprintf("must be block or warn, got %q", action)}
	}

	patterns := make([]*regexp.Regexp, 0, len(raw))
	for _, expr := range raw {
		re, err := regexp.Compile(expr)
		if err != nil {
			return &types.ConfigError{Guardrail: g.name, Field: "patterns", Message: err.Error()}
		}
		patterns = append(patterns, re)
	}

	g.mu.Lock()
	g.action = action
	g.description = optString(options, "description", "matched pattern")
	g.patterns = patterns
	g.current = options
	g.mu.Unlock()
	return nil
}

func (g *Regex) Analyze(ctx context.Context, text string, _ *conversation.Conversation) (*types.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	action := g.action
	description := g.description
	patterns := g.patterns
	g.mu.RUnlock()

	var matched []string
	for _, re := range patterns {
		if re.MatchString(text) {
			matched = append(matched, re.String())
		}
	}

	r := g.result()
	if len(matched) == 0 {
		r.Confidence = 1
		return r, nil
	}

	applyAction(r, action, description, 0.9)
	r.Details = map[string]any{"patterns": matched}
	return r, nil
}

func (g *Regex) Health() map[string]any {
	h := g.health()
	g.mu.RLock()
	h["patterns"] = len(g.patterns)
	g.mu.RUnlock()
	return h
}

func (g *Regex) UpdateConfig(options map[string]any) error {
	return g.applyOptions(g.mergeOptions(options))
}
