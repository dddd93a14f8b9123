package detectors

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/conversation"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

// Entity patterns recognized by the PII detector. The tag set is part of
// the public contract; audit redaction uses the same classes.
var piiPatterns = map[string]*regexp.Regexp{
	"ssn":         regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	"email":       regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`),
	"phone":       regexp.MustCompile(`\b(?:\+?1[-. ]?)?(?:\(\d{3}\)|\d{3})[-. ]?\d{3}[-. ]?\d{4}\b`),
	"credit_card": regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
	"ip_address":  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
}

// PII detects personally identifiable information with per-entity regex
// patterns.
type PII struct {
	base

	action   string
	entities []string
}

// NewPII builds a PII detector. Recognized options: action (block|warn),
// entities (subset of the known entity tags; all when omitted).
func NewPII(cfg *config.GuardrailConfig, logger *zap.Logger) (types.Guardrail, error) {
	p := &PII{base: newBase(cfg.Name, "pii", cfg.OnError, cfg.Enabled, logger)}
	if err := p.applyOptions(cfg.Config); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PII) applyOptions(options map[string]any) error {
	action := optString(options, "action", "block")
	if action != "block" && action != "warn" {
		return &types.ConfigError{Guardrail: p.name, Field: "action", Message: fmt.Sprintf("must be block or warn, got %q", action)}
	}

	entities, err := optStringSlice(options, "entities")
	if err != nil {
		return &types.ConfigError{Guardrail: p.name, Field: "entities", Message: err.Error()}
	}
	if len(entities) == 0 {
		for tag := range piiPatterns {
			entities = append(entities, tag)
		}
		sort.Strings(entities)
	}
	for _, e := range entities {
		if _, ok := piiPatterns[e]; !ok {
			return &types.ConfigError{Guardrail: p.name, Field: "entities", Message: fmt.Sprintf("unknown entity %q", e)}
		}
	}

	p.mu.Lock()
	p.action = action
	p.entities = entities
	p.current = options
	p.mu.Unlock()
	return nil
}

func (p *PII) Analyze(ctx context.Context, text string, _ *conversation.Conversation) (*types.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	action := p.action
	entities := p.entities
	p.mu.RUnlock()

	found := map[string]int{}
	var tags []string
	for _, entity := range entities {
		matches := piiPatterns[entity].FindAllString(text, -1)
		if len(matches) > 0 {
			found[entity] = len(matches)
			tags = append(tags, entity)
		}
	}

	r := p.result()
	if len(found) == 0 {
		r.Confidence = 1
		return r, nil
	}

	applyAction(r, action, fmt.Sprintf("PII detected: %s", strings.Join(tags, ", ")), 0.95)
	r.Indicators = tags
	r.Details = map[string]any{"entities": found}
	return r, nil
}

func (p *PII) Health() map[string]any {
	h := p.health()
	p.mu.RLock()
	h["entities"] = len(p.entities)
	p.mu.RUnlock()
	return h
}

func (p *PII) UpdateConfig(options map[string]any) error {
	return p.applyOptions(p.mergeOptions(options))
}
