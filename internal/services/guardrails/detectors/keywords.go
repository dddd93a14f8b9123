package detectors

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/conversation"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

// Keywords matches a configured list of words or phrases, case-insensitive.
type Keywords struct {
	base

	action   string
	reason   string
	patterns []*regexp.Regexp
	keywords []string
}

// NewKeywords builds a keyword_list detector. Options: keywords (required,
// non-empty), action (block|warn), match_word_boundaries, reason.
func NewKeywords(cfg *config.GuardrailConfig, logger *zap.Logger) (types.Guardrail, error) {
	k := &Keywords{base: newBase(cfg.Name, "keyword_list", cfg.OnError, cfg.Enabled, logger)}
	if err := k.applyOptions(cfg.Config); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *Keywords) applyOptions(options map[string]any) error {
	keywords, err := optStringSlice(options, "keywords")
	if err != nil {
		return &types.ConfigError{Guardrail: k.name, Field: "keywords", Message: err.Error()}
	}
	if len(keywords) == 0 {
		return types.MissingFieldError(k.name, "keywords")
	}

	action := optString(options, "action", "block")
	if action != "block" && action != "warn" {
		return &types.ConfigError{Guardrail: k.name, Field: "action", Message: fmt.Sprintf("must be block or warn, got %q", action)}
	}

	boundaries := optBool(options, "match_word_boundaries", false)
	patterns := make([]*regexp.Regexp, 0, len(keywords))
	for _, kw := range keywords {
		expr := regexp.QuoteMeta(strings.ToLower(kw))
		if boundaries {
			expr = `\b` + expr + `\b`
		}
		re, err := regexp.Compile(`(?i)` + expr)
		if err != nil {
			return &types.ConfigError{Guardrail: k.name, Field: "keywords", Message: err.Error()}
		}
		patterns = append(patterns, re)
	}

	k.mu.Lock()
	k.action = action
	k.reason = optString(options, "reason", "")
	k.patterns = patterns
	k.keywords = keywords
	k.current = options
	k.mu.Unlock()
	return nil
}

func (k *Keywords) Analyze(ctx context.Context, text string, _ *conversation.Conversation) (*types.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k.mu.RLock()
	action := k.action
	reason := k.reason
	patterns := k.patterns
	keywords := k.keywords
	k.mu.RUnlock()

	var matched []string
	for i, re := range patterns {
		if re.MatchString(text) {
			matched = append(matched, keywords[i])
		}
	}

	r := k.result()
	if len(matched) == 0 {
		r.Confidence = 1
		return r, nil
	}

	if reason == "" {
		reason = fmt.Sprintf("matched keywords: %s", strings.Join(matched, ", "))
	}
	applyAction(r, action, reason, 1)
	r.Indicators = matched
	r.Details = map[string]any{"matched": matched}
	return r, nil
}

func (k *Keywords) Health() map[string]any {
	h := k.health()
	k.mu.RLock()
	h["keywords"] = len(k.keywords)
	k.mu.RUnlock()
	return h
}

// UpdateConfig applies a partial update; omitted options keep their
// current values.
func (k *Keywords) UpdateConfig(options map[string]any) error {
	return k.applyOptions(k.mergeOptions(options))
}
