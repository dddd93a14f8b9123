package detectors

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/conversation"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

// Length bounds the rune length of the analyzed text.
type Length struct {
	base

	action    string
	minLength int
	maxLength int
}

// NewLength builds a length detector. Options: min_length, max_length
// (at least one required), action (block|warn).
func NewLength(cfg *config.GuardrailConfig, logger *zap.Logger) (types.Guardrail, error) {
	l := &Length{base: newBase(cfg.Name, "length", cfg.OnError, cfg.Enabled, logger)}
	if err := l.applyOptions(cfg.Config); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Length) applyOptions(options map[string]any) error {
	minLen, err := optInt(options, "min_length", 0)
	if err != nil {
		return &types.ConfigError{Guardrail: l.name, Field: "min_length", Message: err.Error()}
	}
	maxLen, err := optInt(options, "max_length", 0)
	if err != nil {
		return &types.ConfigError{Guardrail: l.name, Field: "max_length", Message: err.Error()}
	}
	if minLen <= 0 && maxLen <= 0 {
		return &types.ConfigError{Guardrail: l.name, Message: "min_length or max_length is required"}
	}
	if maxLen > 0 && minLen > maxLen {
		return &types.ConfigError{Guardrail: l.name, Message: fmt.Sprintf("min_length %d exceeds max_length %d", minLen, maxLen)}
	}

	action := optString(options, "action", "block")
	if action != "block" && action != "warn" {
		return &types.ConfigError{Guardrail: l.name, Field: "action", Message: fmt.Sprintf("must be block or warn, got %q", action)}
	}

	l.mu.Lock()
	l.action = action
	l.minLength = minLen
	l.maxLength = maxLen
	l.current = options
	l.mu.Unlock()
	return nil
}

func (l *Length) Analyze(ctx context.Context, text string, _ *conversation.Conversation) (*types.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	action := l.action
	minLen := l.minLength
	maxLen := l.maxLength
	l.mu.RUnlock()

	n := utf8.RuneCountInString(text)
	r := l.result()
	r.Details = map[string]any{"length": n}

	switch {
	case minLen > 0 && n < minLen:
		applyAction(r, action, fmt.Sprintf("text length %d below minimum %d", n, minLen), 1)
	case maxLen > 0 && n > maxLen:
		applyAction(r, action, fmt.Sprintf("text length %d exceeds maximum %d", n, maxLen), 1)
	default:
		r.Confidence = 1
	}
	return r, nil
}

func (l *Length) Health() map[string]any {
	h := l.health()
	l.mu.RLock()
	h["min_length"] = l.minLength
	h["max_length"] = l.maxLength
	l.mu.RUnlock()
	return h
}

func (l *Length) UpdateConfig(options map[string]any) error {
	return l.applyOptions(l.mergeOptions(options))
}
