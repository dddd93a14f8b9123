// Package detectors holds the built-in guardrail implementations. Each
// detector validates its own options at construction and reads them only
// from the nested config map of its pipeline entry.
package detectors

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

// base carries the identity and flags every detector shares. Option state
// lives in the concrete detector, guarded by mu so UpdateConfig is atomic
// with respect to concurrent Analyze calls.
type base struct {
	mu      sync.RWMutex
	name    string
	typ     string
	onError types.Policy
	enabled bool
	logger  *zap.Logger

	// current holds the last applied option map; UpdateConfig merges
	// partial updates over it.
	current map[string]any
}

func newBase(name, typ, onError string, enabled bool, logger *zap.Logger) base {
	return base{
		name:    name,
		typ:     typ,
		onError: types.ParsePolicy(onError),
		enabled: enabled,
		logger:  logger.Named(typ),
	}
}

func (b *base) Name() string { return b.name }
func (b *base) Type() string { return b.typ }

func (b *base) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

func (b *base) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

func (b *base) OnError() types.Policy { return b.onError }

// IsAvailable is true for all built-ins; they never touch the network.
func (b *base) IsAvailable() bool { return true }

func (b *base) health() map[string]any {
	return map[string]any{
		"name":      b.name,
		"type":      b.typ,
		"enabled":   b.Enabled(),
		"available": b.IsAvailable(),
	}
}

// result seeds a Result with the detector identity.
func (b *base) result() *types.Result {
	return &types.Result{
		GuardrailName: b.name,
		GuardrailType: b.typ,
	}
}

// mergeOptions overlays a partial update onto the last applied options.
// Keys absent from updates keep their current values.
func (b *base) mergeOptions(updates map[string]any) map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	merged := make(map[string]any, len(b.current)+len(updates))
	for k, v := range b.current {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

// Option helpers. YAML decodes nested maps as map[string]any with
// interface-typed scalars; these normalize the common shapes.

func optString(options map[string]any, key, fallback string) string {
	if v, ok := options[key].(string); ok {
		return v
	}
	return fallback
}

func optBool(options map[string]any, key string, fallback bool) bool {
	if v, ok := options[key].(bool); ok {
		return v
	}
	return fallback
}

func optInt(options map[string]any, key string, fallback int) (int, error) {
	v, ok := options[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("option %s: expected number, got %T", key, v)
	}
}

func optStringSlice(options map[string]any, key string) ([]string, error) {
	v, ok := options[key]
	if !ok {
		return nil, nil
	}
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...), nil
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("option %s: expected string entries, got %T", key, item)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("option %s: expected list, got %T", key, v)
	}
}

// applyAction maps the configured action onto a result.
func applyAction(r *types.Result, action, reason string, confidence float64) {
	r.Reason = reason
	r.Confidence = confidence
	if action == "warn" {
		r.Warned = true
	} else {
		r.Blocked = true
	}
}
