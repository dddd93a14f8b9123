package detectors

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/conversation"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// URL flags links in the text against allow and block lists. With an allow
// list configured, every domain off the list triggers; otherwise only
// blocked domains do.
type URL struct {
	base

	action         string
	allowedDomains []string
	blockedDomains []string
}

// NewURL builds a url detector. Options: action (block|warn),
// allowed_domains, blocked_domains.
func NewURL(cfg *config.GuardrailConfig, logger *zap.Logger) (types.Guardrail, error) {
	u := &URL{base: newBase(cfg.Name, "url", cfg.OnError, cfg.Enabled, logger)}
	if err := u.applyOptions(cfg.Config); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *URL) applyOptions(options map[string]any) error {
	action := optString(options, "action", "block")
	if action != "block" && action != "warn" {
		return &types.ConfigError{Guardrail: u.name, Field: "action", Message: fmt.Sprintf("must be block or warn, got %q", action)}
	}

	allowed, err := optStringSlice(options, "allowed_domains")
	if err != nil {
		return &types.ConfigError{Guardrail: u.name, Field: "allowed_domains", Message: err.Error()}
	}
	blocked, err := optStringSlice(options, "blocked_domains")
	if err != nil {
		return &types.ConfigError{Guardrail: u.name, Field: "blocked_domains", Message: err.Error()}
	}

	u.mu.Lock()
	u.action = action
	u.allowedDomains = allowed
	u.blockedDomains = blocked
	u.current = options
	u.mu.Unlock()
	return nil
}

func (u *URL) Analyze(ctx context.Context, text string, _ *conversation.Conversation) (*types.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u.mu.RLock()
	action := u.action
	allowed := u.allowedDomains
	blocked := u.blockedDomains
	u.mu.RUnlock()

	var flagged []string
	for _, raw := range urlPattern.FindAllString(text, -1) {
		parsed, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.ToLower(parsed.Hostname())
		if domainListed(host, blocked) {
			flagged = append(flagged, host)
			continue
		}
		if len(allowed) > 0 && !domainListed(host, allowed) {
			flagged = append(flagged, host)
		}
	}

	r := u.result()
	if len(flagged) == 0 {
		r.Confidence = 1
		return r, nil
	}

	applyAction(r, action, fmt.Sprintf("disallowed URLs: %s", strings.Join(flagged, ", ")), 1)
	r.Indicators = flagged
	r.Details = map[string]any{"domains": flagged}
	return r, nil
}

// domainListed matches the host or any parent domain against the list.
func domainListed(host string, domains []string) bool {
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (u *URL) Health() map[string]any {
	h := u.health()
	u.mu.RLock()
	h["allowed_domains"] = len(u.allowedDomains)
	h["blocked_domains"] = len(u.blockedDomains)
	u.mu.RUnlock()
	return h
}

func (u *URL) UpdateConfig(options map[string]any) error {
	return u.applyOptions(u.mergeOptions(options))
}
