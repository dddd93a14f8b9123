package detectors

import (
	"github.com/stinger-proxy/stinger/internal/services/guardrails"
)

// RegisterAll binds the built-in detector tags to their constructors.
// Call once at process start; registration is never an import side effect.
func RegisterAll() {
	guardrails.Register("pii", NewPII)
	guardrails.Register("keyword_list", NewKeywords)
	guardrails.Register("length", NewLength)
	guardrails.Register("url", NewURL)
	guardrails.Register("regex", NewRegex)
}
