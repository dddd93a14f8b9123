package guardrails

import (
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
)

// Re-export types for convenience
type (
	Policy      = types.Policy
	Decision    = types.Decision
	Result      = types.Result
	Guardrail   = types.Guardrail
	ConfigError = types.ConfigError
)

// Re-export constants
const (
	OnErrorBlock = types.OnErrorBlock
	OnErrorWarn  = types.OnErrorWarn
	OnErrorAllow = types.OnErrorAllow

	DecisionAllow = types.DecisionAllow
	DecisionBlock = types.DecisionBlock
	DecisionWarn  = types.DecisionWarn
	DecisionError = types.DecisionError
)

var ParsePolicy = types.ParsePolicy
