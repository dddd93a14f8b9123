package types

import (
	"context"
	"fmt"

	"github.com/stinger-proxy/stinger/internal/services/conversation"
)

// Policy controls how the pipeline reacts when Analyze fails.
type Policy string

const (
	OnErrorBlock Policy = "block"
	OnErrorWarn  Policy = "warn"
	OnErrorAllow Policy = "allow"
)

// ParsePolicy converts a config string to a Policy, defaulting to warn.
func ParsePolicy(s string) Policy {
	switch s {
	case "block":
		return OnErrorBlock
	case "warn":
		return OnErrorWarn
	case "allow":
		return OnErrorAllow
	default:
		return OnErrorWarn
	}
}

// Decision is the audit-facing verdict of one guardrail evaluation.
type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionBlock Decision = "block"
	DecisionWarn  Decision = "warn"
	DecisionError Decision = "error"
)

// Result is produced by every guardrail evaluation. Blocked and Warned are
// never both true; a result with neither set is an allow.
type Result struct {
	Blocked    bool           `json:"blocked"`
	Warned     bool           `json:"warned"`
	Reason     string         `json:"reason,omitempty"`
	Confidence float64        `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
	Indicators []string       `json:"indicators,omitempty"`

	GuardrailName string `json:"guardrail_name"`
	GuardrailType string `json:"guardrail_type"`

	// Err carries the message of a recovered evaluation error. Set only by
	// the pipeline's on_error handling.
	Err string `json:"error,omitempty"`
}

// Decision derives the audit verdict. A recovered error reports as error
// regardless of the policy-applied Blocked/Warned flags.
func (r *Result) Decision() Decision {
	switch {
	case r.Err != "":
		return DecisionError
	case r.Blocked:
		return DecisionBlock
	case r.Warned:
		return DecisionWarn
	default:
		return DecisionAllow
	}
}

// AsMap flattens the result for pipeline details and turn metadata.
func (r *Result) AsMap() map[string]any {
	m := map[string]any{
		"blocked":        r.Blocked,
		"warned":         r.Warned,
		"reason":         r.Reason,
		"confidence":     r.Confidence,
		"guardrail_name": r.GuardrailName,
		"guardrail_type": r.GuardrailType,
		"decision":       string(r.Decision()),
	}
	if r.Details != nil {
		m["details"] = r.Details
	}
	if len(r.Indicators) > 0 {
		m["indicators"] = r.Indicators
	}
	if r.Err != "" {
		m["error"] = r.Err
	}
	return m
}

// Guardrail is the contract every detector implements. Analyze must be
// safe for concurrent calls, must not mutate the conversation, and must
// honor ctx cancellation when it does I/O.
type Guardrail interface {
	Analyze(ctx context.Context, text string, conv *conversation.Conversation) (*Result, error)
	Name() string
	Type() string
	Enabled() bool
	SetEnabled(enabled bool)
	OnError() Policy

	// IsAvailable must answer without touching the network.
	IsAvailable() bool
	Health() map[string]any
	UpdateConfig(options map[string]any) error
}

// ConfigError reports an invalid guardrail configuration at construction.
type ConfigError struct {
	Guardrail string
	Field     string
	Message   string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("guardrail %s: field %s: %s", e.Guardrail, e.Field, e.Message)
	}
	return fmt.Sprintf("guardrail %s: %s", e.Guardrail, e.Message)
}

// MissingFieldError builds the ConfigError for a required field.
func MissingFieldError(guardrail, field string) *ConfigError {
	return &ConfigError{Guardrail: guardrail, Field: field, Message: "required field missing"}
}

// GuardrailError wraps a runtime evaluation failure with the identity of
// the failing detector.
type GuardrailError struct {
	GuardrailName string
	GuardrailType string
	Reason        string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("guardrail %s (%s) failed: %s", e.GuardrailName, e.GuardrailType, e.Reason)
}
