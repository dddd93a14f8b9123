package pipeline

// Result is the fused verdict of one pipeline call. Reasons and Warnings
// are ordered by guardrail declaration order in the stage config,
// irrespective of completion order.
type Result struct {
	Blocked          bool                      `json:"blocked"`
	Reasons          []string                  `json:"reasons"`
	Warnings         []string                  `json:"warnings"`
	Details          map[string]map[string]any `json:"details"`
	PipelineType     string                    `json:"pipeline_type"`
	ConversationID   string                    `json:"conversation_id,omitempty"`
	ProcessingTimeMS float64                   `json:"processing_time_ms"`
}

// Action maps the verdict onto the HTTP surface: block beats warn beats
// allow. Warn means there are warnings without a block.
func (r *Result) Action() string {
	switch {
	case r.Blocked:
		return "block"
	case len(r.Warnings) > 0:
		return "warn"
	default:
		return "allow"
	}
}

// Triggered lists the guardrails that blocked or warned, for response
// metadata.
func (r *Result) Triggered() []string {
	var out []string
	for name, d := range r.Details {
		if blocked, _ := d["blocked"].(bool); blocked {
			out = append(out, name)
			continue
		}
		if warned, _ := d["warned"].(bool); warned {
			out = append(out, name)
		}
	}
	return out
}

// AsMap flattens the result for turn metadata.
func (r *Result) AsMap() map[string]any {
	return map[string]any{
		"blocked":            r.Blocked,
		"reasons":            append([]string(nil), r.Reasons...),
		"warnings":           append([]string(nil), r.Warnings...),
		"details":            r.Details,
		"pipeline_type":      r.PipelineType,
		"conversation_id":    r.ConversationID,
		"processing_time_ms": r.ProcessingTimeMS,
	}
}
