// Package pipeline is the engine core: ordered input and output stages of
// guardrails, monotone decision fusion, audit emission and conversation
// bookkeeping. A Pipeline is safe for concurrent callers; per-call state
// is local and shared stage state sits behind one RWMutex.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stinger-proxy/stinger/internal/config"
	"github.com/stinger-proxy/stinger/internal/services/audit"
	"github.com/stinger-proxy/stinger/internal/services/conversation"
	"github.com/stinger-proxy/stinger/internal/services/guardrails"
	"github.com/stinger-proxy/stinger/internal/services/guardrails/types"
	"github.com/stinger-proxy/stinger/internal/services/health"
	"github.com/stinger-proxy/stinger/internal/services/ratelimit"
)

// Stage selects a pipeline side for enable/disable operations.
type Stage string

const (
	StageInput  Stage = "input"
	StageOutput Stage = "output"
	StageBoth   Stage = "both"
)

// DefaultPreset backs New when the caller supplies no config.
const DefaultPreset = "basic"

type entry struct {
	cfg  config.GuardrailConfig
	rail types.Guardrail
}

// Pipeline evaluates guardrails on prompts (input stage) and responses
// (output stage).
type Pipeline struct {
	mu     sync.RWMutex
	logger *zap.Logger

	input  []*entry
	output []*entry

	trail   *audit.Trail
	limiter ratelimit.Limiter
	monitor *health.Monitor
}

// Option injects collaborators. Without options the pipeline uses the
// process-wide audit trail and rate limiter.
type Option func(*Pipeline)

func WithAuditTrail(t *audit.Trail) Option {
	return func(p *Pipeline) { p.trail = t }
}

func WithRateLimiter(l ratelimit.Limiter) Option {
	return func(p *Pipeline) { p.limiter = l }
}

func WithMonitor(m *health.Monitor) Option {
	return func(p *Pipeline) { p.monitor = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds a pipeline from the default preset.
func New(opts ...Option) (*Pipeline, error) {
	return FromPreset(DefaultPreset, opts...)
}

// FromPreset builds a pipeline from a bundled preset config.
func FromPreset(name string, opts ...Option) (*Pipeline, error) {
	cfg, err := config.Preset(name)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// NewFromFile builds a pipeline from a YAML config on disk.
func NewFromFile(path string, opts ...Option) (*Pipeline, error) {
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// NewFromConfig builds a pipeline. Entries whose factory fails are skipped
// with a logged error; the rest of the pipeline still comes up. An empty
// pipeline is valid.
func NewFromConfig(cfg *config.PipelineConfig, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pipeline: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		logger:  zap.NewNop(),
		trail:   audit.Default(),
		limiter: ratelimit.Default(),
		monitor: health.NewMonitor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("pipeline")

	p.input = p.buildStage(cfg.Pipeline.Input)
	p.output = p.buildStage(cfg.Pipeline.Output)
	return p, nil
}

func (p *Pipeline) buildStage(entries []config.GuardrailConfig) []*entry {
	out := make([]*entry, 0, len(entries))
	for i := range entries {
		gc := entries[i]
		rail, err := guardrails.New(&gc, p.logger)
		if err != nil {
			p.logger.Error("skipping guardrail, construction failed",
				zap.String("name", gc.Name),
				zap.String("type", gc.Type),
				zap.Error(err))
			if p.monitor != nil {
				p.monitor.RecordError(fmt.Sprintf("guardrail %s: %v", gc.Name, err))
			}
			continue
		}
		out = append(out, &entry{cfg: gc, rail: rail})
	}
	return out
}

// CheckOptions carry the optional per-call context.
type CheckOptions struct {
	Conversation *conversation.Conversation
	PrincipalKey string
	RequestID    string
}

// CheckInput evaluates the input stage against a user prompt.
func (p *Pipeline) CheckInput(ctx context.Context, text string, opts *CheckOptions) (*Result, error) {
	return p.check(ctx, StageInput, text, opts)
}

// CheckOutput evaluates the output stage against a model response.
func (p *Pipeline) CheckOutput(ctx context.Context, text string, opts *CheckOptions) (*Result, error) {
	return p.check(ctx, StageOutput, text, opts)
}

func (p *Pipeline) check(ctx context.Context, stage Stage, text string, opts *CheckOptions) (*Result, error) {
	start := time.Now()
	if opts == nil {
		opts = &CheckOptions{}
	}

	meta := audit.Meta{RequestID: opts.RequestID}
	if conv := opts.Conversation; conv != nil {
		meta.ConversationID = conv.ID()
		meta.UserID = conv.Initiator()
	}

	result := &Result{
		Reasons:        []string{},
		Warnings:       []string{},
		Details:        map[string]map[string]any{},
		PipelineType:   string(stage),
		ConversationID: meta.ConversationID,
	}

	// The global limiter is an orthogonal gate: when the caller hands us a
	// principal key and the key is over budget, the call blocks before any
	// guardrail runs and details stays empty.
	if opts.PrincipalKey != "" && p.limiter != nil {
		verdict := p.limiter.Check(ctx, opts.PrincipalKey, nil)
		if verdict.Exceeded {
			result.Blocked = true
			result.Reasons = append(result.Reasons, verdict.Reason)
			result.ProcessingTimeMS = msSince(start)
			return result, nil
		}
		p.limiter.Record(ctx, opts.PrincipalKey)
	}

	enabled := p.enabledEntries(stage)

	results := make([]*types.Result, len(enabled))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range enabled {
		i, e := i, e
		g.Go(func() error {
			res, err := e.rail.Analyze(gctx, text, opts.Conversation)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				gerr := &types.GuardrailError{
					GuardrailName: e.rail.Name(),
					GuardrailType: e.rail.Type(),
					Reason:        err.Error(),
				}
				res = recoveredResult(e.rail, err)
				p.logger.Warn("guardrail evaluation failed",
					zap.String("on_error", string(e.rail.OnError())),
					zap.Error(gerr))
				if p.monitor != nil {
					p.monitor.RecordError(gerr.Error())
				}
			}
			res.GuardrailName = e.rail.Name()
			res.GuardrailType = e.rail.Type()
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Cancelled mid-flight: partial results are discarded; leave a
		// best-effort trace in the audit trail.
		p.trail.LogError("pipeline evaluation cancelled", map[string]any{
			"stage":           string(stage),
			"conversation_id": meta.ConversationID,
		})
		return nil, err
	}

	for i, res := range results {
		name := enabled[i].rail.Name()
		result.Details[name] = res.AsMap()
		if res.Blocked {
			result.Blocked = true
			result.Reasons = append(result.Reasons, res.Reason)
		} else if res.Warned {
			result.Warnings = append(result.Warnings, res.Reason)
		}
		guardrailEvaluations.WithLabelValues(name, string(res.Decision())).Inc()
	}

	elapsed := time.Since(start)
	result.ProcessingTimeMS = float64(elapsed.Microseconds()) / 1000

	pipelineDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	if result.Blocked {
		pipelineBlocked.WithLabelValues(string(stage)).Inc()
	}
	if p.monitor != nil {
		p.monitor.UpdatePerformanceMetrics(result.ProcessingTimeMS, result.Blocked)
	}

	p.emitAudit(stage, text, meta, results, result)

	if conv := opts.Conversation; conv != nil {
		turnMeta := map[string]any{"guardrail_results": result.AsMap()}
		if stage == StageInput {
			conv.AddPrompt(text, turnMeta)
		} else {
			conv.CompleteTurn(text, turnMeta)
		}
	}

	return result, nil
}

func (p *Pipeline) emitAudit(stage Stage, text string, meta audit.Meta, results []*types.Result, result *Result) {
	if stage == StageInput {
		p.trail.LogPrompt(text, meta)
	} else {
		p.trail.LogResponse(text, meta, "", result.ProcessingTimeMS)
	}
	for _, res := range results {
		rule := ""
		if len(res.Indicators) > 0 {
			rule = res.Indicators[0]
		}
		p.trail.LogGuardrailDecision(res.GuardrailName, string(res.Decision()), res.Reason, res.Confidence, rule, meta)
	}
}

// recoveredResult synthesizes the verdict for a failed evaluation per the
// guardrail's on_error policy. With on_error allow the result is a silent
// allow; the details entry still reports decision error.
func recoveredResult(rail types.Guardrail, err error) *types.Result {
	res := &types.Result{Err: err.Error()}
	switch rail.OnError() {
	case types.OnErrorBlock:
		res.Blocked = true
		res.Reason = fmt.Sprintf("filter error: %v", err)
	case types.OnErrorWarn:
		res.Warned = true
		res.Reason = fmt.Sprintf("filter error: %v", err)
	}
	return res
}

func (p *Pipeline) enabledEntries(stage Stage) []*entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var src []*entry
	if stage == StageInput {
		src = p.input
	} else {
		src = p.output
	}
	out := make([]*entry, 0, len(src))
	for _, e := range src {
		if e.rail.Enabled() {
			out = append(out, e)
		}
	}
	return out
}

// EnableGuardrail enables the named guardrail on the selected stage(s).
func (p *Pipeline) EnableGuardrail(name string, stage Stage) error {
	return p.setEnabled(name, stage, true)
}

// DisableGuardrail disables the named guardrail on the selected stage(s).
func (p *Pipeline) DisableGuardrail(name string, stage Stage) error {
	return p.setEnabled(name, stage, false)
}

func (p *Pipeline) setEnabled(name string, stage Stage, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := false
	apply := func(entries []*entry) {
		for _, e := range entries {
			if e.rail.Name() == name {
				e.rail.SetEnabled(enabled)
				e.cfg.Enabled = enabled
				found = true
			}
		}
	}
	switch stage {
	case StageInput:
		apply(p.input)
	case StageOutput:
		apply(p.output)
	case StageBoth:
		apply(p.input)
		apply(p.output)
	default:
		return fmt.Errorf("pipeline: invalid stage %q", stage)
	}
	if !found {
		return fmt.Errorf("pipeline: guardrail %q not found in stage %s", name, stage)
	}
	return nil
}

// GuardrailInfo is one row of the status report.
type GuardrailInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
	OnError   string `json:"on_error"`
	Available bool   `json:"available"`
}

// StatusReport answers the enable/disable queries with the two stages kept
// separate, even when a name appears in both.
type StatusReport struct {
	InputGuardrails  []GuardrailInfo `json:"input_guardrails"`
	OutputGuardrails []GuardrailInfo `json:"output_guardrails"`
	TotalEnabled     int             `json:"total_enabled"`
	Total            int             `json:"total"`
}

func (p *Pipeline) GuardrailStatus() StatusReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	report := StatusReport{
		InputGuardrails:  infos(p.input),
		OutputGuardrails: infos(p.output),
	}
	report.Total = len(p.input) + len(p.output)
	for _, g := range report.InputGuardrails {
		if g.Enabled {
			report.TotalEnabled++
		}
	}
	for _, g := range report.OutputGuardrails {
		if g.Enabled {
			report.TotalEnabled++
		}
	}
	return report
}

func infos(entries []*entry) []GuardrailInfo {
	out := make([]GuardrailInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, GuardrailInfo{
			Name:      e.rail.Name(),
			Type:      e.rail.Type(),
			Enabled:   e.rail.Enabled(),
			OnError:   string(e.rail.OnError()),
			Available: e.rail.IsAvailable(),
		})
	}
	return out
}

// GuardrailConfigs returns a copy of the per-stage configs as built.
func (p *Pipeline) GuardrailConfigs() map[string][]config.GuardrailConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return map[string][]config.GuardrailConfig{
		"input":  configsOf(p.input),
		"output": configsOf(p.output),
	}
}

func configsOf(entries []*entry) []config.GuardrailConfig {
	out := make([]config.GuardrailConfig, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.cfg)
	}
	return out
}

// UpdateGuardrailConfig pushes a partial options update to every guardrail
// with the given name, on both stages. Options absent from the update keep
// their configured values.
func (p *Pipeline) UpdateGuardrailConfig(name string, options map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	found := false
	for _, e := range append(append([]*entry{}, p.input...), p.output...) {
		if e.rail.Name() != name {
			continue
		}
		if err := e.rail.UpdateConfig(options); err != nil {
			return err
		}
		merged := make(map[string]any, len(e.cfg.Config)+len(options))
		for k, v := range e.cfg.Config {
			merged[k] = v
		}
		for k, v := range options {
			merged[k] = v
		}
		e.cfg.Config = merged
		found = true
	}
	if !found {
		return fmt.Errorf("pipeline: guardrail %q not found", name)
	}
	return nil
}

// Swap atomically replaces both stages from a new config. This is the hot
// reload contract: in-flight calls finish against the stages they
// snapshotted, new calls see the new stages.
func (p *Pipeline) Swap(cfg *config.PipelineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	input := p.buildStage(cfg.Pipeline.Input)
	output := p.buildStage(cfg.Pipeline.Output)

	p.mu.Lock()
	p.input = input
	p.output = output
	p.mu.Unlock()
	return nil
}

// HealthStatus reports the pipeline side of the system health snapshot.
func (p *Pipeline) HealthStatus() health.PipelineStatus {
	status := p.GuardrailStatus()
	return health.PipelineStatus{
		Available:    true,
		Total:        status.Total,
		TotalEnabled: status.TotalEnabled,
	}
}

// Monitor exposes the health monitor collecting this pipeline's metrics.
func (p *Pipeline) Monitor() *health.Monitor {
	return p.monitor
}

// RulesVersion is a stable hash of the enabled guardrail structure, shaped
// "1.0.<8 hex>", so clients can cache rule sets.
func (p *Pipeline) RulesVersion() string {
	status := p.GuardrailStatus()
	data, _ := json.Marshal(status)
	sum := sha256.Sum256(data)
	return fmt.Sprintf("1.0.%x", sum[:4])
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
