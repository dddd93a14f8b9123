package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PipelineConfig describes which guardrails run on each stage.
//
//	version: "1.0"
//	pipeline:
//	  input:  [ GuardrailConfig ]
//	  output: [ GuardrailConfig ]
type PipelineConfig struct {
	Version  string `yaml:"version" json:"version"`
	Pipeline Stages `yaml:"pipeline" json:"pipeline"`
}

type Stages struct {
	Input  []GuardrailConfig `yaml:"input" json:"input"`
	Output []GuardrailConfig `yaml:"output" json:"output"`
}

// GuardrailConfig is one pipeline entry. Only Name, Type, Enabled and
// OnError are interpreted by the pipeline; every detector-specific option
// lives under the nested Config map.
type GuardrailConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Type    string         `yaml:"type" json:"type"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	OnError string         `yaml:"on_error" json:"on_error"`
	Config  map[string]any `yaml:"config" json:"config"`
}

const pipelineVersion = "1.0"

// ParsePipelineConfig decodes YAML bytes into a PipelineConfig. Unknown
// top-level keys are rejected; unknown keys under config are the detector's
// business and pass through untouched.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg PipelineConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing pipeline config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadPipelineConfig reads a pipeline config from a YAML file.
func LoadPipelineConfig(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading pipeline config %s: %w", path, err)
	}
	return ParsePipelineConfig(data)
}

func (c *PipelineConfig) Validate() error {
	if c.Version != pipelineVersion {
		return fmt.Errorf("unsupported pipeline config version: %q", c.Version)
	}
	if err := validateStage("input", c.Pipeline.Input); err != nil {
		return err
	}
	return validateStage("output", c.Pipeline.Output)
}

func validateStage(stage string, entries []GuardrailConfig) error {
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		g := &entries[i]
		if g.Name == "" {
			return fmt.Errorf("%s guardrail %d: name is required", stage, i)
		}
		if g.Type == "" {
			return fmt.Errorf("%s guardrail %q: type is required", stage, g.Name)
		}
		if seen[g.Name] {
			return fmt.Errorf("%s guardrail %q: duplicate name", stage, g.Name)
		}
		seen[g.Name] = true

		switch g.OnError {
		case "", "block", "warn", "allow":
		default:
			return fmt.Errorf("%s guardrail %q: invalid on_error %q", stage, g.Name, g.OnError)
		}
	}
	return nil
}
