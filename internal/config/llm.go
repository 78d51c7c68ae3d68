package config

import (
	"fmt"
	"time"
)

// LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Structured-output schema modes.
const (
	SchemaModeNative      = "native"
	SchemaModeInstruction = "instruction"
)

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{ProviderGemini, ProviderOpenAI}

// ValidSchemaModes lists the accepted llm.schema_mode values.
var ValidSchemaModes = []string{SchemaModeNative, SchemaModeInstruction}

// LLMConfig configures the provider client.
type LLMConfig struct {
	Provider        string `yaml:"provider"` // gemini, openai
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	StructuredModel string `yaml:"structured_model"` // defaults to model
	BaseURL         string `yaml:"base_url"`
	Timeout         string `yaml:"timeout"`
	SchemaMode      string `yaml:"schema_mode"` // native, instruction
}

// GetTimeout returns the per-request HTTP timeout as a duration.
func (l LLMConfig) GetTimeout() time.Duration {
	return parseDuration(l.Timeout, 120*time.Second)
}

// RetryConfig holds one schedule per call mode.
type RetryConfig struct {
	CodeExecution RetryPolicyConfig `yaml:"code_execution"`
	Structured    RetryPolicyConfig `yaml:"structured"`
}

// RetryPolicyConfig is an attempt cap plus the base delays between attempts.
type RetryPolicyConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	Delays      []string `yaml:"delays"`
}

// GetDelays parses the delay list. Unparsable entries are skipped;
// Validate reports them.
func (r RetryPolicyConfig) GetDelays() []time.Duration {
	out := make([]time.Duration, 0, len(r.Delays))
	for _, s := range r.Delays {
		if d, err := time.ParseDuration(s); err == nil && d >= 0 {
			out = append(out, d)
		}
	}
	return out
}

func (r RetryPolicyConfig) validate(name string) error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be >= 1", name)
	}
	for _, s := range r.Delays {
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("%s.delays: %w", name, err)
		}
		if d < 0 {
			return fmt.Errorf("%s.delays: negative delay %s", name, s)
		}
	}
	return nil
}
