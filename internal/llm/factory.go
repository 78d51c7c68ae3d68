package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"dqinsight/internal/config"
)

// Provider bundles what a configured provider offers. Uploader is nil when
// the provider cannot host files.
type Provider struct {
	Name     string
	Client   Client
	Uploader FileUploader
}

// NewFromConfig builds the configured provider, wrapped for tracing.
// recorder may be nil.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig, recorder CallRecorder, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case config.ProviderGemini, "":
		gc := DefaultGeminiConfig(cfg.APIKey)
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		gc.StructuredModel = cfg.StructuredModel
		gc.BaseURL = cfg.BaseURL
		gc.Timeout = cfg.GetTimeout()
		gc.Logger = logger
		client, err := NewGeminiClient(ctx, gc)
		if err != nil {
			return nil, err
		}
		return &Provider{
			Name:     providerGemini,
			Client:   NewTracingClient(client, providerGemini, recorder, logger),
			Uploader: client,
		}, nil

	case config.ProviderOpenAI:
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if cfg.SchemaMode != "" {
			oc.SchemaMode = cfg.SchemaMode
		}
		oc.Timeout = cfg.GetTimeout()
		oc.Logger = logger
		client := NewOpenAIClient(oc)
		return &Provider{
			Name:   providerOpenAI,
			Client: NewTracingClient(client, providerOpenAI, recorder, logger),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
