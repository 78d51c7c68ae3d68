package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dqinsight/internal/config"
	"dqinsight/internal/filecache"
	"dqinsight/internal/llm"
	"dqinsight/internal/logging"
	"dqinsight/internal/orchestrator"
	"dqinsight/internal/retry"
	"dqinsight/internal/store"
)

// app holds the wired components shared by the subcommands.
type app struct {
	provider *llm.Provider
	orch     *orchestrator.Orchestrator
	cache    *filecache.Cache // nil without a dataset or uploader
	traces   *store.EventStore
	redis    *redis.Client
	logger   *zap.Logger
}

// buildApp wires the pipeline from configuration. Callers must call close.
func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{logger: logger}

	var recorder llm.CallRecorder
	tracers := orchestrator.MultiTracer{
		orchestrator.LogTracer{Logger: logging.For(logger, logging.CategoryOrchestrator)},
	}
	if cfg.Trace.Enabled {
		traces, err := store.Open(cfg.Trace.DatabasePath, logging.For(logger, logging.CategoryStore))
		if err != nil {
			return nil, fmt.Errorf("failed to open trace store: %w", err)
		}
		a.traces = traces
		recorder = traces
		tracers = append(tracers, traces)
	}

	provider, err := llm.NewFromConfig(ctx, cfg.LLM, recorder, logging.For(logger, logging.CategoryLLM))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	a.provider = provider

	if cfg.Dataset.Path != "" {
		if provider.Uploader == nil {
			logger.Warn("provider cannot host files; dataset will not be attached",
				zap.String("provider", provider.Name))
		} else {
			fileStore, err := a.fileStore(ctx, cfg)
			if err != nil {
				a.close()
				return nil, err
			}
			a.cache = filecache.New(provider.Uploader, fileStore, filecache.Options{
				Path:     cfg.Dataset.Path,
				MIMEType: cfg.Dataset.MIMEType,
				TTL:      cfg.Dataset.GetTTL(),
				Logger:   logging.For(logger, logging.CategoryCache),
			})
		}
	}

	opts := orchestrator.Options{
		Executor:         provider.Client,
		Generator:        provider.Client,
		CodePolicy:       policyFromConfig(cfg.Retry.CodeExecution),
		StructuredPolicy: policyFromConfig(cfg.Retry.Structured),
		Tracer:           tracers,
		Logger:           logging.For(logger, logging.CategoryOrchestrator),
	}
	if a.cache != nil {
		opts.Files = a.cache
	}
	a.orch, err = orchestrator.New(opts)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// fileStore returns the configured reference store; nil selects memory.
func (a *app) fileStore(ctx context.Context, cfg *config.Config) (filecache.Store, error) {
	if cfg.Cache.Backend != config.CacheRedis {
		return nil, nil
	}
	rc := cfg.Cache.Redis
	client, err := filecache.DialRedis(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return filecache.NewRedisStore(client, rc.Key), nil
}

func policyFromConfig(pc config.RetryPolicyConfig) retry.Policy {
	return retry.Policy{MaxAttempts: pc.MaxAttempts, Delays: pc.GetDelays()}
}

func (a *app) close() {
	if a.traces != nil {
		if err := a.traces.Close(); err != nil {
			a.logger.Warn("failed to close trace store", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}
