// Package orchestrator turns a user question into a chart description by
// driving up to two LLM calls and recovering from the failure and
// malformed-output modes of each.
//
// Flow:
//
//	Step1 code execution ─┬─ clarification text ─────────────▶ Clarification
//	                      ├─ complete chart JSON ────────────▶ DirectSuccess
//	                      ├─ anything else ─▶ Step2 reformat ─▶ Success | sentinel
//	                      └─ empty content ─▶ Fallback ──────▶ FallbackSuccess | error
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dqinsight/internal/chart"
	"dqinsight/internal/extract"
	"dqinsight/internal/llm"
	"dqinsight/internal/logging"
	"dqinsight/internal/retry"
)

// FileProvider supplies the dataset reference attached to Step1.
type FileProvider interface {
	GetOrUpload(ctx context.Context) (llm.FileRef, error)
}

// Options configures an Orchestrator.
type Options struct {
	Executor  llm.CodeExecutor
	Generator llm.StructuredGenerator
	// Files is optional; without it Step1 runs without file context.
	Files FileProvider

	// Zero policies use retry.DefaultPolicy and retry.StructuredPolicy.
	CodePolicy       retry.Policy
	StructuredPolicy retry.Policy

	Tracer Tracer
	Logger *zap.Logger
	// NewID generates request IDs. Defaults to uuid.NewString.
	NewID func() string
}

// Orchestrator runs the ask state machine. It holds no per-run state and is
// safe for concurrent use.
type Orchestrator struct {
	executor         llm.CodeExecutor
	generator        llm.StructuredGenerator
	files            FileProvider
	codePolicy       retry.Policy
	structuredPolicy retry.Policy
	normalizer       chart.Normalizer
	tracer           Tracer
	logger           *zap.Logger
	newID            func() string
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Executor == nil {
		return nil, errors.New("orchestrator: code executor is required")
	}
	if opts.Generator == nil {
		return nil, errors.New("orchestrator: structured generator is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = MultiTracer(nil)
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	o := &Orchestrator{
		executor:   opts.Executor,
		generator:  opts.Generator,
		files:      opts.Files,
		normalizer: chart.Normalizer{Logger: logger},
		tracer:     tracer,
		logger:     logger,
		newID:      newID,
	}
	o.codePolicy = o.withDefaults(opts.CodePolicy, retry.DefaultPolicy(), llm.ModeCodeExecution)
	o.structuredPolicy = o.withDefaults(opts.StructuredPolicy, retry.StructuredPolicy(), llm.ModeStructured)
	return o, nil
}

func (o *Orchestrator) withDefaults(p, def retry.Policy, mode string) retry.Policy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if len(p.Delays) == 0 {
		p.Delays = def.Delays
	}
	if p.Retryable == nil {
		p.Retryable = llm.Retryable
	}
	if p.OnRetry == nil {
		log := logging.For(o.logger, logging.CategoryRetry)
		p.OnRetry = func(attempt int, err error, delay time.Duration) {
			log.Info("retrying LLM call",
				zap.String("mode", mode),
				zap.Int("attempt", attempt),
				zap.Stringer("kind", llm.KindOf(err)),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
	}
	return p
}

// Request is one question.
type Request struct {
	// Query is the user's question as typed.
	Query string
	// Prompt overrides the Step1 prompt. Empty means AnalysisPrompt(Query).
	Prompt string
	// File is used as-is when set; otherwise the FileProvider is asked.
	File *llm.FileRef
	// NoDataset skips the FileProvider.
	NoDataset bool
	// RequestID is generated when empty.
	RequestID string
}

// Result is a completed run.
type Result struct {
	Response  *chart.Response
	Outcome   Outcome
	RequestID string
}

// Run executes the state machine for prompt. originalQuery is embedded in
// the Step2 request and in the generic error sentinel. file is used as given;
// a nil file means no attachment and the dataset cache is not consulted.
func (o *Orchestrator) Run(ctx context.Context, prompt, originalQuery string, file *llm.FileRef) (*chart.Response, error) {
	res, err := o.Ask(ctx, Request{Query: originalQuery, Prompt: prompt, File: file, NoDataset: file == nil})
	if err != nil {
		return nil, err
	}
	return res.Response, nil
}

// Ask executes the state machine and reports how it ended. Errors are
// returned only for the fatal paths; recoverable failures end in a
// sentinel response.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Result, error) {
	r := &run{o: o, id: req.RequestID, query: req.Query, prompt: req.Prompt, file: req.File}
	if r.id == "" {
		r.id = o.newID()
	}
	ctx = logging.WithRequestID(ctx, r.id)
	r.emit(ctx, StateStart, req.Query, nil)

	if r.file == nil && !req.NoDataset && o.files != nil {
		ref, err := o.files.GetOrUpload(ctx)
		if err != nil {
			r.emit(ctx, StateFileUnavailable, "", err)
		} else {
			r.file = &ref
		}
	}
	if r.prompt == "" {
		r.prompt = AnalysisPrompt(r.query, r.file != nil)
	}

	resp, outcome, err := r.step1(ctx)
	if err != nil {
		r.emit(ctx, StateFailed, "", err)
		return nil, err
	}
	r.emit(ctx, outcome, resp.Insights, r.cause)
	return &Result{Response: resp, Outcome: outcome, RequestID: r.id}, nil
}

// run carries the state of one Ask call.
type run struct {
	o      *Orchestrator
	id     string
	query  string
	prompt string
	file   *llm.FileRef

	// cause is the error absorbed into a sentinel response, if any.
	cause error
}

func (r *run) step1(ctx context.Context) (*chart.Response, Outcome, error) {
	o := r.o
	r.emit(ctx, StateStep1, "", nil)

	raw, err := retry.Do(ctx, o.codePolicy, func(ctx context.Context) (string, error) {
		return o.executor.ExecuteCode(ctx, r.prompt, r.file)
	})
	if err != nil {
		r.emit(ctx, StateStep1Failed, "", err)
		if llm.KindOf(err) == llm.KindEmptyContent {
			return r.fallback(ctx, err)
		}
		return nil, StateFailed, err
	}

	if extract.IsAskingForClarification(raw) {
		return chart.Clarification(raw), StateClarification, nil
	}
	if resp, ok := r.direct(ctx, raw); ok {
		return resp, StateDirectSuccess, nil
	}
	return r.step2(ctx, raw)
}

// direct accepts Step1 output that already is a complete chart description.
func (r *run) direct(ctx context.Context, raw string) (*chart.Response, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(extract.JSON(raw)), &obj); err != nil || obj == nil {
		return nil, false
	}
	for _, key := range []string{"chartType", "title", "data", "config"} {
		if _, ok := obj[key]; !ok {
			return nil, false
		}
	}
	resp, err := r.o.normalizer.Normalize(obj)
	if err != nil {
		logging.WithContext(ctx, r.o.logger).Debug("direct chart rejected", zap.Error(err))
		return nil, false
	}
	return resp, true
}

func (r *run) step2(ctx context.Context, raw string) (*chart.Response, Outcome, error) {
	o := r.o
	r.emit(ctx, StateStep2, raw, nil)

	obj, err := retry.Do(ctx, o.structuredPolicy, func(ctx context.Context) (map[string]any, error) {
		return o.generator.GenerateStructured(ctx, ReformatMessages(r.query, raw), ChartSchema())
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, StateFailed, err
		}
		switch llm.KindOf(err) {
		case llm.KindConfig:
			return nil, StateFailed, err
		case llm.KindBadRequest:
			r.cause = err
			return chart.ConfigurationError(), StateConfigurationError, nil
		default:
			r.cause = err
			return chart.GenericError(r.query), StateGenericError, nil
		}
	}

	resp, err := o.normalizer.Normalize(obj)
	if err != nil {
		return nil, StateFailed, err
	}
	return resp, StateSuccess, nil
}

// fallback retries the original prompt as a structured call. Any failure
// returns the Step1 error unchanged.
func (r *run) fallback(ctx context.Context, step1Err error) (*chart.Response, Outcome, error) {
	o := r.o
	r.emit(ctx, StateFallback, "", nil)

	obj, err := retry.Do(ctx, o.structuredPolicy, func(ctx context.Context) (map[string]any, error) {
		return o.generator.GenerateStructured(ctx, FallbackMessages(r.prompt, r.file), ChartSchema())
	})
	if err != nil {
		logging.WithContext(ctx, o.logger).Warn("fallback failed", zap.Error(err))
		return nil, StateFailed, step1Err
	}

	resp, err := o.normalizer.Normalize(obj)
	if err != nil {
		logging.WithContext(ctx, o.logger).Warn("fallback output rejected", zap.Error(err))
		return nil, StateFailed, step1Err
	}
	return resp, StateFallbackSuccess, nil
}

func (r *run) emit(ctx context.Context, state State, text string, err error) {
	ev := Event{
		RequestID: r.id,
		State:     state,
		Preview:   preview(text),
		Err:       err,
		At:        time.Now(),
	}
	if err != nil {
		ev.ErrorKind = errorKind(err)
	}
	r.o.tracer.Trace(ctx, ev)
}

func errorKind(err error) string {
	var se *chart.StructuralError
	if errors.As(err, &se) {
		return "structural"
	}
	return llm.KindOf(err).String()
}
