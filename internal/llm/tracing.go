package llm

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"dqinsight/internal/logging"
)

// Call modes recorded in traces.
const (
	ModeCodeExecution = "code_execution"
	ModeStructured    = "structured"
)

// CallTrace captures one provider call for later analysis.
type CallTrace struct {
	ID          string    `json:"id"`
	RequestID   string    `json:"request_id,omitempty"`
	Provider    string    `json:"provider"`
	Mode        string    `json:"mode"`
	PromptLen   int       `json:"prompt_len"`
	ResponseLen int       `json:"response_len"`
	DurationMs  int64     `json:"duration_ms"`
	Success     bool      `json:"success"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// CallRecorder persists call traces. Implementations must be safe for
// concurrent use.
type CallRecorder interface {
	RecordCall(ctx context.Context, trace *CallTrace) error
}

// TracingClient wraps a Client, logging every call and handing a CallTrace
// to an optional recorder. Recording failures are logged and never change
// the call's result.
type TracingClient struct {
	underlying Client
	provider   string
	recorder   CallRecorder
	logger     *zap.Logger
}

// NewTracingClient creates a tracing wrapper. recorder may be nil.
func NewTracingClient(underlying Client, provider string, recorder CallRecorder, logger *zap.Logger) *TracingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TracingClient{
		underlying: underlying,
		provider:   provider,
		recorder:   recorder,
		logger:     logger,
	}
}

// ExecuteCode implements CodeExecutor with tracing.
func (tc *TracingClient) ExecuteCode(ctx context.Context, prompt string, file *FileRef) (string, error) {
	start := time.Now()
	out, err := tc.underlying.ExecuteCode(ctx, prompt, file)
	tc.finish(ctx, ModeCodeExecution, start, len(prompt), len(out), err)
	return out, err
}

// GenerateStructured implements StructuredGenerator with tracing.
func (tc *TracingClient) GenerateStructured(ctx context.Context, messages []Message, schema Schema) (map[string]any, error) {
	promptLen := 0
	for _, m := range messages {
		promptLen += len(m.Content)
	}

	start := time.Now()
	out, err := tc.underlying.GenerateStructured(ctx, messages, schema)
	tc.finish(ctx, ModeStructured, start, promptLen, len(out), err)
	return out, err
}

func (tc *TracingClient) finish(ctx context.Context, mode string, start time.Time, promptLen, responseLen int, err error) {
	duration := time.Since(start)
	log := logging.WithContext(ctx, tc.logger).With(
		zap.String("provider", tc.provider),
		zap.String("mode", mode),
		zap.Duration("duration", duration),
	)

	trace := &CallTrace{
		ID:          uuid.NewString(),
		RequestID:   logging.RequestID(ctx),
		Provider:    tc.provider,
		Mode:        mode,
		PromptLen:   promptLen,
		ResponseLen: responseLen,
		DurationMs:  duration.Milliseconds(),
		Success:     err == nil,
		Timestamp:   time.Now(),
	}
	if err != nil {
		kind := KindOf(err)
		trace.ErrorKind = kind.String()
		trace.Error = err.Error()
		log.Warn("LLM call failed", zap.Stringer("kind", kind), zap.Error(err))
	} else {
		log.Info("LLM call completed", zap.Int("prompt_len", promptLen), zap.Int("response_len", responseLen))
	}

	if tc.recorder == nil {
		return
	}
	if rerr := tc.recorder.RecordCall(context.WithoutCancel(ctx), trace); rerr != nil {
		log.Warn("failed to record LLM call", zap.Error(rerr))
	}
}
