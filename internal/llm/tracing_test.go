package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dqinsight/internal/config"
	"dqinsight/internal/logging"
)

type stubClient struct {
	text string
	obj  map[string]any
	err  error
}

func (s *stubClient) ExecuteCode(ctx context.Context, prompt string, file *FileRef) (string, error) {
	return s.text, s.err
}

func (s *stubClient) GenerateStructured(ctx context.Context, messages []Message, schema Schema) (map[string]any, error) {
	return s.obj, s.err
}

type memoryRecorder struct {
	mu     sync.Mutex
	traces []*CallTrace
	err    error
}

func (m *memoryRecorder) RecordCall(ctx context.Context, trace *CallTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.traces = append(m.traces, trace)
	return m.err
}

func TestTracingClient_RecordsSuccess(t *testing.T) {
	rec := &memoryRecorder{}
	tc := NewTracingClient(&stubClient{text: "hello"}, "gemini", rec, nil)

	ctx := logging.WithRequestID(context.Background(), "req-42")
	out, err := tc.ExecuteCode(ctx, "prompt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	require.Len(t, rec.traces, 1)
	tr := rec.traces[0]
	assert.Equal(t, "req-42", tr.RequestID)
	assert.Equal(t, ModeCodeExecution, tr.Mode)
	assert.Equal(t, 6, tr.PromptLen)
	assert.Equal(t, 5, tr.ResponseLen)
	assert.True(t, tr.Success)
	assert.NotEmpty(t, tr.ID)
}

func TestTracingClient_RecordsFailureKind(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := &memoryRecorder{}
	failing := &stubClient{err: &Error{Kind: KindRateLimited, Provider: "gemini", Op: "generate_structured", Err: errors.New("429")}}
	tc := NewTracingClient(failing, "gemini", rec, zap.New(core))

	_, err := tc.GenerateStructured(context.Background(), []Message{{Role: RoleUser, Content: "abc"}}, Schema{})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err), "the wrapper must not alter errors")

	require.Len(t, rec.traces, 1)
	assert.False(t, rec.traces[0].Success)
	assert.Equal(t, "rate_limited", rec.traces[0].ErrorKind)
	assert.Equal(t, 1, logs.FilterMessage("LLM call failed").Len())
}

func TestTracingClient_RecorderErrorIgnored(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	rec := &memoryRecorder{err: errors.New("disk full")}
	tc := NewTracingClient(&stubClient{obj: map[string]any{"a": 1}}, "openai", rec, zap.New(core))

	out, err := tc.GenerateStructured(context.Background(), nil, Schema{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, out)
	assert.Equal(t, 1, logs.FilterMessage("failed to record LLM call").Len())
}

func TestNewFromConfig(t *testing.T) {
	ctx := context.Background()

	p, err := NewFromConfig(ctx, config.LLMConfig{Provider: config.ProviderGemini, APIKey: "k", BaseURL: "http://127.0.0.1:1"}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name)
	assert.NotNil(t, p.Uploader)
	assert.IsType(t, &TracingClient{}, p.Client)

	p, err = NewFromConfig(ctx, config.LLMConfig{Provider: config.ProviderOpenAI}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name)
	assert.Nil(t, p.Uploader)

	_, err = NewFromConfig(ctx, config.LLMConfig{Provider: "zai"}, nil, nil)
	assert.Error(t, err)
}
