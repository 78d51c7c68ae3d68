package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dqinsight/internal/llm"
	"dqinsight/internal/orchestrator"
)

func openTestStore(t *testing.T) *EventStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "traces.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEventStore_ByRequestPreservesOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)

	states := []orchestrator.State{
		orchestrator.StateStart,
		orchestrator.StateStep1,
		orchestrator.StateStep2,
		orchestrator.StateSuccess,
	}
	for _, st := range states {
		s.Trace(ctx, orchestrator.Event{RequestID: "req-1", State: st, At: at})
	}
	s.Trace(ctx, orchestrator.Event{RequestID: "req-2", State: orchestrator.StateStart, At: at})

	events, err := s.ByRequest(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, events, len(states))
	for i, st := range states {
		assert.Equal(t, string(st), events[i].State)
		assert.Equal(t, "req-1", events[i].RequestID)
		assert.True(t, at.Equal(events[i].At))
	}
}

func TestEventStore_PersistsErrorFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, orchestrator.Event{
		RequestID: "req",
		State:     orchestrator.StateFailed,
		Preview:   "upstream said no",
		ErrorKind: "transient",
		Err:       errors.New("503 unavailable"),
	}))

	events, err := s.ByRequest(ctx, "req")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "transient", events[0].ErrorKind)
	assert.Equal(t, "503 unavailable", events[0].Error)
	assert.Equal(t, "upstream said no", events[0].Preview)
	assert.False(t, events[0].At.IsZero(), "zero At is stamped on insert")
}

func TestEventStore_RecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, orchestrator.Event{RequestID: id, State: orchestrator.StateStart}))
	}

	events, err := s.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "c", events[0].RequestID)
	assert.Equal(t, "b", events[1].RequestID)

	all, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEventStore_RecordCall(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ts := time.UnixMilli(1_700_000_000_000)

	var rec llm.CallRecorder = s
	require.NoError(t, rec.RecordCall(ctx, &llm.CallTrace{
		ID: "c1", RequestID: "req", Provider: "gemini", Mode: llm.ModeCodeExecution,
		PromptLen: 10, ResponseLen: 0, DurationMs: 12, Success: false,
		ErrorKind: "empty_content", Error: "no candidates in response", Timestamp: ts,
	}))
	require.NoError(t, rec.RecordCall(ctx, &llm.CallTrace{
		ID: "c2", RequestID: "req", Provider: "gemini", Mode: llm.ModeStructured,
		PromptLen: 20, ResponseLen: 80, DurationMs: 30, Success: true,
		Timestamp: ts.Add(time.Second),
	}))

	calls, err := s.Calls(ctx, "req")
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[0].ID)
	assert.False(t, calls[0].Success)
	assert.Equal(t, "empty_content", calls[0].ErrorKind)
	assert.Equal(t, llm.ModeStructured, calls[1].Mode)
	assert.Equal(t, 80, calls[1].ResponseLen)
	assert.True(t, ts.Add(time.Second).Equal(calls[1].Timestamp))

	none, err := s.Calls(ctx, "other")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEventStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.db")
	ctx := context.Background()

	s, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Append(ctx, orchestrator.Event{RequestID: "r", State: orchestrator.StateStart}))
	require.NoError(t, s.Close())

	s, err = Open(path, nil)
	require.NoError(t, err)
	defer s.Close()

	events, err := s.ByRequest(ctx, "r")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEventStore_TraceLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s, err := Open(filepath.Join(t.TempDir(), "traces.db"), zap.New(core))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Writes against a closed database fail; Trace must swallow the error.
	s.Trace(context.Background(), orchestrator.Event{RequestID: "r", State: orchestrator.StateStart})
	assert.Equal(t, 1, logs.FilterMessage("failed to persist event").Len())
}

func TestEventStore_ConcurrentWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				s.Trace(ctx, orchestrator.Event{RequestID: "shared", State: orchestrator.StateStep1})
			}
		}()
	}
	wg.Wait()

	events, err := s.ByRequest(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, events, 40)
}
