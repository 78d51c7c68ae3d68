package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// State names a step of the ask state machine.
type State string

const (
	StateStart           State = "start"
	StateFileUnavailable State = "file_unavailable"
	StateStep1           State = "step1"
	StateStep1Failed     State = "step1_failed"
	StateStep2           State = "step2"
	StateFallback        State = "fallback"

	// Terminal states.
	StateClarification      State = "clarification"
	StateDirectSuccess      State = "direct_success"
	StateSuccess            State = "success"
	StateFallbackSuccess    State = "fallback_success"
	StateConfigurationError State = "configuration_error_response"
	StateGenericError       State = "generic_error_response"
	StateFailed             State = "failed"
)

// Terminal reports whether s ends a run.
func (s State) Terminal() bool {
	switch s {
	case StateClarification, StateDirectSuccess, StateSuccess, StateFallbackSuccess,
		StateConfigurationError, StateGenericError, StateFailed:
		return true
	}
	return false
}

// Outcome is the terminal state a run ended in.
type Outcome = State

// PreviewLen is how many runes of raw text an Event carries.
const PreviewLen = 200

// Event is emitted on every state transition.
type Event struct {
	RequestID string
	State     State
	Preview   string
	ErrorKind string
	Err       error
	At        time.Time
}

// Tracer observes transitions. Implementations must not block for long and
// must be safe for concurrent use.
type Tracer interface {
	Trace(ctx context.Context, ev Event)
}

// TracerFunc adapts a function to Tracer.
type TracerFunc func(ctx context.Context, ev Event)

func (f TracerFunc) Trace(ctx context.Context, ev Event) { f(ctx, ev) }

// MultiTracer fans events out in order.
type MultiTracer []Tracer

func (m MultiTracer) Trace(ctx context.Context, ev Event) {
	for _, t := range m {
		if t != nil {
			t.Trace(ctx, ev)
		}
	}
}

// LogTracer writes events to a zap logger.
type LogTracer struct {
	Logger *zap.Logger
}

func (l LogTracer) Trace(ctx context.Context, ev Event) {
	logger := l.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("request_id", ev.RequestID),
		zap.String("state", string(ev.State)),
	}
	if ev.Preview != "" {
		fields = append(fields, zap.String("preview", ev.Preview))
	}
	if ev.Err != nil {
		fields = append(fields, zap.String("error_kind", ev.ErrorKind), zap.Error(ev.Err))
		logger.Warn("transition", fields...)
		return
	}
	logger.Info("transition", fields...)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= PreviewLen {
		return s
	}
	return string(r[:PreviewLen])
}
