// Package retry runs an operation under a bounded, jittered delay schedule.
//
// The loop itself is driven by cenkalti/backoff; this package only supplies
// the schedule (fixed base delays with ±20% jitter, capped attempt count) and
// the hooks the orchestrator needs for classification and logging.
package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// JitterFactor is the symmetric fraction applied to every base delay.
const JitterFactor = 0.2

// DefaultDelays is the base delay sequence. When a policy allows more
// retries than there are delays, the last one repeats.
var DefaultDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. A Policy holds no per-call state and is safe to
// share between goroutines.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	// Values below 1 mean a single attempt.
	MaxAttempts int
	// Delays are the base waits after the 1st, 2nd, ... failure.
	// Empty means DefaultDelays.
	Delays []time.Duration
	// Rand returns a value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
	// Retryable reports whether err may succeed on another attempt.
	// Nil retries everything.
	Retryable func(err error) bool
	// OnRetry is called before each wait with the 1-based number of the
	// attempt that just failed.
	OnRetry func(attempt int, err error, delay time.Duration)
	// Timer overrides the wait clock. Nil uses a real timer.
	Timer backoff.Timer
}

// DefaultPolicy is used around the code-execution call.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, Delays: DefaultDelays}
}

// StructuredPolicy is used around structured-output calls.
func StructuredPolicy() Policy {
	return Policy{MaxAttempts: 5, Delays: DefaultDelays}
}

// Jitter returns base scaled by a uniform factor in [0.8, 1.2), truncated to
// whole milliseconds.
func Jitter(base time.Duration) time.Duration {
	return jitter(base, rand.Float64)
}

func jitter(base time.Duration, random func() float64) time.Duration {
	factor := 1 - JitterFactor + random()*2*JitterFactor
	ms := math.Floor(float64(base.Milliseconds()) * factor)
	return time.Duration(ms) * time.Millisecond
}

// Do calls op until it succeeds, the policy is exhausted, Retryable refuses
// the error, or ctx is done. On exhaustion the last error is returned as-is.
// Cancellation during a wait returns ctx.Err().
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	s := newSchedule(p)
	attempt := 0

	operation := func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	var notify backoff.Notify
	if p.OnRetry != nil {
		notify = func(err error, d time.Duration) {
			p.OnRetry(attempt, err, d)
		}
	}

	return backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(s, ctx), notify, p.Timer)
}

// schedule is the per-call BackOff: it hands out one jittered delay per
// failure until MaxAttempts-1 delays have been used.
type schedule struct {
	delays []time.Duration
	limit  int
	random func() float64
	n      int
}

func newSchedule(p Policy) *schedule {
	s := &schedule{
		delays: p.Delays,
		limit:  p.MaxAttempts - 1,
		random: p.Rand,
	}
	if len(s.delays) == 0 {
		s.delays = DefaultDelays
	}
	if s.limit < 0 {
		s.limit = 0
	}
	if s.random == nil {
		s.random = rand.Float64
	}
	return s
}

func (s *schedule) NextBackOff() time.Duration {
	if s.n >= s.limit {
		return backoff.Stop
	}
	i := s.n
	if i >= len(s.delays) {
		i = len(s.delays) - 1
	}
	s.n++
	return jitter(s.delays[i], s.random)
}

func (s *schedule) Reset() { s.n = 0 }
