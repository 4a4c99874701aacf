// Package retry implements the bounded exponential-backoff loop used for
// upstream calls. Each attempt reports a tagged Result; Do consumes results
// and owns the attempt counter, so transitions can be tested without I/O.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Decision tags the outcome of one attempt.
type Decision int

const (
	// Done means the attempt produced a value to hand back to the caller.
	Done Decision = iota
	// Again means the attempt failed transiently and may be repeated.
	Again
	// Stop means the attempt failed terminally.
	Stop
)

func (d Decision) String() string {
	switch d {
	case Done:
		return "done"
	case Again:
		return "retry"
	case Stop:
		return "fail"
	}
	return fmt.Sprintf("decision(%d)", int(d))
}

// Result is the tagged outcome of a single attempt.
type Result[T any] struct {
	Decision Decision
	Value    T
	Err      error
	// Wait is how long to pause before the next attempt (Again only).
	Wait time.Duration
	// Reason labels why a retry was requested.
	Reason string
}

// Ok wraps a successful value.
func Ok[T any](v T) Result[T] {
	return Result[T]{Decision: Done, Value: v}
}

// Retry requests another attempt after wait.
func Retry[T any](reason string, err error, wait time.Duration) Result[T] {
	return Result[T]{Decision: Again, Err: err, Wait: wait, Reason: reason}
}

// Fail ends the loop with err.
func Fail[T any](err error) Result[T] {
	return Result[T]{Decision: Stop, Err: err}
}

// MaxBackoff is the ceiling applied to every computed backoff. A larger
// Policy.MaxBackoff is clamped to it.
const MaxBackoff = 10 * time.Second

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// NewState returns a fresh per-call state.
func (p Policy) NewState() *State {
	c := p.ceiling()
	return &State{Backoff: min(p.BaseBackoff, c), ceiling: c}
}

// ExponentialDelay returns min(base * 2^attempt, ceiling).
func (p Policy) ExponentialDelay(attempt int) time.Duration {
	ceiling := p.ceiling()
	d := p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	return min(d, ceiling)
}

func (p Policy) ceiling() time.Duration {
	if p.MaxBackoff > 0 {
		return min(p.MaxBackoff, MaxBackoff)
	}
	return MaxBackoff
}

// State is the mutable counter for one logical call.
type State struct {
	Attempt int
	Backoff time.Duration

	ceiling time.Duration
}

// NextBackoff returns the current backoff and doubles it for the next call,
// capped at the policy ceiling.
func (s *State) NextBackoff() time.Duration {
	d := s.Backoff
	s.Backoff = min(s.Backoff*2, s.ceiling)
	return d
}

// ExhaustedError is returned when every allowed attempt asked for a retry.
type ExhaustedError struct {
	Attempts int
	// Reason and Err describe the last retryable outcome; both are empty
	// when the policy allowed zero attempts.
	Reason string
	Err    error
}

func (e *ExhaustedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("retries exhausted after %d attempts", e.Attempts)
	}
	return fmt.Sprintf("retries exhausted after %d attempts (%s): %v", e.Attempts, e.Reason, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Attempt performs one try. It may read the state (attempt number, current
// backoff) and advance the backoff via NextBackoff.
type Attempt[T any] func(ctx context.Context, st *State) Result[T]

// Observer is notified before each backoff pause.
type Observer func(st *State, reason string, wait time.Duration, err error)

// Do runs fn while st.Attempt < p.MaxRetries. A retryable result increments
// the attempt counter; the pause only happens when another attempt follows.
func Do[T any](ctx context.Context, p Policy, sleep Sleeper, observe Observer, fn Attempt[T]) (T, error) {
	var zero T
	st := p.NewState()
	var last Result[T]

	for st.Attempt < p.MaxRetries {
		res := fn(ctx, st)
		switch res.Decision {
		case Done:
			return res.Value, nil
		case Stop:
			return zero, res.Err
		}

		last = res
		st.Attempt++
		if st.Attempt >= p.MaxRetries {
			break
		}
		if observe != nil {
			observe(st, res.Reason, res.Wait, res.Err)
		}
		if err := sleep(ctx, res.Wait); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Attempts: st.Attempt, Reason: last.Reason, Err: last.Err}
}
