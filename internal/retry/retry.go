// Package retry drives the bounded publish retry used before a message is
// parked in the cache failure buffer.
//
// Each call walks Attempting(1) -> Success | Attempting(n+1) | Exhausted.
// The schedule is fixed: three attempts, exponential backoff from 1s capped
// at 5s.
package retry

import (
	"context"
	"time"
)

const (
	MaxAttempts = 3
	BaseDelay   = time.Second
	MaxDelay    = 5 * time.Second
)

// State is the position of a publish attempt in the retry machine.
type State int

const (
	Attempting State = iota
	Succeeded
	Exhausted
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Succeeded:
		return "succeeded"
	case Exhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Outcome reports how a Do call ended.
type Outcome struct {
	State    State
	Attempts int
	Err      error // last error; nil on success
}

// Backoff returns the wait before attempt+1 given the attempt that just
// failed (1-based).
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	d := BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= MaxDelay {
			return MaxDelay
		}
	}
	return d
}

// Next returns the state that follows a finished attempt.
func Next(attempt int, err error) State {
	if err == nil {
		return Succeeded
	}
	if attempt >= MaxAttempts {
		return Exhausted
	}
	return Attempting
}

// sleep waits for d or until ctx is done. Replaced in tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds or the attempts run out.
func Do(ctx context.Context, fn func(ctx context.Context) error) Outcome {
	out := Outcome{State: Attempting}
	for attempt := 1; out.State == Attempting; attempt++ {
		out.Attempts = attempt
		out.Err = fn(ctx)
		out.State = Next(attempt, out.Err)
		if out.State != Attempting {
			break
		}
		if err := sleep(ctx, Backoff(attempt)); err != nil {
			out.State = Exhausted
			out.Err = err
		}
	}
	return out
}
