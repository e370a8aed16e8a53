package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func noSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	var waits []time.Duration
	old := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = old })
	return &waits
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestNext(t *testing.T) {
	boom := errors.New("boom")
	assert.Equal(t, Succeeded, Next(1, nil))
	assert.Equal(t, Attempting, Next(1, boom))
	assert.Equal(t, Attempting, Next(2, boom))
	assert.Equal(t, Exhausted, Next(3, boom))
}

func TestDoSucceedsFirstTry(t *testing.T) {
	waits := noSleep(t)
	calls := 0

	out := Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.Equal(t, Succeeded, out.State)
	assert.Equal(t, 1, out.Attempts)
	assert.NoError(t, out.Err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *waits)
}

func TestDoRecoversOnSecondAttempt(t *testing.T) {
	waits := noSleep(t)
	calls := 0

	out := Do(context.Background(), func(context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("leader not available")
		}
		return nil
	})

	assert.Equal(t, Succeeded, out.State)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, *waits)
}

func TestDoExhausts(t *testing.T) {
	waits := noSleep(t)
	boom := errors.New("broker down")

	out := Do(context.Background(), func(context.Context) error { return boom })

	assert.Equal(t, Exhausted, out.State)
	assert.Equal(t, MaxAttempts, out.Attempts)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestDoStopsOnCancel(t *testing.T) {
	noSleep(t)
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	out := Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("broker down")
	})

	assert.Equal(t, Exhausted, out.State)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "attempting", Attempting.String())
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "exhausted", Exhausted.String())
}
