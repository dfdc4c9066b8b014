package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2,
	}
}

// TestDoExhaustsAttempts tests that N failures produce exactly N calls and a terminal error.
func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	attempts, err := Do(context.Background(), fastConfig(4), zap.NewNop(), "op", func() error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, attempts)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.ErrorIs(t, err, boom)
}

// TestDoSucceedsOnAttemptM tests that success on attempt M stops after M calls.
func TestDoSucceedsOnAttemptM(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastConfig(5), zap.NewNop(), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("bad request")
	cfg := fastConfig(5)
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, fatal) }

	calls := 0
	_, err := Do(context.Background(), cfg, nil, "op", func() error {
		calls++
		return fatal
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, fatal)

	calls = 0
	err = WithBackoff(context.Background(), fastConfig(5), nil, "op", func() error {
		calls++
		return Permanent(fatal)
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, fatal, err)
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastConfig(10)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := Do(ctx, cfg, nil, "op", func() error { return errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffCapAndJitter(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, Backoff(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, Backoff(cfg, 2))
	assert.Equal(t, 300*time.Millisecond, Backoff(cfg, 5))

	cfg.JitterEnabled = true
	for i := 0; i < 50; i++ {
		d := Backoff(cfg, 2)
		assert.GreaterOrEqual(t, d, 170*time.Millisecond)
		assert.LessOrEqual(t, d, 230*time.Millisecond)
	}
}

// TestBackoffJitterNeverExceedsMaxDelay tests that a capped delay stays at or under
// MaxDelay once jitter is applied.
func TestBackoffJitterNeverExceedsMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2, JitterEnabled: true}
	for i := 0; i < 200; i++ {
		d := Backoff(cfg, 6)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
		assert.GreaterOrEqual(t, d, 255*time.Millisecond)
	}
}
