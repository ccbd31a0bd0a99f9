package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxAttempts: 3})
	err := errors.New("boom")

	require.True(t, p.ShouldRetry(err, 0))
	require.True(t, p.ShouldRetry(err, 1))
	require.False(t, p.ShouldRetry(err, 2), "attempt bound must give up")
	require.False(t, p.ShouldRetry(nil, 0))
	require.False(t, p.ShouldRetry(context.Canceled, 0))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 0))
}

func TestPolicy_BackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := New(Config{
		MaxAttempts: 10,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    time.Second,
	})

	for attempt := 0; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		// Deterministic half plus jitter half: always within (cap/2, cap].
		require.Greater(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Second)
	}

	// An early attempt stays near its exponential slot despite jitter.
	d0 := p.Backoff(0)
	require.LessOrEqual(t, d0, 100*time.Millisecond)
	require.GreaterOrEqual(t, d0, 50*time.Millisecond)
}

func TestPolicy_Defaults(t *testing.T) {
	t.Parallel()

	p := New(Config{})
	require.Equal(t, 3, p.MaxAttempts())
	require.Greater(t, p.Backoff(0), time.Duration(0))
}
