package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialBackoff_Bound(t *testing.T) {
	t.Parallel()
	backoff := ExponentialBackoff(time.Second, time.Second)
	for attempt := 0; attempt < 4; attempt++ {
		d := backoff(attempt)
		base := time.Second << uint(attempt)
		require.GreaterOrEqual(t, d, base)
		require.Less(t, d, base+time.Second)
	}
}

func TestLinearBackoff(t *testing.T) {
	t.Parallel()
	backoff := LinearBackoff(2 * time.Second)
	require.Equal(t, 2*time.Second, backoff(0))
	require.Equal(t, 4*time.Second, backoff(1))
	require.Equal(t, 10*time.Second, backoff(4))
}

func TestRetryPolicy_Attempts(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(3, ExponentialBackoff(time.Second, 0))
	require.Equal(t, 4, p.Attempts())
}

func TestRetryPolicy_WaitUsesBackoff(t *testing.T) {
	t.Parallel()
	var slept []time.Duration
	p := NewRetryPolicy(2, LinearBackoff(time.Second))
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, p.Wait(context.Background(), 0))
	require.NoError(t, p.Wait(context.Background(), 1))
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestRetryPolicy_WaitHonorsCancel(t *testing.T) {
	t.Parallel()
	p := NewRetryPolicy(1, ExponentialBackoff(time.Hour, 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := p.Wait(ctx, 0)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}
