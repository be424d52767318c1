package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func TestLedger_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("succeeds first try", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("retries transient errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			if calls < 3 {
				return errors.New("connection reset by peer")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		t.Parallel()
		calls := 0
		permanent := errors.New("invalid merkle proof")
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return permanent
		})
		require.ErrorIs(t, err, permanent)
		require.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Do(context.Background(), fastConfig(), func() error {
			calls++
			return errors.New("timeout waiting for response")
		})
		require.Error(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Do(ctx, fastConfig(), func() error {
			return errors.New("timeout")
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestLedger_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(context.Canceled))
	require.False(t, IsRetryable(errors.New("amount mismatch")))
	require.True(t, IsRetryable(errors.New("429 too many requests")))
	require.True(t, IsRetryable(errors.New("read: connection reset")))
	require.True(t, IsRetryable(errors.New("unexpected EOF")))
}
