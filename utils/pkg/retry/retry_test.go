package retry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestPricelake_Retry_DefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.BaseBackoff)
	require.Equal(t, 5*time.Second, cfg.MaxBackoff)
	require.Nil(t, cfg.Retryable)
}

func TestPricelake_Retry_Do(t *testing.T) {
	t.Parallel()

	t.Run("succeeds on first attempt", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		err := Do(context.Background(), fastConfig(), func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("succeeds after retries", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		err := Do(context.Background(), fastConfig(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("exhausts attempts and wraps last error", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		original := errors.New("connection reset")
		err := Do(context.Background(), fastConfig(), func() error {
			attempts++
			return original
		})
		require.Error(t, err)
		require.ErrorIs(t, err, original)
		require.Equal(t, 3, attempts)
	})

	t.Run("returns non-retryable error immediately", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		original := errors.New("invalid input")
		err := Do(context.Background(), fastConfig(), func() error {
			attempts++
			return original
		})
		require.Same(t, original, err)
		require.Equal(t, 1, attempts)
	})

	t.Run("uses custom retryable predicate", func(t *testing.T) {
		t.Parallel()

		sentinel := errors.New("lock contention")
		cfg := fastConfig()
		cfg.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

		var retried []int
		cfg.OnRetry = func(attempt int, err error) {
			retried = append(retried, attempt)
		}

		attempts := 0
		err := Do(context.Background(), cfg, func() error {
			attempts++
			if attempts < 2 {
				return sentinel
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, attempts)
		require.Equal(t, []int{1}, retried)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cfg := Config{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

		attempts := 0
		err := Do(ctx, cfg, func() error {
			attempts++
			if attempts == 2 {
				cancel()
			}
			return errors.New("connection reset")
		})
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 2, attempts)
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		t.Parallel()

		attempts := 0
		err := Do(context.Background(), Config{}, func() error {
			attempts++
			return errors.New("connection reset")
		})
		require.Error(t, err)
		require.Equal(t, 1, attempts)
	})
}

func TestPricelake_Retry_IsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "net timeout", err: &net.DNSError{Err: "lookup", IsTimeout: true}, want: true},
		{name: "connection reset", err: errors.New("read: connection reset by peer"), want: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: true},
		{name: "eof", err: errors.New("unexpected EOF"), want: true},
		{name: "broken pipe", err: errors.New("write: broken pipe"), want: true},
		{name: "too many connections", err: errors.New("FATAL: too many connections for role"), want: true},
		{name: "context canceled", err: context.Canceled, want: false},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: false},
		{name: "syntax error", err: errors.New("syntax error at or near SELECT"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestPricelake_Retry_CalculateBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    time.Duration
		max     time.Duration
		attempt int
		minExp  time.Duration
		maxExp  time.Duration
	}{
		{name: "first retry", base: 500 * time.Millisecond, max: 5 * time.Second, attempt: 1, minExp: 500 * time.Millisecond, maxExp: time.Second},
		{name: "second retry", base: 500 * time.Millisecond, max: 5 * time.Second, attempt: 2, minExp: time.Second, maxExp: 2 * time.Second},
		{name: "capped at max", base: 500 * time.Millisecond, max: 5 * time.Second, attempt: 6, minExp: 2500 * time.Millisecond, maxExp: 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			for range 50 {
				got := calculateBackoff(tt.base, tt.max, tt.attempt)
				require.GreaterOrEqual(t, got, tt.minExp)
				require.LessOrEqual(t, got, tt.maxExp)
			}
		})
	}
}
