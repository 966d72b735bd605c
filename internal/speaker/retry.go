package speaker

import (
	"context"
	"errors"
	"time"

	"go.klb.dev/echolink/internal/tts"
)

// RetryConfig holds configuration for synthesis retries.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns three attempts starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// Backoff returns the wait before retry number attempt (0-based), capped at
// MaxBackoff.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	b := c.InitialBackoff
	for range attempt {
		b = time.Duration(float64(b) * c.BackoffMultiplier)
		if b >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return min(b, c.MaxBackoff)
}

// retryable reports whether another attempt could succeed.
func retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, tts.ErrEmptyText),
		errors.Is(err, tts.ErrRejected),
		errors.Is(err, tts.ErrInterrupted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// retry runs fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx is done.
func retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	attempts := max(cfg.MaxAttempts, 1)

	var lastErr error
	for attempt := range attempts {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || attempt == attempts-1 {
			break
		}

		t := time.NewTimer(cfg.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return lastErr
}
