package tripsync

import (
	"context"
	"errors"
	"time"
)

// RetryConfig bounds how hard the client leans on a struggling server.
// SyncConfig carries one per client; the zero value means defaults.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultRetryConfig retries twice after the first failure, doubling the wait
// from 500ms up to a 30s ceiling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
}

// Retryable reports whether err is transient. Auth failures, validation
// errors, and conflict outcomes are final: repeating the call cannot resolve
// them, the device has to.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetworkFailure) || errors.Is(err, ErrServerError)
}

// WithRetry runs fn until it succeeds, a non-retryable error surfaces, or the
// attempt budget runs out. The terminal error comes back wrapped in a
// SyncError recording the operation and how many attempts were spent.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op string, fn func() (T, error)) (T, error) {
	var zero T
	budget := cfg.MaxAttempts
	if budget <= 0 {
		budget = 1
	}

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !Retryable(err) || attempt == budget {
			return zero, &SyncError{Op: op, Err: err, Retries: attempt}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoffWait(cfg, attempt)):
		}
	}
}

// backoffWait is the pause after the attempt-th consecutive failure.
func backoffWait(cfg RetryConfig, attempt int) time.Duration {
	wait := cfg.InitialWait
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 2.0
	}
	for i := 1; i < attempt; i++ {
		wait = time.Duration(float64(wait) * mult)
		if cfg.MaxWait > 0 && wait >= cfg.MaxWait {
			return cfg.MaxWait
		}
	}
	return wait
}
