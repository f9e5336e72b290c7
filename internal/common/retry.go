package common

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
)

// Backoff defines bounded exponential retry behaviour for transient upstream failures.
type Backoff struct {
	// MaxAttempts is the total number of attempts including the first call
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts
	MaxBackoff time.Duration

	// Multiplier is applied to the wait on each further attempt
	Multiplier float64
}

// Default retry constants used when configuration leaves a field unset.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultMultiplier     = 2.0
)

// NewBackoff converts a RetryConfig into a Backoff, filling unset fields with defaults.
func NewBackoff(cfg RetryConfig) Backoff {
	b := Backoff{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: ParseDuration(cfg.InitialBackoff, DefaultInitialBackoff),
		MaxBackoff:     ParseDuration(cfg.MaxBackoff, DefaultMaxBackoff),
		Multiplier:     cfg.Multiplier,
	}
	if b.MaxAttempts < 1 {
		b.MaxAttempts = DefaultMaxAttempts
	}
	if b.Multiplier < 1 {
		b.Multiplier = DefaultMultiplier
	}
	return b
}

// RetryAfterer is implemented by errors that carry an upstream-suggested delay.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Delay computes the wait before the retry following the given zero-based attempt.
// If hint > 0 (an upstream-suggested delay) it replaces InitialBackoff as the base.
// The result is capped at MaxBackoff.
func (b Backoff) Delay(attempt int, hint time.Duration) time.Duration {
	base := b.InitialBackoff
	if hint > 0 {
		base = hint
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= b.Multiplier
	}

	delay := time.Duration(float64(base) * multiplier)
	if b.MaxBackoff > 0 && delay > b.MaxBackoff {
		delay = b.MaxBackoff
	}
	return delay
}

// Retry runs fn until it succeeds, returns a non-transient error, or MaxAttempts is reached.
// It returns the number of attempts made and the last error. Waiting between attempts
// stops early when ctx is done, in which case ctx.Err() is returned.
func Retry(ctx context.Context, b Backoff, logger arbor.ILogger, operation string, isTransient func(error) bool, fn func(ctx context.Context) error) (int, error) {
	var lastErr error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt + 1, nil
		}

		if !isTransient(lastErr) || attempt == b.MaxAttempts-1 {
			return attempt + 1, lastErr
		}

		var hint time.Duration
		var ra RetryAfterer
		if errors.As(lastErr, &ra) {
			hint = ra.RetryAfter()
		}
		delay := b.Delay(attempt, hint)

		if logger != nil {
			logger.Warn().
				Str("operation", operation).
				Int("attempt", attempt+1).
				Int("max_attempts", b.MaxAttempts).
				Dur("backoff", delay).
				Err(lastErr).
				Msg("Transient upstream failure, retrying")
		}

		select {
		case <-ctx.Done():
			return attempt + 1, ctx.Err()
		case <-time.After(delay):
		}
	}
	return b.MaxAttempts, lastErr
}
