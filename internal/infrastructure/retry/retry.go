// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// Config holds configuration for retry logic.
type Config struct {
	// MaxAttempts caps the number of calls. Zero means retry until ctx ends.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// OnRetry, when set, is called before each wait with the attempt that
	// just failed (1-based), its error and the delay about to be slept.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns the backoff used for portal discovery.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  0,
		InitialDelay: 2 * time.Second,
		MaxDelay:     5 * time.Minute,
		Multiplier:   2.0,
	}
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent wraps err so Do stops retrying and returns err unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do executes fn with exponential backoff until it succeeds, returns a
// Permanent error, the attempt budget runs out or ctx ends.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctx.Err() != nil {
				return err
			}
		}

		if cfg.MaxAttempts > 0 && attempt == cfg.MaxAttempts {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = Next(cfg, delay)
	}

	return lastErr
}

// Next returns the delay that follows current under cfg.
func Next(cfg Config, current time.Duration) time.Duration {
	mult := cfg.Multiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(current) * mult)
	if cfg.MaxDelay > 0 && next > cfg.MaxDelay {
		next = cfg.MaxDelay
	}
	return next
}
