// Package startup holds helpers for bringing the service up against upstream
// APIs that may not be reachable yet.
package startup

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig configures the exponential backoff retry behavior.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
}

// DefaultRetryConfig returns the backoff used for startup network calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     time.Minute,
		MaxAttempts:  5,
		Multiplier:   2.0,
	}
}

var networkIndicators = []string{
	"connection refused",
	"no such host",
	"network is unreachable",
	"no route to host",
	"i/o timeout",
	"connection reset",
	"temporary failure in name resolution",
}

// IsNetworkError checks if an error is likely due to network unavailability.
func IsNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range networkIndicators {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying with exponential backoff while it fails with a
// network error. Other errors are returned immediately.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, fn func(ctx context.Context) error, logger zerolog.Logger) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info().Str("operation", name).Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsNetworkError(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn().
			Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("maxAttempts", cfg.MaxAttempts).
			Dur("nextRetryIn", delay).
			Msg("network error, will retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.Error().Err(lastErr).Str("operation", name).Int("attempts", cfg.MaxAttempts).
		Msg("operation failed after all retries")
	return lastErr
}
