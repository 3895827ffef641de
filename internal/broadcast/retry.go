package broadcast

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"mediaindex/internal/domain"
	"mediaindex/internal/metrics"
)

// RetryConfig controls the exponential backoff behavior for retryDelivery.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the delivery defaults: 3 attempts, 500ms→1s→2s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// retryDelivery retries fn with exponential backoff and ±25% jitter. Permanent
// delivery failures (blocked, deleted account) return immediately; only
// transient ones burn attempts. Context cancellation between attempts is
// respected.
func retryDelivery(ctx context.Context, cfg RetryConfig, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}

		metrics.BroadcastRetriesTotal.Inc()

		jittered := applyJitter(delay)
		if jittered > cfg.MaxDelay {
			jittered = cfg.MaxDelay
		}

		timer := time.NewTimer(jittered)
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
	return lastErr
}

// applyJitter adds ±25% randomization to prevent thundering herd.
func applyJitter(d time.Duration) time.Duration {
	factor := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(d) * factor)
}

// isTransient reports whether a delivery failure may succeed on retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var derr *domain.DeliveryError
	if errors.As(err, &derr) {
		return !derr.Permanent()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
