package auth

import (
	"context"
	"math"
	"math/rand"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig parameterizes the shared retry policy.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget, including the first call.
	MaxAttempts int
	// BaseDelay is the backoff delay before the second attempt.
	BaseDelay time.Duration
	// MaxDelay caps backoff growth.
	MaxDelay time.Duration
	// ExponentialBase is the per-attempt delay multiplier.
	ExponentialBase float64
	// Jitter randomizes each delay into [0.5, 1.0) of its computed value.
	Jitter bool
}

// DefaultRetryConfig returns the policy used when callers pass a zero config.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		BaseDelay:       1000 * time.Millisecond,
		MaxDelay:        10000 * time.Millisecond,
		ExponentialBase: 2,
		Jitter:          true,
	}
}

// normalize fills in defaults for any zero fields.
func (c RetryConfig) normalize() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.ExponentialBase <= 1 {
		c.ExponentialBase = def.ExponentialBase
	}
	return c
}

// delayFor computes the sleep before the attempt following the given 1-based
// attempt. A classified retry hint takes precedence over the backoff curve.
func (c RetryConfig) delayFor(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	delay := float64(c.BaseDelay) * math.Pow(c.ExponentialBase, float64(attempt-1))
	if capped := float64(c.MaxDelay); delay > capped {
		delay = capped
	}
	if c.Jitter {
		delay *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(delay)
}

// ExecuteWithRetry runs op under the bounded-attempt exponential backoff
// policy. Failures are classified before the retry decision: non-retryable
// kinds short-circuit immediately, retryable kinds sleep and try again until
// the attempt budget is exhausted. The returned envelope records the number of
// attempts actually made and the total elapsed time including sleeps.
//
// Cancellation of ctx stops the loop between attempts; the last classified
// error is returned, or the cancellation itself when no attempt completed.
func ExecuteWithRetry[T any](ctx context.Context, operationName string, cfg RetryConfig, instanceID string, op func(ctx context.Context) (T, error)) Result[T] {
	cfg = cfg.normalize()
	start := time.Now()
	var lastErr *Error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		log.WithFields(log.Fields{
			"op":      operationName,
			"attempt": attempt,
		}).Debugf("%s: attempt %d/%d", operationName, attempt, cfg.MaxAttempts)

		data, err := op(ctx)
		if err == nil {
			latency := time.Since(start)
			log.WithFields(log.Fields{
				"op":       operationName,
				"attempts": attempt,
				"latency":  latency,
			}).Infof("%s succeeded", operationName)
			return success(data, latency, attempt, instanceID)
		}

		lastErr = Classify(err, instanceID)
		log.WithFields(log.Fields{
			"op":        operationName,
			"attempt":   attempt,
			"kind":      lastErr.Kind,
			"code":      lastErr.Code,
			"retryable": lastErr.Retryable,
		}).Warnf("%s failed: %v", operationName, lastErr.Message)

		if !lastErr.Retryable {
			return failure[T](lastErr, time.Since(start), attempt, instanceID)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.delayFor(attempt, lastErr.RetryAfter)
		log.WithFields(log.Fields{
			"op":       operationName,
			"retry_in": delay,
		}).Debugf("%s: backing off before retry", operationName)

		select {
		case <-ctx.Done():
			return failure[T](lastErr, time.Since(start), attempt, instanceID)
		case <-time.After(delay):
		}
	}

	return failure[T](lastErr, time.Since(start), cfg.MaxAttempts, instanceID)
}
