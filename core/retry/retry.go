// Package retry runs operations again after a failure, waiting an
// exponentially growing delay between attempts.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines how often and how patiently an operation is retried.
type Policy struct {
	// MaxAttempts is the number of retries after the first try (0 means no retry).
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0).
	Multiplier float64

	// JitterPercent spreads each delay by ±JitterPercent.
	JitterPercent float64
}

// NoRetry is a policy that runs the operation exactly once.
func NoRetry() *Policy {
	return &Policy{}
}

// =============================================================================
// Backoff
// =============================================================================

// CalculateDelay computes the backoff delay for a given attempt.
// Formula: delay = initial * (multiplier ^ attempt), capped at MaxDelay.
func CalculateDelay(attempt int, policy *Policy) time.Duration {
	if policy == nil {
		return 0
	}

	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	factor := math.Pow(multiplier, float64(attempt))
	delay := time.Duration(float64(policy.InitialDelay) * factor)

	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		return policy.MaxDelay
	}
	return delay
}

// AddJitter applies a random jitter of ±jitterPercent to the delay.
func AddJitter(delay time.Duration, jitterPercent float64) time.Duration {
	if jitterPercent <= 0 || delay <= 0 {
		return delay
	}

	jitterRange := float64(delay) * jitterPercent
	offset := (rand.Float64()*2 - 1) * jitterRange
	jittered := time.Duration(float64(delay) + offset)

	if jittered < time.Millisecond {
		return time.Millisecond
	}
	return jittered
}

// =============================================================================
// Execution
// =============================================================================

// Do runs fn until it succeeds, the policy is exhausted, shouldRetry rejects
// the error, or ctx is done. It returns the last error from fn.
func Do(ctx context.Context, policy *Policy, fn func(attempt int) error, shouldRetry func(error) bool) error {
	if policy == nil {
		policy = NoRetry()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.MaxAttempts {
			break
		}
		if shouldRetry != nil && !shouldRetry(lastErr) {
			break
		}

		delay := AddJitter(CalculateDelay(attempt, policy), policy.JitterPercent)
		if err := Wait(ctx, delay); err != nil {
			break
		}
	}
	return lastErr
}

// Wait sleeps for delay or until ctx is done.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
