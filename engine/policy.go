package engine

import (
	"math/rand"
	"time"
)

// NodePolicy configures per-node execution behavior: timeout and retry.
// If not specified, the engine-wide defaults from Options apply.
type NodePolicy struct {
	// Timeout is the maximum execution time allowed for this node.
	// If zero, Options.DefaultNodeTimeout is used.
	Timeout time.Duration

	// RetryPolicy specifies automatic retry behavior for transient failures.
	// If nil, the node is not retried.
	RetryPolicy *RetryPolicy
}

// RetryPolicy defines automatic retry configuration for transient node
// failures. Exponential backoff with jitter is used between attempts.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts (including the
	// initial attempt). Must be >= 1; 1 means no retries.
	MaxAttempts int

	// BaseDelay is the base delay for exponential backoff between retries.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Must be >= BaseDelay when both
	// are set.
	MaxDelay time.Duration

	// Retryable decides whether an error should trigger a retry. If nil, no
	// error is considered retryable.
	Retryable func(error) bool
}

// computeBackoff calculates the delay before the given retry attempt using
// exponential backoff with jitter: min(base*2^attempt, maxDelay) + jitter(0, base).
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	delay := base * (1 << attempt)
	if delay > maxDelay {
		delay = maxDelay
	}

	var jitter time.Duration
	if base > 0 {
		if rng != nil {
			jitter = time.Duration(rng.Int63n(int64(base)))
		} else {
			jitter = time.Duration(rand.Int63n(int64(base))) // #nosec G404 -- jitter for retry timing, not security
		}
	}

	return delay + jitter
}

// Validate checks the RetryPolicy for internal consistency:
//   - MaxAttempts must be >= 1
//   - if both BaseDelay and MaxDelay are set, MaxDelay must be >= BaseDelay
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.BaseDelay > 0 && rp.MaxDelay < rp.BaseDelay {
		return ErrInvalidRetryPolicy
	}
	return nil
}
