package engine

import "errors"

// ErrMaxStepsExceeded indicates that workflow execution reached the maximum
// allowed step count without completing. This prevents infinite loops and
// runaway executions.
var ErrMaxStepsExceeded = errors.New("execution exceeded maximum steps limit")

// ErrBackpressure indicates that downstream processing cannot keep up with
// the current execution rate.
var ErrBackpressure = errors.New("downstream backpressure exceeded threshold")

// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate when MaxAttempts
// is less than 1, or MaxDelay is set below a nonzero BaseDelay.
var ErrInvalidRetryPolicy = errors.New("invalid retry policy")
