// Package health implements the retry/backoff loop, pre-call reachability
// probe, and per-address circuit breaker that sit between the runner and
// the gRPC invoker.
package health

import (
	"context"
	"strings"
	"time"
)

// transientSubstrings are case-insensitive markers of a transient failure
// embedded in an adapter's error/output text, for failures that don't
// carry one of retryableStatusCodes.
var transientSubstrings = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"network is unreachable",
	"temporary failure",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
}

// retryableStatusCodes are the gRPC status codes treated as transient:
// DeadlineExceeded(4), ResourceExhausted(8), Internal(13), Unavailable(14).
var retryableStatusCodes = map[uint32]bool{4: true, 8: true, 13: true, 14: true}

// Retryable reports whether a non-zero transport result should be retried.
func Retryable(statusCode uint32, output string) bool {
	if retryableStatusCodes[statusCode] {
		return true
	}
	lower := strings.ToLower(output)
	for _, s := range transientSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// Backoff returns the delay before retry attempt k+1, given k completed
// attempts: min(initial * 2^(k-1), max).
func Backoff(k int, initial, max time.Duration) time.Duration {
	if k < 1 {
		k = 1
	}
	d := initial
	for i := 1; i < k; i++ {
		if d > max {
			return max
		}
		d *= 2
	}
	if d > max {
		return max
	}
	return d
}

// Attempt is one try's outcome.
type Attempt struct {
	Err       error
	Retryable bool
}

// Run calls try up to maxRetries times (1-indexed attempt number). It
// stops as soon as an attempt succeeds (Err == nil) or fails in a way
// that isn't retryable, and sleeps Backoff(attempt, initial, max) between
// retryable failures. Returns the last attempt's error.
func Run(ctx context.Context, maxRetries int, initial, max time.Duration, try func(attempt int) Attempt) error {
	var last Attempt
	for attempt := 1; attempt <= maxRetries; attempt++ {
		last = try(attempt)
		if last.Err == nil || !last.Retryable {
			return last.Err
		}
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(attempt, initial, max)):
		}
	}
	return last.Err
}
