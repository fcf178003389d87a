// Package retry implements the Retry policy Layer (C9): a generic
// Service.Layer that re-invokes its inner Service on failure according to
// a pluggable RetryPolicy, backed by default with
// github.com/cenkalti/backoff/v4's exponential backoff with jitter.
//
// Grounded on internal/adapter/proxy/core/retry.go's endpoint-failover
// loop, generalised from "retry across a list of endpoints" to "retry the
// same call against whatever the inner Service resolves to", since rama's
// protocol cores dial one target, not a pool.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thushan/rama/pkg/service"
)

// Decision is what a RetryPolicy reports after a failed attempt.
type Decision int

const (
	// Stop ends the retry loop, surfacing the most recent error.
	Stop Decision = iota
	// Retry waits Delay then invokes the inner Service again.
	Retry
)

// RetryPolicy decides, given the attempt number (starting at 1) and the
// error from that attempt, whether to retry and after how long.
type RetryPolicy func(attempt int, err error) (Decision, time.Duration)

// ExponentialRetryPolicy returns a RetryPolicy backed by
// backoff.ExponentialBackOff, retrying up to maxAttempts times (including
// the first). The delay engine is an implementation detail; callers only
// ever see the RetryPolicy function-value contract.
func ExponentialRetryPolicy(maxAttempts int, initialInterval time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if initialInterval <= 0 {
		initialInterval = 100 * time.Millisecond
	}

	return func(attempt int, err error) (Decision, time.Duration) {
		if attempt >= maxAttempts {
			return Stop, 0
		}
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initialInterval
		var delay time.Duration
		for i := 0; i < attempt; i++ {
			delay = b.NextBackOff()
		}
		return Retry, delay
	}
}

// ErrExhausted wraps the final attempt's error once a RetryPolicy decides
// to Stop, so callers can distinguish "every attempt failed" from "the
// last attempt's specific error" while still reaching the original error
// via errors.Unwrap/errors.Is.
type ErrExhausted struct {
	Attempts int
	Err      error
}

func (e *ErrExhausted) Error() string {
	return "retry: exhausted " + itoa(e.Attempts) + " attempts: " + e.Err.Error()
}

func (e *ErrExhausted) Unwrap() error { return e.Err }

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Layer builds a service.Layer that retries a failed Serve call according
// to policy. isRetryable, if non-nil, additionally gates whether a given
// error is worth retrying at all (a 4xx-equivalent application error
// typically isn't); nil means every error is retryable up to the policy's
// own attempt limit.
func Layer[Req, Resp any](policy RetryPolicy, isRetryable func(error) bool) service.Layer[Req, Resp] {
	return service.LayerFunc[Req, Resp](func(inner service.Service[Req, Resp]) service.Service[Req, Resp] {
		return service.ServiceFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
			var (
				resp    Resp
				lastErr error
			)
			for attempt := 1; ; attempt++ {
				resp, lastErr = inner.Serve(ctx, req)
				if lastErr == nil {
					return resp, nil
				}
				if isRetryable != nil && !isRetryable(lastErr) {
					return resp, lastErr
				}

				decision, delay := policy(attempt, lastErr)
				if decision == Stop {
					return resp, &ErrExhausted{Attempts: attempt, Err: lastErr}
				}

				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return resp, ctx.Err()
				}
			}
		})
	})
}

// IsConnectionError reports whether err looks like a transient network
// failure worth retrying (connection refused, reset, timeout), matching
// the classification internal/adapter/proxy/core/retry.go performed by
// string-matching syscall errno text; here it walks the error chain
// instead of matching strings, since Go 1.13+ wrapping makes that the more
// idiomatic check.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
