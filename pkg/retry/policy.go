// Package retry runs an operation under a bounded exponential backoff. It
// is a thin policy layer over github.com/cenkalti/backoff/v4 that reports
// the number of attempts made, so callers can log retry exhaustion once
// with the attempt count.
//
// Operations signal non-retryable failures with [Permanent]:
//
//	attempts, err := retry.DefaultPolicy().Do(ctx, func(ctx context.Context) error {
//	    resp, err := client.Do(req.WithContext(ctx))
//	    if err != nil {
//	        return err // retried
//	    }
//	    if resp.StatusCode == http.StatusNotFound {
//	        return retry.Permanent(errNotFound) // returned immediately
//	    }
//	    ...
//	}, nil)
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default policy values, matching the JWKS refresh schedule.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMultiplier  = 2.0
	DefaultJitter      = 0.1
	DefaultMaxDelay    = 30 * time.Second
)

// Policy describes how many times an operation is attempted and how long
// to wait between attempts. The zero value performs a single attempt with
// no delay.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BaseDelay is the wait before the second attempt. Zero disables
	// waiting entirely.
	BaseDelay time.Duration

	// Multiplier scales the delay after each failed attempt.
	Multiplier float64

	// Jitter is the randomization factor in [0, 1] applied to each delay.
	Jitter float64

	// MaxDelay caps a single delay. Zero means no cap beyond the backoff
	// library's default.
	MaxDelay time.Duration
}

// DefaultPolicy returns 5 attempts starting at 500ms and doubling.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      DefaultJitter,
		MaxDelay:    DefaultMaxDelay,
	}
}

// Immediate returns a policy that retries up to attempts times without
// waiting. Tests use it to assert attempt counts without sleeping.
func Immediate(attempts int) Policy {
	return Policy{MaxAttempts: attempts}
}

// Notify is called after each failed attempt that will be retried, with
// the 1-based attempt number, its error and the delay before the next one.
type Notify func(attempt int, err error, next time.Duration)

// Permanent marks err as non-retryable. Do returns the unwrapped err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if p.BaseDelay > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.BaseDelay
		exp.RandomizationFactor = p.Jitter
		if p.Multiplier >= 1 {
			exp.Multiplier = p.Multiplier
		} else {
			exp.Multiplier = 1
		}
		if p.MaxDelay > 0 {
			exp.MaxInterval = p.MaxDelay
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
	}
	b = backoff.WithMaxRetries(b, uint64(p.attempts()-1))
	return backoff.WithContext(b, ctx)
}

// Do runs op until it succeeds, returns a [Permanent] error, the attempts
// are exhausted or ctx ends. It returns the number of attempts made and the
// last error. When ctx ends while waiting, the error is ctx.Err().
//
// op receives ctx unchanged; per-attempt timeouts are the caller's concern.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify Notify) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	attempts := 0
	operation := func() error {
		attempts++
		return op(ctx)
	}

	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, next time.Duration) {
			notify(attempts, err, next)
		}
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), onRetry)
	return attempts, err
}
