// Package retry runs an operation a bounded number of times with a fixed
// pause between attempts.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts int           `yaml:"attempts"`
	Backoff  time.Duration `yaml:"backoff"`
}

// DefaultPolicy returns 3 attempts, 1s apart.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Backoff: DefaultBackoff}
}

// Normalize fills zero or negative fields with defaults.
func (p Policy) Normalize() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	return p
}

// Retryable marks err as worth another attempt. Errors returned from the
// operation without this mark end the loop immediately.
func Retryable(err error) error {
	return goretry.RetryableError(err)
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is spent, or ctx is done. The error returned for an exhausted
// budget is the last attempt's error, unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p = p.Normalize()
	b := goretry.WithMaxRetries(uint64(p.Attempts-1), goretry.NewConstant(nonZero(p.Backoff)))
	return goretry.Do(ctx, b, fn)
}

// go-retry's constant backoff panics on a zero duration.
func nonZero(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Nanosecond
	}
	return d
}
