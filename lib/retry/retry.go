package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a reusable bounded-backoff retry strategy. One policy instance is
// shared per call-site class (store round-trips, delivery execution) instead of
// ad-hoc loops. Transient decides whether an error is worth another attempt;
// when it returns false the error is surfaced immediately.
type Policy struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	Transient   func(error) bool
}

// Do runs op, retrying transient failures with exponential backoff until the
// attempt budget or the context is exhausted. MaxAttempts counts retries, so
// op runs at most MaxAttempts+1 times.
func (p Policy) Do(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.BaseDelay > 0 {
		b.InitialInterval = p.BaseDelay
	}
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if p.Transient != nil && !p.Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxAttempts), ctx))
}
