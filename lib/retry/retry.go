package retry

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/dPersist/lib/store"
	"github.com/cenkalti/backoff/v5"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("retry")

// Policy bounds the retries of one operation
type Policy struct {
	MaxAttempts     uint          // total attempts including the first one, 0 = unlimited
	InitialInterval time.Duration // delay before the first retry
	MaxInterval     time.Duration // cap of the exponential growth
	MaxElapsed      time.Duration // give up after this much time, 0 = only bounded by ctx and MaxAttempts
	Jitter          float64       // randomization factor, 0.5 means +/- 50%
}

// DefaultPolicy retries up to 5 times within 10 seconds
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		MaxElapsed:      10 * time.Second,
		Jitter:          0.5,
	}
}

// Retryable reports whether err is worth another attempt.
// Only backend failures are, conflicts and invalid input are permanent.
func Retryable(err error) bool {
	return errors.Is(err, store.ErrUnavailable)
}

// Do runs op until it succeeds, fails with an error that is not Retryable,
// the policy is exhausted or ctx is done. The last error is returned.
//
// Conditional writes must not be wrapped in Do with a fixed expected version:
// a retry with a stale version fails with a conflict, which ends the loop.
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.RandomizationFactor = p.Jitter

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Infof("%s failed, retrying in %v: %v", name, next, err)
		}),
	}
	if p.MaxAttempts > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxAttempts))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}

	return backoff.Retry[T](ctx, func() (T, error) {
		res, err := op(ctx)
		if err != nil && !Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, opts...)
}

// Run is Do for operations without a result
func Run(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
