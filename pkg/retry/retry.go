package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

var ErrRetry = errors.New("retry")

// Backoff is a (blocking) function returns when to retry.
//
// # Args
//
// - context: context. If context is canceled, Backoff should return ctx.Err().
//
// # Returns
//
// - error: nil if retry, non-nil if not.
type Backoff func(context.Context) error

// StaticBackoff returns a Backoff function that waits for a fixed interval.
//
// # Args
//
// - interval: interval to wait.
//
// # Returns
//
// Backoff function, which waits for `interval` or for context to be done.
func StaticBackoff(interval time.Duration) Backoff {
	return waitOn(clock.RealClock{}, func() time.Duration { return interval })
}

// PolicyBackoff returns a Backoff function following Policy.
//
// Each call of the Backoff is counted as a transient failure;
// the first call waits for NextDelay(0, 0).
// After MaxTransientFailures waits, the Backoff returns ErrGiveUp.
// Policies with non-positive MaxTransientFailures never give up.
//
// # Args
//
// - clk: clock to measure delays.
//
// - p: Policy deciding delays.
func PolicyBackoff(clk clock.Clock, p Policy) Backoff {
	calls := 0
	b := waitOn(clk, func() time.Duration {
		d := p.NextDelay(calls, calls)
		calls += 1
		return d
	})
	return func(ctx context.Context) error {
		if limit := p.MaxTransientFailures(); 0 < limit && limit <= calls {
			return fmt.Errorf("%w: %d attempts", ErrGiveUp, calls)
		}
		return b(ctx)
	}
}

// ErrGiveUp is returned by a Backoff which runs out of attempts.
var ErrGiveUp = errors.New("give up retrying")

func waitOn(clk clock.Clock, next func() time.Duration) Backoff {
	return func(ctx context.Context) error {
		timer := clk.NewTimer(next())
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			return nil
		}
	}
}

// Blocking calls f until it returns nil or non-retry error.
//
// # Args
//
// - ctx: context
//
// - b: backoff function
//
// - f: function to be called. If f returns ErrRetry, Blocking calls f again after backoff.
//
// # Returns
//
// - T: last return value of f
//
// - error: error returned by f
func Blocking[T any](ctx context.Context, b Backoff, f func() (T, error)) (T, error) {
	last := *new(T)
	for {
		if err := b(ctx); err != nil {
			return last, err
		}

		var err error
		last, err = f()
		if err == nil {
			return last, nil
		}
		if errors.Is(err, ErrRetry) {
			continue
		}
		return last, err
	}
}
