// Package loop repeats a step until it decides to stop, sleeping between steps on a clock.
package loop

import (
	"context"
	"fmt"
	"time"

	"k8s.io/utils/clock"
)

// Next tells Start what to do after a step.
//
// The zero value is Continue(0).
type Next struct {
	stop  bool
	err   error
	delay time.Duration
}

func (n Next) String() string {
	switch {
	case n.err != nil:
		return fmt.Sprintf("break (%v)", n.err)
	case n.stop:
		return "break"
	default:
		return fmt.Sprintf("continue after %s", n.delay)
	}
}

// Continue runs the next step after delay.
func Continue(delay time.Duration) Next {
	return Next{delay: delay}
}

// Break stops the loop. Start returns err.
func Break(err error) Next {
	return Next{stop: true, err: err}
}

// Task is a step of the loop. It receives the value returned by the previous step.
type Task[T any] func(context.Context, T) (T, Next)

type config struct {
	clock clock.Clock
}

type Option func(*config) *config

// WithClock sets the clock to wait delays on. Default is the real clock.
func WithClock(clk clock.Clock) Option {
	return func(c *config) *config {
		c.clock = clk
		return c
	}
}

// Start calls task repeatedly, beginning with init, until it returns Break or ctx is done.
//
// # Returns
//
// - T: the value the last step returned (init, if no steps run).
//
// - error: the error passed to Break, or ctx.Err() when ctx is done.
func Start[T any](ctx context.Context, init T, task Task[T], options ...Option) (T, error) {
	conf := &config{clock: clock.RealClock{}}
	for _, o := range options {
		conf = o(conf)
	}

	value := init
	for {
		if err := ctx.Err(); err != nil {
			return value, err
		}

		v, next := task(ctx, value)
		if next.stop {
			return v, next.err
		}
		value = v

		if next.delay <= 0 {
			continue
		}
		if err := sleep(ctx, conf.clock, next.delay); err != nil {
			return value, err
		}
	}
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
