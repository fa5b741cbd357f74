package loop_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opst/taskmon/pkg/loop"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestStart(t *testing.T) {
	t.Run("it waits intervals on the given clock", func(t *testing.T) {
		clk := clocktesting.NewFakeClock(time.Now())
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		runs := make(chan time.Time, 10)
		done := make(chan int, 1)
		go func() {
			v, _ := loop.Start(
				ctx, 0, func(_ context.Context, v int) (int, loop.Next) {
					runs <- clk.Now()
					if 3 <= v+1 {
						return v + 1, loop.Break(nil)
					}
					return v + 1, loop.Continue(5 * time.Second)
				},
				loop.WithClock(clk),
			)
			done <- v
		}()

		first := <-runs
		for i := 1; i < 3; i++ {
			for !clk.HasWaiters() {
				time.Sleep(time.Millisecond)
			}
			clk.Step(4 * time.Second)
			select {
			case <-runs:
				t.Fatalf("task runs before interval (run #%d)", i+1)
			case <-time.After(10 * time.Millisecond):
			}
			clk.Step(time.Second)
			at := <-runs
			if d := at.Sub(first); d != time.Duration(i)*5*time.Second {
				t.Errorf("run #%d is at +%s", i+1, d)
			}
		}

		if v := <-done; v != 3 {
			t.Errorf("unexpected result: %d", v)
		}
	})

	t.Run("when context is done while waiting, it stops without waiting the interval", func(t *testing.T) {
		clk := clocktesting.NewFakeClock(time.Now())
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() {
			_, err := loop.Start(
				ctx, 0, func(_ context.Context, v int) (int, loop.Next) {
					return v + 1, loop.Continue(time.Hour)
				},
				loop.WithClock(clk),
			)
			done <- err
		}()

		for !clk.HasWaiters() {
			time.Sleep(time.Millisecond)
		}
		cancel()

		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("unexpected error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("loop does not stop")
		}
	})

	t.Run("when context has been done before starting, it runs no steps", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		actual, err := loop.Start(ctx, 1, func(ctx context.Context, v int) (int, loop.Next) {
			t.Error("step runs")
			return v + 1, loop.Continue(0)
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
		if actual != 1 {
			t.Errorf("unexpected result: %d", actual)
		}
	})

	type then struct {
		value int
		err   error
	}
	boom := errors.New("boom")
	theory := func(breakAt int, breakWith error, then then) func(*testing.T) {
		return func(t *testing.T) {
			actual, err := loop.Start(
				context.Background(), 0,
				func(ctx context.Context, v int) (int, loop.Next) {
					if breakAt <= v+1 {
						return v + 1, loop.Break(breakWith)
					}
					return v + 1, loop.Continue(0)
				},
			)
			if !errors.Is(err, then.err) {
				t.Errorf("unexpected error: %v", err)
			}
			if actual != then.value {
				t.Errorf("(actual, expected) = (%d, %d)", actual, then.value)
			}
		}
	}

	t.Run("it repeats steps until Break(nil)", theory(10, nil, then{value: 10}))
	t.Run("it repeats steps until Break(err)", theory(5, boom, then{value: 5, err: boom}))
	t.Run("it stops at the first step when it breaks", theory(1, nil, then{value: 1}))
}

func TestNext_String(t *testing.T) {
	for expected, next := range map[string]loop.Next{
		"continue after 0s": {},
		"continue after 2s": loop.Continue(2 * time.Second),
		"break":             loop.Break(nil),
		"break (boom)":      loop.Break(errors.New("boom")),
	} {
		if actual := next.String(); actual != expected {
			t.Errorf("(actual, expected) = (%q, %q)", actual, expected)
		}
	}
}
