package retry

import (
	"fmt"
	"math"
	"time"
)

// Policy decides polling cadence and when to give up.
type Policy interface {
	// NextDelay returns how long to wait before the next poll.
	//
	// # Args
	//
	// - pollCount: number of polls done so far.
	//
	// - consecutiveTransientFailures: number of transient failures in a row, just before.
	// 0 after a successful poll.
	NextDelay(pollCount int, consecutiveTransientFailures int) time.Duration

	// MaxTransientFailures is the number of consecutive transient failures
	// which means the contact with the task is lost.
	MaxTransientFailures() int
}

const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxFailures = 3
)

// Default returns the Policy polling every 2 seconds and giving up on 3 transient failures in a row.
func Default() Policy {
	return Fixed{Interval: DefaultInterval, MaxFailures: DefaultMaxFailures}
}

// Fixed polls with constant interval, regardless of failures.
type Fixed struct {
	Interval    time.Duration
	MaxFailures int
}

var _ Policy = Fixed{}

func (f Fixed) NextDelay(int, int) time.Duration {
	return f.Interval
}

func (f Fixed) MaxTransientFailures() int {
	return f.MaxFailures
}

func (f Fixed) String() string {
	return fmt.Sprintf("fixed(interval=%s, max failures=%d)", f.Interval, f.MaxFailures)
}

// Exponential polls with Interval while polls succeed,
// and stretches the delay by Factor for each consecutive transient failure, up to Max.
type Exponential struct {
	Interval time.Duration

	// upper bound of delay. Non-positive value means no bound,
	// but the delay still saturates at the longest time.Duration.
	Max time.Duration

	// multiplier per failure. Values less than 1 are treated as 1.
	Factor float64

	MaxFailures int
}

var _ Policy = Exponential{}

func (e Exponential) NextDelay(_ int, failures int) time.Duration {
	factor := e.Factor
	if factor < 1 {
		factor = 1
	}

	ceiling := time.Duration(math.MaxInt64)
	if 0 < e.Max {
		ceiling = e.Max
	}

	d := float64(e.Interval)
	for i := 0; i < failures; i++ {
		d *= factor
		if float64(ceiling) <= d {
			return ceiling
		}
	}
	return time.Duration(int64(d))
}

func (e Exponential) MaxTransientFailures() int {
	return e.MaxFailures
}

func (e Exponential) String() string {
	return fmt.Sprintf(
		"exponential(interval=%s, factor=%g, max=%s, max failures=%d)",
		e.Interval, e.Factor, e.Max, e.MaxFailures,
	)
}
