package common

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/opst/taskmon/pkg/monitor"
	"github.com/opst/taskmon/pkg/rest"
	"github.com/opst/taskmon/pkg/retry"
)

// MonitorFlags are settings of watching tasks.
//
// Commands watching tasks have these in their flags.
type MonitorFlags struct {
	Interval     time.Duration
	MaxInterval  time.Duration
	MaxTransient int
	Timeout      time.Duration
	PollTimeout  time.Duration
	Backoff      string
}

// DefaultMonitorFlags are same as the defaults of monitor.Monitor.
func DefaultMonitorFlags() MonitorFlags {
	return MonitorFlags{
		Interval:     retry.DefaultInterval,
		MaxInterval:  time.Minute,
		MaxTransient: retry.DefaultMaxFailures,
		PollTimeout:  monitor.DefaultPollTimeout,
		Backoff:      "fixed",
	}
}

// Policy builds retry.Policy from flags.
func (f MonitorFlags) Policy() (retry.Policy, error) {
	if f.Interval <= 0 {
		return nil, fmt.Errorf("--interval should be positive: %s", f.Interval)
	}
	if f.MaxTransient <= 0 {
		return nil, fmt.Errorf("--max-transient should be positive: %d", f.MaxTransient)
	}

	switch strings.ToLower(f.Backoff) {
	case "", "fixed":
		return retry.Fixed{Interval: f.Interval, MaxFailures: f.MaxTransient}, nil
	case "exponential":
		return retry.Exponential{
			Interval:    f.Interval,
			Max:         f.MaxInterval,
			Factor:      2,
			MaxFailures: f.MaxTransient,
		}, nil
	default:
		return nil, fmt.Errorf("--backoff should be fixed or exponential: %s", f.Backoff)
	}
}

// Monitor creates monitor.Monitor polling with poller.
//
// # Returns
//
// - *monitor.Monitor
//
// - []monitor.SessionOption: options for each session, like deadline.
//
// - error: when flags are invalid.
func (f MonitorFlags) Monitor(poller rest.Poller, logger *log.Logger, options ...monitor.Option) (*monitor.Monitor, []monitor.SessionOption, error) {
	policy, err := f.Policy()
	if err != nil {
		return nil, nil, err
	}

	options = append(
		[]monitor.Option{
			monitor.WithPolicy(policy),
			monitor.WithLogger(logger),
			monitor.WithPollTimeout(f.PollTimeout),
		},
		options...,
	)

	sessionOptions := []monitor.SessionOption{}
	if 0 < f.Timeout {
		sessionOptions = append(sessionOptions, monitor.WithDeadline(f.Timeout))
	}
	return monitor.New(poller, options...), sessionOptions, nil
}
