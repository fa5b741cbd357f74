package monitor

import (
	"fmt"
	"time"

	"github.com/opst/taskmon/pkg/api/types/tasks"
)

// State is a state of a monitoring session.
type State string

const (
	// the session is started, but no status has been received.
	Submitting State = "SUBMITTING"
	Running    State = "RUNNING"
	Succeeded  State = "SUCCEEDED"
	Failed     State = "FAILED"
	Canceled   State = "CANCELED"
)

// Terminal reports the state absorbs: no more transitions and polls.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, Canceled:
		return true
	default:
		return false
	}
}

// Reason tells why a session failed.
type Reason string

const (
	// the task itself failed.
	ReasonTaskFailed Reason = "TASK_FAILED"

	// the orchestration service does not know the task.
	ReasonNotFound Reason = "NOT_FOUND"

	// too many transient poll failures in a row.
	ReasonLostContact Reason = "LOST_CONTACT"

	// the deadline of the session has elapsed.
	ReasonTimeout Reason = "TIMEOUT"
)

// Escalation reports whether the failure is synthesized by the monitor
// (infrastructure failure), rather than reported by the task.
func (r Reason) Escalation() bool {
	return r == ReasonLostContact || r == ReasonTimeout
}

// CancelOrigin tells who canceled a session.
type CancelOrigin string

const (
	// Session.Cancel is called, or the context passed to Watch is done.
	CanceledByCaller CancelOrigin = "CALLER"

	// the orchestration service reports the task is canceled.
	CanceledByServer CancelOrigin = "SERVER"
)

// Failure is passed to Handlers.OnFailure.
type Failure struct {
	Reason Reason

	// last status received. nil when no status has been received.
	Status *tasks.Status

	// error caused the failure, if any.
	Err error
}

func (f Failure) Error() string {
	msg := fmt.Sprintf("task failed (%s)", f.Reason)
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Outcome is the result of a finished session.
type Outcome struct {
	// one of Succeeded, Failed or Canceled.
	State State

	// set when State is Failed.
	Reason Reason

	// set when State is Canceled.
	CanceledBy CancelOrigin

	// last status received. nil when no status has been received.
	Status *tasks.Status

	Err error
}

func (o Outcome) String() string {
	switch o.State {
	case Failed:
		if o.Err != nil {
			return fmt.Sprintf("%s (%s): %s", o.State, o.Reason, o.Err)
		}
		return fmt.Sprintf("%s (%s)", o.State, o.Reason)
	case Canceled:
		return fmt.Sprintf("%s (by %s)", o.State, o.CanceledBy)
	default:
		return string(o.State)
	}
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Reference tasks.Reference
	State     State

	// last status received. nil when no status has been received.
	Status *tasks.Status

	PollCount           int
	ConsecutiveFailures int
	StartedAt           time.Time
	Completed           bool
}
