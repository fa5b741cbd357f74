package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/loop"
	"github.com/opst/taskmon/pkg/rest"
)

// Session tracks a task, from a Watch to its outcome.
type Session struct {
	monitor  *Monitor
	ref      tasks.Reference
	handlers Handlers

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	status    *tasks.Status
	pollCount int
	failures  int
	startedAt time.Time
	completed bool
	outcome   Outcome
}

type polled struct {
	status  tasks.Status
	err     error
	elapsed time.Duration
}

func (s *Session) Reference() tasks.Reference {
	return s.ref
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Reference:           s.ref,
		State:               s.state,
		Status:              s.status,
		PollCount:           s.pollCount,
		ConsecutiveFailures: s.failures,
		StartedAt:           s.startedAt,
		Completed:           s.completed,
	}
}

// Done is closed when the session is finished and its terminal handler has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session is finished or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome, nil
	}
}

// Cancel stops the session.
//
// Cancel does not block. The poll in flight, if any, is left to finish and its result is discarded.
// OnCancel is called unless the session has been finished already.
// Calling Cancel more than once is same as once.
func (s *Session) Cancel() {
	s.cancel(ErrCanceled)
}

func (s *Session) run() {
	m := s.monitor
	defer close(s.done)
	defer m.release(s)
	defer s.cancel(nil)

	_, err := loop.Start(s.ctx, struct{}{}, s.step, loop.WithClock(m.clock))
	if err == nil {
		return
	}

	switch cause := context.Cause(s.ctx); {
	case errors.Is(cause, errTimeout):
		m.logger.Printf("task %s: deadline exceeded", s.ref.ID)
		s.fail(ReasonTimeout, cause)
	default:
		m.logger.Printf("task %s: canceled: %v", s.ref.ID, cause)
		s.finish(Outcome{State: Canceled, CanceledBy: CanceledByCaller, Err: cause})
	}
}

// step polls the task once.
func (s *Session) step(ctx context.Context, _ struct{}) (struct{}, loop.Next) {
	m := s.monitor
	result := make(chan polled, 1)

	go func() {
		pctx := context.WithoutCancel(ctx)
		if 0 < m.pollTimeout {
			var cancel context.CancelFunc
			pctx, cancel = context.WithTimeout(pctx, m.pollTimeout)
			defer cancel()
		}
		started := m.clock.Now()
		st, err := m.poller.Poll(pctx, s.ref)
		result <- polled{status: st, err: err, elapsed: m.clock.Since(started)}
	}()

	select {
	case <-ctx.Done():
		return struct{}{}, loop.Break(ctx.Err())
	case r := <-result:
		if err := ctx.Err(); err != nil {
			// canceled while polling. the result is discarded.
			return struct{}{}, loop.Break(err)
		}
		m.observer.Polled(s.ref, r.elapsed, r.err)
		return struct{}{}, s.apply(r)
	}
}

func (s *Session) apply(r polled) loop.Next {
	m := s.monitor

	s.mu.Lock()
	s.pollCount += 1
	pollCount := s.pollCount
	s.mu.Unlock()

	if r.err != nil {
		perr := new(rest.PollError)
		if errors.As(r.err, &perr) && !perr.Transient() {
			m.logger.Printf("task %s: not found: %v", s.ref.ID, r.err)
			s.fail(ReasonNotFound, r.err)
			return loop.Break(nil)
		}

		s.mu.Lock()
		s.failures += 1
		failures := s.failures
		s.mu.Unlock()

		limit := m.policy.MaxTransientFailures()
		m.logger.Printf("task %s: poll failed (%d/%d): %v", s.ref.ID, failures, limit, r.err)
		if 0 < limit && limit <= failures {
			s.fail(ReasonLostContact, r.err)
			return loop.Break(nil)
		}
		return loop.Continue(m.policy.NextDelay(pollCount, failures))
	}

	status := r.status
	s.mu.Lock()
	s.failures = 0
	s.status = &status
	s.mu.Unlock()

	switch status.State {
	case tasks.Succeeded:
		m.logger.Printf("task %s: succeeded", s.ref.ID)
		s.finish(Outcome{State: Succeeded, Status: &status})
		return loop.Break(nil)
	case tasks.Failed:
		m.logger.Printf("task %s: failed (%s)", s.ref.ID, status.RawStatus)
		s.fail(ReasonTaskFailed, nil)
		return loop.Break(nil)
	case tasks.Canceled:
		m.logger.Printf("task %s: canceled by server", s.ref.ID)
		s.finish(Outcome{State: Canceled, CanceledBy: CanceledByServer, Status: &status})
		return loop.Break(nil)
	}

	s.mu.Lock()
	if s.state == Submitting {
		m.logger.Printf("task %s: running", s.ref.ID)
	}
	s.state = Running
	s.mu.Unlock()

	if h := s.handlers.OnProgress; h != nil {
		s.invoke("OnProgress", func() { h(status) })
	}
	return loop.Continue(m.policy.NextDelay(pollCount, 0))
}

func (s *Session) fail(reason Reason, err error) {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	s.finish(Outcome{State: Failed, Reason: reason, Status: status, Err: err})
}

// finish moves the session to a terminal state and calls the handler for it.
//
// Only the first call takes effect.
func (s *Session) finish(outcome Outcome) {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		return
	}
	s.completed = true
	s.state = outcome.State
	if outcome.Status == nil {
		outcome.Status = s.status
	}
	s.outcome = outcome
	s.mu.Unlock()

	s.monitor.observer.SessionFinished(s.ref, outcome)

	switch outcome.State {
	case Succeeded:
		if h := s.handlers.OnSuccess; h != nil {
			s.invoke("OnSuccess", func() { h(*outcome.Status) })
		}
	case Failed:
		if h := s.handlers.OnFailure; h != nil {
			f := Failure{Reason: outcome.Reason, Status: outcome.Status, Err: outcome.Err}
			s.invoke("OnFailure", func() { h(f) })
		}
	case Canceled:
		if h := s.handlers.OnCancel; h != nil {
			s.invoke("OnCancel", func() { h(outcome.CanceledBy) })
		}
	}
}

// invoke calls a handler. A panic in the handler is logged, and does not break the session.
func (s *Session) invoke(name string, h func()) {
	defer func() {
		if r := recover(); r != nil {
			s.monitor.logger.Printf("task %s: %s panicked: %v", s.ref.ID, name, r)
		}
	}()
	h()
}
