package monitor

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/rest"
	"github.com/opst/taskmon/pkg/retry"
	"k8s.io/utils/clock"
)

// ErrAlreadyWatched is returned by Watch when the task is watched by another live session.
var ErrAlreadyWatched = errors.New("task is already watched")

// ErrCanceled is the cause of a session canceled by Session.Cancel.
var ErrCanceled = errors.New("session is canceled")

// errTimeout is the cause of a session whose deadline has elapsed.
var errTimeout = errors.New("session deadline exceeded")

const DefaultPollTimeout = 30 * time.Second

// Handlers receive the progress and the outcome of a session.
//
// Handlers are called one at a time, from the goroutine of the session.
// Exactly one of OnSuccess, OnFailure or OnCancel is called per session.
// Nil handlers are skipped.
type Handlers struct {
	// called for each poll reporting the task is running.
	OnProgress func(tasks.Status)

	OnSuccess func(tasks.Status)
	OnFailure func(Failure)
	OnCancel  func(CancelOrigin)
}

// Observer watches sessions of a Monitor. Methods should return quickly.
type Observer interface {
	SessionStarted(ref tasks.Reference)

	// Polled is called for each poll with its duration and error.
	Polled(ref tasks.Reference, elapsed time.Duration, err error)

	SessionFinished(ref tasks.Reference, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(tasks.Reference) {
}

func (nopObserver) Polled(tasks.Reference, time.Duration, error) {
}

func (nopObserver) SessionFinished(tasks.Reference, Outcome) {
}

// Monitor tracks tasks by polling, with a session per task.
//
// Sessions are independent each other. The Poller can be shared.
type Monitor struct {
	poller      rest.Poller
	policy      retry.Policy
	clock       clock.Clock
	logger      *log.Logger
	observer    Observer
	pollTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Monitor) *Monitor

// WithPolicy sets the policy of polling interval and giving up.
//
// Default: retry.Default()
func WithPolicy(p retry.Policy) Option {
	return func(m *Monitor) *Monitor {
		m.policy = p
		return m
	}
}

// WithClock sets the clock to schedule polls and deadlines.
func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) *Monitor {
		m.clock = clk
		return m
	}
}

func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) *Monitor {
		m.logger = l
		return m
	}
}

func WithObserver(o Observer) Option {
	return func(m *Monitor) *Monitor {
		m.observer = o
		return m
	}
}

// WithPollTimeout limits the duration of each poll.
// A poll timed out is a transient failure. Non-positive value means no limit.
//
// Default: DefaultPollTimeout
func WithPollTimeout(d time.Duration) Option {
	return func(m *Monitor) *Monitor {
		m.pollTimeout = d
		return m
	}
}

func New(poller rest.Poller, options ...Option) *Monitor {
	m := &Monitor{
		poller:      poller,
		policy:      retry.Default(),
		clock:       clock.RealClock{},
		logger:      log.New(io.Discard, "", 0),
		observer:    nopObserver{},
		pollTimeout: DefaultPollTimeout,
		sessions:    map[string]*Session{},
	}
	for _, opt := range options {
		m = opt(m)
	}
	return m
}

type sessionConfig struct {
	deadline time.Duration
}

type SessionOption func(*sessionConfig) *sessionConfig

// WithDeadline fails the session with ReasonTimeout after d, measured from Watch.
func WithDeadline(d time.Duration) SessionOption {
	return func(sc *sessionConfig) *sessionConfig {
		sc.deadline = d
		return sc
	}
}

// Watch starts a session polling the task.
//
// The first poll is sent immediately. Watch does not block.
//
// Each call starts a new session with its own state. A task whose previous session
// has ended can be watched again: the new session does not inherit anything from
// the old one, so watching again after LOST_CONTACT, TIMEOUT or a caller's cancel
// finds out the task's actual fate.
//
// # Args
//
// - ctx: When it is done, the session is canceled by the caller.
//
// - ref: the task to be watched.
//
// - handlers: callbacks of the session.
//
// - options: ...SessionOption
//
// # Returns
//
// - *Session: started session.
//
// - error: ErrAlreadyWatched when a live session of this Monitor watches the task.
func (m *Monitor) Watch(ctx context.Context, ref tasks.Reference, handlers Handlers, options ...SessionOption) (*Session, error) {
	conf := &sessionConfig{}
	for _, opt := range options {
		conf = opt(conf)
	}

	m.mu.Lock()
	if _, ok := m.sessions[ref.ID]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyWatched
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	s := &Session{
		monitor:   m,
		ref:       ref,
		handlers:  handlers,
		ctx:       runCtx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     Submitting,
		startedAt: m.clock.Now(),
	}
	m.sessions[ref.ID] = s
	m.mu.Unlock()

	m.logger.Printf("task %s: watching", ref.ID)
	m.observer.SessionStarted(ref)

	if 0 < conf.deadline {
		timer := m.clock.NewTimer(conf.deadline)
		go func() {
			defer timer.Stop()
			select {
			case <-timer.C():
				cancel(errTimeout)
			case <-s.done:
			}
		}()
	}

	go s.run()
	return s, nil
}

// Watching returns the live session of the task, if any.
func (m *Monitor) Watching(taskId string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[taskId]
	return s, ok
}

func (m *Monitor) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.ref.ID] == s {
		delete(m.sessions, s.ref.ID)
	}
}
