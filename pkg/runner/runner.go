// Package runner submits jobs and watches the tasks created from them,
// keeping the journal of submissions and their outcomes.
package runner

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/job"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/monitor"
	"github.com/opst/taskmon/pkg/rest"
	"k8s.io/utils/clock"
)

// Request is a job to be submitted.
type Request struct {
	Application string
	Description string
	Job         []job.Descriptor
}

type Runner struct {
	submitter rest.Submitter
	monitor   *monitor.Monitor
	journal   journal.Journal
	logger    *log.Logger
	clock     clock.PassiveClock

	// limit of each journal write.
	journalTimeout time.Duration
}

type Option func(*Runner) *Runner

// WithJournal records submissions and their outcomes into j.
//
// Runner does not close j.
func WithJournal(j journal.Journal) Option {
	return func(r *Runner) *Runner {
		r.journal = j
		return r
	}
}

func WithLogger(l *log.Logger) Option {
	return func(r *Runner) *Runner {
		r.logger = l
		return r
	}
}

// WithClock sets the clock to stamp outcomes in the journal.
func WithClock(clk clock.PassiveClock) Option {
	return func(r *Runner) *Runner {
		r.clock = clk
		return r
	}
}

func New(submitter rest.Submitter, mon *monitor.Monitor, options ...Option) *Runner {
	r := &Runner{
		submitter:      submitter,
		monitor:        mon,
		journal:        journal.Null(),
		logger:         log.New(io.Discard, "", 0),
		clock:          clock.RealClock{},
		journalTimeout: 10 * time.Second,
	}
	for _, opt := range options {
		r = opt(r)
	}
	return r
}

// Submit submits the job, and records it in the journal.
//
// A failure of the journal is logged, and not returned.
//
// # Returns
//
// - tasks.Reference: the created task.
//
// - error: *rest.SubmissionError
func (r *Runner) Submit(ctx context.Context, req Request) (tasks.Reference, error) {
	ref, err := r.submitter.Submit(ctx, req.Application, req.Description, req.Job)
	if err != nil {
		return tasks.Reference{}, err
	}
	r.logger.Printf("task %s is submitted", ref.ID)

	jctx, cancel := r.journalContext(ctx)
	defer cancel()
	if err := r.journal.Record(jctx, journal.Entry{
		TaskID:      ref.ID,
		Application: req.Application,
		Description: req.Description,
		Job:         req.Job,
		SubmittedAt: ref.SubmittedAt,
	}); err != nil {
		// the task is running anyway. watching is more important than journaling.
		r.logger.Printf("task %s: cannot be recorded in the journal: %v", ref.ID, err)
	}
	return ref, nil
}

// Run submits the job, and starts watching the created task.
//
// # Args
//
// - ctx: used to submit, and passed to monitor.Monitor.Watch.
//
// - req: job to be submitted.
//
// - handlers: callbacks of the session.
//
// - options: passed to monitor.Monitor.Watch.
//
// # Returns
//
// - *monitor.Session: the session watching the task.
//
// - error: *rest.SubmissionError when the submission fails. No session is started then.
// Otherwise, an error from monitor.Monitor.Watch.
func (r *Runner) Run(ctx context.Context, req Request, handlers monitor.Handlers, options ...monitor.SessionOption) (*monitor.Session, error) {
	ref, err := r.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return r.Watch(ctx, ref, handlers, options...)
}

// Watch starts watching the task submitted already.
//
// The outcome is recorded in the journal before handlers are called.
//
// Outcomes decided by the server (succeeded, TASK_FAILED, NOT_FOUND, canceled by the server)
// finish the journal entry. Outcomes decided here (LOST_CONTACT, TIMEOUT, canceled by the caller)
// are only noted: the task may be still running, so its entry stays unfinished and Resume watches it again.
func (r *Runner) Watch(ctx context.Context, ref tasks.Reference, handlers monitor.Handlers, options ...monitor.SessionOption) (*monitor.Session, error) {
	wrapped := monitor.Handlers{
		OnProgress: handlers.OnProgress,
		OnSuccess: func(st tasks.Status) {
			r.finish(ctx, ref, journal.Result{State: string(monitor.Succeeded)})
			if h := handlers.OnSuccess; h != nil {
				h(st)
			}
		},
		OnFailure: func(f monitor.Failure) {
			res := journal.Result{State: string(monitor.Failed), Reason: string(f.Reason)}
			if f.Err != nil {
				res.Message = f.Err.Error()
			} else if f.Status != nil {
				res.Message = f.Status.RawStatus
			}
			if f.Reason.Escalation() {
				r.note(ctx, ref, res)
			} else {
				r.finish(ctx, ref, res)
			}
			if h := handlers.OnFailure; h != nil {
				h(f)
			}
		},
		OnCancel: func(origin monitor.CancelOrigin) {
			res := journal.Result{State: string(monitor.Canceled), Reason: string(origin)}
			if origin == monitor.CanceledByCaller {
				res.Message = "watching is canceled"
				r.note(ctx, ref, res)
			} else {
				r.finish(ctx, ref, res)
			}
			if h := handlers.OnCancel; h != nil {
				h(origin)
			}
		},
	}
	return r.monitor.Watch(ctx, ref, wrapped, options...)
}

// Resume watches tasks which are recorded in the journal but not finished.
//
// # Args
//
// - ctx
//
// - query: entries to be resumed. Query.Unfinished is always set.
//
// - handlers: returns handlers for each entry.
//
// - options: passed to monitor.Monitor.Watch.
//
// # Returns
//
// - []*monitor.Session: sessions started. Tasks watched already are skipped.
//
// - error: error from the journal.
func (r *Runner) Resume(
	ctx context.Context,
	query journal.Query,
	handlers func(journal.Entry) monitor.Handlers,
	options ...monitor.SessionOption,
) ([]*monitor.Session, error) {
	query.Unfinished = true
	entries, err := r.journal.Find(ctx, query)
	if err != nil {
		return nil, err
	}

	sessions := make([]*monitor.Session, 0, len(entries))
	for _, e := range entries {
		ref := tasks.Reference{ID: e.TaskID, SubmittedAt: e.SubmittedAt}
		s, err := r.Watch(ctx, ref, handlers(e), options...)
		if errors.Is(err, monitor.ErrAlreadyWatched) {
			r.logger.Printf("task %s is watched already", e.TaskID)
			continue
		} else if err != nil {
			return sessions, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (r *Runner) finish(ctx context.Context, ref tasks.Reference, result journal.Result) {
	result.At = r.clock.Now()

	// the outcome should be recorded even if the session is ended by ctx.
	jctx, cancel := r.journalContext(context.WithoutCancel(ctx))
	defer cancel()

	err := r.journal.Finish(jctx, ref.ID, result)
	switch {
	case err == nil:
	case errors.Is(err, journal.ErrMissing):
		r.logger.Printf("task %s is not in the journal. outcome is not recorded", ref.ID)
	default:
		r.logger.Printf("task %s: outcome cannot be recorded in the journal: %v", ref.ID, err)
	}
}

func (r *Runner) note(ctx context.Context, ref tasks.Reference, result journal.Result) {
	jctx, cancel := r.journalContext(context.WithoutCancel(ctx))
	defer cancel()

	err := r.journal.Note(jctx, ref.ID, result)
	switch {
	case err == nil:
	case errors.Is(err, journal.ErrMissing):
		r.logger.Printf("task %s is not in the journal. %s is not noted", ref.ID, result.Reason)
	default:
		r.logger.Printf("task %s: %s cannot be noted in the journal: %v", ref.ID, result.Reason, err)
	}
}

func (r *Runner) journalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.journalTimeout)
}
