// Package follow watches tasks on behalf of commands, and shows their progress.
package follow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/cheggaaa/pb/v3"
	cuierr "github.com/opst/taskmon/cmd/taskmon/errors"
	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/monitor"
	"github.com/opst/taskmon/pkg/runner"
)

const stepBar pb.ProgressBarTemplate = `{{with string . "prefix"}}{{.}} {{end}}{{counters . }} {{bar . }} {{with string . "suffix"}}{{.}}{{end}}`

// Result is what commands print for a watched task.
type Result struct {
	TaskID   string        `json:"taskId"`
	State    monitor.State `json:"state"`
	Reason   string        `json:"reason,omitempty"`
	Message  string        `json:"message,omitempty"`
	Status   *tasks.Status `json:"status,omitempty"`
	Canceled string        `json:"canceledBy,omitempty"`
}

func ResultOf(ref tasks.Reference, o monitor.Outcome) Result {
	r := Result{TaskID: ref.ID, State: o.State, Reason: string(o.Reason), Status: o.Status}
	if o.Err != nil {
		r.Message = o.Err.Error()
	}
	if o.State == monitor.Canceled {
		r.Canceled = string(o.CanceledBy)
	}
	return r
}

// Err returns nil if the task succeeded. Otherwise, CUIError telling what happened.
func (r Result) Err() error {
	switch r.State {
	case monitor.Succeeded:
		return nil
	case monitor.Canceled:
		return cuierr.New(fmt.Sprintf("task %s is canceled by %s", r.TaskID, r.Canceled))
	default:
		summary := fmt.Sprintf("task %s is failed (%s)", r.TaskID, r.Reason)
		advice := ""
		switch monitor.Reason(r.Reason) {
		case monitor.ReasonLostContact:
			advice = "The task may be still running. Try `taskmon task watch " + r.TaskID + "` later."
		case monitor.ReasonTimeout:
			advice = "The task may be still running. Try `taskmon task watch " + r.TaskID + "` with longer --timeout."
		}
		opts := []cuierr.Option{cuierr.WithAdvice(advice)}
		if r.Message != "" {
			opts = append(opts, cuierr.WithVerbose(r.Message))
		}
		return cuierr.New(summary, opts...)
	}
}

type Option struct {
	// progress bar is written here. nil means no bar.
	progress io.Writer
}

// WithProgress shows progress bars of steps into w.
func WithProgress(w io.Writer) func(*Option) *Option {
	return func(o *Option) *Option {
		o.progress = w
		return o
	}
}

// Watch starts watching the task with r, and waits its outcome.
//
// When ctx is done, the session is canceled and its outcome (canceled by caller) is returned.
func Watch(
	ctx context.Context,
	logger *log.Logger,
	r *runner.Runner,
	ref tasks.Reference,
	sessionOptions []monitor.SessionOption,
	options ...func(*Option) *Option,
) (Result, error) {
	opt := &Option{}
	for _, o := range options {
		opt = o(opt)
	}

	var bar *pb.ProgressBar
	var mu sync.Mutex
	handlers := monitor.Handlers{
		OnProgress: func(st tasks.Status) {
			logger.Printf("task %s: %s (%d/%d steps)", ref.ID, st.RawStatus, st.Completed(), len(st.Steps))
			if opt.progress == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if bar == nil {
				bar = stepBar.New(len(st.Steps))
				bar.SetWriter(opt.progress)
				bar.Set("prefix", ref.ID)
				bar.Start()
			}
			bar.SetTotal(int64(len(st.Steps)))
			bar.SetCurrent(int64(st.Completed()))
			if cur, ok := st.Current(); ok {
				bar.Set("suffix", cur.Name)
			}
		},
	}

	s, err := r.Watch(ctx, ref, handlers, sessionOptions...)
	if err != nil {
		return Result{}, err
	}

	// the session ends by itself when ctx is done.
	outcome, err := s.Wait(context.WithoutCancel(ctx))
	if err != nil {
		return Result{}, err
	}

	mu.Lock()
	if bar != nil {
		if st := outcome.Status; st != nil {
			bar.SetCurrent(int64(st.Completed()))
		}
		bar.Set("suffix", string(outcome.State))
		bar.Finish()
	}
	mu.Unlock()

	return ResultOf(ref, outcome), nil
}

// Print writes results as JSON.
func Print(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
