package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/task/internal/follow"
	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/metrics"
	"github.com/opst/taskmon/pkg/monitor"
	"github.com/opst/taskmon/pkg/runner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/youta-t/flarc"
	"golang.org/x/sync/errgroup"
)

type Flags struct {
	Resume     bool   `flag:"resume" alias:"r" help:"watch tasks which are not finished in the journal, in addition to TASK_IDs"`
	Progress   bool   `flag:"progress" help:"show progress bar of each task"`
	MetricsOut string `flag:"metrics-out" metavar:"path/to/file.prom" help:"write metrics of watching in Prometheus text format, when all tasks are finished"`

	Interval     time.Duration `flag:"interval" help:"polling interval"`
	MaxInterval  time.Duration `flag:"max-interval" help:"max polling interval for exponential backoff"`
	MaxTransient int           `flag:"max-transient" help:"give up after this many consecutive poll failures"`
	Timeout      time.Duration `flag:"timeout" help:"give up watching after this. 0 for no limit"`
	PollTimeout  time.Duration `flag:"poll-timeout" help:"timeout of each poll"`
	Backoff      string        `flag:"backoff" metavar:"fixed|exponential" help:"how polling interval grows on failures"`
}

func (f Flags) Monitor() common.MonitorFlags {
	return common.MonitorFlags{
		Interval:     f.Interval,
		MaxInterval:  f.MaxInterval,
		MaxTransient: f.MaxTransient,
		Timeout:      f.Timeout,
		PollTimeout:  f.PollTimeout,
		Backoff:      f.Backoff,
	}
}

const ARG_TASK_ID = "TASK_ID"

func New() (flarc.Command, error) {
	m := common.DefaultMonitorFlags()
	return flarc.NewCommand(
		"Watch tasks until they finish.",
		Flags{
			Interval:     m.Interval,
			MaxInterval:  m.MaxInterval,
			MaxTransient: m.MaxTransient,
			PollTimeout:  m.PollTimeout,
			Backoff:      m.Backoff,
		},
		flarc.Args{
			{
				Name: ARG_TASK_ID, Required: false, Repeatable: true,
				Help: "Id of tasks to be watched",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Watch tasks until they finish, and print their outcomes as JSON.

Tasks are polled every --interval. When polls fail --max-transient times in a row,
watching the task is given up as LOST_CONTACT.
Tasks given up, timed out or interrupted stay unfinished in the journal,
and --resume watches them again.

It fails when some of tasks are not succeeded.
`),
	)
}

func Task() common.Task[Flags] {
	return func(
		ctx context.Context,
		logger *log.Logger,
		env common.Env,
		cl flarc.Commandline[Flags],
		params []any,
	) error {
		flags := cl.Flags()

		refs := []tasks.Reference{}
		seen := map[string]struct{}{}
		for _, id := range cl.Args()[ARG_TASK_ID] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ref := tasks.Reference{ID: id}
			if e, err := env.Journal.Get(ctx, id); err == nil {
				ref.SubmittedAt = e.SubmittedAt
			}
			refs = append(refs, ref)
		}
		if flags.Resume {
			entries, err := env.Journal.Find(ctx, journal.Query{
				Application: env.Profile.Application, Unfinished: true,
			})
			if err != nil {
				return err
			}
			for _, e := range entries {
				if _, ok := seen[e.TaskID]; ok {
					continue
				}
				seen[e.TaskID] = struct{}{}
				refs = append(refs, tasks.Reference{ID: e.TaskID, SubmittedAt: e.SubmittedAt})
			}
		}
		if len(refs) == 0 {
			if flags.Resume {
				logger.Println("no tasks to be resumed")
				return follow.Print(cl.Stdout(), []follow.Result{})
			}
			return fmt.Errorf("%w: TASK_ID is required", flarc.ErrUsage)
		}

		reg := prometheus.NewRegistry()
		mon, sessionOptions, err := flags.Monitor().Monitor(
			env.Client, logger, monitor.WithObserver(metrics.New(reg)),
		)
		if err != nil {
			return fmt.Errorf("%w: %w", flarc.ErrUsage, err)
		}
		r := runner.New(env.Client, mon, runner.WithJournal(env.Journal), runner.WithLogger(logger))

		followOptions := []func(*follow.Option) *follow.Option{}
		if flags.Progress {
			followOptions = append(followOptions, follow.WithProgress(cl.Stderr()))
		}

		results := make([]follow.Result, len(refs))
		eg := new(errgroup.Group)
		for i, ref := range refs {
			eg.Go(func() error {
				res, err := follow.Watch(ctx, logger, r, ref, sessionOptions, followOptions...)
				if err != nil {
					return fmt.Errorf("task %s: %w", ref.ID, err)
				}
				results[i] = res
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}

		if flags.MetricsOut != "" {
			if err := prometheus.WriteToTextfile(flags.MetricsOut, reg); err != nil {
				logger.Printf("failed to write metrics to %s: %s", flags.MetricsOut, err)
			}
		}

		if err := follow.Print(cl.Stdout(), results); err != nil {
			return err
		}

		errs := []error{}
		for _, res := range results {
			if err := res.Err(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
