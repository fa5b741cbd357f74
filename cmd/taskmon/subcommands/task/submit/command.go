package submit

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/task/internal/follow"
	"github.com/opst/taskmon/pkg/job"
	"github.com/opst/taskmon/pkg/runner"
	"github.com/youta-t/flarc"
	"gopkg.in/yaml.v3"
)

type Flags struct {
	Application string   `flag:"application" alias:"a" help:"application owning the task. default: application in the profile"`
	Description string   `flag:"description" alias:"d" help:"description of the task"`
	Type        string   `flag:"type" alias:"t" help:"operation type of a single descriptor job. exclusive with JOB_FILE"`
	Param       []string `flag:"param" alias:"p" metavar:"KEY=VALUE" help:"parameter of the --type job. VALUE is read as YAML. Repeatable."`

	Watch        bool          `flag:"watch" alias:"w" help:"watch the task until it finishes"`
	Progress     bool          `flag:"progress" help:"show progress bar while watching"`
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

const ARG_JOB_FILE = "JOB_FILE"

func New() (flarc.Command, error) {
	m := common.DefaultMonitorFlags()
	return flarc.NewCommand(
		"Submit a job to the orchestration service.",
		Flags{
			Interval:     m.Interval,
			MaxInterval:  m.MaxInterval,
			MaxTransient: m.MaxTransient,
			PollTimeout:  m.PollTimeout,
			Backoff:      m.Backoff,
		},
		flarc.Args{
			{
				Name: ARG_JOB_FILE, Required: false,
				Help: "YAML or JSON file of the job: a list of descriptors, or a mapping with such list as 'job'.",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Submit a job, and print the created task as JSON.

The job is read from JOB_FILE, like:

    - type: resizeServerGroup
      serverGroupName: app-main-v001
      capacity: {min: 2, max: 4, desired: 3}
    - type: wait
      waitTime: 30

or built from --type and --param for a job of a single descriptor:

    {{ .Command }} --type wait --param waitTime=30

With --watch, it waits the task finishing, and prints its outcome.
The submission is recorded in the journal.
`),
	)
}

// Jobs builds the job from the args and flags.
func Jobs(flags Flags, args map[string][]string) ([]job.Descriptor, error) {
	files := args[ARG_JOB_FILE]
	switch {
	case 0 < len(files) && flags.Type != "":
		return nil, fmt.Errorf("%w: JOB_FILE and --type are exclusive", flarc.ErrUsage)
	case 0 < len(files):
		return job.LoadFile(files[0])
	case flags.Type == "":
		return nil, fmt.Errorf("%w: JOB_FILE or --type is required", flarc.ErrUsage)
	}

	params := map[string]any{}
	for _, p := range flags.Param {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: --param should be KEY=VALUE: %s", flarc.ErrUsage, p)
		}
		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("--param %s: %w", key, err)
		}
		params[key] = value
	}
	return job.Build(flags.Type, params)
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

		jobs, err := Jobs(flags, cl.Args())
		if err != nil {
			return err
		}

		application := flags.Application
		if application == "" {
			application = env.Profile.Application
		}
		if application == "" {
			return fmt.Errorf("%w: --application is required (the profile has no application)", flarc.ErrUsage)
		}

		mon, sessionOptions, err := flags.Monitor().Monitor(env.Client, logger)
		if err != nil {
			return fmt.Errorf("%w: %w", flarc.ErrUsage, err)
		}
		r := runner.New(env.Client, mon, runner.WithJournal(env.Journal), runner.WithLogger(logger))

		ref, err := r.Submit(ctx, runner.Request{
			Application: application, Description: flags.Description, Job: jobs,
		})
		if err != nil {
			return err
		}

		if !flags.Watch {
			return follow.Print(cl.Stdout(), map[string]any{
				"taskId":      ref.ID,
				"submittedAt": ref.SubmittedAt,
			})
		}

		followOptions := []func(*follow.Option) *follow.Option{}
		if flags.Progress {
			followOptions = append(followOptions, follow.WithProgress(cl.Stderr()))
		}

		result, err := follow.Watch(ctx, logger, r, ref, sessionOptions, followOptions...)
		if err != nil {
			return err
		}
		if err := follow.Print(cl.Stdout(), result); err != nil {
			return err
		}
		return result.Err()
	}
}
