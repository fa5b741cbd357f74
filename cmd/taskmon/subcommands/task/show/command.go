package show

import (
	"context"
	"errors"
	"log"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/task/internal/follow"
	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/youta-t/flarc"
)

const ARG_TASK_ID = "TASK_ID"

type Flags struct {
	Journal bool `flag:"journal" alias:"j" help:"show the journal entry of the task, instead of asking the orchestration service"`
}

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Show the current status of a task.",
		Flags{},
		flarc.Args{
			{
				Name: ARG_TASK_ID, Required: true,
				Help: "Id of the task to be shown",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Poll the task once, and print its status as JSON.

With --journal, print the entry recorded in the journal instead.
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
		taskId := cl.Args()[ARG_TASK_ID][0]

		if cl.Flags().Journal {
			e, err := env.Journal.Get(ctx, taskId)
			if errors.Is(err, journal.ErrMissing) {
				logger.Printf("task %s is not in the journal", taskId)
				return err
			} else if err != nil {
				return err
			}
			return follow.Print(cl.Stdout(), e)
		}

		ref := tasks.Reference{ID: taskId}
		if e, err := env.Journal.Get(ctx, taskId); err == nil {
			ref.SubmittedAt = e.SubmittedAt
		}
		st, err := env.Client.Poll(ctx, ref)
		if err != nil {
			return err
		}
		return follow.Print(cl.Stdout(), st)
	}
}
