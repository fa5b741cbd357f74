package cancel

import (
	"context"
	"log"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/youta-t/flarc"
)

const ARG_TASK_ID = "TASK_ID"

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Ask the orchestration service to cancel a task.",
		struct{}{},
		flarc.Args{
			{
				Name: ARG_TASK_ID, Required: true,
				Help: "Id of the task to be canceled",
			},
		},
		common.NewTask(Task()),
		flarc.WithDescription(`
Ask the orchestration service to cancel the task.

Cancellation is done asynchronously. Use "taskmon task watch" to know when it is done.
`),
	)
}

func Task() common.Task[struct{}] {
	return func(
		ctx context.Context,
		logger *log.Logger,
		env common.Env,
		cl flarc.Commandline[struct{}],
		params []any,
	) error {
		taskId := cl.Args()[ARG_TASK_ID][0]
		if err := env.Client.Cancel(ctx, taskId); err != nil {
			return err
		}
		logger.Printf("task %s is canceling.", taskId)
		return nil
	}
}
