package task

import (
	task_cancel "github.com/opst/taskmon/cmd/taskmon/subcommands/task/cancel"
	task_history "github.com/opst/taskmon/cmd/taskmon/subcommands/task/history"
	task_show "github.com/opst/taskmon/cmd/taskmon/subcommands/task/show"
	task_submit "github.com/opst/taskmon/cmd/taskmon/subcommands/task/submit"
	task_watch "github.com/opst/taskmon/cmd/taskmon/subcommands/task/watch"
	"github.com/youta-t/flarc"
)

func New() (flarc.Command, error) {
	submit, err := task_submit.New()
	if err != nil {
		return nil, err
	}
	watch, err := task_watch.New()
	if err != nil {
		return nil, err
	}
	show, err := task_show.New()
	if err != nil {
		return nil, err
	}
	cancel, err := task_cancel.New()
	if err != nil {
		return nil, err
	}
	history, err := task_history.New()
	if err != nil {
		return nil, err
	}

	return flarc.NewCommandGroup(
		"Submit and watch tasks of the orchestration service.",
		struct{}{},
		flarc.WithSubcommand("submit", submit),
		flarc.WithSubcommand("watch", watch),
		flarc.WithSubcommand("show", show),
		flarc.WithSubcommand("cancel", cancel),
		flarc.WithSubcommand("history", history),
	)
}
