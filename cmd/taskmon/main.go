// taskmon submits jobs to the orchestration service, and watches tasks until they finish.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	subinit "github.com/opst/taskmon/cmd/taskmon/subcommands/init"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/logger"
	subtask "github.com/opst/taskmon/cmd/taskmon/subcommands/task"
	subver "github.com/opst/taskmon/cmd/taskmon/subcommands/version"
	"github.com/opst/taskmon/pkg/utils/try"
	"github.com/youta-t/flarc"
)

func main() {
	name := path.Base(os.Args[0])
	logger := logger.Default()
	logger.SetPrefix(fmt.Sprintf("[%s] ", name))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cf := try.To(common.Flags(".")).OrFatal(logger)
	init := try.To(subinit.New()).OrFatal(logger)
	task := try.To(subtask.New()).OrFatal(logger)
	version := try.To(subver.New()).OrFatal(logger)

	taskmon := try.To(
		flarc.NewCommandGroup(
			"Submit jobs to the orchestration service, and watch tasks",
			cf,
			flarc.WithSubcommand("init", init),
			flarc.WithSubcommand("task", task),
			flarc.WithSubcommand("version", version),
		),
	).OrFatal(logger)

	os.Exit(flarc.Run(ctx, taskmon, flarc.WithHelp(true)))
}
