package history

import (
	"context"
	"fmt"
	"log"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/task/internal/follow"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/youta-t/flarc"
)

type Flags struct {
	Application string `flag:"application" alias:"a" help:"entries of this application only"`
	Unfinished  bool   `flag:"unfinished" alias:"u" help:"entries of tasks not finished only"`
	Limit       int    `flag:"limit" alias:"n" help:"max number of entries"`
}

func New() (flarc.Command, error) {
	return flarc.NewCommand(
		"Show tasks submitted, from the journal.",
		Flags{Limit: journal.DefaultLimit},
		flarc.Args{},
		common.NewTask(Task()),
		flarc.WithDescription(`
Print tasks recorded in the journal as JSON, from the newest.
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
		if flags.Limit < 0 {
			return fmt.Errorf("%w: --limit should not be negative", flarc.ErrUsage)
		}
		entries, err := env.Journal.Find(ctx, journal.Query{
			Application: flags.Application,
			Unfinished:  flags.Unfinished,
			Limit:       flags.Limit,
		})
		if err != nil {
			return err
		}
		return follow.Print(cl.Stdout(), entries)
	}
}
