package common

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	cuierr "github.com/opst/taskmon/cmd/taskmon/errors"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/logger"
	"github.com/opst/taskmon/pkg/configs/profiles"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/journal/postgres"
	"github.com/opst/taskmon/pkg/journal/sqlite"
	"github.com/opst/taskmon/pkg/rest"
	"github.com/youta-t/flarc"
)

type TaskWithCommonFlag[T any] func(
	ctx context.Context,
	logger *log.Logger,
	commonFlag CommonFlags,
	cl flarc.Commandline[T],
	params []any,
) error

func NewTaskWithCommonFlag[T any](task TaskWithCommonFlag[T]) flarc.Task[T] {
	return func(ctx context.Context, cl flarc.Commandline[T], pos []any) error {
		var commonFlag CommonFlags
		found := false
		newpos := make([]any, 0, len(pos))
		for _, p := range pos {
			switch v := p.(type) {
			case CommonFlags:
				found = true
				commonFlag = v
			default:
				newpos = append(newpos, p)
			}
		}
		if !found {
			return errors.New("programming error: common flags not found")
		}

		return task(ctx, logger.For(cl.Stderr(), cl.Fullname()), commonFlag, cl, newpos)
	}
}

// Env is what commands talking to the orchestration service need.
type Env struct {
	Profile *profiles.Profile
	Client  rest.TaskClient

	// never nil. journal.Null() when disabled.
	Journal journal.Journal
}

type Task[T any] func(
	ctx context.Context,
	logger *log.Logger,
	env Env,
	cl flarc.Commandline[T],
	params []any,
) error

// NewTask builds flarc.Task which loads the profile and opens the journal before task.
func NewTask[T any](task Task[T]) flarc.Task[T] {
	return NewTaskWithCommonFlag(func(
		ctx context.Context,
		logger *log.Logger,
		commonFlag CommonFlags,
		cl flarc.Commandline[T],
		params []any,
	) error {
		store, err := profiles.LoadProfileStore(commonFlag.ProfileStore)
		if errors.Is(err, profiles.ErrProfileStoreNotFound) {
			return cuierr.New(
				fmt.Sprintf("profile store (%s) is not found", commonFlag.ProfileStore),
				cuierr.WithAdvice("Please try `taskmon init` first."),
				cuierr.WithCause(err),
			)
		} else if err != nil {
			return cuierr.New(
				fmt.Sprintf("failed to load profile store (%s)", commonFlag.ProfileStore),
				cuierr.WithCause(err),
			)
		}
		prof, ok := store[commonFlag.Profile]
		if !ok {
			return cuierr.New(
				fmt.Sprintf("profile '%s' is not found in the profile store (%s)", commonFlag.Profile, commonFlag.ProfileStore),
				cuierr.WithAdvice("Please try `taskmon init` or pass --profile."),
			)
		}

		client, err := rest.NewClient(prof)
		if err != nil {
			return cuierr.New(
				fmt.Sprintf("profile %s in %s can be broken", commonFlag.Profile, commonFlag.ProfileStore),
				cuierr.WithAdvice("Remove it and try `taskmon init` again."),
				cuierr.WithCause(err),
			)
		}

		jnl, err := OpenJournal(ctx, commonFlag.Journal)
		if err != nil {
			return cuierr.New(
				fmt.Sprintf("failed to open journal (%s)", commonFlag.Journal),
				cuierr.WithAdvice("Pass --journal to use another one, or --journal '' to disable it."),
				cuierr.WithCause(err),
			)
		}
		defer func() {
			if err := jnl.Close(); err != nil {
				logger.Printf("failed to close journal: %s", err)
			}
		}()

		return task(ctx, logger, Env{Profile: prof, Client: client, Journal: jnl}, cl, params)
	})
}

// OpenJournal opens the journal at where.
//
// where is a PostgreSQL URL (postgres://... or postgresql://...), or a sqlite file path.
// Empty where means no journal.
func OpenJournal(ctx context.Context, where string) (journal.Journal, error) {
	switch {
	case where == "":
		return journal.Null(), nil
	case strings.HasPrefix(where, "postgres://"), strings.HasPrefix(where, "postgresql://"):
		return postgres.Open(ctx, where)
	default:
		return sqlite.Open(ctx, where)
	}
}
