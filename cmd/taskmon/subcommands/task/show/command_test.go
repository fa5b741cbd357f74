package show_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/internal/commandline"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/logger"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/task/show"
	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/configs/profiles"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/journal/sqlite"
	"github.com/opst/taskmon/pkg/rest"
	"github.com/opst/taskmon/pkg/rest/mock"
	"github.com/opst/taskmon/pkg/utils/try"
)

func TestShow(t *testing.T) {
	submittedAt := time.Date(2024, 7, 8, 9, 10, 11, 0, time.UTC)

	type when struct {
		flags show.Flags
		poll  func(context.Context, tasks.Reference) (tasks.Status, error)
	}
	type then struct {
		stdout []string
		err    error
	}

	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			ctx := context.Background()
			jnl := try.To(sqlite.Open(ctx, filepath.Join(t.TempDir(), "journal.db"))).OrFatal(t)
			defer jnl.Close()
			if err := jnl.Record(ctx, journal.Entry{
				TaskID: "task-1", Application: "app", Description: "resize", SubmittedAt: submittedAt,
			}); err != nil {
				t.Fatal(err)
			}

			client := mock.New(t)
			client.Impl.Poll = when.poll

			stdout := new(strings.Builder)
			err := show.Task()(
				ctx, logger.Null(),
				common.Env{Profile: &profiles.Profile{Application: "app"}, Client: client, Journal: jnl},
				commandline.MockCommandline[show.Flags]{
					Fullname_: "taskmon task show",
					Stdout_:   stdout,
					Stderr_:   new(strings.Builder),
					Flags_:    when.flags,
					Args_:     map[string][]string{show.ARG_TASK_ID: {"task-1"}},
				},
				[]any{},
			)
			if then.err == nil {
				if err != nil {
					t.Fatal(err)
				}
			} else if !errors.Is(err, then.err) {
				t.Fatalf("unexpected error: %v", err)
			}

			for _, s := range then.stdout {
				if !strings.Contains(stdout.String(), s) {
					t.Errorf("%q is not in output:\n%s", s, stdout)
				}
			}

			if when.poll != nil {
				for _, ref := range client.Calls.Poll {
					if ref.ID != "task-1" || !ref.SubmittedAt.Equal(submittedAt) {
						t.Errorf("unexpected poll: %+v", ref)
					}
				}
			}
		}
	}

	t.Run("it prints the status of the task", theory(
		when{
			poll: func(ctx context.Context, ref tasks.Reference) (tasks.Status, error) {
				return tasks.Status{
					TaskID: ref.ID, State: tasks.Running, RawStatus: "RUNNING",
					Steps: []tasks.StepStatus{{Name: "resize", Type: "resizeServerGroup", State: tasks.Running, RawStatus: "RUNNING"}},
				}, nil
			},
		},
		then{stdout: []string{`"id": "task-1"`, `"status": "RUNNING"`, `"resizeServerGroup"`}},
	))

	notFound := &rest.PollError{Kind: rest.PollNotFound, TaskID: "task-1"}
	t.Run("it returns the poll error", theory(
		when{
			poll: func(context.Context, tasks.Reference) (tasks.Status, error) {
				return tasks.Status{}, notFound
			},
		},
		then{err: notFound},
	))

	t.Run("it prints the journal entry with --journal", theory(
		when{flags: show.Flags{Journal: true}},
		then{stdout: []string{`"taskId": "task-1"`, `"state": "WATCHING"`, `"description": "resize"`}},
	))

	t.Run("it returns ErrMissing for the task not in the journal", func(t *testing.T) {
		err := show.Task()(
			context.Background(), logger.Null(),
			common.Env{Profile: &profiles.Profile{}, Client: mock.New(t), Journal: journal.Null()},
			commandline.MockCommandline[show.Flags]{
				Stdout_: new(strings.Builder),
				Stderr_: new(strings.Builder),
				Flags_:  show.Flags{Journal: true},
				Args_:   map[string][]string{show.ARG_TASK_ID: {"task-1"}},
			},
			[]any{},
		)
		if !errors.Is(err, journal.ErrMissing) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
