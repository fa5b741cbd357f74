package submit_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opst/taskmon/cmd/taskmon/subcommands/common"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/internal/commandline"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/logger"
	"github.com/opst/taskmon/cmd/taskmon/subcommands/task/submit"
	"github.com/opst/taskmon/pkg/api/types/tasks"
	"github.com/opst/taskmon/pkg/configs/profiles"
	"github.com/opst/taskmon/pkg/job"
	"github.com/opst/taskmon/pkg/journal"
	"github.com/opst/taskmon/pkg/journal/sqlite"
	"github.com/opst/taskmon/pkg/rest"
	"github.com/opst/taskmon/pkg/rest/mock"
	"github.com/opst/taskmon/pkg/utils/try"
	"github.com/youta-t/flarc"
)

func TestJobs(t *testing.T) {
	t.Run("it reads JOB_FILE", func(t *testing.T) {
		f := filepath.Join(t.TempDir(), "job.yaml")
		if err := os.WriteFile(f, []byte(`
- type: resizeServerGroup
  serverGroupName: app-main-v001
  capacity: {min: 2, max: 4, desired: 3}
- type: wait
  waitTime: 30
`), 0600); err != nil {
			t.Fatal(err)
		}

		actual := try.To(submit.Jobs(submit.Flags{}, map[string][]string{submit.ARG_JOB_FILE: {f}})).OrFatal(t)
		if len(actual) != 2 || actual[0].Type != "resizeServerGroup" || actual[1].Type != "wait" {
			t.Errorf("unexpected job: %+v", actual)
		}
	})

	t.Run("it builds a single descriptor job from --type and --param", func(t *testing.T) {
		actual := try.To(submit.Jobs(
			submit.Flags{Type: "wait", Param: []string{"waitTime=30", "note=hello world", "tags=[a, b]"}},
			map[string][]string{},
		)).OrFatal(t)

		expected := try.To(job.Build("wait", map[string]any{
			"waitTime": 30, "note": "hello world", "tags": []any{"a", "b"},
		})).OrFatal(t)

		aj := try.To(json.Marshal(actual)).OrFatal(t)
		ej := try.To(json.Marshal(expected)).OrFatal(t)
		if string(aj) != string(ej) {
			t.Errorf("(actual, expected) = (%s, %s)", aj, ej)
		}
	})

	for name, testcase := range map[string]struct {
		flags submit.Flags
		args  map[string][]string
	}{
		"both of JOB_FILE and --type": {
			flags: submit.Flags{Type: "wait"},
			args:  map[string][]string{submit.ARG_JOB_FILE: {"job.yaml"}},
		},
		"none of JOB_FILE and --type": {
			flags: submit.Flags{},
			args:  map[string][]string{},
		},
		"--param without '='": {
			flags: submit.Flags{Type: "wait", Param: []string{"waitTime"}},
			args:  map[string][]string{},
		},
		"--param with empty key": {
			flags: submit.Flags{Type: "wait", Param: []string{"=30"}},
			args:  map[string][]string{},
		},
	} {
		t.Run("it is usage error when "+name, func(t *testing.T) {
			_, err := submit.Jobs(testcase.flags, testcase.args)
			if !errors.Is(err, flarc.ErrUsage) {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSubmit(t *testing.T) {
	flags := func() submit.Flags {
		m := common.DefaultMonitorFlags()
		return submit.Flags{
			Type:         "wait",
			Param:        []string{"waitTime=30"},
			Description:  "wait a while",
			Interval:     time.Millisecond,
			MaxInterval:  m.MaxInterval,
			MaxTransient: m.MaxTransient,
			PollTimeout:  m.PollTimeout,
			Backoff:      m.Backoff,
		}
	}
	submittedAt := time.Date(2024, 7, 8, 9, 10, 11, 0, time.UTC)

	type when struct {
		flags   submit.Flags
		profile profiles.Profile
		poll    []tasks.Status
	}
	type then struct {
		application string
		stdout      func(*testing.T, string)
		err         bool
	}

	theory := func(when when, then then) func(*testing.T) {
		return func(t *testing.T) {
			ctx := context.Background()
			client := mock.New(t)
			client.Impl.Submit = func(ctx context.Context, application, description string, jobs []job.Descriptor) (tasks.Reference, error) {
				return tasks.Reference{ID: "task-1", SubmittedAt: submittedAt}, nil
			}
			polled := 0
			client.Impl.Poll = func(ctx context.Context, ref tasks.Reference) (tasks.Status, error) {
				st := when.poll[polled]
				polled += 1
				return st, nil
			}

			jnl := try.To(sqlite.Open(ctx, filepath.Join(t.TempDir(), "journal.db"))).OrFatal(t)
			defer jnl.Close()

			stdout := new(strings.Builder)
			err := submit.Task()(
				ctx, logger.Null(),
				common.Env{Profile: &when.profile, Client: client, Journal: jnl},
				commandline.MockCommandline[submit.Flags]{
					Fullname_: "taskmon task submit",
					Stdout_:   stdout,
					Stderr_:   new(strings.Builder),
					Flags_:    when.flags,
					Args_:     map[string][]string{},
				},
				[]any{},
			)
			if then.err != (err != nil) {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(client.Calls.Submit) != 1 {
				t.Fatalf("Submit is called %d times", len(client.Calls.Submit))
			}
			if got := client.Calls.Submit[0]; got.Application != then.application || got.Description != "wait a while" {
				t.Errorf("unexpected submission: %+v", got)
			}

			entry := try.To(jnl.Get(ctx, "task-1")).OrFatal(t)
			if entry.Application != then.application || !entry.SubmittedAt.Equal(submittedAt) {
				t.Errorf("unexpected journal entry: %+v", entry)
			}

			then.stdout(t, stdout.String())
		}
	}

	t.Run("it prints the created task", theory(
		when{flags: flags(), profile: profiles.Profile{Application: "app"}},
		then{
			application: "app",
			stdout: func(t *testing.T, s string) {
				var out struct {
					TaskID      string    `json:"taskId"`
					SubmittedAt time.Time `json:"submittedAt"`
				}
				if err := json.Unmarshal([]byte(s), &out); err != nil {
					t.Fatal(err)
				}
				if out.TaskID != "task-1" || !out.SubmittedAt.Equal(submittedAt) {
					t.Errorf("unexpected output: %s", s)
				}
			},
		},
	))

	t.Run("it prefers --application to the profile", func(t *testing.T) {
		f := flags()
		f.Application = "other"
		theory(
			when{flags: f, profile: profiles.Profile{Application: "app"}},
			then{application: "other", stdout: func(*testing.T, string) {}},
		)(t)
	})

	t.Run("it watches the task with --watch", func(t *testing.T) {
		f := flags()
		f.Watch = true
		theory(
			when{
				flags:   f,
				profile: profiles.Profile{Application: "app"},
				poll: []tasks.Status{
					{TaskID: "task-1", State: tasks.Running, RawStatus: "RUNNING"},
					{TaskID: "task-1", State: tasks.Succeeded, RawStatus: "SUCCEEDED"},
				},
			},
			then{
				application: "app",
				stdout: func(t *testing.T, s string) {
					var out struct {
						TaskID string `json:"taskId"`
						State  string `json:"state"`
					}
					if err := json.Unmarshal([]byte(s), &out); err != nil {
						t.Fatal(err)
					}
					if out.TaskID != "task-1" || out.State != "SUCCEEDED" {
						t.Errorf("unexpected output: %s", s)
					}
				},
			},
		)(t)
	})

	t.Run("it fails when the watched task fails", func(t *testing.T) {
		f := flags()
		f.Watch = true
		theory(
			when{
				flags:   f,
				profile: profiles.Profile{Application: "app"},
				poll: []tasks.Status{
					{TaskID: "task-1", State: tasks.Failed, RawStatus: "TERMINAL"},
				},
			},
			then{
				application: "app",
				err:         true,
				stdout: func(t *testing.T, s string) {
					if !strings.Contains(s, `"reason": "TASK_FAILED"`) {
						t.Errorf("unexpected output: %s", s)
					}
				},
			},
		)(t)
	})

	t.Run("it is usage error when no application is given", func(t *testing.T) {
		client := mock.New(t)
		err := submit.Task()(
			context.Background(), logger.Null(),
			common.Env{Profile: &profiles.Profile{}, Client: client, Journal: journal.Null()},
			commandline.MockCommandline[submit.Flags]{
				Stdout_: new(strings.Builder),
				Stderr_: new(strings.Builder),
				Flags_:  flags(),
				Args_:   map[string][]string{},
			},
			[]any{},
		)
		if !errors.Is(err, flarc.ErrUsage) {
			t.Errorf("unexpected error: %v", err)
		}
		if len(client.Calls.Submit) != 0 {
			t.Errorf("Submit is called: %+v", client.Calls.Submit)
		}
	})

	t.Run("it returns the submission error", func(t *testing.T) {
		client := mock.New(t)
		client.Impl.Submit = func(context.Context, string, string, []job.Descriptor) (tasks.Reference, error) {
			return tasks.Reference{}, &rest.SubmissionError{Kind: rest.SubmissionRejected, Message: "bad job"}
		}
		err := submit.Task()(
			context.Background(), logger.Null(),
			common.Env{Profile: &profiles.Profile{Application: "app"}, Client: client, Journal: journal.Null()},
			commandline.MockCommandline[submit.Flags]{
				Stdout_: new(strings.Builder),
				Stderr_: new(strings.Builder),
				Flags_:  flags(),
				Args_:   map[string][]string{},
			},
			[]any{},
		)
		if serr := new(rest.SubmissionError); !errors.As(err, &serr) {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
