package errors_test

import (
	"errors"
	"strings"
	"testing"

	cuierr "github.com/opst/taskmon/cmd/taskmon/errors"
)

func TestCUIError(t *testing.T) {
	cause := errors.New("connection refused")

	t.Run("it has summary and advice", func(t *testing.T) {
		testee := cuierr.New(
			"profile is broken",
			cuierr.WithAdvice("run `taskmon init` again"),
			cuierr.WithCause(cause),
		)
		if testee.Error() != "profile is broken\n\nrun `taskmon init` again" {
			t.Errorf("unexpected message: %q", testee.Error())
		}
		if !errors.Is(testee, cause) {
			t.Error("cause is not wrapped")
		}
		if v := testee.Verbose(); !strings.Contains(v, "caused by: \nconnection refused") {
			t.Errorf("unexpected verbose: %q", v)
		}
	})

	t.Run("verbose of nested errors contains each of them", func(t *testing.T) {
		inner := cuierr.New("inner", cuierr.WithVerbose("detail"), cuierr.WithCause(cause))
		testee := cuierr.New("outer", cuierr.WithCause(inner))

		v := testee.Verbose()
		for _, want := range []string{"outer", "inner", "(detail)", "connection refused"} {
			if !strings.Contains(v, want) {
				t.Errorf("verbose does not contain %q: %q", want, v)
			}
		}
		if testee.Advice() != "" {
			t.Errorf("unexpected advice: %q", testee.Advice())
		}
	})
}
