package errors_test

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"testing"

	xe "github.com/opst/taskmon/pkg/errors"
)

type MyErr struct{}

func (MyErr) Error() string {
	return "error type for test"
}

func failing() error {
	return xe.Wrap(MyErr{})
}

func TestWrap(t *testing.T) {
	t.Run("it knows where it is wrapped", func(t *testing.T) {
		err := failing()
		_, thisFile, _, _ := runtime.Caller(0)

		ewc := new(xe.ErrWithCaller)
		if !errors.As(err, &ewc) {
			t.Fatalf("not wrapped: %#v", err)
		}
		if !strings.HasSuffix(ewc.Location.Func, ".failing") {
			t.Errorf("unexpected func: %s", ewc.Location.Func)
		}
		if ewc.Location.File != thisFile || ewc.Location.Line <= 0 {
			t.Errorf("unexpected location: %s", ewc.Location)
		}
		if !strings.HasPrefix(err.Error(), "@ ") || !strings.HasSuffix(err.Error(), "<- error type for test") {
			t.Errorf("unexpected message: %s", err)
		}
	})

	t.Run("it supports errors protocol", func(t *testing.T) {
		err := xe.Wrap(fmt.Errorf("%w", fmt.Errorf("%w", MyErr{})))
		if !errors.Is(err, MyErr{}) {
			t.Error("it does not support unwrapping.")
		}
	})

	t.Run("it keeps nil as nil", func(t *testing.T) {
		if err := xe.Wrap(nil); err != nil {
			t.Errorf("nil is wrapped: %v", err)
		}
		if err := xe.WrapWithNote("task t1", nil); err != nil {
			t.Errorf("nil is wrapped: %v", err)
		}
	})

	t.Run("it writes the note", func(t *testing.T) {
		err := xe.WrapWithNote("task t1", MyErr{})
		if !strings.Contains(err.Error(), "(task t1) <- error type for test") {
			t.Errorf("unexpected message: %s", err)
		}
	})
}
