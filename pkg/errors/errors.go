// Package errors wraps errors with the location where they are wrapped.
//
//	return xe.Wrap(err)
//
// The message of a wrapped error reads like
//
//	@ pkg.Func "file.go" l42 <- cause
//
// and a chain of wraps tells the path the error came through.
package errors

import (
	"fmt"
	"runtime"
)

// Location is where an error is wrapped.
type Location struct {
	Func string
	File string
	Line int
}

func (l Location) String() string {
	return fmt.Sprintf(`%s "%s" l%d`, l.Func, l.File, l.Line)
}

type ErrWithCaller struct {
	Location Location

	// optional. what the caller was working on.
	Note string

	err error
}

func (e *ErrWithCaller) Error() string {
	if e.Note == "" {
		return fmt.Sprintf("@ %s <- %s", e.Location, e.err)
	}
	return fmt.Sprintf("@ %s (%s) <- %s", e.Location, e.Note, e.err)
}

func (e *ErrWithCaller) Unwrap() error {
	return e.err
}

// Wrap records the caller. It returns nil for nil.
func Wrap(err error) error {
	return wrap(err, "")
}

// WrapWithNote is Wrap with a note, like the task id in processing.
func WrapWithNote(note string, err error) error {
	return wrap(err, note)
}

// caller of Wrap or WrapWithNote.
const callerDepth = 3

func wrap(err error, note string) error {
	if err == nil {
		return nil
	}

	loc := Location{Func: "(unknown func)", File: "?", Line: -1}
	if pc, file, line, ok := runtime.Caller(callerDepth - 1); ok {
		loc.File, loc.Line = file, line
		if fn := runtime.FuncForPC(pc); fn != nil {
			loc.Func = fn.Name()
		}
	}
	return &ErrWithCaller{Location: loc, Note: note, err: err}
}
