// Package errors provides errors shown to users of the command line.
package errors

import (
	"strings"
)

// CUIError is an error with a message for users, and details for troubleshooting.
type CUIError interface {
	error

	// Verbose returns the message with its details and causes.
	Verbose() string

	// Advice is what users can do next. It can be empty.
	Advice() string
}

type cuierror struct {
	summary string
	advice  string
	verbose string
	base    error
}

func (ce *cuierror) Unwrap() error {
	return ce.base
}

func (ce *cuierror) Error() string {
	if ce.advice == "" {
		return ce.summary
	}
	return ce.summary + "\n\n" + ce.advice
}

func (ce *cuierror) Advice() string {
	return ce.advice
}

func (ce *cuierror) Verbose() string {
	message := []string{ce.Error()}
	if ce.verbose != "" {
		message = append(message, " ("+ce.verbose+") ")
	}

	switch base := ce.base.(type) {
	case nil:
	case CUIError:
		message = append(message, "caused by: ", base.Verbose())
	default:
		message = append(message, "caused by: ", base.Error())
	}
	return strings.Join(message, "\n")
}

type Option func(*cuierror) *cuierror

func New(summary string, options ...Option) CUIError {
	err := &cuierror{summary: summary}
	for _, o := range options {
		err = o(err)
	}
	return err
}

func WithAdvice(advice string) Option {
	return func(cerr *cuierror) *cuierror {
		cerr.advice = advice
		return cerr
	}
}

func WithVerbose(verbose string) Option {
	return func(cerr *cuierror) *cuierror {
		cerr.verbose = verbose
		return cerr
	}
}

func WithCause(err error) Option {
	return func(cerr *cuierror) *cuierror {
		cerr.base = err
		return cerr
	}
}
