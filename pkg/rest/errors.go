package rest

import (
	"fmt"
	"net/http"
)

type SubmissionErrorKind int

const (
	// network failure, server error or broken response. The task may or may not be created.
	SubmissionTransport SubmissionErrorKind = iota + 1

	// the server refused the request (4xx). Retrying the same request does not help.
	SubmissionRejected

	// the request is not sent, since it is invalid.
	SubmissionInvalid
)

func (k SubmissionErrorKind) String() string {
	switch k {
	case SubmissionTransport:
		return "TRANSPORT"
	case SubmissionRejected:
		return "REJECTED"
	case SubmissionInvalid:
		return "INVALID"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

// SubmissionError is returned by Submit.
type SubmissionError struct {
	Kind SubmissionErrorKind

	// HTTP status code. 0 if no response is received.
	StatusCode int

	// message from the server, or description of the failure.
	Message string

	Err error
}

func (e *SubmissionError) Error() string {
	msg := fmt.Sprintf("submission failed (%s)", e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [%d %s]", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

type PollErrorKind int

const (
	// failure which can be recovered by polling again.
	PollTransport PollErrorKind = iota + 1

	// the task is unknown to the server. It is never expected to be found.
	PollNotFound
)

func (k PollErrorKind) String() string {
	switch k {
	case PollTransport:
		return "TRANSPORT"
	case PollNotFound:
		return "NOT_FOUND"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(k))
	}
}

// PollError is returned by Poll.
type PollError struct {
	Kind       PollErrorKind
	TaskID     string
	StatusCode int
	Message    string
	Err        error
}

// Transient reports whether polling again can succeed.
func (e *PollError) Transient() bool {
	return e.Kind != PollNotFound
}

func (e *PollError) Error() string {
	msg := fmt.Sprintf("polling task %s failed (%s)", e.TaskID, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" [%d %s]", e.StatusCode, http.StatusText(e.StatusCode))
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PollError) Unwrap() error {
	return e.Err
}

// ResponseError is an unexpected HTTP response.
type ResponseError struct {
	StatusCode int
	Message    string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf(
		"%s (status code = %d): %s",
		rangeOf(e.StatusCode), e.StatusCode, e.Message,
	)
}
