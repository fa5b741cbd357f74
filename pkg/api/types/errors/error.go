package errors

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrorBody is the shape of error responses of the orchestration service.
type ErrorBody struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message"`
	Advice  string `json:"advice,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// ErrorMessage is an error to be responded.
//
// It is set as echo.HTTPError.Message, and echo writes it as ErrorBody.
type ErrorMessage struct {
	Code   int
	Reason string
	Advice string
	Cause  error
}

func (e ErrorMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(ErrorBody{
		Error:   http.StatusText(e.Code),
		Message: e.Reason,
		Advice:  e.Advice,
		Status:  e.Code,
	})
}

func (e ErrorMessage) Error() string {
	b := new(strings.Builder)
	b.WriteString(e.Reason)
	if e.Advice != "" {
		b.WriteString("\n" + e.Advice)
	}
	if e.Cause != nil {
		b.WriteString("\n caused by: " + e.Cause.Error())
	}
	return b.String()
}

func (e ErrorMessage) Unwrap() error {
	return e.Cause
}

type ErrorMessageOption func(*ErrorMessage) *ErrorMessage

// WithAdvice tells clients what to do. Empty advice is ignored.
func WithAdvice(advice string) ErrorMessageOption {
	return func(m *ErrorMessage) *ErrorMessage {
		if advice != "" {
			m.Advice = advice
		}
		return m
	}
}

// WithError records the cause. It is logged, and not responded.
func WithError(err error) ErrorMessageOption {
	return func(m *ErrorMessage) *ErrorMessage {
		if err != nil {
			m.Cause = err
		}
		return m
	}
}

func NewErrorMessage(code int, reason string, opts ...ErrorMessageOption) *echo.HTTPError {
	msg := &ErrorMessage{Code: code, Reason: reason}
	for _, opt := range opts {
		msg = opt(msg)
	}
	return echo.NewHTTPError(code, *msg).SetInternal(*msg)
}

func BadRequest(reason string, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusBadRequest, reason, WithError(err))
}

func Unauthorized(advice string, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusUnauthorized, "authentication required", WithAdvice(advice), WithError(err))
}

func Forbidden(reason string) *echo.HTTPError {
	return NewErrorMessage(http.StatusForbidden, reason)
}

func NotFound(reason string) *echo.HTTPError {
	if reason == "" {
		reason = "not found"
	}
	return NewErrorMessage(http.StatusNotFound, reason)
}

func Conflict(reason string, options ...ErrorMessageOption) *echo.HTTPError {
	return NewErrorMessage(http.StatusConflict, reason, options...)
}

func InternalServerError(err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusInternalServerError, "unexpected error", WithError(err))
}

func ServiceUnavailable(advice string, err error) *echo.HTTPError {
	return NewErrorMessage(http.StatusServiceUnavailable, "service unavailable temporarily", WithAdvice(advice), WithError(err))
}
