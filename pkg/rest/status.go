package rest

import (
	"fmt"
	"net/http"
)

// StatusCodeRange is the class of an HTTP status code.
type StatusCodeRange int

const (
	StatusUnknown StatusCodeRange = iota
	Status1xx
	Status2xx
	Status3xx
	Status4xx
	Status5xx
)

func (sc StatusCodeRange) String() string {
	switch sc {
	case Status1xx:
		return "informational response"
	case Status2xx:
		return "success"
	case Status3xx:
		return "redirect"
	case Status4xx:
		return "client error"
	case Status5xx:
		return "server error"
	default:
		return fmt.Sprintf("unknown (%d)", sc)
	}
}

func StatusCodeRangeOf(resp *http.Response) StatusCodeRange {
	return rangeOf(resp.StatusCode)
}

func rangeOf(code int) StatusCodeRange {
	if code < 100 || 600 <= code {
		return StatusUnknown
	}
	return StatusCodeRange(code / 100)
}
