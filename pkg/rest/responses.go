package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// error bodies larger than this are truncated.
const maxErrorBody = 64 * 1024

// readErrorMessage extracts a human readable message from an error response.
//
// It understands error bodies in these forms:
//
//   - {"message": "..."} (and "error", "advice" next to it)
//   - {"message": {"reason": "...", "advice": "..."}}
//   - {"error": "..."}
//
// Otherwise, the body itself (or the status text for empty body) is returned.
func readErrorMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "cannot read server message: " + err.Error()
	}
	if msg, ok := parseErrorMessage(body); ok {
		return msg
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(resp.StatusCode)
}

func parseErrorMessage(body []byte) (string, bool) {
	withText := struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Advice  string `json:"advice"`
	}{}
	if err := json.Unmarshal(body, &withText); err == nil {
		if withText.Message != "" {
			msg := withText.Message
			if withText.Advice != "" {
				msg += "\n" + withText.Advice
			}
			return msg, true
		}
		if withText.Error != "" {
			return withText.Error, true
		}
	}

	withReason := struct {
		Message struct {
			Reason string `json:"reason"`
			Advice string `json:"advice"`
		} `json:"message"`
	}{}
	if err := json.Unmarshal(body, &withReason); err == nil && withReason.Message.Reason != "" {
		msg := withReason.Message.Reason
		if withReason.Message.Advice != "" {
			msg += "\n" + withReason.Message.Advice
		}
		return msg, true
	}

	return "", false
}

// discard drains and closes body, to let the connection be reused.
func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
}
